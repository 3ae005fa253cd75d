// Package ratelimit provides the shared, thread-safe sliding-window limiter
// used to bound outbound pressure on the external OHLCV HTTP source, and
// tracks the instrumentation counters the fetcher reports at the end of a
// run.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a sliding-window token bucket shared across all concurrent
// signal processors. It wraps golang.org/x/time/rate so the precise wait
// duration can be computed via Reserve() outside the counters mutex, per the
// spec's "compute precise wait outside the lock" requirement.
type Limiter struct {
	rl *rate.Limiter

	mu            sync.Mutex
	blockedEvents int
	totalWait     time.Duration
}

// Config describes the sliding window: MaxCalls per PeriodSeconds.
type Config struct {
	MaxCalls      int
	PeriodSeconds float64
}

// DefaultConfig matches spec.md §4.A's default of 30 calls per 60 seconds.
func DefaultConfig() Config {
	return Config{MaxCalls: 30, PeriodSeconds: 60}
}

// New creates a Limiter for the given window.
func New(cfg Config) *Limiter {
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 1
	}
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = 60
	}
	ratePerSec := float64(cfg.MaxCalls) / cfg.PeriodSeconds
	return &Limiter{
		rl: rate.NewLimiter(rate.Limit(ratePerSec), cfg.MaxCalls),
	}
}

// Acquire blocks the caller until a token is available, sleeping outside the
// counters mutex. It increments blocked_events and accumulates
// total_wait_seconds whenever a real wait occurred.
func (l *Limiter) Acquire(ctx context.Context) error {
	reservation := l.rl.Reserve()
	if !reservation.OK() {
		return nil
	}
	wait := reservation.Delay()
	if wait <= 0 {
		return nil
	}

	l.mu.Lock()
	l.blockedEvents++
	l.totalWait += wait
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

// Stats is the instrumentation snapshot reported at the end of a run.
type Stats struct {
	BlockedEvents    int
	TotalWaitSeconds float64
}

// Snapshot returns the current blocked_events/total_wait_seconds counters.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		BlockedEvents:    l.blockedEvents,
		TotalWaitSeconds: l.totalWait.Seconds(),
	}
}
