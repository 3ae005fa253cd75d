// Package runner implements the Runner take-profit ladder strategy: a pure
// simulation kernel (ladder.go) and the strategy adapter that wraps it with
// entry selection, pre-window features, and blueprint emission (adapter.go).
package runner

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantledger/backtester/internal/candles"
)

// Level is one take-profit rung: a multiple of entry price and the share of
// the initial position size it realizes when hit.
type Level struct {
	Xn       float64
	Fraction float64
}

// Ladder is an ordered, non-empty take-profit ladder. Levels must sum to
// <= 1.0 + epsilon in Fraction; Sorted() enforces ascending xn with
// declaration-order tie-breaking.
type Ladder []Level

const epsilon = 1e-9

// Sorted returns the ladder's levels sorted ascending by Xn, stable so equal
// Xn values keep their declaration order.
func (l Ladder) Sorted() Ladder {
	out := make(Ladder, len(l))
	copy(out, l)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Xn < out[j].Xn })
	return out
}

// Validate checks the ladder's shape invariants.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("runner: ladder must have at least one level")
	}
	sum := 0.0
	for _, lvl := range l {
		if lvl.Xn <= 0 {
			return fmt.Errorf("runner: ladder level xn must be positive, got %v", lvl.Xn)
		}
		if lvl.Fraction <= 0 || lvl.Fraction > 1 {
			return fmt.Errorf("runner: ladder level fraction must be in (0,1], got %v", lvl.Fraction)
		}
		sum += lvl.Fraction
	}
	if sum > 1.0+epsilon {
		return fmt.Errorf("runner: ladder fractions sum to %v, exceeds 1.0+epsilon", sum)
	}
	return nil
}

// Config parameterizes the ladder engine.
type Config struct {
	Levels            Ladder
	TimeStopMinutes   *float64
	UseHighForTargets bool
	ExitOnFirstTP     bool
	AllowPartialFills bool
}

// TerminalReason is the ladder engine's closed reason set.
type TerminalReason string

const (
	ReasonTimeStop     TerminalReason = "time_stop"
	ReasonAllLevelsHit TerminalReason = "all_levels_hit"
	ReasonNoData       TerminalReason = "no_data"
)

// TradeResult is the pure output of the ladder engine.
type TradeResult struct {
	EntryTime       time.Time
	EntryPrice      float64
	FinalExitTime   time.Time
	RealizedMultiple float64
	RealizedPnLPct  float64
	FirstHitTime    map[float64]time.Time
	FractionExited  map[float64]float64
	Reason          TerminalReason
}

// CandleWindow is a thin alias kept local to runner so the package does not
// need to import candles.Series by name in call sites.
type CandleWindow = candles.Series
