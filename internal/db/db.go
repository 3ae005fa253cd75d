// Package db wraps the backtester's Postgres connection pool: pgxpool
// configuration, Vault-then-env DSN resolution, and a circuit breaker around
// pool operations so a flapping database degrades gracefully instead of
// cascading into every in-flight run.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantledger/backtester/internal/vault"
)

// DB wraps the PostgreSQL connection pool used by internal/job.
type DB struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// New creates a connection pool, resolving the DSN via Vault then
// DATABASE_URL.
func New(ctx context.Context) (*DB, error) {
	dsn, err := vault.ResolveDatabaseDSN(ctx)
	if err != nil {
		return nil, err
	}
	return newFromDSN(ctx, dsn)
}

func newFromDSN(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse dsn: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to ping database: %w", err)
	}

	log.Info().Msg("db: connection pool established")
	return &DB{pool: pool, breaker: newBreaker()}, nil
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backtester-db",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("db: circuit breaker state change")
		},
	})
}

// Close closes the connection pool.
func (d *DB) Close() {
	if d.pool != nil {
		d.pool.Close()
		log.Info().Msg("db: connection pool closed")
	}
}

// Pool returns the underlying pgxpool.Pool for internal/job's Manager.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Health pings the database directly, bypassing the breaker.
func (d *DB) Health(ctx context.Context) error {
	if d.pool == nil {
		return fmt.Errorf("db: pool is nil")
	}
	return d.pool.Ping(ctx)
}

// ExecuteWithCircuitBreaker wraps a database operation so repeated failures
// trip the breaker and fail fast instead of queuing against a dead pool.
func (d *DB) ExecuteWithCircuitBreaker(operation func() (interface{}, error)) (interface{}, error) {
	result, err := d.breaker.Execute(operation)
	if err == gobreaker.ErrOpenState {
		return nil, fmt.Errorf("db: circuit breaker open, database unavailable")
	}
	return result, err
}
