// Package job persists backtest run configuration and results: one row per
// run of the signal-to-portfolio pipeline, backed by Postgres.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/metrics"
	"github.com/quantledger/backtester/internal/portfolio"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one pipeline execution: a signal CSV replayed through every
// configured strategy.
type Run struct {
	ID            uuid.UUID              `json:"id"`
	Name          string                 `json:"name"`
	Status        Status                 `json:"status"`
	SignalCSVPath string                 `json:"signal_csv_path"`
	Strategies    []string               `json:"strategies"`
	PortfolioConfig map[string]interface{} `json:"portfolio_config"`
	Results       *RunResults            `json:"results,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	ErrorDetails  string                 `json:"error_details,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CreatedBy     string                 `json:"created_by,omitempty"`
}

// RunResults is the persisted outcome of one completed run.
type RunResults struct {
	FinalBalanceSOL      float64           `json:"final_balance_sol"`
	TotalReturnPct       float64           `json:"total_return_pct"`
	MaxDrawdownPct       float64           `json:"max_drawdown_pct"`
	TradesExecuted       int               `json:"trades_executed"`
	TradesSkippedByRisk  int               `json:"trades_skipped_by_risk"`
	TradesSkippedByReset int               `json:"trades_skipped_by_reset"`
	PortfolioResetCount  int               `json:"portfolio_reset_count"`
	EquityCurve          []EquityPoint     `json:"equity_curve"`
	Positions            []PositionSummary `json:"positions"`
}

// EquityPoint is one date-bucketed equity sample for display.
type EquityPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// PositionSummary is the run-report row for one closed position.
type PositionSummary struct {
	SignalID     string  `json:"signal_id"`
	Contract     string  `json:"contract_address"`
	Strategy     string  `json:"strategy"`
	EntryTime    string  `json:"entry_time"`
	ExitTime     string  `json:"exit_time"`
	PnLSOL       float64 `json:"pnl_sol"`
	MaxXnReached float64 `json:"max_xn_reached"`
}

// PoolInterface is the subset of *pgxpool.Pool the manager needs, abstracted
// so tests can back it with pgxmock.
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Manager manages backtest run records.
type Manager struct {
	db PoolInterface
	mu sync.RWMutex
}

// NewManager creates a new run manager over any PoolInterface.
func NewManager(db PoolInterface) *Manager {
	return &Manager{db: db}
}

// NewManagerWithPool creates a new run manager backed by a live pgxpool.Pool.
func NewManagerWithPool(pool *pgxpool.Pool) *Manager {
	return &Manager{db: pool}
}

// CreateRun persists a new run in pending status.
func (m *Manager) CreateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Status = StatusPending

	if err := m.validateRun(run); err != nil {
		return fmt.Errorf("invalid run configuration: %w", err)
	}

	configJSON, err := json.Marshal(run.PortfolioConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio config: %w", err)
	}

	query := `
		INSERT INTO backtest_runs (
			id, name, status, signal_csv_path, strategies,
			portfolio_config, created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = m.db.Exec(ctx, query,
		run.ID, run.Name, run.Status, run.SignalCSVPath, run.Strategies,
		configJSON, run.CreatedAt, run.UpdatedAt, run.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest run: %w", err)
	}

	metrics.RecordRunCreated()
	log.Info().Str("run_id", run.ID.String()).Str("name", run.Name).Msg("created backtest run")
	return nil
}

func (m *Manager) validateRun(run *Run) error {
	if run.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if run.SignalCSVPath == "" {
		return fmt.Errorf("signal_csv_path is required")
	}
	if len(run.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	return nil
}

// GetRun retrieves a run by ID.
func (m *Manager) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, name, status, signal_csv_path, strategies,
		       portfolio_config, results, error_message, error_details,
		       created_at, started_at, completed_at, updated_at, created_by
		FROM backtest_runs
		WHERE id = $1
	`
	var run Run
	var configJSON, resultsJSON []byte

	err := m.db.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.Name, &run.Status, &run.SignalCSVPath, &run.Strategies,
		&configJSON, &resultsJSON, &run.ErrorMessage, &run.ErrorDetails,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt, &run.UpdatedAt, &run.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve backtest run: %w", err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &run.PortfolioConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal portfolio config: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		var results RunResults
		if err := json.Unmarshal(resultsJSON, &results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
		run.Results = &results
	}
	return &run, nil
}

// ListRuns retrieves a paginated list of runs, optionally filtered by owner.
func (m *Manager) ListRuns(ctx context.Context, createdBy string, limit, offset int) ([]*Run, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	whereClause := ""
	args := []interface{}{}
	argPos := 1
	if createdBy != "" {
		whereClause = fmt.Sprintf("WHERE created_by = $%d", argPos)
		args = append(args, createdBy)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM backtest_runs %s", whereClause)
	var total int
	if err := m.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count backtest runs: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT id, name, status, signal_csv_path, strategies,
		       final_balance_sol, max_drawdown_pct, trades_executed,
		       error_message,
		       created_at, started_at, completed_at, updated_at, created_by
		FROM backtest_runs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	rows, err := m.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var run Run
		var finalBalance, maxDrawdown *float64
		var tradesExecuted *int

		if err := rows.Scan(
			&run.ID, &run.Name, &run.Status, &run.SignalCSVPath, &run.Strategies,
			&finalBalance, &maxDrawdown, &tradesExecuted,
			&run.ErrorMessage,
			&run.CreatedAt, &run.StartedAt, &run.CompletedAt, &run.UpdatedAt, &run.CreatedBy,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan backtest run: %w", err)
		}

		if run.Status == StatusCompleted && finalBalance != nil {
			run.Results = &RunResults{
				FinalBalanceSOL: *finalBalance,
				MaxDrawdownPct:  derefFloat(maxDrawdown),
				TradesExecuted:  derefInt(tradesExecuted),
			}
		}
		runs = append(runs, &run)
	}
	return runs, total, nil
}

func derefFloat(ptr *float64) float64 {
	if ptr != nil {
		return *ptr
	}
	return 0
}

func derefInt(ptr *int) int {
	if ptr != nil {
		return *ptr
	}
	return 0
}

// UpdateRunStatus transitions a run's status, stamping started_at/completed_at.
func (m *Manager) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status Status, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var startedAt, completedAt *time.Time
	switch status {
	case StatusRunning:
		startedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		completedAt = &now
	}

	query := `
		UPDATE backtest_runs
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    completed_at = COALESCE($3, completed_at),
		    error_message = $4,
		    updated_at = $5
		WHERE id = $6
	`
	_, err := m.db.Exec(ctx, query, status, startedAt, completedAt, errorMsg, now, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if status == StatusCompleted || status == StatusFailed || status == StatusCancelled {
		metrics.RecordRunCompleted(string(status))
	}
	return nil
}

// ClaimPendingRun atomically picks the oldest pending run, marks it running,
// and returns it. Returns (nil, nil) when no run is pending.
func (m *Manager) ClaimPendingRun(ctx context.Context) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		UPDATE backtest_runs
		SET status = $1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM backtest_runs
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, signal_csv_path, strategies, portfolio_config, created_at, created_by
	`
	now := time.Now()
	var run Run
	var configJSON []byte
	err := m.db.QueryRow(ctx, query, StatusRunning, now, StatusPending).Scan(
		&run.ID, &run.Name, &run.SignalCSVPath, &run.Strategies,
		&configJSON, &run.CreatedAt, &run.CreatedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim pending run: %w", err)
	}
	run.Status = StatusRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &run.PortfolioConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal portfolio config: %w", err)
		}
	}
	return &run, nil
}

// SaveResults persists a completed run's results.
func (m *Manager) SaveResults(ctx context.Context, runID uuid.UUID, results *RunResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	now := time.Now()

	query := `
		UPDATE backtest_runs
		SET results = $1,
		    final_balance_sol = $2,
		    max_drawdown_pct = $3,
		    trades_executed = $4,
		    status = $5,
		    completed_at = $6,
		    updated_at = $7
		WHERE id = $8
	`
	_, err = m.db.Exec(ctx, query,
		resultsJSON, results.FinalBalanceSOL, results.MaxDrawdownPct, results.TradesExecuted,
		StatusCompleted, now, now, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	metrics.RecordRunCompleted(string(StatusCompleted))
	log.Info().Str("run_id", runID.String()).
		Float64("final_balance_sol", results.FinalBalanceSOL).
		Int("trades_executed", results.TradesExecuted).
		Msg("saved backtest run results")
	return nil
}

// DeleteRun removes a run record.
func (m *Manager) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `DELETE FROM backtest_runs WHERE id = $1`
	result, err := m.db.Exec(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to delete backtest run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backtest run not found")
	}

	log.Info().Str("run_id", runID.String()).Msg("deleted backtest run")
	return nil
}

// ConvertPortfolioToRunResults bridges a completed portfolio replay into the
// persisted RunResults shape.
func ConvertPortfolioToRunResults(stats portfolio.PortfolioStats, positions []portfolio.Position, curve []portfolio.EquityPoint) *RunResults {
	equityCurve := make([]EquityPoint, len(curve))
	for i, p := range curve {
		equityCurve[i] = EquityPoint{Date: p.Timestamp.Format("2006-01-02"), Value: p.Balance}
	}

	summaries := make([]PositionSummary, len(positions))
	for i, p := range positions {
		summaries[i] = PositionSummary{
			SignalID: p.SignalID, Contract: p.ContractAddress, Strategy: p.Strategy,

			EntryTime: p.EntryTime.Format(time.RFC3339), ExitTime: p.ExitTime.Format(time.RFC3339),
			PnLSOL: p.PnLSOL, MaxXnReached: p.MaxXnReached,
		}
	}

	return &RunResults{
		FinalBalanceSOL:      stats.FinalBalanceSOL,
		TotalReturnPct:       stats.TotalReturnPct,
		MaxDrawdownPct:       stats.MaxDrawdownPct,
		TradesExecuted:       stats.TradesExecuted,
		TradesSkippedByRisk:  stats.TradesSkippedByRisk,
		TradesSkippedByReset: stats.TradesSkippedByReset,
		PortfolioResetCount:  stats.PortfolioResetCount,
		EquityCurve:          equityCurve,
		Positions:            summaries,
	}
}
