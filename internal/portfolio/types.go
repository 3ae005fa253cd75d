// Package portfolio implements the event-ordered, single-threaded replay
// engine: it takes a time-sorted stream of per-signal strategy outcomes and
// turns them into positions, executions, and a typed event ledger subject
// to exposure limits and three composable reset triggers.
package portfolio

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantledger/backtester/internal/execution"
)

// Status is a Position's lifecycle state.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// EventType is the typed PortfolioEvent stream's discriminant.
type EventType string

const (
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventPositionPartial   EventType = "POSITION_PARTIAL_EXIT"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventResetTriggered    EventType = "PORTFOLIO_RESET_TRIGGERED"
	EventRiskLimitHit      EventType = "RISK_LIMIT_HIT"
)

// ExecutionEventType labels one row of the executions table.
type ExecutionEventType string

const (
	ExecEntry       ExecutionEventType = "entry"
	ExecPartialExit ExecutionEventType = "partial_exit"
	ExecFinalExit   ExecutionEventType = "final_exit"
	ExecResetClose  ExecutionEventType = "reset_close"
)

// ResetReason names which of the three composable triggers fired.
type ResetReason string

const (
	ResetProfitReset   ResetReason = "profit_reset"
	ResetCapacityPrune ResetReason = "capacity_prune"
	ResetManual        ResetReason = "manual"
	ResetRunnerLegacy  ResetReason = "runner_reset"
)

// Outcome is the per-signal replay input: the engine is decoupled from the
// strategy layer and consumes this plain projection of a ladder output
// rather than importing the runner package directly.
type Outcome struct {
	SignalID        string
	Contract        string
	Strategy        string
	EntryTime       time.Time
	EntryPrice      float64
	ExitTime        time.Time
	ExitPrice       float64
	CanonicalReason string
	// LevelsHit/FractionsExited carry the ladder's partial-exit schedule,
	// keyed by xn. Absent for non-ladder strategies (a single implicit
	// final exit at ExitTime/ExitPrice is then assumed).
	LevelsHit       map[float64]time.Time
	FractionsExited map[float64]float64
	RealizedMultiple float64
}

// HasEntry reports whether the adapter produced an actual entry (a
// no_entry/error outcome never reaches the portfolio engine).
func (o Outcome) HasEntry() bool {
	return !o.EntryTime.IsZero()
}

// Position is one replayed trade's full lifecycle record.
type Position struct {
	PositionID              uuid.UUID
	SignalID                string
	ContractAddress         string
	Strategy                string
	EntryTime               time.Time
	ExitTime                time.Time
	Size                    float64
	RawEntryPrice           float64
	ExecEntryPrice          float64
	RawExitPrice            float64
	ExecExitPrice           float64
	PnLSOL                  float64
	FeesTotalSOL            float64
	HoldMinutes             float64
	MaxXnReached            float64
	Status                  Status
	ClosedByReset           bool
	TriggeredPortfolioReset bool
	ResetReason             string
	RealizedTotalPnLSOL     float64
	RealizedTailPnLSOL      float64

	remaining float64 // fraction of initial size not yet closed, internal bookkeeping
}

// HitX reports whether MaxXnReached is at least k, used for hit_xK columns.
func (p Position) HitX(k float64) bool {
	return p.MaxXnReached >= k
}

// Execution is one leg's balance-affecting row.
type Execution struct {
	PositionID  uuid.UUID
	SignalID    string
	Strategy    string
	EventTime   time.Time
	EventType   ExecutionEventType
	QtyDelta    float64
	RawPrice    float64
	ExecPrice   float64
	FeesSOL     float64
	PnLSOLDelta float64
	ResetReason string
}

// Event is one typed entry in the append-only PortfolioEvent stream.
type Event struct {
	Type       EventType
	PositionID uuid.UUID
	Timestamp  time.Time
	Reason     string
	Meta       map[string]interface{}
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Balance   float64
}

// PortfolioStats is the end-of-run snapshot.
type PortfolioStats struct {
	FinalBalanceSOL        float64
	TotalReturnPct         float64
	MaxDrawdownPct         float64
	TradesExecuted         int
	TradesSkippedByRisk    int
	TradesSkippedByReset   int
	PortfolioResetCount    int
	LastPortfolioResetTime *time.Time
	CycleStartEquity       float64
	EquityPeakInCycle      float64
}

// ResetCount is the backwards-compat alias for PortfolioResetCount.
func (s PortfolioStats) ResetCount() int { return s.PortfolioResetCount }

// LastResetTime is the backwards-compat alias for LastPortfolioResetTime.
func (s PortfolioStats) LastResetTime() *time.Time { return s.LastPortfolioResetTime }

// CapacityResetConfig configures the rolling-window capacity_reset trigger.
type CapacityResetConfig struct {
	Enabled         bool
	WindowType      string // "days" or "signals"
	WindowSize      int
	MaxBlockedRatio float64
	MaxAvgHoldDays  float64
}

// Config is the portfolio engine's full configuration surface.
type Config struct {
	InitialBalanceSOL float64
	AllocationMode    string // "fixed", "dynamic", or "kelly"
	PercentPerTrade   float64
	KellyFraction     float64 // applied when AllocationMode == "kelly"; e.g. 0.5 for half-Kelly
	MaxExposure       float64
	MaxOpenPositions  int
	BacktestStart     *time.Time
	BacktestEnd       *time.Time
	Fee               execution.Config
	ExecutionProfile  string

	ProfitResetEnabled  bool
	ProfitResetMultiple float64

	RunnerResetEnabled  bool // legacy
	RunnerResetMultiple float64

	CapacityReset CapacityResetConfig

	UseReplayMode bool
	MaxHoldMinutes *int

	ResetGraceMinutes float64
}

// DefaultConfig returns the floors documented in the config surface.
func DefaultConfig() Config {
	return Config{
		InitialBalanceSOL: 10,
		AllocationMode:    "dynamic",
		PercentPerTrade:   0.10,
		KellyFraction:     0.5,
		MaxExposure:       1.0,
		MaxOpenPositions:  5,
		Fee:               execution.Realistic(),
		ExecutionProfile:  "realistic",
		ResetGraceMinutes: 0,
	}
}
