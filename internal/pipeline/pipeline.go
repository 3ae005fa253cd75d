// Package pipeline wires candle acquisition, strategy evaluation, portfolio
// replay, and the stability/selection analytics passes into one backtest
// run: fan out per-signal strategy evaluation (§5 regime 1, concurrent),
// then replay each strategy's sorted outcome stream through a single
// portfolio.Engine (§5 regime 2, single-threaded).
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/events"
	"github.com/quantledger/backtester/internal/metrics"
	"github.com/quantledger/backtester/internal/portfolio"
	"github.com/quantledger/backtester/internal/runner"
	"github.com/quantledger/backtester/internal/selection"
	"github.com/quantledger/backtester/internal/signals"
	"github.com/quantledger/backtester/internal/stability"
)

// PriceLoader is the subset of candles.Fetcher / candles.RedisFrontedFetcher
// a worker needs to resolve a signal's surrounding candle window.
type PriceLoader interface {
	LoadPrices(ctx context.Context, contract string, start, end time.Time) (candles.Series, error)
}

// StrategySpec binds a named ladder configuration to the adapter that runs
// it; one full, independent portfolio replay is produced per spec.
type StrategySpec struct {
	Name    string
	Adapter *runner.Adapter
}

// Config controls one pipeline run.
type Config struct {
	MaxWorkers      int
	OutputDir       string
	SplitNs         []int
	LookbackMinutes int           // candle history fetched before signal.Timestamp, covers §4.D's 60m pre-window features
	ForwardHorizon  time.Duration // candle history fetched after signal.Timestamp, must outlast any configured time_stop/max_hold
}

// DefaultConfig fills in the pre-window lookback and a forward horizon
// generous enough to cover any reasonable ladder time_stop.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      8,
		SplitNs:         stability.DefaultSplitNs(),
		LookbackMinutes: 60,
		ForwardHorizon:  7 * 24 * time.Hour,
	}
}

// Result is everything a completed run produced, independent of whether it
// was also persisted to CSV.
type Result struct {
	Strategies []StrategyResult
	Stability  []stability.StabilityRow
	Selection  []selection.Result
}

// StrategyResult is one strategy's independent replay output.
type StrategyResult struct {
	Strategy    string
	Stats       portfolio.PortfolioStats
	Positions   []portfolio.Position
	Executions  []portfolio.Execution
	Events      []portfolio.Event
	EquityCurve []portfolio.EquityPoint
}

type tuple struct {
	signalID  string
	contract  string
	strategy  string
	timestamp time.Time
	output    runner.StrategyOutput
}

// Pipeline runs a batch of signals through one or more Runner strategies and
// produces the portfolio/stability/selection artifacts described in §6.
type Pipeline struct {
	loader    PriceLoader
	publisher *events.Publisher
	cfg       Config
}

// New builds a Pipeline. loader and publisher are shared across every
// worker and strategy, per §15's "no hidden singletons" requirement.
func New(loader PriceLoader, publisher *events.Publisher, cfg Config) *Pipeline {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if len(cfg.SplitNs) == 0 {
		cfg.SplitNs = stability.DefaultSplitNs()
	}
	return &Pipeline{loader: loader, publisher: publisher, cfg: cfg}
}

// Run evaluates every strategy over sigs, replays each independently,
// writes the portfolio/stability/selection CSVs under cfg.OutputDir, and
// returns the same data in memory.
func (p *Pipeline) Run(ctx context.Context, sigs []signals.Signal, strategies []StrategySpec, engineCfg portfolio.Config) (*Result, error) {
	results := make([]StrategyResult, 0, len(strategies))
	for _, spec := range strategies {
		res, err := p.runStrategy(ctx, sigs, spec, engineCfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: strategy %q: %w", spec.Name, err)
		}
		results = append(results, res)
	}

	if err := p.writePortfolioCSVs(results); err != nil {
		return nil, err
	}

	stabilityRows, err := p.runStability()
	if err != nil {
		return nil, err
	}

	selectionResults := selection.Evaluate(stabilityRows)
	if err := selection.WriteSelectionCSV(filepath.Join(p.cfg.OutputDir, "strategy_selection.csv"), selectionResults); err != nil {
		return nil, fmt.Errorf("pipeline: writing strategy_selection.csv: %w", err)
	}

	return &Result{Strategies: results, Stability: stabilityRows, Selection: selectionResults}, nil
}

// runStrategy fans out over sigs for one strategy (§15 step 1), sorts the
// resulting tuples by (signal_id, timestamp) (§15 step 2 ordering
// guarantee), and replays them through a fresh portfolio.Engine.
func (p *Pipeline) runStrategy(ctx context.Context, sigs []signals.Signal, spec StrategySpec, engineCfg portfolio.Config) (StrategyResult, error) {
	tuples, err := p.evaluate(ctx, sigs, spec)
	if err != nil {
		return StrategyResult{}, err
	}

	sort.SliceStable(tuples, func(i, j int) bool {
		if tuples[i].signalID != tuples[j].signalID {
			return tuples[i].signalID < tuples[j].signalID
		}
		return tuples[i].timestamp.Before(tuples[j].timestamp)
	})

	outcomes := make([]portfolio.Outcome, 0, len(tuples))
	for _, t := range tuples {
		if o, ok := toOutcome(t); ok {
			outcomes = append(outcomes, o)
		}
	}

	engine := portfolio.NewEngine(engineCfg, nil)
	stats := engine.Replay(outcomes)

	p.publisher.PublishAll(engine.Events())
	recordMetrics(spec.Name, stats, engine.Events())

	return StrategyResult{
		Strategy:    spec.Name,
		Stats:       stats,
		Positions:   engine.Positions(),
		Executions:  engine.Executions(),
		Events:      engine.Events(),
		EquityCurve: engine.EquityCurve(),
	}, nil
}

// evaluate fans signals out across an errgroup capped at MaxWorkers. Each
// worker loads that signal's candle window and runs it through the
// strategy's adapter; a per-signal failure is recorded as a skipped signal,
// not a fatal error for the run (§5 "a partial failure... does not abort").
func (p *Pipeline) evaluate(ctx context.Context, sigs []signals.Signal, spec StrategySpec) ([]tuple, error) {
	out := make([]tuple, len(sigs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	for i, sig := range sigs {
		i, sig := i, sig
		g.Go(func() error {
			start := sig.Timestamp.Add(-time.Duration(p.cfg.LookbackMinutes) * time.Minute)
			end := sig.Timestamp.Add(p.cfg.ForwardHorizon)

			history, err := p.loader.LoadPrices(gctx, sig.ContractAddress, start, end)
			if err != nil {
				out[i] = tuple{
					signalID: sig.ID, contract: sig.ContractAddress, strategy: spec.Name, timestamp: sig.Timestamp,
					output: runner.StrategyOutput{
						SignalID: sig.ID, Contract: sig.ContractAddress, Reason: "error",
						CanonicalReason: runner.ReasonError,
						Meta:            map[string]interface{}{"exception": err.Error()},
					},
				}
				return nil
			}

			output := spec.Adapter.OnSignal(sig, history)
			out[i] = tuple{signalID: sig.ID, contract: sig.ContractAddress, strategy: spec.Name, timestamp: sig.Timestamp, output: output}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// toOutcome projects a tuple into the portfolio engine's Outcome input,
// dropping no_entry/error outcomes per §4.D's "no portfolio side-effect"
// failure semantics.
func toOutcome(t tuple) (portfolio.Outcome, bool) {
	o := t.output
	if o.EntryTime == nil || o.EntryPrice == nil {
		return portfolio.Outcome{}, false
	}

	outcome := portfolio.Outcome{
		SignalID:        o.SignalID,
		Contract:        o.Contract,
		Strategy:        t.strategy,
		EntryTime:       *o.EntryTime,
		EntryPrice:      *o.EntryPrice,
		CanonicalReason: string(o.CanonicalReason),
	}
	if o.ExitTime != nil {
		outcome.ExitTime = *o.ExitTime
	}
	if o.ExitPrice != nil {
		outcome.ExitPrice = *o.ExitPrice
	}
	if levels, ok := o.Meta["levels_hit"].(map[float64]time.Time); ok {
		outcome.LevelsHit = levels
	}
	if fractions, ok := o.Meta["fractions_exited"].(map[float64]float64); ok {
		outcome.FractionsExited = fractions
	}
	if multiple, ok := o.Meta["realized_multiple"].(float64); ok {
		outcome.RealizedMultiple = multiple
	}
	return outcome, true
}

// writePortfolioCSVs merges every strategy's replay output into the shared
// §6 portfolio tables (positions/executions carry their own strategy column,
// so a single file per table is correct even across multiple strategies).
func (p *Pipeline) writePortfolioCSVs(results []StrategyResult) error {
	var positions []portfolio.Position
	var executions []portfolio.Execution
	var allEvents []portfolio.Event
	summaries := make([]portfolio.SummaryRow, 0, len(results))

	for _, r := range results {
		positions = append(positions, r.Positions...)
		executions = append(executions, r.Executions...)
		allEvents = append(allEvents, r.Events...)
		summaries = append(summaries, portfolio.SummaryRow{Strategy: r.Strategy, Stats: r.Stats})
	}

	if err := portfolio.WritePositions(filepath.Join(p.cfg.OutputDir, "portfolio_positions.csv"), positions); err != nil {
		return fmt.Errorf("pipeline: writing portfolio_positions.csv: %w", err)
	}
	if err := portfolio.WriteExecutions(filepath.Join(p.cfg.OutputDir, "portfolio_executions.csv"), executions); err != nil {
		return fmt.Errorf("pipeline: writing portfolio_executions.csv: %w", err)
	}
	if err := portfolio.WriteEvents(filepath.Join(p.cfg.OutputDir, "portfolio_events.csv"), allEvents); err != nil {
		return fmt.Errorf("pipeline: writing portfolio_events.csv: %w", err)
	}
	if err := portfolio.WriteSummaries(filepath.Join(p.cfg.OutputDir, "portfolio_summary.csv"), summaries); err != nil {
		return fmt.Errorf("pipeline: writing portfolio_summary.csv: %w", err)
	}
	return nil
}

// runStability re-reads the positions table just written (exercising the
// §4.G/S5 executions-level boundary check on the pipeline's own output, not
// just on externally supplied files), groups by strategy, and runs the
// stability aggregator per strategy.
func (p *Pipeline) runStability() ([]stability.StabilityRow, error) {
	positionsPath := filepath.Join(p.cfg.OutputDir, "portfolio_positions.csv")
	rows, err := stability.LoadPositionsCSV(positionsPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading portfolio_positions.csv for stability: %w", err)
	}

	byStrategy := make(map[string][]stability.PositionRow)
	var order []string
	for _, row := range rows {
		if _, seen := byStrategy[row.Strategy]; !seen {
			order = append(order, row.Strategy)
		}
		byStrategy[row.Strategy] = append(byStrategy[row.Strategy], row)
	}

	var out []stability.StabilityRow
	for _, strategyName := range order {
		agg, err := stability.Aggregate(strategyName, byStrategy[strategyName], p.cfg.SplitNs)
		if err != nil {
			return nil, fmt.Errorf("pipeline: aggregating stability for %q: %w", strategyName, err)
		}
		out = append(out, agg...)
	}

	if err := stability.WriteStabilityCSV(filepath.Join(p.cfg.OutputDir, "strategy_stability.csv"), out); err != nil {
		return nil, fmt.Errorf("pipeline: writing strategy_stability.csv: %w", err)
	}
	return out, nil
}

func recordMetrics(strategy string, stats portfolio.PortfolioStats, evs []portfolio.Event) {
	metrics.PortfolioTradesExecuted.Add(float64(stats.TradesExecuted))
	metrics.PortfolioTradesSkippedByRisk.Add(float64(stats.TradesSkippedByRisk))
	metrics.PortfolioTradesSkippedByResetCap.Add(float64(stats.TradesSkippedByReset))
	metrics.PortfolioFinalBalance.Set(stats.FinalBalanceSOL)
	metrics.PortfolioMaxDrawdown.Set(-stats.MaxDrawdownPct)

	for _, ev := range evs {
		if ev.Type == portfolio.EventResetTriggered {
			metrics.RecordPortfolioReset(ev.Reason)
		}
	}
}
