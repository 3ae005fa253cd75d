package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/portfolio"
	"github.com/quantledger/backtester/internal/runner"
	"github.com/quantledger/backtester/internal/signals"
)

// fakeLoader returns a fixed candle series for every contract, independent
// of the requested window, so tests don't depend on wall-clock alignment.
type fakeLoader struct {
	series candles.Series
	err    error
}

func (f *fakeLoader) LoadPrices(ctx context.Context, contract string, start, end time.Time) (candles.Series, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.series, nil
}

func makeSeries(base time.Time) candles.Series {
	return candles.SortAndDedup([]candles.Candle{
		{Timestamp: base, Open: 1.0, High: 1.0, Low: 1.0, Close: 1.0},
		{Timestamp: base.Add(1 * time.Minute), Open: 1.0, High: 6.0, Low: 1.0, Close: 5.0},
		{Timestamp: base.Add(2 * time.Minute), Open: 5.0, High: 5.0, Low: 5.0, Close: 5.0},
	})
}

func testAdapter() *runner.Adapter {
	return runner.NewAdapter(runner.Config{
		Levels:            runner.Ladder{{Xn: 2, Fraction: 0.5}, {Xn: 4, Fraction: 0.5}},
		UseHighForTargets: true,
		ExitOnFirstTP:     false,
	})
}

func TestPipelineRunProducesCombinedArtifacts(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &fakeLoader{series: makeSeries(base)}

	sigs := []signals.Signal{
		{ID: "sig-1", ContractAddress: "contractA", Timestamp: base},
		{ID: "sig-2", ContractAddress: "contractB", Timestamp: base.Add(30 * time.Second)},
	}

	strategies := []StrategySpec{
		{Name: "runner_default", Adapter: testAdapter()},
	}

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputDir = dir
	cfg.MaxWorkers = 2

	p := New(loader, nil, cfg)
	result, err := p.Run(context.Background(), sigs, strategies, portfolio.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.Strategies, 1)
	require.Equal(t, "runner_default", result.Strategies[0].Strategy)

	for _, name := range []string{
		"portfolio_positions.csv", "portfolio_executions.csv",
		"portfolio_events.csv", "portfolio_summary.csv",
		"strategy_stability.csv", "strategy_selection.csv",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, "expected %s to be written", name)
	}
}

func TestPipelineRunSkipsSignalsWithLoaderError(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &fakeLoader{err: context.DeadlineExceeded}

	sigs := []signals.Signal{{ID: "sig-1", ContractAddress: "contractA", Timestamp: base}}
	strategies := []StrategySpec{{Name: "runner_default", Adapter: testAdapter()}}

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputDir = dir

	p := New(loader, nil, cfg)
	result, err := p.Run(context.Background(), sigs, strategies, portfolio.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, 0, result.Strategies[0].Stats.TradesExecuted)
}

func TestPipelineRunMultipleStrategiesEachGetFreshBalance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &fakeLoader{series: makeSeries(base)}

	sigs := []signals.Signal{{ID: "sig-1", ContractAddress: "contractA", Timestamp: base}}
	strategies := []StrategySpec{
		{Name: "strategy_a", Adapter: testAdapter()},
		{Name: "strategy_b", Adapter: testAdapter()},
	}

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputDir = dir

	engineCfg := portfolio.DefaultConfig()
	p := New(loader, nil, cfg)
	result, err := p.Run(context.Background(), sigs, strategies, engineCfg)
	require.NoError(t, err)
	require.Len(t, result.Strategies, 2)
	require.Equal(t, result.Strategies[0].Stats.FinalBalanceSOL != 0, true)
	require.Equal(t, result.Strategies[0].Stats.FinalBalanceSOL, result.Strategies[1].Stats.FinalBalanceSOL)
}
