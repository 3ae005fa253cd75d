package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantledger/backtester/internal/config"
	"github.com/quantledger/backtester/internal/pipeline"
	"github.com/quantledger/backtester/internal/portfolio"
	"github.com/quantledger/backtester/internal/selection"
)

func TestPickRepresentativeStrategyPrefersPassingStrategy(t *testing.T) {
	result := &pipeline.Result{
		Strategies: []pipeline.StrategyResult{
			{Strategy: "runner_conservative", Stats: portfolio.PortfolioStats{TradesExecuted: 1}},
			{Strategy: "runner_classic", Stats: portfolio.PortfolioStats{TradesExecuted: 2}},
		},
		Selection: []selection.Result{
			{Strategy: "runner_conservative", SplitN: 3, Passed: false, FailedReasons: []string{"survival_rate too low"}},
			{Strategy: "runner_classic", SplitN: 3, Passed: true},
			{Strategy: "runner_classic", SplitN: 4, Passed: true},
		},
	}

	chosen := pickRepresentativeStrategy(result)
	assert.Equal(t, "runner_classic", chosen.Strategy)
}

func TestPickRepresentativeStrategyFallsBackWhenNonePass(t *testing.T) {
	result := &pipeline.Result{
		Strategies: []pipeline.StrategyResult{
			{Strategy: "runner_conservative", Stats: portfolio.PortfolioStats{TradesExecuted: 1}},
		},
		Selection: []selection.Result{
			{Strategy: "runner_conservative", SplitN: 3, Passed: false},
		},
	}

	chosen := pickRepresentativeStrategy(result)
	assert.Equal(t, "runner_conservative", chosen.Strategy)
}

func TestEngineConfigMergesOverrides(t *testing.T) {
	w := &Worker{baseConfig: config.PortfolioConfig{InitialBalanceSOL: 10, MaxOpenPositions: 5}}

	cfg := w.engineConfig(map[string]interface{}{"initial_balance_sol": 25.0})
	assert.Equal(t, 25.0, cfg.InitialBalanceSOL)
	assert.Equal(t, 5, cfg.MaxOpenPositions)
}

func TestEngineConfigFallsBackOnInvalidOverride(t *testing.T) {
	w := &Worker{baseConfig: config.PortfolioConfig{InitialBalanceSOL: 10}}

	cfg := w.engineConfig(map[string]interface{}{"initial_balance_sol": "not-a-number"})
	assert.Equal(t, 10.0, cfg.InitialBalanceSOL)
}
