package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantledger/backtester/internal/stability"
)

func f(v float64) *float64 { return &v }

func TestEvaluateRRDPassesWhenAllThresholdsMet(t *testing.T) {
	row := stability.StabilityRow{
		Strategy: "rrd_core", SurvivalRate: 0.7, PnLVariance: 0.05,
		Worst: -0.1, Median: 0.02, WindowsTotal: 4,
	}
	results := Evaluate([]stability.StabilityRow{row})
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Empty(t, results[0].FailedReasons)
}

func TestEvaluateRRDFailsNamesMetricAndThreshold(t *testing.T) {
	row := stability.StabilityRow{
		Strategy: "rrd_core", SurvivalRate: 0.4, PnLVariance: 0.05,
		Worst: -0.1, Median: 0.02, WindowsTotal: 4,
	}
	results := Evaluate([]stability.StabilityRow{row})
	require.False(t, results[0].Passed)
	require.Len(t, results[0].FailedReasons, 1)
	assert.Contains(t, results[0].FailedReasons[0], "survival_rate")
	assert.Contains(t, results[0].FailedReasons[0], "0.6000")
}

func TestEvaluateRunnerV1UsedWhenNoV2Columns(t *testing.T) {
	row := stability.StabilityRow{
		Strategy: "runner_legacy", HitRateX2: f(0.5), HitRateX5: f(0.1),
		P90HoldDays: f(10), TailContribution: f(0.5), MaxDrawdownPct: -0.1,
	}
	results := Evaluate([]stability.StabilityRow{row})
	assert.True(t, results[0].Passed)
}

func TestEvaluateRunnerV2GateActivatesOnV2ColumnsAndIgnoresV1(t *testing.T) {
	// S6: hit_rate_x4=0.20, tail_pnl_share=0.70 passes.
	row := stability.StabilityRow{
		Strategy: "runner_v2", HitRateX4: f(0.20), TailPnLShare: f(0.70),
		NonTailPnLShare: f(0.30), MaxDrawdownPct: -0.1,
	}
	results := Evaluate([]stability.StabilityRow{row})
	require.True(t, results[0].Passed)
}

func TestEvaluateRunnerV2FailsMentionsTailPnLShareNotTailContribution(t *testing.T) {
	// S6: tail_pnl_share=0.10 with same other v2 values fails.
	row := stability.StabilityRow{
		Strategy: "runner_v2", HitRateX4: f(0.20), TailPnLShare: f(0.10),
		NonTailPnLShare: f(0.30), MaxDrawdownPct: -0.1,
	}
	results := Evaluate([]stability.StabilityRow{row})
	require.False(t, results[0].Passed)

	joined := ""
	for _, r := range results[0].FailedReasons {
		joined += r + " "
	}
	assert.Contains(t, joined, "tail_pnl_share")
	assert.NotContains(t, joined, "tail_contribution")
}

func TestEvaluateRunnerV2MissingMetricProducesMissingReason(t *testing.T) {
	row := stability.StabilityRow{
		Strategy: "runner_v2", HitRateX4: f(0.20), TailPnLShare: f(0.70),
		NonTailPnLShare: nil, MaxDrawdownPct: -0.1,
	}
	results := Evaluate([]stability.StabilityRow{row})
	require.False(t, results[0].Passed)
	assert.Contains(t, results[0].FailedReasons, "missing_non_tail_pnl_share")
}

func TestEvaluatePreservesInputOrder(t *testing.T) {
	rows := []stability.StabilityRow{
		{Strategy: "b_strategy", SurvivalRate: 0.9, WindowsTotal: 5, Median: 0.1, Worst: 0},
		{Strategy: "a_strategy", SurvivalRate: 0.9, WindowsTotal: 5, Median: 0.1, Worst: 0},
	}
	results := Evaluate(rows)
	assert.Equal(t, "b_strategy", results[0].Strategy)
	assert.Equal(t, "a_strategy", results[1].Strategy)
}
