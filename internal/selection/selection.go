// Package selection applies the §4.I threshold gate over a strategy's
// stability table, producing a pass/fail verdict with human-readable
// failure reasons, preserving input order.
package selection

import (
	"fmt"
	"math"

	"github.com/quantledger/backtester/internal/stability"
)

// Result is one row's verdict.
type Result struct {
	Strategy      string
	SplitN        int
	Passed        bool
	FailedReasons []string
}

// rrCriteria is the immutable RR/RRD v1 threshold set.
var rrCriteria = struct {
	MinSurvivalRate   float64
	MaxPnLVariance    float64
	MinWorstWindowPnL float64
	MinMedianPnL      float64
	MinWindowsTotal   int
}{0.60, 0.15, -0.25, 0.0, 3}

// runnerV1Criteria is the immutable legacy Runner threshold set.
var runnerV1Criteria = struct {
	MinHitRateX2      float64
	MinHitRateX5      float64
	MaxP90HoldDays    float64
	MaxTailContribute float64
	MinMaxDrawdown    float64
}{0.35, 0.08, 35, 0.80, -0.60}

// runnerV2Criteria is the activation-gated replacement Runner threshold set.
var runnerV2Criteria = struct {
	MinHitRateX4     float64
	MinTailPnLShare  float64
	MinNonTailShare  float64
	MinMaxDrawdown   float64
}{0.10, 0.30, -0.20, -0.60}

// Evaluate applies the §4.I gate to every row, preserving input order.
func Evaluate(rows []stability.StabilityRow) []Result {
	results := make([]Result, len(rows))
	for i, row := range rows {
		results[i] = evaluateRow(row)
	}
	return results
}

func evaluateRow(row stability.StabilityRow) Result {
	normalizeRow(&row)

	if stability.IsRunnerStrategy(row.Strategy) {
		if runnerV2Activated(row) {
			return evaluateRunnerV2(row)
		}
		return evaluateRunnerV1(row)
	}
	return evaluateRRD(row)
}

// normalizeRow fills NaNs in critical metric columns with neutral defaults.
// Schema-level normalization (split_n/split_count cross-fill, windows_total/
// windows_positive derivation for externally-authored CSVs) happens earlier,
// in io.go's parseRow; this only covers the metric-column NaN fill.
func normalizeRow(row *stability.StabilityRow) {
	row.SurvivalRate = orZero(row.SurvivalRate)
	row.PnLVariance = orZero(row.PnLVariance)
	row.Worst = orZero(row.Worst)
	row.Median = orZero(row.Median)
	row.MaxDrawdownPct = orZero(row.MaxDrawdownPct)
}

func orZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func runnerV2Activated(row stability.StabilityRow) bool {
	return row.HitRateX4 != nil || row.TailPnLShare != nil || row.NonTailPnLShare != nil
}

func evaluateRRD(row stability.StabilityRow) Result {
	var reasons []string
	check(&reasons, row.SurvivalRate < rrCriteria.MinSurvivalRate,
		"survival_rate %.4f below threshold %.4f", row.SurvivalRate, rrCriteria.MinSurvivalRate)
	check(&reasons, row.PnLVariance > rrCriteria.MaxPnLVariance,
		"pnl_variance %.4f above threshold %.4f", row.PnLVariance, rrCriteria.MaxPnLVariance)
	check(&reasons, row.Worst < rrCriteria.MinWorstWindowPnL,
		"worst_window_pnl %.4f below threshold %.4f", row.Worst, rrCriteria.MinWorstWindowPnL)
	check(&reasons, row.Median < rrCriteria.MinMedianPnL,
		"median_window_pnl %.4f below threshold %.4f", row.Median, rrCriteria.MinMedianPnL)
	check(&reasons, row.WindowsTotal < rrCriteria.MinWindowsTotal,
		"windows_total %d below threshold %d", row.WindowsTotal, rrCriteria.MinWindowsTotal)

	return result(row, reasons)
}

func evaluateRunnerV1(row stability.StabilityRow) Result {
	var reasons []string
	checkPtr(&reasons, row.HitRateX2, "hit_rate_x2", func(v float64) bool { return v < runnerV1Criteria.MinHitRateX2 },
		runnerV1Criteria.MinHitRateX2, "below")
	checkPtr(&reasons, row.HitRateX5, "hit_rate_x5", func(v float64) bool { return v < runnerV1Criteria.MinHitRateX5 },
		runnerV1Criteria.MinHitRateX5, "below")
	checkPtr(&reasons, row.P90HoldDays, "p90_hold_days", func(v float64) bool { return v > runnerV1Criteria.MaxP90HoldDays },
		runnerV1Criteria.MaxP90HoldDays, "above")
	checkPtr(&reasons, row.TailContribution, "tail_contribution", func(v float64) bool { return v > runnerV1Criteria.MaxTailContribute },
		runnerV1Criteria.MaxTailContribute, "above")
	check(&reasons, row.MaxDrawdownPct < runnerV1Criteria.MinMaxDrawdown,
		"max_drawdown_pct %.4f below threshold %.4f", row.MaxDrawdownPct, runnerV1Criteria.MinMaxDrawdown)

	return result(row, reasons)
}

func evaluateRunnerV2(row stability.StabilityRow) Result {
	var reasons []string
	checkPtr(&reasons, row.HitRateX4, "hit_rate_x4", func(v float64) bool { return v < runnerV2Criteria.MinHitRateX4 },
		runnerV2Criteria.MinHitRateX4, "below")
	checkPtr(&reasons, row.TailPnLShare, "tail_pnl_share", func(v float64) bool { return v < runnerV2Criteria.MinTailPnLShare },
		runnerV2Criteria.MinTailPnLShare, "below")
	checkPtr(&reasons, row.NonTailPnLShare, "non_tail_pnl_share", func(v float64) bool { return v < runnerV2Criteria.MinNonTailShare },
		runnerV2Criteria.MinNonTailShare, "below")
	check(&reasons, row.MaxDrawdownPct < runnerV2Criteria.MinMaxDrawdown,
		"max_drawdown_pct %.4f below threshold %.4f", row.MaxDrawdownPct, runnerV2Criteria.MinMaxDrawdown)

	return result(row, reasons)
}

func result(row stability.StabilityRow, reasons []string) Result {
	return Result{
		Strategy:      row.Strategy,
		SplitN:        row.SplitN,
		Passed:        len(reasons) == 0,
		FailedReasons: reasons,
	}
}

func check(reasons *[]string, failed bool, format string, args ...interface{}) {
	if failed {
		*reasons = append(*reasons, fmt.Sprintf(format, args...))
	}
}

// checkPtr reports a missing_<metric> reason when the metric is absent
// (nil), else applies cmp to decide pass/fail with a directional message.
func checkPtr(reasons *[]string, v *float64, name string, cmp func(float64) bool, threshold float64, direction string) {
	if v == nil {
		*reasons = append(*reasons, fmt.Sprintf("missing_%s", name))
		return
	}
	if cmp(*v) {
		*reasons = append(*reasons, fmt.Sprintf("%s %.4f %s threshold %.4f", name, *v, direction, threshold))
	}
}
