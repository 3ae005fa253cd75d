package stability

import (
	"math"
	"sort"
)

const tailXnThreshold = 4.0
const legacyTailXnThreshold = 5.0
const epsilon = 1e-9

// StabilityRow is one (strategy, split_n) output row. Runner-only fields are
// pointers so their absence can be distinguished from a zero value by the
// selection gate's v2 activation check.
type StabilityRow struct {
	Strategy        string
	SplitN          int
	SplitCount      int
	WindowsTotal    int
	WindowsPositive int
	SurvivalRate    float64
	PnLVariance     float64
	Worst           float64
	Best            float64
	Median          float64
	MaxDrawdownPct  float64

	HitRateX2        *float64
	HitRateX4        *float64
	HitRateX5        *float64
	P90HoldDays      *float64
	TailContribution *float64
	TailPnLShare     *float64
	NonTailPnLShare  *float64
}

// DefaultSplitNs is the configured split_n set used when none is supplied.
func DefaultSplitNs() []int { return []int{3, 4, 5} }

// Aggregate implements §4.H: for each split_n, window the position table and
// derive survival statistics, plus (for Runner strategies) hit-rate/tail
// metrics computed once over the full position table.
func Aggregate(strategy string, positions []PositionRow, splitNs []int) ([]StabilityRow, error) {
	rows := make([]StabilityRow, 0, len(splitNs))
	isRunner := IsRunnerStrategy(strategy)
	overallDD := maxDrawdownOverCumulative(pnlSeries(positions))

	for _, n := range splitNs {
		windows, err := SplitWindows(positions, n)
		if err != nil {
			return nil, err
		}

		windowPnLs := make([]float64, len(windows))
		positive := 0
		for i, w := range windows {
			m := ComputeWindowMetrics(w)
			windowPnLs[i] = m.TotalPnL
			if m.TotalPnL > 0 {
				positive++
			}
		}

		row := StabilityRow{
			Strategy:        strategy,
			SplitN:          n,
			SplitCount:      n,
			WindowsTotal:    len(windows),
			WindowsPositive: positive,
			SurvivalRate:    ratio(positive, len(windows)),
			PnLVariance:     variance(windowPnLs),
			Worst:           minOf(windowPnLs),
			Best:            maxOf(windowPnLs),
			Median:          median(windowPnLs),
			MaxDrawdownPct:  overallDD,
		}

		if isRunner {
			attachRunnerMetrics(&row, positions)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func pnlSeries(positions []PositionRow) []float64 {
	out := make([]float64, len(positions))
	for i, p := range positions {
		out[i] = p.pnl()
	}
	return out
}

func attachRunnerMetrics(row *StabilityRow, positions []PositionRow) {
	n := len(positions)
	if n == 0 {
		return
	}

	hit := func(k float64) *float64 {
		count := 0
		for _, p := range positions {
			if p.MaxXnReached >= k {
				count++
			}
		}
		v := float64(count) / float64(n)
		return &v
	}
	row.HitRateX2 = hit(2)
	row.HitRateX4 = hit(4)
	row.HitRateX5 = hit(5)

	holdDays := make([]float64, n)
	for i, p := range positions {
		holdDays[i] = p.HoldMinutes / 1440.0
	}
	p90 := percentile(holdDays, 0.90)
	row.P90HoldDays = &p90

	var totalPnL, tailLegacyPnL float64
	for _, p := range positions {
		v := p.pnl()
		totalPnL += v
		if p.MaxXnReached >= legacyTailXnThreshold {
			tailLegacyPnL += v
		}
	}
	tailContribution := 0.0
	if math.Abs(totalPnL) > epsilon {
		tailContribution = tailLegacyPnL / totalPnL
	}
	row.TailContribution = &tailContribution

	hasRealized := false
	for _, p := range positions {
		if p.HasRealizedColumns {
			hasRealized = true
			break
		}
	}

	var tailShare float64
	if hasRealized {
		var totalRealized, tailRealized float64
		for _, p := range positions {
			totalRealized += p.RealizedTotalPnLSOL
			tailRealized += p.RealizedTailPnLSOL
		}
		if math.Abs(totalRealized) > epsilon {
			tailShare = tailRealized / totalRealized
		}
	} else {
		// Fallback: treat every position with max_xn_reached >= 4.0 as
		// entirely tail. Shares may exceed [0,1] in this mode.
		var total, tail float64
		for _, p := range positions {
			v := p.pnl()
			total += v
			if p.MaxXnReached >= tailXnThreshold {
				tail += v
			}
		}
		if math.Abs(total) > epsilon {
			tailShare = tail / total
		}
	}
	nonTailShare := 1 - tailShare
	row.TailPnLShare = &tailShare
	row.NonTailPnLShare = &nonTailShare
}

func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

func variance(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(n)
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
