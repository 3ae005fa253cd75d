package runner

import (
	"math"
	"time"

	"github.com/quantledger/backtester/internal/candles"
)

// WindowFeatures summarizes a fixed-duration slice of candles strictly
// before entry_time, computed without any future information.
type WindowFeatures struct {
	SumVolume       float64
	NormalizedRange float64
	ReturnsStdDev   float64
}

// preWindowDurations are the three lookback windows the adapter attaches to
// every signal's meta bag.
var preWindowDurations = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"60m": 60 * time.Minute,
}

// computePreWindowFeatures derives the named 5m/15m/60m feature sets from
// candles strictly before entryTime. history must be sorted ascending; it
// may include candles at or after entryTime, which are ignored.
func computePreWindowFeatures(history candles.Series, entryTime time.Time, entryPrice float64) map[string]WindowFeatures {
	out := make(map[string]WindowFeatures, len(preWindowDurations))
	for name, dur := range preWindowDurations {
		start := entryTime.Add(-dur)
		window := selectStrictlyBefore(history, start, entryTime)
		out[name] = summarizeWindow(window, entryPrice)
	}
	return out
}

// selectStrictlyBefore returns candles with start <= timestamp < end.
func selectStrictlyBefore(history candles.Series, start, end time.Time) candles.Series {
	var out candles.Series
	for _, c := range history {
		if c.Timestamp.Before(start) {
			continue
		}
		if !c.Timestamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func summarizeWindow(window candles.Series, entryPrice float64) WindowFeatures {
	if len(window) == 0 {
		return WindowFeatures{}
	}

	sumVolume := 0.0
	maxHigh := window[0].High
	minLow := window[0].Low
	for _, c := range window {
		sumVolume += c.Volume
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}
	}

	normalizedRange := 0.0
	if entryPrice != 0 {
		normalizedRange = (maxHigh - minLow) / entryPrice
	}

	var returns []float64
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (window[i].Close-prev)/prev)
	}

	return WindowFeatures{
		SumVolume:       sumVolume,
		NormalizedRange: normalizedRange,
		ReturnsStdDev:   stdDev(returns),
	}
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
