package runner

import (
	"math"
	"time"
)

// Run executes the pure take-profit ladder engine over window, the ordered
// candle frame strictly after entry. It performs no I/O and no logging: the
// adapter (adapter.go) is responsible for turning this into a StrategyOutput
// and for any observability.
func Run(cfg Config, entryTime time.Time, entryPrice float64, window CandleWindow) (TradeResult, error) {
	if err := cfg.Levels.Validate(); err != nil {
		return TradeResult{}, err
	}

	firstHit := make(map[float64]time.Time, len(cfg.Levels))
	fractionExited := make(map[float64]float64, len(cfg.Levels))

	if len(window) == 0 {
		return TradeResult{
			EntryTime:      entryTime,
			EntryPrice:     entryPrice,
			FirstHitTime:   firstHit,
			FractionExited: fractionExited,
			Reason:         ReasonNoData,
		}, nil
	}

	sorted := cfg.Levels.Sorted()
	hit := make([]bool, len(sorted))

	var timeStop time.Time
	hasTimeStop := cfg.TimeStopMinutes != nil
	if hasTimeStop {
		timeStop = entryTime.Add(time.Duration(*cfg.TimeStopMinutes * float64(time.Minute)))
	}

	remaining := 1.0
	realizedValue := 0.0

	var last = window[len(window)-1]

	for _, c := range window {
		if hasTimeStop && !c.Timestamp.Before(timeStop) {
			realizedValue += remaining * (c.Close / entryPrice)
			return TradeResult{
				EntryTime:        entryTime,
				EntryPrice:       entryPrice,
				FinalExitTime:    c.Timestamp,
				RealizedMultiple: realizedValue,
				RealizedPnLPct:   (realizedValue - 1) * 100,
				FirstHitTime:     firstHit,
				FractionExited:   fractionExited,
				Reason:           ReasonTimeStop,
			}, nil
		}

		trigger := c.Close
		if cfg.UseHighForTargets {
			trigger = c.High
		}

		for i, lvl := range sorted {
			if hit[i] {
				continue
			}
			target := entryPrice * lvl.Xn
			// Relative epsilon absorbs float rounding (100*1.10 is 110.00000000000001).
			if trigger < target*(1-epsilon) {
				continue
			}
			hit[i] = true
			firstHit[lvl.Xn] = c.Timestamp

			frac := math.Min(lvl.Fraction, remaining)
			if cfg.ExitOnFirstTP {
				frac = remaining
			}
			realizedValue += frac * lvl.Xn
			fractionExited[lvl.Xn] += frac
			remaining -= frac

			if remaining <= epsilon {
				return TradeResult{
					EntryTime:        entryTime,
					EntryPrice:       entryPrice,
					FinalExitTime:    c.Timestamp,
					RealizedMultiple: realizedValue,
					RealizedPnLPct:   (realizedValue - 1) * 100,
					FirstHitTime:     firstHit,
					FractionExited:   fractionExited,
					Reason:           ReasonAllLevelsHit,
				}, nil
			}
		}
	}

	if remaining > epsilon {
		realizedValue += remaining * (last.Close / entryPrice)
	}

	reason := ReasonAllLevelsHit
	if hasTimeStop && !last.Timestamp.Before(timeStop) {
		reason = ReasonTimeStop
	}

	return TradeResult{
		EntryTime:        entryTime,
		EntryPrice:       entryPrice,
		FinalExitTime:    last.Timestamp,
		RealizedMultiple: realizedValue,
		RealizedPnLPct:   (realizedValue - 1) * 100,
		FirstHitTime:     firstHit,
		FractionExited:   fractionExited,
		Reason:           reason,
	}, nil
}
