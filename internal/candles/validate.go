package candles

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// ValidationConfig controls candle validation strictness.
type ValidationConfig struct {
	StrictValidation bool
	MaxPriceJumpPct  float64 // 0 disables the inter-candle jump gate
}

// MalformedCandleError is raised under strict validation when a candle row
// fails an invariant.
type MalformedCandleError struct {
	Reason string
}

func (e *MalformedCandleError) Error() string {
	return fmt.Sprintf("candles: malformed candle row: %s", e.Reason)
}

// Validate checks a single candle's OHLCV invariants. It returns a non-nil
// error describing the first violated invariant, or nil if the candle is
// well-formed.
func Validate(c Candle) error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("non-positive price (open=%v high=%v low=%v close=%v)", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume (%v)", c.Volume)
	}
	maxOC := math.Max(c.Open, c.Close)
	minOC := math.Min(c.Open, c.Close)
	if c.High < maxOC {
		return fmt.Errorf("high (%v) below max(open,close) (%v)", c.High, maxOC)
	}
	if c.Low > minOC {
		return fmt.Errorf("low (%v) above min(open,close) (%v)", c.Low, minOC)
	}
	if c.High < c.Low {
		return fmt.Errorf("high (%v) below low (%v)", c.High, c.Low)
	}
	return nil
}

// FilterValid walks a raw candle slice, validating each row per cfg.
// Under strict validation the first malformed row aborts the load with a
// *MalformedCandleError. Otherwise malformed rows are skipped and a warning
// is emitted once per contract via warnOnce.
func FilterValid(contract string, raw []Candle, cfg ValidationConfig, warnOnce func(key, msg string)) ([]Candle, error) {
	out := make([]Candle, 0, len(raw))
	skipped := 0
	for _, c := range raw {
		if err := Validate(c); err != nil {
			if cfg.StrictValidation {
				return nil, &MalformedCandleError{Reason: err.Error()}
			}
			skipped++
			continue
		}
		out = append(out, c)
	}
	if skipped > 0 {
		msg := fmt.Sprintf("candles: skipped %d malformed row(s) for %s", skipped, contract)
		if warnOnce != nil {
			warnOnce("malformed_candle:"+contract, msg)
		} else {
			log.Warn().Str("contract", contract).Int("skipped", skipped).Msg(msg)
		}
	}
	return out, nil
}

// PriceJumpExceeded reports whether the open-to-prior-close jump between two
// adjacent candles exceeds cfg.MaxPriceJumpPct. Used by entry-quality gates
// that are not exercised by the Runner ladder engine, but are part of the
// validator's contract.
func PriceJumpExceeded(prev, cur Candle, cfg ValidationConfig) bool {
	if cfg.MaxPriceJumpPct <= 0 || prev.Close == 0 {
		return false
	}
	jump := math.Abs(cur.Open-prev.Close) / prev.Close
	return jump > cfg.MaxPriceJumpPct
}
