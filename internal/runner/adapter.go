package runner

import (
	"sort"
	"time"

	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/signals"
)

// Adapter wraps the pure ladder engine with entry selection, leakage-free
// pre-window features, market-cap proxies, and StrategyOutput/blueprint
// emission.
type Adapter struct {
	cfg Config
}

// NewAdapter builds an Adapter over a fixed ladder Config.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// OnSignal implements §4.D steps 1-5: entry selection, pre-window features,
// mcap proxies, ladder invocation, and StrategyOutput assembly. history must
// be sorted ascending and should span both sides of signal.Timestamp.
func (a *Adapter) OnSignal(signal signals.Signal, history candles.Series) StrategyOutput {
	entryCandles := filterFromTimestamp(history, signal.Timestamp)
	if len(entryCandles) == 0 {
		return NoEntryOutput(signal.ID, signal.ContractAddress)
	}

	entryCandle := entryCandles[0]
	entryPrice := entryCandle.Close
	entryTime := entryCandle.Timestamp

	features := computePreWindowFeatures(history, entryTime, entryPrice)
	entryMcapProxy := entryPrice * signal.TotalSupply()

	ladderWindow := entryCandles[1:]
	result, err := Run(a.cfg, entryTime, entryPrice, ladderWindow)
	if err != nil {
		return StrategyOutput{
			SignalID:        signal.ID,
			Contract:        signal.ContractAddress,
			Reason:          "error",
			CanonicalReason: ReasonError,
			Meta:            map[string]interface{}{"exception": err.Error()},
		}
	}

	canonical := ladderReasonToCanonical[result.Reason]

	exitPrice := marketCloseAtOrAfter(entryCandles, result.FinalExitTime)
	exitMcapProxy := exitPrice * signal.TotalSupply()
	mcapChangePct := 0.0
	if entryMcapProxy != 0 {
		mcapChangePct = (exitMcapProxy - entryMcapProxy) / entryMcapProxy
	}

	meta := map[string]interface{}{
		"ladder_reason":     canonical,
		"levels_hit":        result.FirstHitTime,
		"fractions_exited":  result.FractionExited,
		"realized_multiple": result.RealizedMultiple,
		"runner_ladder":     true,
		"pre_window":        features,
		"entry_mcap_proxy":  entryMcapProxy,
		"exit_mcap_proxy":   exitMcapProxy,
		"mcap_change_pct":   mcapChangePct,
	}

	out := StrategyOutput{
		SignalID:        signal.ID,
		Contract:        signal.ContractAddress,
		EntryTime:       &entryTime,
		EntryPrice:      &entryPrice,
		PnL:             result.RealizedPnLPct / 100,
		Reason:          string(canonical),
		CanonicalReason: canonical,
		Meta:            meta,
	}
	if result.Reason != ReasonNoData {
		exitTime := result.FinalExitTime
		out.ExitTime = &exitTime
		out.ExitPrice = &exitPrice
	}
	return out
}

// OnSignalBlueprint implements the §4.D step 6 blueprint path: it returns
// the intent record directly without synthesizing PnL.
func (a *Adapter) OnSignalBlueprint(signal signals.Signal, history candles.Series) (StrategyTradeBlueprint, bool) {
	entryCandles := filterFromTimestamp(history, signal.Timestamp)
	if len(entryCandles) == 0 {
		return StrategyTradeBlueprint{}, false
	}

	entryCandle := entryCandles[0]
	entryPrice := entryCandle.Close
	entryTime := entryCandle.Timestamp
	entryMcapProxy := entryPrice * signal.TotalSupply()

	ladderWindow := entryCandles[1:]
	result, err := Run(a.cfg, entryTime, entryPrice, ladderWindow)
	if err != nil {
		return StrategyTradeBlueprint{}, false
	}

	sorted := a.cfg.Levels.Sorted()
	partials := make([]PartialExit, 0, len(sorted))
	maxXn := 0.0
	for _, lvl := range sorted {
		t, hit := result.FirstHitTime[lvl.Xn]
		if !hit {
			continue
		}
		partials = append(partials, PartialExit{Timestamp: t, Xn: lvl.Xn, Fraction: result.FractionExited[lvl.Xn]})
		if lvl.Xn > maxXn {
			maxXn = lvl.Xn
		}
	}
	sort.Slice(partials, func(i, j int) bool { return partials[i].Timestamp.Before(partials[j].Timestamp) })

	canonical := ladderReasonToCanonical[result.Reason]
	bp := StrategyTradeBlueprint{
		EntryTime:        entryTime,
		EntryPriceRaw:    entryPrice,
		EntryMcapProxy:   entryMcapProxy,
		PartialExits:     partials,
		RealizedMultiple: result.RealizedMultiple,
		MaxXnReached:     maxXn,
		ReasonTag:        canonical,
	}

	if len(sorted) > 0 {
		highest := sorted[len(sorted)-1]
		if _, hit := result.FirstHitTime[highest.Xn]; hit {
			bp.FinalExit = &FinalExit{Timestamp: result.FinalExitTime, Reason: canonical}
		}
	}

	return bp, true
}

func filterFromTimestamp(history candles.Series, from time.Time) candles.Series {
	var out candles.Series
	for _, c := range history {
		if c.Timestamp.Before(from) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// marketCloseAtOrAfter returns the close of the first candle in ordered
// whose timestamp is >= at, falling back to the last candle's close if
// none qualify (at lies after the frame).
func marketCloseAtOrAfter(ordered candles.Series, at time.Time) float64 {
	for _, c := range ordered {
		if !c.Timestamp.Before(at) {
			return c.Close
		}
	}
	if len(ordered) > 0 {
		return ordered[len(ordered)-1].Close
	}
	return 0
}
