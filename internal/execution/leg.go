package execution

// EffectiveEntryPrice applies entry slippage to a raw long entry price:
// effective_entry = raw_entry * (1 + s_entry).
func EffectiveEntryPrice(raw float64, cfg Config) float64 {
	return raw * (1 + cfg.slippageFor(LegEntry))
}

// EffectiveExitPrice applies exit slippage for the given leg kind to a raw
// exit price: effective_exit = raw_exit * (1 - s_exit).
func EffectiveExitPrice(raw float64, kind LegKind, cfg Config) float64 {
	return raw * (1 - cfg.slippageFor(kind))
}

// EffectivePnLPct is (effective_exit - effective_entry) / effective_entry;
// combined fees never touch this rate, only the notional used to update
// balance.
func EffectivePnLPct(effectiveEntry, effectiveExit float64) float64 {
	if effectiveEntry == 0 {
		return 0
	}
	return (effectiveExit - effectiveEntry) / effectiveEntry
}

// EntryResult is the balance-affecting outcome of opening a position: the
// network fee is the only cost charged at entry.
type EntryResult struct {
	EffectiveEntryPrice float64
	FeesSOL             float64
	NotionalAfterFees   float64
}

// ApplyEntry charges the network fee against the notional committed to a
// new position.
func ApplyEntry(rawEntry, notional float64, cfg Config) EntryResult {
	return EntryResult{
		EffectiveEntryPrice: EffectiveEntryPrice(rawEntry, cfg),
		FeesSOL:             cfg.NetworkFeeSOL,
		NotionalAfterFees:   notional - cfg.NetworkFeeSOL,
	}
}

// ExitResult is the balance-affecting outcome of one exit leg (partial or
// final): swap+LP fees are taken from the notional returned, then the
// network fee is subtracted again.
type ExitResult struct {
	EffectiveExitPrice float64
	NotionalReturned   float64
	NotionalAfterFees  float64
	FeesSOL            float64
	PnLPct             float64
}

// ApplyExit computes the execution outcome of one exit leg. effectiveEntry
// is the position's (or leg's) effective entry price; rawExit is the raw
// market price at the exit moment; notionalReturned is the quote-asset
// value the leg would return before any fee is applied (e.g.
// initial_size * fraction * price_ratio for a ladder leg).
func ApplyExit(effectiveEntry, rawExit, notionalReturned float64, kind LegKind, cfg Config) ExitResult {
	effectiveExit := EffectiveExitPrice(rawExit, kind, cfg)
	fees := notionalReturned*(cfg.SwapFeePct+cfg.LPFeePct) + cfg.NetworkFeeSOL
	return ExitResult{
		EffectiveExitPrice: effectiveExit,
		NotionalReturned:   notionalReturned,
		NotionalAfterFees:  notionalReturned - fees,
		FeesSOL:            fees,
		PnLPct:             EffectivePnLPct(effectiveEntry, effectiveExit),
	}
}
