package runner

import "time"

// CanonicalReason is the closed set every StrategyOutput.CanonicalReason is
// drawn from.
type CanonicalReason string

const (
	ReasonLadderTP       CanonicalReason = "ladder_tp"
	ReasonStopLoss       CanonicalReason = "stop_loss"
	ReasonTimeStopC      CanonicalReason = "time_stop"
	ReasonCapacityPrune  CanonicalReason = "capacity_prune"
	ReasonProfitReset    CanonicalReason = "profit_reset"
	ReasonManualClose    CanonicalReason = "manual_close"
	ReasonNoEntry        CanonicalReason = "no_entry"
	ReasonError          CanonicalReason = "error"
	ReasonMaxHoldMinutes CanonicalReason = "max_hold_minutes"
)

var canonicalSet = map[CanonicalReason]bool{
	ReasonLadderTP: true, ReasonStopLoss: true, ReasonTimeStopC: true,
	ReasonCapacityPrune: true, ReasonProfitReset: true, ReasonManualClose: true,
	ReasonNoEntry: true, ReasonError: true, ReasonMaxHoldMinutes: true,
}

var legacyToCanonical = map[string]CanonicalReason{
	"tp":       ReasonLadderTP,
	"sl":       ReasonStopLoss,
	"timeout":  ReasonTimeStopC,
	"no_entry": ReasonNoEntry,
	"error":    ReasonError,
}

var ladderReasonToCanonical = map[TerminalReason]CanonicalReason{
	ReasonAllLevelsHit: ReasonLadderTP,
	ReasonTimeStop:     ReasonTimeStopC,
	ReasonNoData:       ReasonNoEntry,
}

// Canonicalize implements the §3 StrategyOutput canonicalization rule:
// meta.ladder_reason wins if present and valid; else the legacy->canonical
// map; else pass-through if already canonical; else error.
func Canonicalize(meta map[string]interface{}, legacyReason string) CanonicalReason {
	if meta != nil {
		if raw, ok := meta["ladder_reason"]; ok {
			if s, ok := raw.(CanonicalReason); ok && canonicalSet[s] {
				return s
			}
			if s, ok := raw.(string); ok {
				if c, ok := canonicalFromString(s); ok {
					return c
				}
			}
		}
	}
	if c, ok := legacyToCanonical[legacyReason]; ok {
		return c
	}
	if c, ok := canonicalFromString(legacyReason); ok {
		return c
	}
	return ReasonError
}

func canonicalFromString(s string) (CanonicalReason, bool) {
	c := CanonicalReason(s)
	if canonicalSet[c] {
		return c, true
	}
	return "", false
}

// StrategyOutput is the per-signal outcome a strategy adapter produces.
type StrategyOutput struct {
	SignalID        string
	Contract        string
	EntryTime       *time.Time
	EntryPrice      *float64
	ExitTime        *time.Time
	ExitPrice       *float64
	PnL             float64
	Reason          string
	CanonicalReason CanonicalReason
	Meta            map[string]interface{}
}

// NoEntryOutput builds the StrategyOutput returned when no post-signal
// candle exists.
func NoEntryOutput(signalID, contract string) StrategyOutput {
	return StrategyOutput{
		SignalID:        signalID,
		Contract:        contract,
		Reason:          "no_entry",
		CanonicalReason: ReasonNoEntry,
		Meta:            map[string]interface{}{},
	}
}

// PartialExit is one hit level in a StrategyTradeBlueprint.
type PartialExit struct {
	Timestamp time.Time
	Xn        float64
	Fraction  float64
}

// FinalExit closes a StrategyTradeBlueprint.
type FinalExit struct {
	Timestamp time.Time
	Reason    CanonicalReason
}

// StrategyTradeBlueprint is a side-effect-free intent record: the portfolio
// engine replays blueprints rather than re-deriving PnL from StrategyOutput.
type StrategyTradeBlueprint struct {
	EntryTime        time.Time
	EntryPriceRaw    float64
	EntryMcapProxy   float64
	PartialExits     []PartialExit
	FinalExit        *FinalExit
	RealizedMultiple float64
	MaxXnReached     float64
	ReasonTag        CanonicalReason
}
