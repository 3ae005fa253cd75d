package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantledger/backtester/internal/candles"
	"github.com/quantledger/backtester/internal/signals"
)

func TestOnSignalNoEntryWhenNoCandlesAtOrAfterSignal(t *testing.T) {
	a := NewAdapter(Config{Levels: Ladder{{Xn: 2, Fraction: 1.0}}})
	sig := signals.Signal{ID: "s1", ContractAddress: "0xabc", Timestamp: at(100)}

	history := candles.Series{{Timestamp: at(0), Close: 1, Open: 1, High: 1, Low: 1}}
	out := a.OnSignal(sig, history)

	assert.Equal(t, ReasonNoEntry, out.CanonicalReason)
	assert.Nil(t, out.EntryTime)
}

func TestOnSignalExitPriceIsMarketCloseNotSynthesized(t *testing.T) {
	a := NewAdapter(Config{
		Levels:            Ladder{{Xn: 1.10, Fraction: 1.0}},
		UseHighForTargets: true,
	})
	sig := signals.Signal{ID: "s1", ContractAddress: "0xabc", Timestamp: at(0)}

	history := candles.Series{
		{Timestamp: at(0), Open: 100, High: 100, Low: 100, Close: 100},
		// target hit on high, but this candle's close is NOT entry*realized_multiple
		{Timestamp: at(1), Open: 100, High: 115, Low: 100, Close: 108},
	}

	out := a.OnSignal(sig, history)
	require.NotNil(t, out.ExitPrice)
	assert.Equal(t, 108.0, *out.ExitPrice)
	assert.NotEqual(t, 100.0*1.10, *out.ExitPrice)
	assert.Equal(t, ReasonLadderTP, out.CanonicalReason)
}

func TestOnSignalPreWindowFeaturesDoNotLeakFuture(t *testing.T) {
	a := NewAdapter(Config{Levels: Ladder{{Xn: 2, Fraction: 1.0}}})
	sig := signals.Signal{ID: "s1", ContractAddress: "0xabc", Timestamp: at(10)}

	history := candles.Series{
		{Timestamp: at(5), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10},
		{Timestamp: at(10), Open: 1.5, High: 1.5, Low: 1.5, Close: 1.5, Volume: 5},
		{Timestamp: at(20), Open: 1.5, High: 999, Low: 1.5, Close: 999, Volume: 1000},
	}

	out := a.OnSignal(sig, history)
	features := out.Meta["pre_window"].(map[string]WindowFeatures)
	assert.Equal(t, 10.0, features["5m"].SumVolume, "future candle at t=20 must not leak into pre-window features")
}

func TestOnSignalBlueprintFinalExitPresentOnlyWhenLastLevelHit(t *testing.T) {
	a := NewAdapter(Config{
		Levels: Ladder{
			{Xn: 2, Fraction: 0.5},
			{Xn: 5, Fraction: 0.5},
		},
		UseHighForTargets: true,
	})
	sig := signals.Signal{ID: "s1", ContractAddress: "0xabc", Timestamp: at(0)}

	// Only the 2x level is hit; 5x never reached.
	history := candles.Series{
		{Timestamp: at(0), Open: 100, High: 100, Low: 100, Close: 100},
		{Timestamp: at(1), Open: 100, High: 210, Low: 100, Close: 200},
	}

	bp, ok := a.OnSignalBlueprint(sig, history)
	require.True(t, ok)
	assert.Nil(t, bp.FinalExit)
	require.Len(t, bp.PartialExits, 1)
	assert.Equal(t, 2.0, bp.PartialExits[0].Xn)
}

func TestOnSignalBlueprintFinalExitPresentWhenAllLevelsHit(t *testing.T) {
	a := NewAdapter(Config{
		Levels:            Ladder{{Xn: 1.1, Fraction: 1.0}},
		UseHighForTargets: true,
	})
	sig := signals.Signal{ID: "s1", ContractAddress: "0xabc", Timestamp: at(0)}

	history := candles.Series{
		{Timestamp: at(0), Open: 100, High: 100, Low: 100, Close: 100},
		{Timestamp: at(1), Open: 100, High: 110, Low: 100, Close: 110},
	}

	bp, ok := a.OnSignalBlueprint(sig, history)
	require.True(t, ok)
	require.NotNil(t, bp.FinalExit)
	assert.Equal(t, ReasonLadderTP, bp.FinalExit.Reason)
}
