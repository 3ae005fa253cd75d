package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantledger/backtester/internal/candles"
)

func at(mins int) time.Time {
	return time.Date(2026, 1, 1, 0, mins, 0, 0, time.UTC)
}

// S1 — Simple TP: entry close 100, next candle high=110 hits xn=1.10 frac=1.0.
func TestLadderS1SimpleTP(t *testing.T) {
	cfg := Config{
		Levels:            Ladder{{Xn: 1.10, Fraction: 1.0}},
		UseHighForTargets: true,
	}
	entryTime := at(0)
	window := candles.Series{
		{Timestamp: at(1), Open: 100, High: 110, Low: 100, Close: 110, Volume: 1},
	}

	result, err := Run(cfg, entryTime, 100, window)
	require.NoError(t, err)

	assert.Equal(t, ReasonAllLevelsHit, result.Reason)
	assert.InDelta(t, 1.10, result.RealizedMultiple, 1e-9)
	assert.InDelta(t, 10.0, result.RealizedPnLPct, 1e-9)
	assert.Equal(t, 1.0, result.FractionExited[1.10])
	assert.Equal(t, at(1), result.FinalExitTime)
}

// S2 — Time-stop mid-ladder: entry 100, levels [(3x,0.2),(7x,0.3),(15x,0.5)],
// time_stop_minutes=120. t+10 high=310 hits 3x. t+20 close=10. Time-stop at
// t+120 with close=10.
func TestLadderS2TimeStopMidLadder(t *testing.T) {
	timeStop := 120.0
	cfg := Config{
		Levels: Ladder{
			{Xn: 3, Fraction: 0.2},
			{Xn: 7, Fraction: 0.3},
			{Xn: 15, Fraction: 0.5},
		},
		TimeStopMinutes:   &timeStop,
		UseHighForTargets: true,
	}
	entryTime := at(0)
	window := candles.Series{
		{Timestamp: at(10), Open: 100, High: 310, Low: 100, Close: 300, Volume: 1},
		{Timestamp: at(20), Open: 300, High: 300, Low: 10, Close: 10, Volume: 1},
		{Timestamp: at(120), Open: 10, High: 10, Low: 10, Close: 10, Volume: 1},
	}

	result, err := Run(cfg, entryTime, 100, window)
	require.NoError(t, err)

	assert.Equal(t, ReasonTimeStop, result.Reason)
	assert.Equal(t, 0.2, result.FractionExited[3])
	assert.InDelta(t, 0.2*3+0.8*0.1, result.RealizedMultiple, 1e-9)
	assert.InDelta(t, -32.0, result.RealizedPnLPct, 1e-6)
	assert.Equal(t, at(120), result.FinalExitTime)
	assert.Len(t, result.FractionExited, 1)
}

func TestLadderEmptyWindowIsNoData(t *testing.T) {
	cfg := Config{Levels: Ladder{{Xn: 2, Fraction: 1.0}}}
	result, err := Run(cfg, at(0), 100, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoData, result.Reason)
}

func TestLadderExitOnFirstTPClosesAllAtFirstHit(t *testing.T) {
	cfg := Config{
		Levels: Ladder{
			{Xn: 2, Fraction: 0.3},
			{Xn: 5, Fraction: 0.3},
		},
		UseHighForTargets: true,
		ExitOnFirstTP:     true,
	}
	window := candles.Series{
		{Timestamp: at(1), Open: 100, High: 210, Low: 100, Close: 210, Volume: 1},
	}
	result, err := Run(cfg, at(0), 100, window)
	require.NoError(t, err)
	assert.Equal(t, ReasonAllLevelsHit, result.Reason)
	assert.Equal(t, 1.0, result.FractionExited[2])
	assert.InDelta(t, 2.0, result.RealizedMultiple, 1e-9)
}

func TestLadderExhaustsStreamWithoutHittingAllLevels(t *testing.T) {
	cfg := Config{
		Levels:            Ladder{{Xn: 5, Fraction: 1.0}},
		UseHighForTargets: true,
	}
	window := candles.Series{
		{Timestamp: at(1), Open: 100, High: 150, Low: 90, Close: 140, Volume: 1},
		{Timestamp: at(2), Open: 140, High: 160, Low: 130, Close: 150, Volume: 1},
	}
	result, err := Run(cfg, at(0), 100, window)
	require.NoError(t, err)
	assert.Equal(t, ReasonAllLevelsHit, result.Reason)
	assert.InDelta(t, 1.5, result.RealizedMultiple, 1e-9)
	assert.Empty(t, result.FractionExited)
}

func TestLadderValidatesFractionSum(t *testing.T) {
	cfg := Config{Levels: Ladder{{Xn: 2, Fraction: 0.7}, {Xn: 3, Fraction: 0.5}}}
	_, err := Run(cfg, at(0), 100, candles.Series{{Timestamp: at(1), Close: 100, High: 100, Low: 100, Open: 100}})
	assert.Error(t, err)
}
