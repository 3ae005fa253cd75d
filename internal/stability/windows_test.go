package stability

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestRejectExecutionsLevelShapeNamesColumn(t *testing.T) {
	err := RejectExecutionsLevelShape([]string{"position_id", "event_type", "qty_delta"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executions-level")
	assert.Contains(t, err.Error(), "event_type")
}

func TestRejectExecutionsLevelShapeAllowsPositionsTable(t *testing.T) {
	err := RejectExecutionsLevelShape([]string{"position_id", "strategy", "pnl_sol"})
	assert.NoError(t, err)
}

func TestSplitWindowsAssignsByEntryTime(t *testing.T) {
	positions := []PositionRow{
		{EntryTime: day(0), ExitTime: day(1), PnLSOL: 1, HasPnLSOL: true},
		{EntryTime: day(5), ExitTime: day(6), PnLSOL: -1, HasPnLSOL: true},
		{EntryTime: day(9), ExitTime: day(9), PnLSOL: 2, HasPnLSOL: true},
	}
	windows, err := SplitWindows(positions, 3)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Len(t, windows[0].Positions, 1)
	assert.Len(t, windows[1].Positions, 1)
	assert.Len(t, windows[2].Positions, 1)
}

func TestSplitWindowsEmptyWindowsCountTowardTotal(t *testing.T) {
	positions := []PositionRow{
		{EntryTime: day(0), ExitTime: day(0), PnLSOL: 1, HasPnLSOL: true},
		{EntryTime: day(0), ExitTime: day(10), PnLSOL: 1, HasPnLSOL: true},
	}
	windows, err := SplitWindows(positions, 5)
	require.NoError(t, err)
	assert.Len(t, windows, 5)

	empties := 0
	for _, w := range windows {
		if len(w.Positions) == 0 {
			empties++
		}
	}
	assert.Greater(t, empties, 0)
}

func TestComputeWindowMetricsProfitFactorInfiniteWhenNoLosses(t *testing.T) {
	w := Window{Positions: []PositionRow{
		{PnLSOL: 1, HasPnLSOL: true},
		{PnLSOL: 2, HasPnLSOL: true},
	}}
	m := ComputeWindowMetrics(w)
	assert.True(t, math.IsInf(m.ProfitFactor, 1))
	assert.Equal(t, 1.0, m.WinRate)
}

func TestComputeWindowMetricsProfitFactorZeroWhenNoGainsOrLosses(t *testing.T) {
	w := Window{}
	m := ComputeWindowMetrics(w)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0, m.TradesCount)
}

func TestIsRunnerStrategyDetectsNameAndLegacyPrefix(t *testing.T) {
	assert.True(t, IsRunnerStrategy("Runner_v2"))
	assert.True(t, IsRunnerStrategy("rr_legacy_strategy"))
	assert.False(t, IsRunnerStrategy("rrd_core"))
}
