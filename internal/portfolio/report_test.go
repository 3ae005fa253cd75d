package portfolio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePositionsFirstColumnIsPositionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portfolio_positions.csv")

	pos := Position{
		PositionID: uuid.New(), Strategy: "runner", SignalID: "s1",
		EntryTime: time.Now(), ExitTime: time.Now(), Status: StatusClosed,
		Size: 1, MaxXnReached: 4.5,
	}
	require.NoError(t, WritePositions(path, []Position{pos}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "position_id,strategy,signal_id")
	assert.Contains(t, string(content), pos.PositionID.String())
	assert.Contains(t, string(content), "true") // hit_x2/hit_x4 true for MaxXnReached=4.5
}

func TestWriteExecutionsRoundTripsRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portfolio_executions.csv")

	pid := uuid.New()
	execs := []Execution{
		{PositionID: pid, SignalID: "s1", EventType: ExecEntry, EventTime: time.Now(), FeesSOL: 0.001},
		{PositionID: pid, SignalID: "s1", EventType: ExecFinalExit, EventTime: time.Now(), FeesSOL: 0.002},
	}
	require.NoError(t, WriteExecutions(path, execs))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "event_type")
	assert.Contains(t, string(content), "entry")
	assert.Contains(t, string(content), "final_exit")
}

func TestWriteSummaryWritesSingleRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portfolio_summary.csv")

	stats := PortfolioStats{FinalBalanceSOL: 12.5, TradesExecuted: 3}
	require.NoError(t, WriteSummary(path, "runner", stats))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "runner")
	assert.Contains(t, string(content), "12.5")
}
