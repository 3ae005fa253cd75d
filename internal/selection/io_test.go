package selection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, header string, rows ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy_stability.csv")
	content := header + "\n"
	for _, r := range rows {
		content += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStabilityCSVCrossFillsSplitCountIntoSplitN(t *testing.T) {
	path := writeCSV(t, "strategy,split_count,survival_rate", "rrd_core,5,0.8")
	rows, err := LoadStabilityCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].SplitN)
	assert.Equal(t, 5, rows[0].SplitCount)
}

func TestLoadStabilityCSVDerivesWindowsTotalFromSplitN(t *testing.T) {
	path := writeCSV(t, "strategy,split_n,survival_rate", "rrd_core,4,0.75")
	rows, err := LoadStabilityCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].WindowsTotal)
}

func TestLoadStabilityCSVDerivesWindowsPositiveFromSurvivalRate(t *testing.T) {
	path := writeCSV(t, "strategy,split_n,survival_rate", "rrd_core,4,0.75")
	rows, err := LoadStabilityCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// round(0.75*4) = 3
	assert.Equal(t, 3, rows[0].WindowsPositive)
}

func TestLoadStabilityCSVClampsWindowsPositiveToWindowsTotal(t *testing.T) {
	path := writeCSV(t, "strategy,split_n,survival_rate", "rrd_core,4,1.5")
	rows, err := LoadStabilityCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].WindowsPositive)
}

func TestLoadStabilityCSVLeavesExplicitWindowsColumnsAlone(t *testing.T) {
	path := writeCSV(t, "strategy,split_n,survival_rate,windows_total,windows_positive", "rrd_core,4,0.75,10,1")
	rows, err := LoadStabilityCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].WindowsTotal)
	assert.Equal(t, 1, rows[0].WindowsPositive)
}
