package signals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCSVParsesRequiredAndOptionalColumns(t *testing.T) {
	csv := "id,contract_address,timestamp,source,narrative\n" +
		"s1,0xabc,2026-01-01T00:00:00Z,twitter,pump\n"
	path := writeTempCSV(t, csv)

	out, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "0xabc", out[0].ContractAddress)
	assert.Equal(t, "twitter", out[0].Source)
	assert.Equal(t, "pump", out[0].Narrative)
}

func TestLoadCSVDefaultsSourceAndNarrative(t *testing.T) {
	csv := "id,contract_address,timestamp\n" +
		"s1,0xabc,2026-01-01T00:00:00Z\n"
	path := writeTempCSV(t, csv)

	out, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "unknown", out[0].Source)
	assert.Equal(t, "", out[0].Narrative)
}

func TestLoadCSVMergesExtraJSONAndNamedColumnsWithNamedWinning(t *testing.T) {
	csv := "id,contract_address,timestamp,extra_json,total_supply\n" +
		`s1,0xabc,2026-01-01T00:00:00Z,"{""total_supply"": 1, ""foo"": ""bar""}",42` + "\n"
	path := writeTempCSV(t, csv)

	out, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "42", out[0].Extra["total_supply"])
	assert.Equal(t, "bar", out[0].Extra["foo"])
}

func TestTotalSupplyDefaultsWhenAbsent(t *testing.T) {
	s := Signal{}
	assert.Equal(t, DefaultTotalSupply, s.TotalSupply())
}

func TestTotalSupplyParsesStringExtra(t *testing.T) {
	s := Signal{Extra: map[string]interface{}{"total_supply": "123456"}}
	assert.Equal(t, 123456.0, s.TotalSupply())
}

func TestLoadCSVMissingRequiredColumnErrors(t *testing.T) {
	csv := "id,timestamp\ns1,2026-01-01T00:00:00Z\n"
	path := writeTempCSV(t, csv)

	_, err := LoadCSV(path)
	assert.Error(t, err)
}

func TestLoadCSVSkipsRowWithUnparsableTimestamp(t *testing.T) {
	csv := "id,contract_address,timestamp\n" +
		"s1,0xabc,not-a-timestamp\n" +
		"s2,0xdef,2026-01-01T00:00:00Z\n"
	path := writeTempCSV(t, csv)

	out, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "s2", out[0].ID)
}
