// Package signals loads the inbound signal CSV described in the external
// interfaces contract: one row per trading signal, with an open-ended
// extra bag merged from both named columns and an optional extra_json blob.
package signals

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTotalSupply is used to compute market-cap proxies when
// extra["total_supply"] is absent from the signal.
const DefaultTotalSupply = 1e9

// Signal is an immutable-after-load trading signal.
type Signal struct {
	ID              string
	ContractAddress string
	Timestamp       time.Time
	Source          string
	Narrative       string
	Extra           map[string]interface{}
}

// TotalSupply returns extra["total_supply"] as a float64, defaulting to
// DefaultTotalSupply when absent or not numeric.
func (s Signal) TotalSupply() float64 {
	if s.Extra == nil {
		return DefaultTotalSupply
	}
	v, ok := s.Extra["total_supply"]
	if !ok {
		return DefaultTotalSupply
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f
		}
	}
	return DefaultTotalSupply
}

var requiredColumns = []string{"id", "contract_address", "timestamp"}
var reservedColumns = map[string]bool{
	"id": true, "contract_address": true, "timestamp": true,
	"source": true, "narrative": true, "extra_json": true,
}

// LoadCSV parses the signal CSV at path per the external-interfaces
// contract: required id/contract_address/timestamp columns, optional
// source/narrative/extra_json, and arbitrary extra columns merged into
// Extra (named columns beat extra_json on key collision). Rows with a
// malformed required field are skipped with a warning rather than aborting
// the whole load.
func LoadCSV(path string) ([]Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("signals: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("signals: read header of %s: %w", path, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[h] = i
	}
	for _, req := range requiredColumns {
		if _, ok := colIndex[req]; !ok {
			return nil, fmt.Errorf("signals: %s missing required column %q", path, req)
		}
	}

	var out []Signal
	line := 1

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("signals: read record at line %d of %s: %w", line, path, err)
		}
		line++

		sig, ok := parseRow(record, colIndex, header)
		if !ok {
			log.Warn().Int("line", line).Str("file", path).Msg("signals: skipping malformed row")
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

func parseRow(record []string, colIndex map[string]int, header []string) (Signal, bool) {
	get := func(col string) (string, bool) {
		idx, ok := colIndex[col]
		if !ok || idx >= len(record) {
			return "", false
		}
		return record[idx], true
	}

	id, ok := get("id")
	if !ok || id == "" {
		return Signal{}, false
	}
	contract, ok := get("contract_address")
	if !ok || contract == "" {
		return Signal{}, false
	}
	tsRaw, ok := get("timestamp")
	if !ok {
		return Signal{}, false
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return Signal{}, false
	}

	source := "unknown"
	if v, ok := get("source"); ok && v != "" {
		source = v
	}
	narrative := ""
	if v, ok := get("narrative"); ok {
		narrative = v
	}

	extra := make(map[string]interface{})
	if v, ok := get("extra_json"); ok && v != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			for k, val := range parsed {
				extra[k] = val
			}
		}
	}

	for i, colName := range header {
		if reservedColumns[colName] {
			continue
		}
		if i >= len(record) {
			continue
		}
		val := record[i]
		if val == "" || val == "nan" || val == "NaN" {
			continue
		}
		extra[colName] = val
	}

	return Signal{
		ID:              id,
		ContractAddress: contract,
		Timestamp:       ts.UTC(),
		Source:          source,
		Narrative:       narrative,
		Extra:           extra,
	}, true
}
