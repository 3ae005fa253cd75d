package selection

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quantledger/backtester/internal/stability"
)

// LoadStabilityCSV reads a strategy_stability.csv-shaped file, treating
// empty cells for Runner-only columns as absent (nil), which is what
// drives the v2 activation gate. Before rows reach the gate they go through
// schema normalization (parseRow): split_n/split_count are cross-filled from
// whichever is present, windows_total falls back to the split count, and
// windows_positive is derived from survival_rate * windows_total when the
// CSV omits it, matching externally-authored stability tables that only
// carry a subset of these columns.
func LoadStabilityCSV(path string) ([]stability.StabilityRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	var rows []stability.StabilityRow
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, parseRow(record, col))
	}
	return rows, nil
}

func parseRow(record []string, col map[string]int) stability.StabilityRow {
	str := func(name string) string {
		if idx, ok := col[name]; ok && idx < len(record) {
			return record[idx]
		}
		return ""
	}
	has := func(name string) bool {
		_, ok := col[name]
		return ok
	}
	f := func(name string) float64 {
		v, _ := strconv.ParseFloat(str(name), 64)
		return v
	}
	i := func(name string) int {
		v, _ := strconv.Atoi(str(name))
		return v
	}
	fptr := func(name string) *float64 {
		s := str(name)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &v
	}

	hasSplitN, hasSplitCount := has("split_n"), has("split_count")
	splitN, splitCount := i("split_n"), i("split_count")
	switch {
	case hasSplitCount && !hasSplitN:
		splitN = splitCount
	case hasSplitN && !hasSplitCount:
		splitCount = splitN
	}

	windowsTotal := i("windows_total")
	if !has("windows_total") || str("windows_total") == "" {
		if hasSplitN || hasSplitCount {
			windowsTotal = splitN
		} else {
			windowsTotal = 0
		}
	}

	survivalRate := f("survival_rate")
	windowsPositive := i("windows_positive")
	if !has("windows_positive") || str("windows_positive") == "" {
		windowsPositive = clampInt(int(math.Round(survivalRate*float64(windowsTotal))), 0, windowsTotal)
	}

	return stability.StabilityRow{
		Strategy:         str("strategy"),
		SplitN:           splitN,
		SplitCount:       splitCount,
		WindowsTotal:     windowsTotal,
		WindowsPositive:  windowsPositive,
		SurvivalRate:     survivalRate,
		PnLVariance:      f("pnl_variance"),
		Worst:            f("worst_window_pnl"),
		Best:             f("best_window_pnl"),
		Median:           f("median_window_pnl"),
		MaxDrawdownPct:   f("max_drawdown_pct"),
		HitRateX2:        fptr("hit_rate_x2"),
		HitRateX4:        fptr("hit_rate_x4"),
		HitRateX5:        fptr("hit_rate_x5"),
		P90HoldDays:      fptr("p90_hold_days"),
		TailContribution: fptr("tail_contribution"),
		TailPnLShare:     fptr("tail_pnl_share"),
		NonTailPnLShare:  fptr("non_tail_pnl_share"),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteSelectionCSV writes the §4.I/§6 strategy_selection.csv table,
// serializing failed_reasons as a "; "-joined string.
func WriteSelectionCSV(path string, results []Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"strategy", "split_n", "passed", "failed_reasons"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Strategy, strconv.Itoa(r.SplitN), strconv.FormatBool(r.Passed), strings.Join(r.FailedReasons, "; "),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
