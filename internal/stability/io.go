package stability

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LoadPositionsCSV reads a portfolio_positions.csv-shaped file into
// PositionRow values, applying the §4.G/S5 input-shape boundary check.
func LoadPositionsCSV(path string) ([]PositionRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := RejectExecutionsLevelShape(header); err != nil {
		return nil, err
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	var rows []PositionRow
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row, ok := parsePositionRow(record, col)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parsePositionRow(record []string, col map[string]int) (PositionRow, bool) {
	get := func(name string) (string, bool) {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return "", false
		}
		return record[idx], true
	}
	parseTime := func(name string) time.Time {
		if v, ok := get(name); ok && v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	parseFloat := func(name string) (float64, bool) {
		if v, ok := get(name); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
		return 0, false
	}

	strategy, _ := get("strategy")
	entryTime := parseTime("entry_time")
	exitTime := parseTime("exit_time")
	if entryTime.IsZero() || exitTime.IsZero() {
		return PositionRow{}, false
	}

	row := PositionRow{
		Strategy:  strategy,
		EntryTime: entryTime,
		ExitTime:  exitTime,
	}
	if v, ok := parseFloat("pnl_sol"); ok {
		row.PnLSOL, row.HasPnLSOL = v, true
	}
	if v, ok := parseFloat("pnl_pct"); ok {
		row.PnLPct = v
	}
	if v, ok := parseFloat("max_xn_reached"); ok {
		row.MaxXnReached = v
	}
	if v, ok := parseFloat("hold_minutes"); ok {
		row.HoldMinutes = v
	}
	rt, hasRT := parseFloat("realized_total_pnl_sol")
	rtail, hasRTail := parseFloat("realized_tail_pnl_sol")
	if hasRT && hasRTail {
		row.RealizedTotalPnLSOL = rt
		row.RealizedTailPnLSOL = rtail
		row.HasRealizedColumns = true
	}
	return row, true
}

// WriteStabilityCSV writes the §4.H/§6 strategy_stability.csv table.
func WriteStabilityCSV(path string, rows []StabilityRow) error {
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

	header := []string{
		"strategy", "split_n", "split_count", "windows_total", "windows_positive",
		"survival_rate", "pnl_variance", "worst_window_pnl", "best_window_pnl", "median_window_pnl",
		"max_drawdown_pct", "hit_rate_x2", "hit_rate_x4", "hit_rate_x5", "p90_hold_days",
		"tail_contribution", "tail_pnl_share", "non_tail_pnl_share",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write([]string{
			row.Strategy, itoa(row.SplitN), itoa(row.SplitCount), itoa(row.WindowsTotal), itoa(row.WindowsPositive),
			ftoa(row.SurvivalRate), ftoa(row.PnLVariance), ftoa(row.Worst), ftoa(row.Best), ftoa(row.Median),
			ftoa(row.MaxDrawdownPct), ftoaPtr(row.HitRateX2), ftoaPtr(row.HitRateX4), ftoaPtr(row.HitRateX5),
			ftoaPtr(row.P90HoldDays), ftoaPtr(row.TailContribution), ftoaPtr(row.TailPnLShare), ftoaPtr(row.NonTailPnLShare),
		}); err != nil {
			return err
		}
	}
	return w.Error()
}

func itoa(v int) string     { return fmt.Sprintf("%d", v) }
func ftoa(v float64) string { return fmt.Sprintf("%g", v) }
func ftoaPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return ftoa(*v)
}
