package portfolio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var hitXLevels = []float64{2, 4, 5}

// WritePositions writes one row per closed position, first column
// position_id, per §6's portfolio_positions.csv contract.
func WritePositions(path string, positions []Position) error {
	header := []string{
		"position_id", "strategy", "signal_id", "contract_address", "entry_time", "exit_time",
		"status", "size", "pnl_sol", "fees_total_sol", "exec_entry_price", "exec_exit_price",
		"raw_entry_price", "raw_exit_price", "closed_by_reset", "triggered_portfolio_reset",
		"reset_reason", "hold_minutes", "max_xn_reached", "hit_x2", "hit_x4", "hit_x5",
		"realized_total_pnl_sol", "realized_tail_pnl_sol",
	}
	return writeCSV(path, header, len(positions), func(i int) []string {
		p := positions[i]
		return []string{
			p.PositionID.String(), p.Strategy, p.SignalID, p.ContractAddress,
			formatTime(p.EntryTime), formatTime(p.ExitTime), string(p.Status),
			f(p.Size), f(p.PnLSOL), f(p.FeesTotalSOL), f(p.ExecEntryPrice), f(p.ExecExitPrice),
			f(p.RawEntryPrice), f(p.RawExitPrice), b(p.ClosedByReset), b(p.TriggeredPortfolioReset),
			p.ResetReason, f(p.HoldMinutes), f(p.MaxXnReached),
			b(p.HitX(hitXLevels[0])), b(p.HitX(hitXLevels[1])), b(p.HitX(hitXLevels[2])),
			f(p.RealizedTotalPnLSOL), f(p.RealizedTailPnLSOL),
		}
	})
}

// WriteExecutions writes one row per leg, per §6's portfolio_executions.csv
// contract. Σ fees_sol per position_id must equal positions.fees_total_sol.
func WriteExecutions(path string, executions []Execution) error {
	header := []string{
		"position_id", "signal_id", "strategy", "event_time", "event_type",
		"qty_delta", "raw_price", "exec_price", "fees_sol", "pnl_sol_delta", "reset_reason",
	}
	return writeCSV(path, header, len(executions), func(i int) []string {
		e := executions[i]
		return []string{
			e.PositionID.String(), e.SignalID, e.Strategy, formatTime(e.EventTime), string(e.EventType),
			f(e.QtyDelta), f(e.RawPrice), f(e.ExecPrice), f(e.FeesSOL), f(e.PnLSOLDelta), e.ResetReason,
		}
	})
}

// WriteEvents writes the typed PortfolioEvent stream.
func WriteEvents(path string, events []Event) error {
	header := []string{"type", "position_id", "timestamp", "reason", "meta"}
	return writeCSV(path, header, len(events), func(i int) []string {
		ev := events[i]
		return []string{string(ev.Type), ev.PositionID.String(), formatTime(ev.Timestamp), ev.Reason, metaString(ev.Meta)}
	})
}

// SummaryRow pairs one strategy's name with the PortfolioStats from its own
// replay, the unit a multi-strategy pipeline run accumulates into
// portfolio_summary.csv.
type SummaryRow struct {
	Strategy string
	Stats    PortfolioStats
}

// WriteSummary writes a single strategy's summary row.
func WriteSummary(path string, strategy string, stats PortfolioStats) error {
	return WriteSummaries(path, []SummaryRow{{Strategy: strategy, Stats: stats}})
}

// WriteSummaries writes one row per strategy with the PortfolioStats fields.
func WriteSummaries(path string, rows []SummaryRow) error {
	header := []string{
		"strategy", "final_balance_sol", "total_return_pct", "max_drawdown_pct",
		"trades_executed", "trades_skipped_by_risk", "trades_skipped_by_reset",
		"portfolio_reset_count", "last_portfolio_reset_time",
	}
	return writeCSV(path, header, len(rows), func(i int) []string {
		row := rows[i]
		lastReset := ""
		if row.Stats.LastPortfolioResetTime != nil {
			lastReset = formatTime(*row.Stats.LastPortfolioResetTime)
		}
		return []string{
			row.Strategy, f(row.Stats.FinalBalanceSOL), f(row.Stats.TotalReturnPct), f(row.Stats.MaxDrawdownPct),
			fmt.Sprintf("%d", row.Stats.TradesExecuted), fmt.Sprintf("%d", row.Stats.TradesSkippedByRisk),
			fmt.Sprintf("%d", row.Stats.TradesSkippedByReset), fmt.Sprintf("%d", row.Stats.PortfolioResetCount),
			lastReset,
		}
	})
}

func writeCSV(path string, header []string, n int, row func(int) []string) error {
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

	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	return w.Error()
}

func f(v float64) string { return fmt.Sprintf("%g", v) }
func b(v bool) string    { return fmt.Sprintf("%t", v) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func metaString(meta map[string]interface{}) string {
	if len(meta) == 0 {
		return ""
	}
	out := ""
	for k, v := range meta {
		if out != "" {
			out += ";"
		}
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out
}
