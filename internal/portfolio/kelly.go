package portfolio

// KellyStats summarizes the closed-trade history the Kelly sizing mode
// derives its fraction from.
type KellyStats struct {
	TotalTrades  int
	WinningTrades int
	LosingTrades int
	AvgWin       float64
	AvgLoss      float64 // positive value
	WinRate      float64
	WinLossRatio float64
}

// computeKellyStats derives KellyStats from the closed positions replayed so
// far, using PnLSOL as the realized return per trade.
func computeKellyStats(closed []Position) KellyStats {
	var stats KellyStats
	if len(closed) == 0 {
		return stats
	}
	stats.TotalTrades = len(closed)

	var totalProfit, totalLoss float64
	for _, p := range closed {
		if p.PnLSOL > 0 {
			stats.WinningTrades++
			totalProfit += p.PnLSOL
		} else {
			stats.LosingTrades++
			totalLoss += -p.PnLSOL
		}
	}
	if stats.WinningTrades > 0 {
		stats.AvgWin = totalProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = totalLoss / float64(stats.LosingTrades)
	}
	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	if stats.AvgLoss > 0 {
		stats.WinLossRatio = stats.AvgWin / stats.AvgLoss
	}
	return stats
}

// kellyMinTrades is the minimum closed-trade count before the Kelly formula
// is trusted; below it, sizing falls back to a conservative flat 10%.
const kellyMinTrades = 30

// kellyPositionSize applies the Kelly Criterion (f* = (p*b - q)/b) to the
// current balance, clamped to [0.01, 0.25] of capital and scaled by
// kellyFraction (e.g. 0.5 for half-Kelly) to avoid full-Kelly overbetting.
func kellyPositionSize(stats KellyStats, balance, kellyFraction float64) float64 {
	conservative := balance * 0.10
	if stats.TotalTrades < kellyMinTrades {
		return conservative
	}
	if stats.WinRate <= 0 || stats.WinRate >= 1 || stats.AvgWin <= 0 || stats.AvgLoss <= 0 {
		return conservative
	}

	p := stats.WinRate
	q := 1 - p
	b := stats.WinLossRatio
	kellyPercent := (p*b - q) / b
	if kellyPercent <= 0 {
		return balance * 0.01
	}

	adjusted := kellyPercent * kellyFraction
	if adjusted > 0.25 {
		adjusted = 0.25
	}
	if adjusted < 0.01 {
		adjusted = 0.01
	}
	return balance * adjusted
}
