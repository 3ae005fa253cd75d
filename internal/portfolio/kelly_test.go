package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func closedPosition(pnl float64) Position {
	return Position{PnLSOL: pnl}
}

func TestComputeKellyStatsEmpty(t *testing.T) {
	stats := computeKellyStats(nil)
	assert.Equal(t, 0, stats.TotalTrades)
	assert.Equal(t, 0.0, stats.WinRate)
}

func TestComputeKellyStatsMixedTrades(t *testing.T) {
	closed := []Position{
		closedPosition(2.0), closedPosition(1.0), closedPosition(-0.5), closedPosition(-1.5),
	}
	stats := computeKellyStats(closed)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 2, stats.LosingTrades)
	assert.InDelta(t, 1.5, stats.AvgWin, 1e-9)
	assert.InDelta(t, 1.0, stats.AvgLoss, 1e-9)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 1.5, stats.WinLossRatio, 1e-9)
}

func TestKellyPositionSizeFallsBackBelowMinTrades(t *testing.T) {
	stats := KellyStats{TotalTrades: 5, WinRate: 0.6, AvgWin: 2, AvgLoss: 1, WinLossRatio: 2}
	size := kellyPositionSize(stats, 100, 0.5)
	assert.InDelta(t, 10, size, 1e-9)
}

func TestKellyPositionSizeAppliesFractionAndCap(t *testing.T) {
	stats := KellyStats{TotalTrades: 40, WinRate: 0.6, AvgWin: 2, AvgLoss: 1, WinLossRatio: 2}
	// raw kelly = (0.6*2 - 0.4)/2 = 0.4; half-kelly = 0.2
	size := kellyPositionSize(stats, 100, 0.5)
	assert.InDelta(t, 20, size, 1e-9)
}

func TestKellyPositionSizeClampsToFloorOnNegativeEdge(t *testing.T) {
	stats := KellyStats{TotalTrades: 40, WinRate: 0.3, AvgWin: 1, AvgLoss: 2, WinLossRatio: 0.5}
	size := kellyPositionSize(stats, 100, 0.5)
	assert.InDelta(t, 1, size, 1e-9)
}

func TestEngineUsesKellyAllocationMode(t *testing.T) {
	cfg := flatConfig()
	cfg.AllocationMode = "kelly"
	cfg.KellyFraction = 0.5
	e := NewEngine(cfg, nil)
	// no closed trades yet: falls back to conservative 10% of balance
	assert.InDelta(t, cfg.InitialBalanceSOL*0.10, e.positionSize(), 1e-9)
}
