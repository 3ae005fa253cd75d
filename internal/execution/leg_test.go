package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveEntryPriceAppliesPositiveSlippage(t *testing.T) {
	cfg := Config{SlippagePct: 0.01}
	assert.InDelta(t, 101.0, EffectiveEntryPrice(100, cfg), 1e-9)
}

func TestEffectiveExitPriceAppliesNegativeSlippage(t *testing.T) {
	cfg := Config{SlippagePct: 0.01}
	assert.InDelta(t, 99.0, EffectiveExitPrice(100, LegExitTP, cfg), 1e-9)
}

func TestPerLegProfileMultipliesBaseSlippage(t *testing.T) {
	cfg := Config{
		SlippagePct: 0.01,
		Profile:     &SlippageProfile{ExitSL: 2.0},
	}
	assert.InDelta(t, 100*(1-0.02), EffectiveExitPrice(100, LegExitSL, cfg), 1e-9)
}

func TestLegacyModeIgnoresProfileWhenNil(t *testing.T) {
	cfg := Config{SlippagePct: 0.02}
	assert.InDelta(t, 98.0, EffectiveExitPrice(100, LegExitManual, cfg), 1e-9)
}

func TestApplyEntryChargesOnlyNetworkFee(t *testing.T) {
	cfg := Config{SwapFeePct: 0.0025, LPFeePct: 0.0025, NetworkFeeSOL: 0.001}
	result := ApplyEntry(100, 10.0, cfg)
	assert.InDelta(t, 0.001, result.FeesSOL, 1e-12)
	assert.InDelta(t, 9.999, result.NotionalAfterFees, 1e-12)
}

func TestApplyExitChargesSwapLPAndNetworkFee(t *testing.T) {
	cfg := Config{SwapFeePct: 0.01, LPFeePct: 0.01, NetworkFeeSOL: 0.001}
	result := ApplyExit(100, 110, 10.0, LegExitTP, cfg)

	wantFees := 10.0*0.02 + 0.001
	assert.InDelta(t, wantFees, result.FeesSOL, 1e-12)
	assert.InDelta(t, 10.0-wantFees, result.NotionalAfterFees, 1e-12)
}

func TestEffectivePnLPctDoesNotReflectFees(t *testing.T) {
	cfg := Config{SlippagePct: 0, SwapFeePct: 0.05, LPFeePct: 0.05, NetworkFeeSOL: 1}
	entry := ApplyEntry(100, 10, cfg)
	exit := ApplyExit(entry.EffectiveEntryPrice, 110, 10, LegExitTP, cfg)

	assert.InDelta(t, 0.10, exit.PnLPct, 1e-9, "fees must not move the PnL rate")
	assert.Less(t, exit.NotionalAfterFees, 10.0*1.10, "fees must reduce the notional used to update balance")
}
