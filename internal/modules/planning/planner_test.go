package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-fin/steward/internal/domain"
)

func testConfig() Config {
	return Config{
		SurplusThreshold: 1.25,
		DriftThreshold:   0.05,
		TargetAllocation: map[string]float64{"INDEX": 0.5, "STOCK_A": 0.5},
	}
}

func calmSignal(trend domain.Trend) *domain.MarketSignal {
	return &domain.MarketSignal{
		Symbol:      "INDEX",
		Trend:       trend,
		Volatility:  0.01,
		LastPrice:   100,
		Confidence:  0.8,
		GeneratedAt: time.Now().UTC(),
	}
}

func baseSnapshot() domain.FinancialSnapshot {
	return domain.FinancialSnapshot{
		Cash:            20000,
		MonthlyIncome:   5000,
		MonthlyExpense:  3000,
		EmergencyBuffer: 9000,
		BufferOK:        true,
		RiskTier:        domain.RiskBalanced,
		CapturedAt:      time.Now().UTC(),
	}
}

func TestDecide_NilSignalHolds(t *testing.T) {
	snap := baseSnapshot()
	snap.SIPDue = true

	plan := Decide(snap, nil, testConfig())

	assert.Equal(t, domain.ActionHold, plan.Kind)
}

func TestDecide_BufferShortfallSavesFirst(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 5000
	snap.SIPDue = true // save still wins

	plan := Decide(snap, calmSignal(domain.TrendUp), testConfig())

	require.Equal(t, domain.ActionSave, plan.Kind)
	// Shortfall is 4000 but discretionary income is only 2000.
	assert.InDelta(t, 2000, plan.Amount, 1e-9)
}

func TestDecide_SaveAmountNeverNegative(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 5000
	snap.MonthlyIncome = 2000
	snap.MonthlyExpense = 3000

	plan := Decide(snap, calmSignal(domain.TrendDown), testConfig())

	require.Equal(t, domain.ActionSave, plan.Kind)
	assert.Equal(t, 0.0, plan.Amount)
}

func TestDecide_SIPWhenDue(t *testing.T) {
	snap := baseSnapshot()
	snap.SIPDue = true
	snap.SIPAmount = 400

	plan := Decide(snap, calmSignal(domain.TrendSideways), testConfig())

	require.Equal(t, domain.ActionInvestSIP, plan.Kind)
	assert.InDelta(t, 400, plan.Amount, 1e-9) // balanced tier factor is 1.0
	assert.Equal(t, "INDEX", plan.Symbol)
}

func TestDecide_SIPHalvedAboveVolCeiling(t *testing.T) {
	snap := baseSnapshot()
	snap.SIPDue = true
	snap.SIPAmount = 400

	sig := calmSignal(domain.TrendSideways)
	sig.Volatility = 0.05 // above balanced ceiling of 0.03

	plan := Decide(snap, sig, testConfig())

	require.Equal(t, domain.ActionInvestSIP, plan.Kind)
	assert.InDelta(t, 200, plan.Amount, 1e-9)
}

func TestDecide_SIPNeverBreachesBuffer(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 9100
	snap.SIPDue = true
	snap.SIPAmount = 5000

	plan := Decide(snap, calmSignal(domain.TrendUp), testConfig())

	require.Equal(t, domain.ActionInvestSIP, plan.Kind)
	assert.LessOrEqual(t, plan.Amount, snap.Cash-snap.EmergencyBuffer)
	assert.GreaterOrEqual(t, plan.Amount, 0.0)
}

func TestDecide_LumpSumOnUptrendSurplus(t *testing.T) {
	snap := baseSnapshot() // cash 20000 > 1.25 * 9000

	plan := Decide(snap, calmSignal(domain.TrendUp), testConfig())

	require.Equal(t, domain.ActionInvestLump, plan.Kind)
	// surplus 11000 * maxAlloc 0.06 * lumpFactor 1.0 * scale 1.0
	assert.InDelta(t, 11000*0.06, plan.Amount, 1e-9)
	assert.LessOrEqual(t, plan.Amount, snap.Cash-snap.EmergencyBuffer)
}

func TestDecide_ConservativeTierNeverLumpSums(t *testing.T) {
	snap := baseSnapshot()
	snap.RiskTier = domain.RiskConservative

	sig := calmSignal(domain.TrendUp)
	sig.Volatility = 0.01

	plan := Decide(snap, sig, testConfig())

	assert.NotEqual(t, domain.ActionInvestLump, plan.Kind)
}

func TestDecide_NoLumpSumInVolatileMarket(t *testing.T) {
	snap := baseSnapshot()

	sig := calmSignal(domain.TrendUp)
	sig.Volatility = 0.04 // above balanced ceiling

	plan := Decide(snap, sig, testConfig())

	assert.NotEqual(t, domain.ActionInvestLump, plan.Kind)
}

func TestDecide_AdaptiveScaleAfterGoodCycle(t *testing.T) {
	snap := baseSnapshot()
	snap.PrevComposite = 0.3

	plan := Decide(snap, calmSignal(domain.TrendUp), testConfig())

	require.Equal(t, domain.ActionInvestLump, plan.Kind)
	assert.InDelta(t, 11000*0.06*1.3, plan.Amount, 1e-9)
}

func TestAdaptiveScale_Clamped(t *testing.T) {
	assert.Equal(t, 0.5, adaptiveScale(-2))
	assert.Equal(t, 1.5, adaptiveScale(3))
	assert.InDelta(t, 1.1, adaptiveScale(0.1), 1e-9)
}

func TestDecide_StopLossOnDowntrend(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 10000 // buffer ok, no surplus trigger
	snap.Positions = []domain.Position{
		{Symbol: "STOCK_A", Quantity: 100, AvgBuyPrice: 60, LastPrice: 50}, // -16.7%
	}

	plan := Decide(snap, calmSignal(domain.TrendDown), testConfig())

	require.Equal(t, domain.ActionSell, plan.Kind)
	assert.Equal(t, "STOCK_A", plan.Symbol)
	assert.Greater(t, plan.Quantity, 0.0)
	assert.LessOrEqual(t, plan.Quantity, 100.0)
	// Realized loss capped at stopLoss * basis: 0.10 * 60 * 100 = 600,
	// per-unit loss is 10, so at most 60 units.
	assert.InDelta(t, 60, plan.Quantity, 1e-9)
}

func TestDecide_NoStopLossWithinTolerance(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 10000
	snap.Positions = []domain.Position{
		{Symbol: "STOCK_A", Quantity: 100, AvgBuyPrice: 60, LastPrice: 58}, // -3.3%
	}

	plan := Decide(snap, calmSignal(domain.TrendDown), testConfig())

	assert.NotEqual(t, domain.ActionSell, plan.Kind)
}

func TestDecide_RebalanceOnDrift(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 10000 // no surplus trigger
	snap.Positions = []domain.Position{
		{Symbol: "INDEX", Quantity: 10, AvgBuyPrice: 90, LastPrice: 100},  // 1000
		{Symbol: "STOCK_A", Quantity: 100, AvgBuyPrice: 25, LastPrice: 30}, // 3000
	}

	plan := Decide(snap, calmSignal(domain.TrendSideways), testConfig())

	assert.Equal(t, domain.ActionRebalance, plan.Kind)
}

func TestDecide_HoldWhenNothingTriggers(t *testing.T) {
	snap := baseSnapshot()
	snap.Cash = 10000

	plan := Decide(snap, calmSignal(domain.TrendSideways), testConfig())

	assert.Equal(t, domain.ActionHold, plan.Kind)
}

func TestDecide_Deterministic(t *testing.T) {
	snap := baseSnapshot()
	snap.SIPDue = true
	snap.SIPAmount = 300
	sig := calmSignal(domain.TrendUp)

	first := Decide(snap, sig, testConfig())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(snap, sig, testConfig()))
	}
}

func TestTierFor_UnknownDefaultsToBalanced(t *testing.T) {
	assert.Equal(t, TierFor(domain.RiskBalanced), TierFor(domain.RiskTier("reckless")))
}
