package evaluation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/steward-fin/steward/internal/domain"
)

func defaultWeights() Weights {
	return Weights{Growth: 0.4, Stability: 0.2, VolReduction: 0.2, BufferHealth: 0.2}
}

func TestScore_GrowthIsFractional(t *testing.T) {
	e := NewEvaluator(defaultWeights(), zerolog.Nop())

	pre := domain.FinancialSnapshot{
		Cash: 10000,
		Positions: []domain.Position{
			{Symbol: "INDEX", Quantity: 10, LastPrice: 100},
		},
	}
	// Pre net worth 11000, post 11110.
	score := e.Score(pre, 11110, nil, NoPriorVolatility, domain.Transaction{Kind: domain.TxKindHold, Status: domain.TxNoop}, nil)

	assert.InDelta(t, 0.01, score.Growth, 1e-9)
}

func TestScore_IdleGrowthIsDamped(t *testing.T) {
	e := NewEvaluator(defaultWeights(), zerolog.Nop())

	pre := domain.FinancialSnapshot{Cash: 10000}
	score := e.Score(pre, 10100, nil, NoPriorVolatility, domain.Transaction{Kind: domain.TxKindHold, Status: domain.TxNoop}, nil)

	assert.InDelta(t, 0.01*idleGrowthDamp, score.Growth, 1e-9)
}

func TestScore_ActionBonusOnlyForFilledNonHold(t *testing.T) {
	e := NewEvaluator(defaultWeights(), zerolog.Nop())
	pre := domain.FinancialSnapshot{Cash: 10000, EmergencyBuffer: 5000}

	hold := e.Score(pre, 10000, nil, NoPriorVolatility, domain.Transaction{Kind: domain.TxKindHold, Status: domain.TxNoop}, nil)
	failed := e.Score(pre, 10000, nil, NoPriorVolatility, domain.Transaction{Kind: domain.TxKindInvestSIP, Status: domain.TxFailed}, nil)
	filled := e.Score(pre, 10000, nil, NoPriorVolatility, domain.Transaction{Kind: domain.TxKindInvestSIP, Status: domain.TxFilled}, nil)

	assert.InDelta(t, hold.Composite, failed.Composite, 1e-9)
	assert.InDelta(t, hold.Composite+actionBonus, filled.Composite, 1e-9)
}

func TestScore_BufferHealth(t *testing.T) {
	assert.Equal(t, 1.0, bufferScore(9000, 9000))
	assert.Equal(t, 1.0, bufferScore(12000, 9000))
	assert.InDelta(t, 0.5, bufferScore(4500, 9000), 1e-9)
	assert.Equal(t, 0.0, bufferScore(0, 9000))
	assert.Equal(t, 1.0, bufferScore(0, 0))
}

func TestVolScore_SignOfVolatilityChange(t *testing.T) {
	// A calming market scores positive, a roughening one negative.
	assert.InDelta(t, 0.03, volScore(0.04, &domain.MarketSignal{Volatility: 0.01}), 1e-9)
	assert.InDelta(t, -0.03, volScore(0.01, &domain.MarketSignal{Volatility: 0.04}), 1e-9)
	assert.InDelta(t, 0.0, volScore(0.02, &domain.MarketSignal{Volatility: 0.02}), 1e-9)

	// No baseline, no signal, or a degraded one scores neutral.
	assert.Equal(t, 0.5, volScore(NoPriorVolatility, &domain.MarketSignal{Volatility: 0.02}))
	assert.Equal(t, 0.5, volScore(0.02, nil))
	assert.Equal(t, 0.5, volScore(0.02, &domain.MarketSignal{Degraded: true}))
}

func TestStabilityScore(t *testing.T) {
	// Too short a series scores neutral-high.
	assert.Equal(t, 1.0, stabilityScore([]float64{100, 110}))

	// A flat series is perfectly stable.
	flat := stabilityScore([]float64{100, 100, 100, 100})
	assert.InDelta(t, 1.0, flat, 1e-9)

	// A jagged series scores lower than a smooth one.
	smooth := stabilityScore([]float64{100, 101, 102, 103, 104})
	jagged := stabilityScore([]float64{100, 150, 80, 160, 70})
	assert.Greater(t, smooth, jagged)
}

func TestScore_CompositeIsWeightedSum(t *testing.T) {
	w := defaultWeights()
	e := NewEvaluator(w, zerolog.Nop())

	pre := domain.FinancialSnapshot{Cash: 10000, EmergencyBuffer: 5000}
	sig := &domain.MarketSignal{Volatility: 0.03}
	score := e.Score(pre, 10000, sig, 0.05, domain.Transaction{Kind: domain.TxKindHold, Status: domain.TxNoop}, nil)

	assert.InDelta(t, 0.02, score.VolReduction, 1e-9)

	expected := w.Growth*score.Growth +
		w.Stability*score.Stability +
		w.VolReduction*score.VolReduction +
		w.BufferHealth*score.BufferHealth
	assert.InDelta(t, expected, score.Composite, 1e-9)
}
