// Package evaluation scores each cycle's outcome. The composite score feeds
// the next cycle's planner as a feedback signal; it never changes the cycle
// that produced it.
package evaluation

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/steward-fin/steward/internal/domain"
)

// NoPriorVolatility marks a cycle with no realized-volatility baseline,
// before any non-degraded signal has been scored.
const NoPriorVolatility = -1.0

// idleGrowthDamp discounts net-worth growth earned while holding no
// positions, so sitting in cash during a rally is not rewarded as skill.
const idleGrowthDamp = 0.2

// actionBonus is a small credit for any filled non-hold action, nudging the
// policy away from indefinite holding.
const actionBonus = 0.05

// Weights are the component weights of the composite score.
type Weights struct {
	Growth       float64
	Stability    float64
	VolReduction float64
	BufferHealth float64
}

// Evaluator computes reward scores from pre/post cycle state.
type Evaluator struct {
	weights Weights
	log     zerolog.Logger
}

// NewEvaluator creates an evaluator with the given component weights.
func NewEvaluator(weights Weights, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		weights: weights,
		log:     log.With().Str("component", "evaluator").Logger(),
	}
}

// Score rates one completed cycle. pre is the snapshot the plan was built
// from, postNetWorth the net worth after execution, prevVol the previous
// cycle's realized volatility (NoPriorVolatility when none), balances the
// recent chronological cash-balance series.
func (e *Evaluator) Score(
	pre domain.FinancialSnapshot,
	postNetWorth float64,
	signal *domain.MarketSignal,
	prevVol float64,
	tx domain.Transaction,
	balances []float64,
) domain.RewardScore {
	score := domain.RewardScore{
		Growth:       growthScore(pre, postNetWorth),
		Stability:    stabilityScore(balances),
		VolReduction: volScore(prevVol, signal),
		BufferHealth: bufferScore(pre.Cash, pre.EmergencyBuffer),
	}

	score.Composite = e.weights.Growth*score.Growth +
		e.weights.Stability*score.Stability +
		e.weights.VolReduction*score.VolReduction +
		e.weights.BufferHealth*score.BufferHealth

	if tx.Status == domain.TxFilled && tx.Kind != domain.TxKindHold {
		score.Composite += actionBonus
	}

	e.log.Debug().
		Float64("growth", score.Growth).
		Float64("stability", score.Stability).
		Float64("composite", score.Composite).
		Msg("Cycle scored")

	return score
}

// growthScore is the fractional net-worth change over the cycle, damped
// when the portfolio held nothing.
func growthScore(pre domain.FinancialSnapshot, postNetWorth float64) float64 {
	preWorth := pre.NetWorth()
	if preWorth <= 0 {
		return 0
	}
	growth := (postNetWorth - preWorth) / preWorth
	if len(pre.Positions) == 0 {
		growth *= idleGrowthDamp
	}
	return growth
}

// stabilityScore rewards a smooth cash-balance path. Deltas are normalized
// by the mean balance so the score is scale-free.
func stabilityScore(balances []float64) float64 {
	if len(balances) < 3 {
		return 1
	}
	mean := stat.Mean(balances, nil)
	if mean <= 0 {
		return 0
	}
	deltas := make([]float64, 0, len(balances)-1)
	for i := 1; i < len(balances); i++ {
		deltas = append(deltas, (balances[i]-balances[i-1])/mean)
	}
	return 1 / (1 + stat.Variance(deltas, nil))
}

// volScore is the change in realized volatility since the previous cycle;
// positive means the market calmed. A missing baseline or a missing or
// degraded signal scores neutral.
func volScore(prevVol float64, signal *domain.MarketSignal) float64 {
	if signal == nil || signal.Degraded || prevVol < 0 {
		return 0.5
	}
	return prevVol - signal.Volatility
}

// bufferScore is 1 when the emergency buffer is fully funded, scaling down
// linearly with the shortfall.
func bufferScore(cash, buffer float64) float64 {
	if buffer <= 0 {
		return 1
	}
	if cash >= buffer {
		return 1
	}
	if cash <= 0 {
		return 0
	}
	return cash / buffer
}
