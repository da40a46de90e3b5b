package planning

import (
	"fmt"

	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// Config carries the planner's tunables. The planner itself holds no state;
// identical inputs always yield the identical plan.
type Config struct {
	// SurplusThreshold is the cash-to-buffer multiple above which lump-sum
	// investing becomes eligible.
	SurplusThreshold float64

	// DriftThreshold is the allocation deviation beyond which a rebalance
	// is triggered.
	DriftThreshold float64

	// TargetAllocation maps symbols to their desired portfolio weight.
	TargetAllocation map[string]float64
}

// Decide maps one cycle's snapshot and signal to exactly one action.
// Rules are evaluated in fixed precedence order and the first match wins:
// protect the buffer, honor the SIP schedule, deploy surplus, cut losses,
// correct drift, hold.
func Decide(snap domain.FinancialSnapshot, signal *domain.MarketSignal, cfg Config) domain.ActionPlan {
	if signal == nil {
		return domain.ActionPlan{
			Kind:      domain.ActionHold,
			Rationale: "no market signal available, holding",
		}
	}

	tier := TierFor(snap.RiskTier)

	// Rule 1: buffer shortfall. Divert discretionary income to savings
	// before anything else.
	if snap.Cash < snap.EmergencyBuffer {
		shortfall := snap.EmergencyBuffer - snap.Cash
		discretionary := snap.MonthlyIncome - snap.MonthlyExpense
		amount := shortfall
		if discretionary < amount {
			amount = discretionary
		}
		if amount < 0 {
			amount = 0
		}
		return domain.ActionPlan{
			Kind:   domain.ActionSave,
			Amount: amount,
			Rationale: fmt.Sprintf(
				"emergency buffer underfunded by %.2f, earmarking %.2f", shortfall, amount),
		}
	}

	// Rule 2: scheduled SIP, regardless of trend. High volatility halves
	// the contribution but never cancels the schedule.
	if snap.SIPDue {
		amount := snap.SIPAmount * tier.SIPFactor
		rationale := "scheduled SIP contribution"
		if signal.Volatility > tier.MaxVol {
			amount *= 0.5
			rationale = fmt.Sprintf(
				"scheduled SIP halved, volatility %.4f above tier ceiling %.4f",
				signal.Volatility, tier.MaxVol)
		}
		if headroom := snap.Cash - snap.EmergencyBuffer; amount > headroom {
			amount = headroom
		}
		if amount < 0 {
			amount = 0
		}
		return domain.ActionPlan{
			Kind:      domain.ActionInvestSIP,
			Amount:    amount,
			Symbol:    signal.Symbol,
			Rationale: rationale,
		}
	}

	// Rule 3: lump-sum on surplus. Needs an uptrend, calm volatility, and
	// a tier that allows lump-sums at all.
	surplus := snap.Cash - snap.EmergencyBuffer
	if tier.LumpsumFactor > 0 &&
		snap.Cash > snap.EmergencyBuffer*cfg.SurplusThreshold &&
		signal.Trend == domain.TrendUp &&
		signal.Volatility < tier.MaxVol {
		scale := adaptiveScale(snap.PrevComposite)
		amount := surplus * tier.MaxAlloc * tier.LumpsumFactor * scale
		if amount > surplus {
			amount = surplus
		}
		return domain.ActionPlan{
			Kind:   domain.ActionInvestLump,
			Amount: amount,
			Symbol: signal.Symbol,
			Rationale: fmt.Sprintf(
				"uptrend with %.2f surplus over buffer, deploying %.2f (feedback scale %.2f)",
				surplus, amount, scale),
		}
	}

	// Rule 4: stop-loss on a downtrend. Sell only enough of the worst
	// position to cap the realized loss at the tier threshold.
	if signal.Trend == domain.TrendDown {
		if plan, ok := stopLossPlan(snap, tier); ok {
			return plan
		}
	}

	// Rule 5: allocation drift.
	if len(snap.Positions) > 1 && len(cfg.TargetAllocation) > 0 {
		drift := portfolio.MaxDrift(portfolio.Allocations(snap.Positions), cfg.TargetAllocation)
		if drift > cfg.DriftThreshold {
			return domain.ActionPlan{
				Kind: domain.ActionRebalance,
				Rationale: fmt.Sprintf(
					"allocation drift %.4f exceeds threshold %.4f", drift, cfg.DriftThreshold),
			}
		}
	}

	return domain.ActionPlan{
		Kind:      domain.ActionHold,
		Rationale: "no rule triggered, holding",
	}
}

// stopLossPlan picks the position with the deepest unrealized loss beyond the
// tier's stop-loss threshold and sizes a sell that caps the realized loss at
// that threshold times cost basis.
func stopLossPlan(snap domain.FinancialSnapshot, tier TierConfig) (domain.ActionPlan, bool) {
	var worst *domain.Position
	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.UnrealizedPLPct() >= -tier.StopLoss {
			continue
		}
		if worst == nil || p.UnrealizedPLPct() < worst.UnrealizedPLPct() {
			worst = p
		}
	}
	if worst == nil {
		return domain.ActionPlan{}, false
	}

	perUnitLoss := worst.AvgBuyPrice - worst.LastPrice
	if perUnitLoss <= 0 {
		return domain.ActionPlan{}, false
	}
	maxLoss := tier.StopLoss * worst.AvgBuyPrice * worst.Quantity
	qty := maxLoss / perUnitLoss
	if qty > worst.Quantity {
		qty = worst.Quantity
	}

	return domain.ActionPlan{
		Kind:     domain.ActionSell,
		Symbol:   worst.Symbol,
		Quantity: qty,
		Amount:   qty * worst.LastPrice,
		Rationale: fmt.Sprintf(
			"downtrend with %s at %.2f%% unrealized loss, trimming %.4f units",
			worst.Symbol, worst.UnrealizedPLPct()*100, qty),
	}, true
}
