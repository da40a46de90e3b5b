// Package planning holds the decision policy: a pure function mapping one
// cycle's snapshot, market signal, and configuration to exactly one action.
package planning

import "github.com/steward-fin/steward/internal/domain"

// TierConfig scales investing aggressiveness and loss tolerance per risk tier.
type TierConfig struct {
	// MaxVol is the volatility ceiling above which SIP amounts are damped
	// and lump-sum investing is suppressed entirely.
	MaxVol float64

	// MaxAlloc is the fraction of surplus a single lump-sum may deploy.
	MaxAlloc float64

	// LumpsumFactor scales lump-sum sizing; zero disables lump-sum for
	// the tier.
	LumpsumFactor float64

	// SIPFactor scales the scheduled SIP amount.
	SIPFactor float64

	// StopLoss is the unrealized-loss fraction beyond which a downtrend
	// triggers a protective sell. Looser for higher risk tolerance.
	StopLoss float64
}

// riskTiers holds the per-tier policy constants. The invest-side numbers
// match the tuning the synthetic market was calibrated against.
var riskTiers = map[domain.RiskTier]TierConfig{
	domain.RiskConservative: {
		MaxVol:        0.02,
		MaxAlloc:      0.03,
		LumpsumFactor: 0.0,
		SIPFactor:     0.7,
		StopLoss:      0.05,
	},
	domain.RiskBalanced: {
		MaxVol:        0.03,
		MaxAlloc:      0.06,
		LumpsumFactor: 1.0,
		SIPFactor:     1.0,
		StopLoss:      0.10,
	},
	domain.RiskAggressive: {
		MaxVol:        0.05,
		MaxAlloc:      0.12,
		LumpsumFactor: 2.0,
		SIPFactor:     1.5,
		StopLoss:      0.20,
	},
}

// TierFor returns the tier configuration, defaulting to balanced for
// unknown tiers.
func TierFor(tier domain.RiskTier) TierConfig {
	if cfg, ok := riskTiers[tier]; ok {
		return cfg
	}
	return riskTiers[domain.RiskBalanced]
}

// adaptiveScale loosens or tightens lump-sum sizing based on the previous
// cycle's composite reward. Clamped to [0.5, 1.5]; feedback only ever
// reaches the NEXT cycle.
func adaptiveScale(prevComposite float64) float64 {
	scale := 1.0 + prevComposite
	if scale < 0.5 {
		return 0.5
	}
	if scale > 1.5 {
		return 1.5
	}
	return scale
}
