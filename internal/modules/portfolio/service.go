package portfolio

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// Service provides read-side portfolio views: holdings, cash, net worth,
// and allocation weights. All mutation happens in the execution module.
type Service struct {
	positionRepo *PositionRepository
	cashRepo     *CashRepository
	log          zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(positionRepo *PositionRepository, cashRepo *CashRepository, log zerolog.Logger) *Service {
	return &Service{
		positionRepo: positionRepo,
		cashRepo:     cashRepo,
		log:          log.With().Str("service", "portfolio").Logger(),
	}
}

// Summary is the full portfolio view served by the API.
type Summary struct {
	Cash          float64            `json:"cash"`
	Positions     []domain.Position  `json:"positions"`
	HoldingsValue float64            `json:"holdings_value"`
	NetWorth      float64            `json:"net_worth"`
	Allocations   map[string]float64 `json:"allocations"`
}

// GetSummary assembles the current portfolio summary.
func (s *Service) GetSummary() (*Summary, error) {
	cash, err := s.cashRepo.Balance()
	if err != nil {
		return nil, fmt.Errorf("failed to get cash balance: %w", err)
	}

	positions, err := s.positionRepo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	holdings := 0.0
	for _, p := range positions {
		holdings += p.MarketValue()
	}

	return &Summary{
		Cash:          cash,
		Positions:     positions,
		HoldingsValue: holdings,
		NetWorth:      cash + holdings,
		Allocations:   Allocations(positions),
	}, nil
}

// NetWorth returns cash plus the market value of all holdings.
func (s *Service) NetWorth() (float64, error) {
	summary, err := s.GetSummary()
	if err != nil {
		return 0, err
	}
	return summary.NetWorth, nil
}

// Allocations returns each symbol's fraction of total invested value.
// An empty portfolio yields an empty map.
func Allocations(positions []domain.Position) map[string]float64 {
	total := 0.0
	for _, p := range positions {
		total += p.MarketValue()
	}

	out := make(map[string]float64, len(positions))
	if total <= 0 {
		return out
	}
	for _, p := range positions {
		out[p.Symbol] = p.MarketValue() / total
	}
	return out
}

// MaxDrift returns the largest absolute deviation between current and
// target allocation across all symbols in either map.
func MaxDrift(current, target map[string]float64) float64 {
	max := 0.0
	seen := make(map[string]bool, len(current)+len(target))
	for symbol := range current {
		seen[symbol] = true
	}
	for symbol := range target {
		seen[symbol] = true
	}
	for symbol := range seen {
		d := current[symbol] - target[symbol]
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}
