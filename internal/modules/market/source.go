package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/steward-fin/steward/internal/domain"
)

// DataSource produces monotonically timestamped price samples for a symbol.
// Implementations may be synthetic (GBM) or live-fed; the model treats them
// as a black box.
type DataSource interface {
	NextSample(ctx context.Context, symbol string) (domain.PriceSample, error)
}

// GBMParams describes one synthetic instrument.
type GBMParams struct {
	Start float64 // initial price
	Mu    float64 // daily drift
	Sigma float64 // daily volatility
}

// DefaultInstruments mirrors the synthetic market the planner was tuned
// against: a broad index plus two stocks with differing drift/vol.
func DefaultInstruments() map[string]GBMParams {
	return map[string]GBMParams{
		"INDEX":   {Start: 100.0, Mu: 0.0008, Sigma: 0.02},
		"STOCK_A": {Start: 60.0, Mu: 0.0010, Sigma: 0.03},
		"STOCK_B": {Start: 140.0, Mu: 0.0004, Sigma: 0.025},
	}
}

// GBMSource generates prices with geometric Brownian motion:
// S(t+1) = S(t) * exp((mu - sigma^2/2) + sigma*Z), Z ~ N(0,1).
// Safe for concurrent use.
type GBMSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	params map[string]GBMParams
	clock  func() time.Time
}

// NewGBMSource creates a synthetic source. A fixed seed yields a
// reproducible price path, which the tests rely on.
func NewGBMSource(instruments map[string]GBMParams, seed int64) *GBMSource {
	prices := make(map[string]float64, len(instruments))
	for symbol, p := range instruments {
		prices[symbol] = p.Start
	}
	return &GBMSource{
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
		params: instruments,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// NextSample advances the symbol's price one step and returns the sample.
func (s *GBMSource) NextSample(ctx context.Context, symbol string) (domain.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceSample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params, ok := s.params[symbol]
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("unknown symbol %q", symbol)
	}

	price := s.prices[symbol]
	z := s.rng.NormFloat64()
	logRet := (params.Mu - 0.5*params.Sigma*params.Sigma) + params.Sigma*z
	next := price * math.Exp(logRet)

	// Keep the series strictly positive and never exactly flat, so
	// return-based volatility always has something to measure.
	if next <= 0 || math.Abs(next-price) < 1e-6 {
		direction := 1.0
		if z < 0 {
			direction = -1.0
		}
		next = price * (1.0 + 0.003*direction)
	}

	s.prices[symbol] = next

	return domain.PriceSample{
		Symbol:    symbol,
		Price:     next,
		Timestamp: s.clock(),
	}, nil
}
