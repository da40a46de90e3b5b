// Package market maintains per-symbol price history and derives trading
// signals from it: trend, momentum, volatility, and a smoothed next-price
// estimate.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/steward-fin/steward/internal/domain"
)

const (
	// SignalWindow is the minimum number of samples required before a
	// signal can be computed.
	SignalWindow = 20

	// maxHistory bounds per-symbol memory.
	maxHistory = 2000

	shortSMAPeriod = 5
	longSMAPeriod  = 20
	emaPeriod      = 10

	// slopeFlatBand is the normalized-slope band inside which the trend
	// is considered sideways.
	slopeFlatBand = 0.0005

	// volHardCeiling caps confidence scaling; at or above this realized
	// volatility the signal confidence bottoms out.
	volHardCeiling = 0.06
)

// HistoryStore persists price samples and the warm-start history cache.
type HistoryStore interface {
	SavePrice(sample domain.PriceSample) error
	SaveHistory(symbol string, prices []float64) error
	LoadHistory(symbol string) ([]float64, error)
}

// Model holds price history per symbol and computes market signals.
// Advance is the only operation that touches the data source; Signal is
// pure computation over in-memory history.
type Model struct {
	mu      sync.RWMutex
	source  DataSource
	store   HistoryStore
	symbols []string
	history map[string][]float64
	stale   map[string]bool
	log     zerolog.Logger
}

// NewModel creates a market model for the given symbols.
// If store is non-nil, previously persisted history is warm-loaded so the
// signal window survives restarts.
func NewModel(source DataSource, store HistoryStore, symbols []string, log zerolog.Logger) *Model {
	m := &Model{
		source:  source,
		store:   store,
		symbols: symbols,
		history: make(map[string][]float64, len(symbols)),
		stale:   make(map[string]bool, len(symbols)),
		log:     log.With().Str("component", "market").Logger(),
	}

	if store != nil {
		for _, symbol := range symbols {
			prices, err := store.LoadHistory(symbol)
			if err != nil {
				m.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to warm-load price history")
				continue
			}
			if len(prices) > 0 {
				m.history[symbol] = prices
				m.log.Debug().Str("symbol", symbol).Int("samples", len(prices)).Msg("Warm-loaded price history")
			}
		}
	}

	return m
}

// Bootstrap advances the market n times so every symbol has at least a full
// signal window. Used with synthetic sources at startup.
func (m *Model) Bootstrap(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bootstrap stopped at sample %d: %w", i, err)
		}
		if err := m.Advance(ctx); err != nil {
			return fmt.Errorf("bootstrap advance %d: %w", i, err)
		}
	}
	return nil
}

// Advance pulls one new sample per symbol from the data source.
// A failing or timed-out source marks the symbol stale (its next signal is
// degraded) but is never fatal: the model keeps serving the last known
// history.
func (m *Model) Advance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, symbol := range m.symbols {
		sample, err := m.source.NextSample(ctx, symbol)
		if err != nil {
			m.stale[symbol] = true
			m.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("Market data source failed, keeping last known history")
			continue
		}

		m.stale[symbol] = false
		hist := append(m.history[symbol], sample.Price)
		if len(hist) > maxHistory {
			hist = hist[len(hist)-maxHistory:]
		}
		m.history[symbol] = hist

		if m.store != nil {
			if err := m.store.SavePrice(sample); err != nil {
				m.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to persist price sample")
			}
		}
	}

	return nil
}

// Persist writes the in-memory history to the warm-start cache.
func (m *Model) Persist() error {
	if m.store == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for symbol, prices := range m.history {
		if err := m.store.SaveHistory(symbol, prices); err != nil {
			return fmt.Errorf("failed to persist history for %s: %w", symbol, err)
		}
	}
	return nil
}

// History returns a copy of the price history for a symbol.
func (m *Model) History(symbol string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.history[symbol]...)
}

// LastPrice returns the most recent price for a symbol, or 0 if no history.
func (m *Model) LastPrice(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.history[symbol]
	if len(hist) == 0 {
		return 0
	}
	return hist[len(hist)-1]
}

// LastPrices returns the most recent price for every tracked symbol.
func (m *Model) LastPrices() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.history))
	for symbol, hist := range m.history {
		if len(hist) > 0 {
			out[symbol] = hist[len(hist)-1]
		}
	}
	return out
}

// Signal computes the market signal for a symbol from trailing history.
// Returns domain.ErrInsufficientHistory when fewer than SignalWindow samples
// exist. Deterministic for identical history.
func (m *Model) Signal(symbol string) (domain.MarketSignal, error) {
	m.mu.RLock()
	hist := m.history[symbol]
	degraded := m.stale[symbol]
	m.mu.RUnlock()

	if len(hist) < SignalWindow {
		return domain.MarketSignal{}, fmt.Errorf("%w: %s has %d of %d samples",
			domain.ErrInsufficientHistory, symbol, len(hist), SignalWindow)
	}

	window := hist[len(hist)-SignalWindow:]
	last := window[len(window)-1]

	signal := domain.MarketSignal{
		Symbol:      symbol,
		Trend:       computeTrend(window),
		Momentum:    (last - window[0]) / window[0],
		Volatility:  returnVolatility(window),
		LastPrice:   last,
		Degraded:    degraded,
		GeneratedAt: time.Now().UTC(),
	}

	signal.PredictedPrice = predictNext(window)
	signal.Confidence = confidence(signal.Volatility)

	return signal, nil
}

// computeTrend combines the regression slope over the window with an
// SMA(5)/SMA(20) crossover confirmation. Slope alone flags direction;
// the crossover has to agree or the trend is reported sideways.
func computeTrend(window []float64) domain.Trend {
	xs := make([]float64, len(window))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, window, nil, false)

	normSlope := slope / stat.Mean(window, nil)

	smaShort := talib.Sma(window, shortSMAPeriod)
	smaLong := talib.Sma(window, longSMAPeriod)
	short := smaShort[len(smaShort)-1]
	long := smaLong[len(smaLong)-1]

	switch {
	case normSlope > slopeFlatBand && short > long:
		return domain.TrendUp
	case normSlope < -slopeFlatBand && short < long:
		return domain.TrendDown
	default:
		return domain.TrendSideways
	}
}

// returnVolatility is the standard deviation of simple returns over the window.
func returnVolatility(window []float64) float64 {
	rets := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] > 0 {
			rets = append(rets, window[i]/window[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	return stat.StdDev(rets, nil)
}

// predictNext extrapolates the exponential moving average one step forward.
func predictNext(window []float64) float64 {
	ema := talib.Ema(window, emaPeriod)
	curr := ema[len(ema)-1]
	prev := ema[len(ema)-2]
	pred := curr + (curr - prev)
	if pred < 0 {
		return 0
	}
	return pred
}

// confidence narrows as realized volatility rises toward the hard ceiling.
func confidence(vol float64) float64 {
	c := 1.0 - vol/volHardCeiling
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
