package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-fin/steward/internal/domain"
)

// scriptedSource replays a fixed price series.
type scriptedSource struct {
	prices map[string][]float64
	next   map[string]int
	fail   bool
}

func (s *scriptedSource) NextSample(_ context.Context, symbol string) (domain.PriceSample, error) {
	if s.fail {
		return domain.PriceSample{}, errors.New("feed down")
	}
	if s.next == nil {
		s.next = make(map[string]int)
	}
	i := s.next[symbol]
	series := s.prices[symbol]
	if i >= len(series) {
		i = len(series) - 1
	} else {
		s.next[symbol] = i + 1
	}
	return domain.PriceSample{Symbol: symbol, Price: series[i], Timestamp: time.Now().UTC()}, nil
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func falling(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 - float64(i)
	}
	return out
}

func advanceN(t *testing.T, m *Model, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, m.Advance(context.Background()))
	}
}

func TestSignal_InsufficientHistory(t *testing.T) {
	src := &scriptedSource{prices: map[string][]float64{"INDEX": rising(SignalWindow)}}
	m := NewModel(src, nil, []string{"INDEX"}, zerolog.Nop())

	// One sample short of the window.
	advanceN(t, m, SignalWindow-1)
	_, err := m.Signal("INDEX")
	require.ErrorIs(t, err, domain.ErrInsufficientHistory)

	// The next sample crosses the threshold.
	advanceN(t, m, 1)
	_, err = m.Signal("INDEX")
	require.NoError(t, err)
}

func TestSignal_TrendDetection(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   domain.Trend
	}{
		{"uptrend", rising(SignalWindow), domain.TrendUp},
		{"downtrend", falling(SignalWindow), domain.TrendDown},
		{"flat", func() []float64 {
			out := make([]float64, SignalWindow)
			for i := range out {
				out[i] = 100
			}
			return out
		}(), domain.TrendSideways},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{prices: map[string][]float64{"X": tt.series}}
			m := NewModel(src, nil, []string{"X"}, zerolog.Nop())
			advanceN(t, m, SignalWindow)

			sig, err := m.Signal("X")
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Trend)
		})
	}
}

func TestSignal_DeterministicForSameHistory(t *testing.T) {
	src := &scriptedSource{prices: map[string][]float64{"X": rising(SignalWindow)}}
	m := NewModel(src, nil, []string{"X"}, zerolog.Nop())
	advanceN(t, m, SignalWindow)

	first, err := m.Signal("X")
	require.NoError(t, err)
	second, err := m.Signal("X")
	require.NoError(t, err)

	assert.Equal(t, first.Trend, second.Trend)
	assert.Equal(t, first.Momentum, second.Momentum)
	assert.Equal(t, first.Volatility, second.Volatility)
	assert.Equal(t, first.PredictedPrice, second.PredictedPrice)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestSignal_MomentumAndConfidence(t *testing.T) {
	src := &scriptedSource{prices: map[string][]float64{"X": rising(SignalWindow)}}
	m := NewModel(src, nil, []string{"X"}, zerolog.Nop())
	advanceN(t, m, SignalWindow)

	sig, err := m.Signal("X")
	require.NoError(t, err)

	// 100 -> 119 over the window.
	assert.InDelta(t, 0.19, sig.Momentum, 1e-9)
	assert.Greater(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
	assert.Greater(t, sig.PredictedPrice, 0.0)
	assert.False(t, sig.Degraded)
}

func TestAdvance_SourceFailureDegradesSignal(t *testing.T) {
	src := &scriptedSource{prices: map[string][]float64{"X": rising(SignalWindow)}}
	m := NewModel(src, nil, []string{"X"}, zerolog.Nop())
	advanceN(t, m, SignalWindow)

	before := m.History("X")

	src.fail = true
	require.NoError(t, m.Advance(context.Background()))

	// History is preserved and the signal is marked degraded.
	assert.Equal(t, before, m.History("X"))
	sig, err := m.Signal("X")
	require.NoError(t, err)
	assert.True(t, sig.Degraded)

	// Recovery clears the flag.
	src.fail = false
	require.NoError(t, m.Advance(context.Background()))
	sig, err = m.Signal("X")
	require.NoError(t, err)
	assert.False(t, sig.Degraded)
}

// slowSource delays every sample, to exercise context deadlines.
type slowSource struct {
	inner DataSource
	delay time.Duration
}

func (s *slowSource) NextSample(ctx context.Context, symbol string) (domain.PriceSample, error) {
	select {
	case <-time.After(s.delay):
		return s.inner.NextSample(ctx, symbol)
	case <-ctx.Done():
		return domain.PriceSample{}, ctx.Err()
	}
}

func TestAdvance_SourceTimeoutKeepsHistoryAndDegrades(t *testing.T) {
	src := &slowSource{inner: &scriptedSource{prices: map[string][]float64{"X": rising(SignalWindow + 1)}}}
	m := NewModel(src, nil, []string{"X"}, zerolog.Nop())
	advanceN(t, m, SignalWindow)

	before := m.History("X")

	// A timed-out source is not fatal: history stays, the signal degrades.
	src.delay = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Advance(ctx))

	assert.Equal(t, before, m.History("X"))
	sig, err := m.Signal("X")
	require.NoError(t, err)
	assert.True(t, sig.Degraded)

	// Recovery clears the flag.
	src.delay = 0
	require.NoError(t, m.Advance(context.Background()))
	sig, err = m.Signal("X")
	require.NoError(t, err)
	assert.False(t, sig.Degraded)
}

func TestGBMSource_DeterministicForSeed(t *testing.T) {
	ctx := context.Background()

	a := NewGBMSource(DefaultInstruments(), 42)
	b := NewGBMSource(DefaultInstruments(), 42)

	for i := 0; i < 50; i++ {
		sa, err := a.NextSample(ctx, "INDEX")
		require.NoError(t, err)
		sb, err := b.NextSample(ctx, "INDEX")
		require.NoError(t, err)
		assert.Equal(t, sa.Price, sb.Price)
	}
}

func TestGBMSource_NeverFlatOrNonPositive(t *testing.T) {
	ctx := context.Background()
	src := NewGBMSource(DefaultInstruments(), 7)

	prev := 0.0
	for i := 0; i < 500; i++ {
		s, err := src.NextSample(ctx, "STOCK_A")
		require.NoError(t, err)
		assert.Greater(t, s.Price, 0.0)
		if i > 0 {
			assert.NotEqual(t, prev, s.Price)
		}
		prev = s.Price
	}
}

func TestLastPrices(t *testing.T) {
	src := &scriptedSource{prices: map[string][]float64{
		"A": {10, 11},
		"B": {20, 21},
	}}
	m := NewModel(src, nil, []string{"A", "B"}, zerolog.Nop())
	advanceN(t, m, 2)

	prices := m.LastPrices()
	assert.Equal(t, 11.0, prices["A"])
	assert.Equal(t, 21.0, prices["B"])
	assert.Equal(t, 11.0, m.LastPrice("A"))
	assert.Equal(t, 0.0, m.LastPrice("UNKNOWN"))
}
