package market

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/steward-fin/steward/internal/domain"
)

// PriceRepository persists price samples and the warm-start history cache
// in history.db. History blobs are msgpack-encoded: they are read back only
// by this process and compactness matters more than readability there.
type PriceRepository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(historyDB *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "price").Logger(),
	}
}

// SavePrice inserts one price sample. Duplicate (symbol, ts) pairs are
// replaced so a re-run within the same tick cannot fail the cycle.
func (r *PriceRepository) SavePrice(sample domain.PriceSample) error {
	_, err := r.historyDB.Exec(
		`INSERT OR REPLACE INTO prices (symbol, ts, price) VALUES (?, ?, ?)`,
		sample.Symbol,
		sample.Timestamp.UnixNano(),
		sample.Price,
	)
	if err != nil {
		return fmt.Errorf("failed to save price sample: %w", err)
	}
	return nil
}

// RecentPrices returns up to limit most recent prices for a symbol,
// oldest first.
func (r *PriceRepository) RecentPrices(symbol string, limit int) ([]domain.PriceSample, error) {
	rows, err := r.historyDB.Query(`
		SELECT symbol, ts, price FROM prices
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		var s domain.PriceSample
		var ts int64
		if err := rows.Scan(&s.Symbol, &ts, &s.Price); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		s.Timestamp = time.Unix(0, ts).UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price rows iteration failed: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	return samples, nil
}

// SaveHistory stores the full in-memory history for a symbol as a single
// msgpack blob, replacing any previous cache entry.
func (r *PriceRepository) SaveHistory(symbol string, prices []float64) error {
	blob, err := msgpack.Marshal(prices)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", symbol, err)
	}

	_, err = r.historyDB.Exec(
		`INSERT OR REPLACE INTO market_cache (symbol, history, updated_at) VALUES (?, ?, ?)`,
		symbol, blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save history cache for %s: %w", symbol, err)
	}

	return nil
}

// LoadHistory reads back the cached history for a symbol.
// Returns nil (no error) when no cache entry exists.
func (r *PriceRepository) LoadHistory(symbol string) ([]float64, error) {
	var blob []byte
	err := r.historyDB.QueryRow(
		`SELECT history FROM market_cache WHERE symbol = ?`, symbol,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history cache for %s: %w", symbol, err)
	}

	var prices []float64
	if err := msgpack.Unmarshal(blob, &prices); err != nil {
		return nil, fmt.Errorf("failed to decode history cache for %s: %w", symbol, err)
	}

	return prices, nil
}
