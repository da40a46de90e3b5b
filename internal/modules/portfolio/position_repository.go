// Package portfolio owns current holdings and cash: the long-lived mutable
// state of the system. All mutation goes through *sql.Tx handles passed in
// by the executor so one cycle commits atomically.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// PositionRepository handles position persistence in core.db.
type PositionRepository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(coreDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "position").Logger(),
	}
}

const positionColumns = `symbol, quantity, avg_buy_price, last_price, updated_at`

// GetAll returns all held positions, ordered by symbol.
func (r *PositionRepository) GetAll() ([]domain.Position, error) {
	rows, err := r.coreDB.Query(
		`SELECT ` + positionColumns + ` FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("position rows iteration failed: %w", err)
	}

	return positions, nil
}

// GetAllTx returns all held positions inside an open transaction.
func (r *PositionRepository) GetAllTx(tx *sql.Tx) ([]domain.Position, error) {
	rows, err := tx.Query(
		`SELECT ` + positionColumns + ` FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("position rows iteration failed: %w", err)
	}

	return positions, nil
}

// Get returns the position for a symbol, or nil if not held.
func (r *PositionRepository) Get(symbol string) (*domain.Position, error) {
	row := r.coreDB.QueryRow(
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ?`, symbol)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetTx reads a position inside an open transaction.
func (r *PositionRepository) GetTx(tx *sql.Tx, symbol string) (*domain.Position, error) {
	row := tx.QueryRow(
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ?`, symbol)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// UpsertTx writes a position inside an open transaction. A zero-quantity
// position is deleted rather than stored.
func (r *PositionRepository) UpsertTx(tx *sql.Tx, pos domain.Position) error {
	if pos.Quantity <= 0 {
		if _, err := tx.Exec(`DELETE FROM positions WHERE symbol = ?`, pos.Symbol); err != nil {
			return fmt.Errorf("failed to delete emptied position %s: %w", pos.Symbol, err)
		}
		return nil
	}

	_, err := tx.Exec(`
		INSERT INTO positions (symbol, quantity, avg_buy_price, last_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_buy_price = excluded.avg_buy_price,
			last_price = excluded.last_price,
			updated_at = excluded.updated_at
	`, pos.Symbol, pos.Quantity, pos.AvgBuyPrice, pos.LastPrice, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.Symbol, err)
	}

	return nil
}

// UpdateLastPrices refreshes the mark price of held positions.
// Runs outside the executor transaction, under the orchestrator lock.
func (r *PositionRepository) UpdateLastPrices(prices map[string]float64) error {
	now := time.Now().Unix()
	for symbol, price := range prices {
		if _, err := r.coreDB.Exec(
			`UPDATE positions SET last_price = ?, updated_at = ? WHERE symbol = ?`,
			price, now, symbol,
		); err != nil {
			return fmt.Errorf("failed to update last price for %s: %w", symbol, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var pos domain.Position
	var updatedAt int64
	if err := row.Scan(&pos.Symbol, &pos.Quantity, &pos.AvgBuyPrice, &pos.LastPrice, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pos, err
		}
		return pos, fmt.Errorf("failed to scan position: %w", err)
	}
	pos.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return pos, nil
}
