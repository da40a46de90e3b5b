package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// CashRepository manages the single cash balance row in core.db.
// The balance column carries a CHECK (balance >= 0) constraint; AdjustTx
// additionally verifies before writing so callers get a typed error.
type CashRepository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewCashRepository creates a new cash repository
func NewCashRepository(coreDB *sql.DB, log zerolog.Logger) *CashRepository {
	return &CashRepository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "cash").Logger(),
	}
}

// Initialize seeds the balance row if it does not exist yet.
func (r *CashRepository) Initialize(initial float64) error {
	_, err := r.coreDB.Exec(`
		INSERT INTO cash_balance (id, balance, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, initial, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to initialize cash balance: %w", err)
	}
	return nil
}

// Balance returns the current cash balance.
func (r *CashRepository) Balance() (float64, error) {
	var balance float64
	err := r.coreDB.QueryRow(`SELECT balance FROM cash_balance WHERE id = 1`).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cash balance: %w", err)
	}
	return balance, nil
}

// BalanceTx reads the balance inside an open transaction.
func (r *CashRepository) BalanceTx(tx *sql.Tx) (float64, error) {
	var balance float64
	err := tx.QueryRow(`SELECT balance FROM cash_balance WHERE id = 1`).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cash balance: %w", err)
	}
	return balance, nil
}

// AdjustTx applies a delta to the cash balance inside an open transaction.
// Returns domain.ErrInsufficientFunds (and writes nothing) if the delta
// would drive the balance negative. Returns the new balance.
func (r *CashRepository) AdjustTx(tx *sql.Tx, delta float64) (float64, error) {
	balance, err := r.BalanceTx(tx)
	if err != nil {
		return 0, err
	}

	next := balance + delta
	if next < 0 {
		return balance, fmt.Errorf("%w: balance %.2f, requested %.2f",
			domain.ErrInsufficientFunds, balance, -delta)
	}

	if _, err := tx.Exec(
		`UPDATE cash_balance SET balance = ?, updated_at = ? WHERE id = 1`,
		next, time.Now().Unix(),
	); err != nil {
		return balance, fmt.Errorf("failed to update cash balance: %w", err)
	}

	return next, nil
}
