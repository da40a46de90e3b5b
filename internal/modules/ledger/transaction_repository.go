// Package ledger provides the append-only transaction journal.
// Entries are never mutated or deleted after append.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// TransactionRepository handles transaction persistence in core.db.
type TransactionRepository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(coreDB *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "transaction").Logger(),
	}
}

const transactionColumns = `id, kind, status, symbol, quantity, price, amount, realized_pl, balance_after, note, executed_at`

// CreateTx appends a transaction inside an open core.db transaction.
func (r *TransactionRepository) CreateTx(tx *sql.Tx, t domain.Transaction) error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}

	_, err := tx.Exec(`
		INSERT INTO transactions
		(id, kind, status, symbol, quantity, price, amount, realized_pl, balance_after, note, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		string(t.Kind),
		string(t.Status),
		nullString(t.Symbol),
		t.Quantity,
		t.Price,
		t.Amount,
		t.RealizedPL,
		t.BalanceAfter,
		nullString(t.Note),
		t.ExecutedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// Create appends a transaction in its own short transaction. Used by the
// cashflow simulator; the executor path always goes through CreateTx.
func (r *TransactionRepository) Create(t domain.Transaction) error {
	tx, err := r.coreDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := r.CreateTx(tx, t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetHistory retrieves transaction history, most recent first.
func (r *TransactionRepository) GetHistory(limit int) ([]domain.Transaction, error) {
	rows, err := r.coreDB.Query(`
		SELECT `+transactionColumns+` FROM transactions
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetBySymbol retrieves transactions for a symbol, most recent first.
func (r *TransactionRepository) GetBySymbol(symbol string, limit int) ([]domain.Transaction, error) {
	rows, err := r.coreDB.Query(`
		SELECT `+transactionColumns+` FROM transactions
		WHERE symbol = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

const recentBalancesSQL = `
	SELECT balance_after FROM transactions
	ORDER BY executed_at DESC, id DESC
	LIMIT ?
`

// RecentBalanceSeries returns the balance_after values of the last limit
// transactions in chronological order. The reward evaluator differences
// this series to measure cashflow stability.
func (r *TransactionRepository) RecentBalanceSeries(limit int) ([]float64, error) {
	rows, err := r.coreDB.Query(recentBalancesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance series: %w", err)
	}
	defer rows.Close()

	return scanBalanceSeries(rows)
}

// RecentBalanceSeriesTx is RecentBalanceSeries against an open transaction,
// so entries appended earlier in the same commit are part of the series.
func (r *TransactionRepository) RecentBalanceSeriesTx(tx *sql.Tx, limit int) ([]float64, error) {
	rows, err := tx.Query(recentBalancesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance series: %w", err)
	}
	defer rows.Close()

	return scanBalanceSeries(rows)
}

func scanBalanceSeries(rows *sql.Rows) ([]float64, error) {
	var series []float64
	for rows.Next() {
		var b float64
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("balance rows iteration failed: %w", err)
	}

	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}

	return series, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var symbol, note sql.NullString
		var executedAt int64
		if err := rows.Scan(
			&t.ID, &t.Kind, &t.Status, &symbol, &t.Quantity, &t.Price,
			&t.Amount, &t.RealizedPL, &t.BalanceAfter, &note, &executedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Symbol = symbol.String
		t.Note = note.String
		t.ExecutedAt = time.Unix(executedAt, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction rows iteration failed: %w", err)
	}
	return out, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
