package ledger

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
)

func newRepo(t *testing.T) (*TransactionRepository, *sql.DB) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "core.db"),
		Profile: database.ProfileLedger,
		Name:    "core",
		Schema:  database.CoreSchema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTransactionRepository(db.Conn(), zerolog.Nop()), db.Conn()
}

func entryAt(kind domain.TransactionKind, balance float64, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       domain.TxFilled,
		Amount:       100,
		BalanceAfter: balance,
		ExecutedAt:   at,
	}
}

func TestCreateRequiresID(t *testing.T) {
	repo, _ := newRepo(t)
	err := repo.Create(domain.Transaction{Kind: domain.TxKindHold, Status: domain.TxNoop})
	require.Error(t, err)
}

func TestGetHistory_MostRecentFirst(t *testing.T) {
	repo, _ := newRepo(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Create(entryAt(domain.TxKindIncome, 1000, base.Add(-2*time.Minute))))
	require.NoError(t, repo.Create(entryAt(domain.TxKindExpense, 800, base.Add(-1*time.Minute))))
	require.NoError(t, repo.Create(entryAt(domain.TxKindInvestSIP, 700, base)))

	txs, err := repo.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, domain.TxKindInvestSIP, txs[0].Kind)
	assert.Equal(t, domain.TxKindIncome, txs[2].Kind)
}

func TestRecentBalanceSeries_Chronological(t *testing.T) {
	repo, _ := newRepo(t)
	base := time.Now().UTC().Truncate(time.Second)

	balances := []float64{1000, 1200, 900, 1500}
	for i, b := range balances {
		require.NoError(t, repo.Create(entryAt(domain.TxKindIncome, b, base.Add(time.Duration(i)*time.Minute))))
	}

	series, err := repo.RecentBalanceSeries(10)
	require.NoError(t, err)
	assert.Equal(t, balances, series)

	// A smaller limit keeps the most recent entries, still chronological.
	series, err = repo.RecentBalanceSeries(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{900, 1500}, series)
}

func TestRecentBalanceSeriesTx_IncludesUncommittedEntries(t *testing.T) {
	repo, db := newRepo(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Create(entryAt(domain.TxKindIncome, 1000, base)))

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, repo.CreateTx(tx, entryAt(domain.TxKindInvestSIP, 700, base.Add(time.Minute))))

	// The entry appended inside the open transaction is part of the series.
	series, err := repo.RecentBalanceSeriesTx(tx, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 700}, series)
}

func TestGetBySymbol(t *testing.T) {
	repo, _ := newRepo(t)
	now := time.Now().UTC()

	withSymbol := entryAt(domain.TxKindInvestSIP, 900, now)
	withSymbol.Symbol = "INDEX"
	require.NoError(t, repo.Create(withSymbol))
	require.NoError(t, repo.Create(entryAt(domain.TxKindIncome, 1000, now)))

	txs, err := repo.GetBySymbol("INDEX", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "INDEX", txs[0].Symbol)
}
