package cashflows

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

func newSimulator(t *testing.T, initialCash float64, seed int64) (*Simulator, *portfolio.CashRepository, *ledger.TransactionRepository) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "core.db"),
		Profile: database.ProfileLedger,
		Name:    "core",
		Schema:  database.CoreSchema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	cashRepo := portfolio.NewCashRepository(db.Conn(), log)
	txRepo := ledger.NewTransactionRepository(db.Conn(), log)
	require.NoError(t, cashRepo.Initialize(initialCash))

	return NewSimulator(db.Conn(), cashRepo, txRepo, 5000, 3000, seed, log), cashRepo, txRepo
}

func TestTick_AppliesIncomeAndExpense(t *testing.T) {
	sim, cashRepo, txRepo := newSimulator(t, 10000, 1)

	flows, err := sim.Tick()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, flows.Income, 0.0)
	assert.GreaterOrEqual(t, flows.Expense, 0.0)

	balance, err := cashRepo.Balance()
	require.NoError(t, err)
	assert.InDelta(t, 10000+flows.Income-flows.Expense, balance, 1e-6)

	txs, err := txRepo.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	kinds := []domain.TransactionKind{txs[0].Kind, txs[1].Kind}
	assert.Contains(t, kinds, domain.TxKindIncome)
	assert.Contains(t, kinds, domain.TxKindExpense)

	assert.Equal(t, flows, sim.Last())
}

func TestTick_ExpenseCappedAtBalance(t *testing.T) {
	// Start with nothing; whatever expense is drawn, cash cannot go negative.
	sim, cashRepo, _ := newSimulator(t, 0, 2)

	for i := 0; i < 5; i++ {
		_, err := sim.Tick()
		require.NoError(t, err)

		balance, err := cashRepo.Balance()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, 0.0)
	}
}

func TestTick_DeterministicForSeed(t *testing.T) {
	a, _, _ := newSimulator(t, 10000, 7)
	b, _, _ := newSimulator(t, 10000, 7)

	fa, err := a.Tick()
	require.NoError(t, err)
	fb, err := b.Tick()
	require.NoError(t, err)

	assert.Equal(t, fa.Income, fb.Income)
	// Expenses may differ only through balance capping, which cannot happen
	// at this starting balance.
	assert.Equal(t, fa.Expense, fb.Expense)
}
