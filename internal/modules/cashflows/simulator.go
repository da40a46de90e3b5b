// Package cashflows models the recurring income/expense stream feeding the
// cycle. Each cycle draws one income and one expense around the configured
// baselines, applies them to cash, and journals both.
package cashflows

import (
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// Simulator draws unstable income and variable expenses:
// income ~ N(base, 0.3*base), expense ~ N(base, 0.2*base), both floored at 0.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	coreDB      *sql.DB
	cashRepo    *portfolio.CashRepository
	txRepo      *ledger.TransactionRepository
	baseIncome  float64
	baseExpense float64
	lastIncome  float64
	lastExpense float64
	log         zerolog.Logger
}

// NewSimulator creates a cash flow simulator. A fixed seed makes the flow
// stream reproducible in tests.
func NewSimulator(
	coreDB *sql.DB,
	cashRepo *portfolio.CashRepository,
	txRepo *ledger.TransactionRepository,
	baseIncome, baseExpense float64,
	seed int64,
	log zerolog.Logger,
) *Simulator {
	return &Simulator{
		rng:         rand.New(rand.NewSource(seed)),
		coreDB:      coreDB,
		cashRepo:    cashRepo,
		txRepo:      txRepo,
		baseIncome:  baseIncome,
		baseExpense: baseExpense,
		log:         log.With().Str("component", "cashflows").Logger(),
	}
}

// Flows is the realized income/expense pair for one cycle.
type Flows struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
}

// Tick realizes one cycle's income and expense, mutating cash and appending
// both ledger entries in a single transaction. The expense is capped at the
// available balance so cash never goes negative.
func (s *Simulator) Tick() (Flows, error) {
	s.mu.Lock()
	income := max0(s.rng.NormFloat64()*0.3*s.baseIncome + s.baseIncome)
	expense := max0(s.rng.NormFloat64()*0.2*s.baseExpense + s.baseExpense)
	s.mu.Unlock()

	now := time.Now().UTC()

	err := database.WithTransaction(s.coreDB, func(tx *sql.Tx) error {
		balance, err := s.cashRepo.AdjustTx(tx, income)
		if err != nil {
			return fmt.Errorf("failed to apply income: %w", err)
		}

		if err := s.txRepo.CreateTx(tx, domain.Transaction{
			ID:           uuid.NewString(),
			Kind:         domain.TxKindIncome,
			Status:       domain.TxFilled,
			Amount:       income,
			BalanceAfter: balance,
			Note:         "recurring income",
			ExecutedAt:   now,
		}); err != nil {
			return err
		}

		// Cash is a hard floor; an expense larger than the balance is
		// truncated rather than overdrawn.
		if expense > balance {
			expense = balance
		}

		balance, err = s.cashRepo.AdjustTx(tx, -expense)
		if err != nil {
			return fmt.Errorf("failed to apply expense: %w", err)
		}

		return s.txRepo.CreateTx(tx, domain.Transaction{
			ID:           uuid.NewString(),
			Kind:         domain.TxKindExpense,
			Status:       domain.TxFilled,
			Amount:       expense,
			BalanceAfter: balance,
			Note:         "recurring expense",
			ExecutedAt:   now,
		})
	})
	if err != nil {
		return Flows{}, err
	}

	s.mu.Lock()
	s.lastIncome = income
	s.lastExpense = expense
	s.mu.Unlock()

	s.log.Debug().
		Float64("income", income).
		Float64("expense", expense).
		Msg("Cash flows applied")

	return Flows{Income: income, Expense: expense}, nil
}

// Last returns the most recent realized flows. Zero values before the
// first tick.
func (s *Simulator) Last() Flows {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Flows{Income: s.lastIncome, Expense: s.lastExpense}
}

// BaseExpense returns the configured expense baseline; the observer uses it
// for the emergency buffer before any flow has been realized.
func (s *Simulator) BaseExpense() float64 {
	return s.baseExpense
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
