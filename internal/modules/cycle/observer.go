// Package cycle runs the autonomous decision loop: observe, signal, plan,
// execute, evaluate, log. The orchestrator owns mutual exclusion and the
// per-cycle deadline.
package cycle

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/modules/cashflows"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// sipIncomeFraction and sipCashFraction size the baseline SIP: whichever of
// 3% of income or 2% of cash is larger.
const (
	sipIncomeFraction = 0.03
	sipCashFraction   = 0.02
)

// StateObserver assembles the immutable per-cycle snapshot of cash, flows,
// holdings, and schedule state. Everything downstream of the observer works
// from this snapshot, never from live reads.
type StateObserver struct {
	cashRepo     *portfolio.CashRepository
	positionRepo *portfolio.PositionRepository
	bufferMonths float64
	sipCadence   int
	riskTier     domain.RiskTier
	log          zerolog.Logger
}

// NewStateObserver creates a snapshot builder.
func NewStateObserver(
	cashRepo *portfolio.CashRepository,
	positionRepo *portfolio.PositionRepository,
	bufferMonths float64,
	sipCadence int,
	riskTier domain.RiskTier,
	log zerolog.Logger,
) *StateObserver {
	if sipCadence < 1 {
		sipCadence = 1
	}
	return &StateObserver{
		cashRepo:     cashRepo,
		positionRepo: positionRepo,
		bufferMonths: bufferMonths,
		sipCadence:   sipCadence,
		riskTier:     riskTier,
		log:          log.With().Str("component", "observer").Logger(),
	}
}

// Snapshot captures the current financial state. flows are the realized
// income/expense of this cycle, cycleIndex drives the SIP schedule, and
// prevComposite is the previous cycle's reward feedback.
func (o *StateObserver) Snapshot(
	flows cashflows.Flows,
	baseExpense float64,
	cycleIndex int64,
	prevComposite float64,
) (domain.FinancialSnapshot, error) {
	cash, err := o.cashRepo.Balance()
	if err != nil {
		return domain.FinancialSnapshot{}, fmt.Errorf("failed to observe cash: %w", err)
	}
	positions, err := o.positionRepo.GetAll()
	if err != nil {
		return domain.FinancialSnapshot{}, fmt.Errorf("failed to observe positions: %w", err)
	}

	expense := flows.Expense
	if expense <= 0 {
		expense = baseExpense
	}
	buffer := o.bufferMonths * expense

	sipAmount := sipIncomeFraction * flows.Income
	if alt := sipCashFraction * cash; alt > sipAmount {
		sipAmount = alt
	}

	snap := domain.FinancialSnapshot{
		Cash:            cash,
		MonthlyIncome:   flows.Income,
		MonthlyExpense:  expense,
		EmergencyBuffer: buffer,
		BufferOK:        cash >= buffer,
		SIPDue:          cycleIndex%int64(o.sipCadence) == 0,
		SIPAmount:       sipAmount,
		Positions:       positions,
		RiskTier:        o.riskTier,
		PrevComposite:   prevComposite,
		CapturedAt:      time.Now().UTC(),
	}

	o.log.Debug().
		Float64("cash", cash).
		Float64("buffer", buffer).
		Bool("sip_due", snap.SIPDue).
		Int("positions", len(positions)).
		Msg("Snapshot captured")

	return snap, nil
}
