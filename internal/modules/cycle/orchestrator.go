package cycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/events"
	"github.com/steward-fin/steward/internal/modules/cashflows"
	"github.com/steward-fin/steward/internal/modules/evaluation"
	"github.com/steward-fin/steward/internal/modules/execution"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/market"
	"github.com/steward-fin/steward/internal/modules/planning"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// State labels the orchestrator's position in the cycle state machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateObserving  State = "OBSERVING"
	StateSignaling  State = "SIGNALING"
	StatePlanning   State = "PLANNING"
	StateExecuting  State = "EXECUTING"
	StateEvaluating State = "EVALUATING"
)

// balanceSeriesWindow is how many recent ledger entries feed the stability
// score.
const balanceSeriesWindow = 50

// Timeouts are the per-cycle deadlines.
type Timeouts struct {
	Cycle  time.Duration
	Market time.Duration
	Broker time.Duration
}

// Orchestrator drives one full decision cycle at a time. Overlapping
// triggers are rejected, never queued.
type Orchestrator struct {
	running sync.Mutex
	state   atomic.Value // State

	coreDB        *sql.DB
	simulator     *cashflows.Simulator
	observer      *StateObserver
	model         *market.Model
	executor      *execution.Executor
	evaluator     *evaluation.Evaluator
	txRepo        *ledger.TransactionRepository
	cashRepo      *portfolio.CashRepository
	positionRepo  *portfolio.PositionRepository
	logRepo       *LogRepository
	events        *events.Manager
	plannerCfg    planning.Config
	primarySymbol string
	timeouts      Timeouts
	log           zerolog.Logger

	mu            sync.Mutex
	cycleIndex    int64
	prevComposite float64
	prevVol       float64
}

// NewOrchestrator wires the cycle pipeline. primarySymbol is the instrument
// whose signal drives planning.
func NewOrchestrator(
	coreDB *sql.DB,
	simulator *cashflows.Simulator,
	observer *StateObserver,
	model *market.Model,
	executor *execution.Executor,
	evaluator *evaluation.Evaluator,
	txRepo *ledger.TransactionRepository,
	cashRepo *portfolio.CashRepository,
	positionRepo *portfolio.PositionRepository,
	logRepo *LogRepository,
	eventBus *events.Manager,
	plannerCfg planning.Config,
	primarySymbol string,
	timeouts Timeouts,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		coreDB:        coreDB,
		simulator:     simulator,
		observer:      observer,
		model:         model,
		executor:      executor,
		evaluator:     evaluator,
		txRepo:        txRepo,
		cashRepo:      cashRepo,
		positionRepo:  positionRepo,
		logRepo:       logRepo,
		events:        eventBus,
		plannerCfg:    plannerCfg,
		primarySymbol: primarySymbol,
		timeouts:      timeouts,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
	o.state.Store(StateIdle)
	o.prevVol = evaluation.NoPriorVolatility

	// Resume the cycle counter and feedback signals across restarts.
	if n, err := logRepo.Count(); err == nil {
		o.cycleIndex = n
	}
	if last, err := logRepo.Latest(); err == nil && last != nil {
		if last.Reward != nil {
			o.prevComposite = last.Reward.Composite
		}
		if last.Signal != nil && !last.Signal.Degraded {
			o.prevVol = last.Signal.Volatility
		}
	}

	return o
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

// CycleIndex returns the number of cycle attempts so far.
func (o *Orchestrator) CycleIndex() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleIndex
}

// RunCycle executes one full decision cycle. A second caller while one is in
// flight gets ErrConcurrentCycleInProgress immediately.
func (o *Orchestrator) RunCycle(ctx context.Context) (domain.CycleLog, error) {
	if !o.running.TryLock() {
		return domain.CycleLog{}, domain.ErrConcurrentCycleInProgress
	}
	defer o.running.Unlock()
	defer o.state.Store(StateIdle)

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Cycle)
	defer cancel()

	entry := domain.CycleLog{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	result, err := o.runPipeline(ctx, &entry)
	if err != nil {
		return o.finishFailed(entry, err)
	}
	return result, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, entry *domain.CycleLog) (domain.CycleLog, error) {
	// Observe: realize cash flows, refresh marks, snapshot state.
	o.state.Store(StateObserving)

	flows, err := o.simulator.Tick()
	if err != nil {
		return domain.CycleLog{}, fmt.Errorf("cash flow tick failed: %w", err)
	}

	// A slow or failing market source degrades the cycle, never fails it:
	// the model keeps its last known history and flags the signal.
	marketCtx, cancelMarket := context.WithTimeout(ctx, o.timeouts.Market)
	if err := o.model.Advance(marketCtx); err != nil {
		o.log.Warn().Err(err).Msg("Market advance incomplete, continuing with last known prices")
	}
	cancelMarket()
	prices := o.model.LastPrices()
	o.events.Emit(events.MarketAdvanced, "orchestrator", map[string]interface{}{
		"prices": prices,
	})
	if err := o.positionRepo.UpdateLastPrices(prices); err != nil {
		return domain.CycleLog{}, err
	}

	o.mu.Lock()
	cycleIndex := o.cycleIndex
	prevComposite := o.prevComposite
	prevVol := o.prevVol
	o.mu.Unlock()

	snap, err := o.observer.Snapshot(flows, o.simulator.BaseExpense(), cycleIndex, prevComposite)
	if err != nil {
		return domain.CycleLog{}, err
	}
	entry.Snapshot = &snap

	// Signal: a missing or thin-history signal degrades the cycle rather
	// than failing it.
	o.state.Store(StateSignaling)
	var signal *domain.MarketSignal
	sig, sigErr := o.model.Signal(o.primarySymbol)
	switch {
	case sigErr == nil:
		signal = &sig
		entry.Signal = signal
	case errors.Is(sigErr, domain.ErrInsufficientHistory):
		o.log.Warn().Err(sigErr).Msg("No usable signal, planning without one")
	default:
		return domain.CycleLog{}, fmt.Errorf("signal generation failed: %w", sigErr)
	}

	// Plan.
	o.state.Store(StatePlanning)
	plan := planning.Decide(snap, signal, o.plannerCfg)
	entry.Plan = &plan
	o.events.Emit(events.PlanGenerated, "orchestrator", map[string]interface{}{
		"kind":      string(plan.Kind),
		"amount":    plan.Amount,
		"symbol":    plan.Symbol,
		"rationale": plan.Rationale,
	})

	// Execute, evaluate, and log in one atomic commit.
	o.state.Store(StateExecuting)
	brokerCtx, cancelBroker := context.WithTimeout(ctx, o.timeouts.Broker)
	defer cancelBroker()

	err = database.WithTransaction(o.coreDB, func(tx *sql.Tx) error {
		// Manual trades via the API are not covered by the cycle mutex, so
		// the cash the plan was sized against may have moved since the
		// observation. Refuse to act on a stale snapshot.
		balance, err := o.cashRepo.BalanceTx(tx)
		if err != nil {
			return err
		}
		if math.Abs(balance-snap.Cash) > 1e-9 {
			return fmt.Errorf("%w: cash balance moved from %.2f to %.2f since observation",
				domain.ErrStaleSnapshot, snap.Cash, balance)
		}

		txEntry, err := o.executor.Apply(brokerCtx, tx, plan, prices)
		if err != nil {
			return err
		}
		entry.Transaction = &txEntry

		o.state.Store(StateEvaluating)
		postNetWorth, err := o.netWorthTx(tx, prices)
		if err != nil {
			return err
		}

		// The stability window includes the entries this cycle just wrote.
		balances, err := o.txRepo.RecentBalanceSeriesTx(tx, balanceSeriesWindow)
		if err != nil {
			return err
		}

		reward := o.evaluator.Score(snap, postNetWorth, signal, prevVol, txEntry, balances)
		entry.Reward = &reward

		entry.Status = domain.CycleLogged
		if txEntry.Status == domain.TxFailed || (signal != nil && signal.Degraded) || signal == nil {
			entry.Status = domain.CycleDegraded
		}
		entry.FinishedAt = time.Now().UTC()

		return o.logRepo.InsertTx(tx, *entry)
	})
	if err != nil {
		return domain.CycleLog{}, err
	}

	o.mu.Lock()
	o.cycleIndex++
	o.prevComposite = entry.Reward.Composite
	if signal != nil && !signal.Degraded {
		o.prevVol = signal.Volatility
	}
	o.mu.Unlock()

	o.events.Emit(events.TradeExecuted, "orchestrator", map[string]interface{}{
		"kind":   string(entry.Transaction.Kind),
		"status": string(entry.Transaction.Status),
		"amount": entry.Transaction.Amount,
	})
	o.events.Emit(events.CycleCompleted, "orchestrator", map[string]interface{}{
		"cycle_id":  entry.ID,
		"status":    string(entry.Status),
		"composite": entry.Reward.Composite,
	})

	o.log.Info().
		Str("cycle_id", entry.ID).
		Str("status", string(entry.Status)).
		Str("action", string(entry.Plan.Kind)).
		Float64("composite", entry.Reward.Composite).
		Msg("Cycle completed")

	return *entry, nil
}

// finishFailed records a FAILED cycle log in its own transaction. The failed
// attempt still counts toward the cycle index.
func (o *Orchestrator) finishFailed(entry domain.CycleLog, cause error) (domain.CycleLog, error) {
	entry.Status = domain.CycleFailed
	entry.Error = cause.Error()
	entry.FinishedAt = time.Now().UTC()

	if insertErr := o.logRepo.Insert(entry); insertErr != nil {
		o.log.Error().Err(insertErr).Msg("Failed to record failed cycle")
	}

	o.mu.Lock()
	o.cycleIndex++
	o.mu.Unlock()

	o.events.Emit(events.CycleFailed, "orchestrator", map[string]interface{}{
		"cycle_id": entry.ID,
		"error":    entry.Error,
	})

	o.log.Error().Err(cause).Str("cycle_id", entry.ID).Msg("Cycle failed")

	return entry, cause
}

// netWorthTx values the post-execution book inside the open transaction.
func (o *Orchestrator) netWorthTx(tx *sql.Tx, prices map[string]float64) (float64, error) {
	balance, err := o.cashRepo.BalanceTx(tx)
	if err != nil {
		return 0, err
	}
	positions, err := o.positionRepo.GetAllTx(tx)
	if err != nil {
		return 0, err
	}
	total := balance
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.LastPrice
		}
		total += p.Quantity * price
	}
	return total, nil
}
