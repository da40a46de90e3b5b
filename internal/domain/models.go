// Package domain provides core domain models and types.
package domain

import "time"

// Trend classifies the direction of a price series over the signal window.
type Trend string

const (
	TrendUp       Trend = "UP"
	TrendDown     Trend = "DOWN"
	TrendSideways Trend = "SIDEWAYS"
)

// RiskTier is a configuration bucket scaling invest-size and stop-loss aggressiveness.
type RiskTier string

const (
	RiskConservative RiskTier = "conservative"
	RiskBalanced     RiskTier = "balanced"
	RiskAggressive   RiskTier = "aggressive"
)

// ActionKind enumerates the closed set of actions a cycle may take.
// The Executor switches over this set exhaustively; an unknown kind is an error,
// never a silent no-op.
type ActionKind string

const (
	ActionSave       ActionKind = "SAVE"
	ActionInvestSIP  ActionKind = "INVEST_SIP"
	ActionInvestLump ActionKind = "INVEST_LUMP"
	ActionSell       ActionKind = "SELL"
	ActionHold       ActionKind = "HOLD"
	ActionRebalance  ActionKind = "REBALANCE"
)

// TransactionStatus marks the outcome of applying a plan.
type TransactionStatus string

const (
	TxFilled TransactionStatus = "FILLED"
	TxFailed TransactionStatus = "FAILED"
	TxNoop   TransactionStatus = "NOOP"
)

// TransactionKind labels ledger entries. It is a superset of ActionKind:
// recurring cash flows hit the ledger too, but are not plan actions.
type TransactionKind string

const (
	TxKindSave       TransactionKind = TransactionKind(ActionSave)
	TxKindInvestSIP  TransactionKind = TransactionKind(ActionInvestSIP)
	TxKindInvestLump TransactionKind = TransactionKind(ActionInvestLump)
	TxKindSell       TransactionKind = TransactionKind(ActionSell)
	TxKindHold       TransactionKind = TransactionKind(ActionHold)
	TxKindRebalance  TransactionKind = TransactionKind(ActionRebalance)
	TxKindIncome     TransactionKind = "INCOME"
	TxKindExpense    TransactionKind = "EXPENSE"
)

// Position represents a holding in the portfolio.
// Quantity is never negative. AvgBuyPrice is the weighted-average cost basis,
// recomputed on every buy and unchanged on sells.
type Position struct {
	Symbol      string    `json:"symbol"`
	Quantity    float64   `json:"quantity"`
	AvgBuyPrice float64   `json:"avg_buy_price"`
	LastPrice   float64   `json:"last_price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarketValue returns the position value at the last known price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}

// UnrealizedPL returns the unrealized profit/loss against cost basis.
func (p Position) UnrealizedPL() float64 {
	return (p.LastPrice - p.AvgBuyPrice) * p.Quantity
}

// UnrealizedPLPct returns the unrealized P/L as a fraction of cost basis.
// Zero-basis positions report 0.
func (p Position) UnrealizedPLPct() float64 {
	if p.AvgBuyPrice <= 0 {
		return 0
	}
	return (p.LastPrice - p.AvgBuyPrice) / p.AvgBuyPrice
}

// FinancialSnapshot is one cycle's immutable input: a consistent point-in-time
// view of cash, recurring flows, holdings, SIP schedule, and risk profile.
type FinancialSnapshot struct {
	Cash            float64    `json:"cash"`
	MonthlyIncome   float64    `json:"monthly_income"`
	MonthlyExpense  float64    `json:"monthly_expense"`
	EmergencyBuffer float64    `json:"emergency_buffer"`
	BufferOK        bool       `json:"buffer_ok"`
	SIPDue          bool       `json:"sip_due"`
	SIPAmount       float64    `json:"sip_amount"`
	Positions       []Position `json:"positions"`
	RiskTier        RiskTier   `json:"risk_tier"`
	PrevComposite   float64    `json:"prev_composite"`
	CapturedAt      time.Time  `json:"captured_at"`
}

// NetWorth returns cash plus the market value of all positions.
func (s FinancialSnapshot) NetWorth() float64 {
	total := s.Cash
	for _, p := range s.Positions {
		total += p.MarketValue()
	}
	return total
}

// PositionFor returns the snapshot position for a symbol, if held.
func (s FinancialSnapshot) PositionFor(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// MarketSignal carries the derived market view for one instrument.
// It lives only within the cycle that produced it.
type MarketSignal struct {
	Symbol         string    `json:"symbol"`
	Trend          Trend     `json:"trend"`
	Momentum       float64   `json:"momentum"`
	Volatility     float64   `json:"volatility"`
	PredictedPrice float64   `json:"predicted_price"`
	Confidence     float64   `json:"confidence"`
	LastPrice      float64   `json:"last_price"`
	Degraded       bool      `json:"degraded"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// ActionPlan is the planner's single decision for one cycle.
type ActionPlan struct {
	Kind      ActionKind `json:"kind"`
	Amount    float64    `json:"amount"`
	Symbol    string     `json:"symbol,omitempty"`
	Quantity  float64    `json:"quantity,omitempty"`
	Rationale string     `json:"rationale"`
}

// Transaction is an append-only ledger entry. Never mutated or deleted.
type Transaction struct {
	ID           string            `json:"id"`
	Kind         TransactionKind   `json:"kind"`
	Status       TransactionStatus `json:"status"`
	Symbol       string            `json:"symbol,omitempty"`
	Quantity     float64           `json:"quantity,omitempty"`
	Price        float64           `json:"price,omitempty"`
	Amount       float64           `json:"amount"`
	RealizedPL   float64           `json:"realized_pl,omitempty"`
	BalanceAfter float64           `json:"balance_after"`
	Note         string            `json:"note,omitempty"`
	ExecutedAt   time.Time         `json:"executed_at"`
}

// RewardScore scores the post-action state against the pre-action state.
// Composite feeds only the NEXT cycle's planner inputs.
type RewardScore struct {
	Growth       float64 `json:"growth"`
	Stability    float64 `json:"stability"`
	VolReduction float64 `json:"vol_reduction"`
	BufferHealth float64 `json:"buffer_health"`
	Composite    float64 `json:"composite"`
}

// CycleStatus is the terminal state of one cycle attempt.
type CycleStatus string

const (
	CycleLogged   CycleStatus = "LOGGED"
	CycleFailed   CycleStatus = "FAILED"
	CycleDegraded CycleStatus = "DEGRADED"
)

// CycleLog is the immutable audit record of one cycle attempt,
// including failed attempts. One entry per attempt.
type CycleLog struct {
	ID          string             `json:"id"`
	Status      CycleStatus        `json:"status"`
	Snapshot    *FinancialSnapshot `json:"snapshot,omitempty"`
	Signal      *MarketSignal      `json:"signal,omitempty"`
	Plan        *ActionPlan        `json:"plan,omitempty"`
	Transaction *Transaction       `json:"transaction,omitempty"`
	Reward      *RewardScore       `json:"reward,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// PriceSample is one timestamped observation from a MarketDataSource.
type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSide is the direction of a broker order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderRequest is a broker order placement request.
type OrderRequest struct {
	Symbol   string    `json:"symbol"`
	Quantity float64   `json:"quantity"`
	Side     OrderSide `json:"side"`
}

// OrderResult is the broker's response to a placed order.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	FillQty   float64 `json:"fill_qty"`
}
