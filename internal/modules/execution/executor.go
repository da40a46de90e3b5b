package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// Executor turns an ActionPlan into ledger and portfolio mutations. Every
// Apply call runs inside a transaction owned by the caller; either the
// whole action lands or none of it does.
type Executor struct {
	cashRepo     *portfolio.CashRepository
	positionRepo *portfolio.PositionRepository
	txRepo       *ledger.TransactionRepository
	gateway      BrokerGateway
	target       map[string]float64
	log          zerolog.Logger
}

// NewExecutor creates an executor bound to a broker gateway and the target
// allocation used for rebalancing.
func NewExecutor(
	cashRepo *portfolio.CashRepository,
	positionRepo *portfolio.PositionRepository,
	txRepo *ledger.TransactionRepository,
	gateway BrokerGateway,
	target map[string]float64,
	log zerolog.Logger,
) *Executor {
	return &Executor{
		cashRepo:     cashRepo,
		positionRepo: positionRepo,
		txRepo:       txRepo,
		gateway:      gateway,
		target:       target,
		log:          log.With().Str("component", "executor").Logger(),
	}
}

// Apply executes one plan inside the given transaction and returns the
// resulting ledger entry. Precondition violations return an error before any
// mutation. A broker outage is not an error: it yields a FAILED entry with
// the portfolio untouched.
func (e *Executor) Apply(
	ctx context.Context,
	tx *sql.Tx,
	plan domain.ActionPlan,
	prices map[string]float64,
) (domain.Transaction, error) {
	switch plan.Kind {
	case domain.ActionHold:
		return e.recordNoop(tx, domain.TxKindHold, 0, plan.Rationale)
	case domain.ActionSave:
		return e.applySave(tx, plan)
	case domain.ActionInvestSIP:
		return e.applyBuy(ctx, tx, plan, domain.TxKindInvestSIP, prices)
	case domain.ActionInvestLump:
		return e.applyBuy(ctx, tx, plan, domain.TxKindInvestLump, prices)
	case domain.ActionSell:
		return e.applySell(ctx, tx, plan, prices)
	case domain.ActionRebalance:
		return e.applyRebalance(ctx, tx, plan, prices)
	default:
		return domain.Transaction{}, fmt.Errorf("unknown action kind %q", plan.Kind)
	}
}

// applySave journals the earmarked amount. Cash stays where it is; the entry
// exists so the savings decision is auditable.
func (e *Executor) applySave(tx *sql.Tx, plan domain.ActionPlan) (domain.Transaction, error) {
	if plan.Amount <= 0 {
		return e.recordNoop(tx, domain.TxKindSave, 0, "nothing available to save")
	}

	balance, err := e.cashRepo.BalanceTx(tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         domain.TxKindSave,
		Status:       domain.TxFilled,
		Amount:       plan.Amount,
		BalanceAfter: balance,
		Note:         plan.Rationale,
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}
	return entry, nil
}

// buySlippageHeadroom is the tolerated gap between the reference price a buy
// is sized against and the eventual fill price.
const buySlippageHeadroom = 0.02

func (e *Executor) applyBuy(
	ctx context.Context,
	tx *sql.Tx,
	plan domain.ActionPlan,
	kind domain.TransactionKind,
	prices map[string]float64,
) (domain.Transaction, error) {
	if plan.Amount <= 0 {
		return e.recordNoop(tx, kind, 0, "buy amount reduced to zero")
	}
	price, ok := prices[plan.Symbol]
	if !ok || price <= 0 {
		return domain.Transaction{}, fmt.Errorf("no price for %s", plan.Symbol)
	}

	balance, err := e.cashRepo.BalanceTx(tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if plan.Amount > balance {
		return domain.Transaction{}, fmt.Errorf("buy of %.2f with balance %.2f: %w",
			plan.Amount, balance, domain.ErrInsufficientFunds)
	}

	// A live fill can land above the reference price. Size the order so a
	// fill within the slippage headroom still clears the balance checked
	// above.
	qty := plan.Amount / price
	if maxQty := balance / (price * (1 + buySlippageHeadroom)); qty > maxQty {
		qty = maxQty
	}

	result, err := e.gateway.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   plan.Symbol,
		Quantity: qty,
		Side:     domain.OrderBuy,
	})
	if err != nil {
		return e.recordBrokerFailure(tx, kind, plan, err)
	}

	fillPrice, qty := result.FillPrice, result.FillQty
	cost := fillPrice * qty

	newBalance, err := e.cashRepo.AdjustTx(tx, -cost)
	if err != nil {
		return domain.Transaction{}, err
	}

	pos, err := e.positionRepo.GetTx(tx, plan.Symbol)
	if err != nil {
		return domain.Transaction{}, err
	}
	updated := mergeBuy(pos, plan.Symbol, qty, fillPrice)
	if err := e.positionRepo.UpsertTx(tx, updated); err != nil {
		return domain.Transaction{}, err
	}

	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       domain.TxFilled,
		Symbol:       plan.Symbol,
		Quantity:     qty,
		Price:        fillPrice,
		Amount:       cost,
		BalanceAfter: newBalance,
		Note:         plan.Rationale,
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}

	e.log.Info().
		Str("symbol", plan.Symbol).
		Float64("quantity", qty).
		Float64("price", fillPrice).
		Str("kind", string(kind)).
		Msg("Buy executed")

	return entry, nil
}

func (e *Executor) applySell(
	ctx context.Context,
	tx *sql.Tx,
	plan domain.ActionPlan,
	prices map[string]float64,
) (domain.Transaction, error) {
	pos, err := e.positionRepo.GetTx(tx, plan.Symbol)
	if err != nil {
		return domain.Transaction{}, err
	}
	if pos == nil || pos.Quantity < plan.Quantity {
		held := 0.0
		if pos != nil {
			held = pos.Quantity
		}
		return domain.Transaction{}, fmt.Errorf("sell of %.4f %s with %.4f held: %w",
			plan.Quantity, plan.Symbol, held, domain.ErrInsufficientPosition)
	}
	if plan.Quantity <= 0 {
		return e.recordNoop(tx, domain.TxKindSell, 0, "sell quantity reduced to zero")
	}
	price, ok := prices[plan.Symbol]
	if !ok || price <= 0 {
		return domain.Transaction{}, fmt.Errorf("no price for %s", plan.Symbol)
	}

	result, err := e.gateway.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   plan.Symbol,
		Quantity: plan.Quantity,
		Side:     domain.OrderSell,
	})
	if err != nil {
		return e.recordBrokerFailure(tx, domain.TxKindSell, plan, err)
	}

	fillPrice, qty := result.FillPrice, result.FillQty
	proceeds := fillPrice * qty
	realized := (fillPrice - pos.AvgBuyPrice) * qty

	newBalance, err := e.cashRepo.AdjustTx(tx, proceeds)
	if err != nil {
		return domain.Transaction{}, err
	}

	// Basis never changes on a sell; only quantity shrinks.
	remaining := *pos
	remaining.Quantity -= qty
	remaining.LastPrice = fillPrice
	if err := e.positionRepo.UpsertTx(tx, remaining); err != nil {
		return domain.Transaction{}, err
	}

	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         domain.TxKindSell,
		Status:       domain.TxFilled,
		Symbol:       plan.Symbol,
		Quantity:     qty,
		Price:        fillPrice,
		Amount:       proceeds,
		RealizedPL:   realized,
		BalanceAfter: newBalance,
		Note:         plan.Rationale,
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}

	e.log.Info().
		Str("symbol", plan.Symbol).
		Float64("quantity", qty).
		Float64("realized_pl", realized).
		Msg("Sell executed")

	return entry, nil
}

// rebalanceLeg is one buy or sell needed to move a symbol to target weight.
type rebalanceLeg struct {
	symbol string
	side   domain.OrderSide
	qty    float64
	price  float64
}

// applyRebalance moves holdings toward the target allocation. All broker
// orders are placed before any local mutation so a venue outage cannot
// leave the portfolio half-adjusted.
func (e *Executor) applyRebalance(
	ctx context.Context,
	tx *sql.Tx,
	plan domain.ActionPlan,
	prices map[string]float64,
) (domain.Transaction, error) {
	positions, err := e.positionRepo.GetAllTx(tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	legs := rebalanceLegs(positions, e.target, prices)
	if len(legs) == 0 {
		return e.recordNoop(tx, domain.TxKindRebalance, 0, "already at target allocation")
	}

	results := make([]domain.OrderResult, len(legs))
	for i, leg := range legs {
		res, err := e.gateway.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:   leg.symbol,
			Quantity: leg.qty,
			Side:     leg.side,
		})
		if err != nil {
			return e.recordBrokerFailure(tx, domain.TxKindRebalance, plan, err)
		}
		results[i] = res
	}

	byName := make(map[string]*domain.Position, len(positions))
	for i := range positions {
		byName[positions[i].Symbol] = &positions[i]
	}

	var traded, realized, netCash float64
	for i, leg := range legs {
		fillPrice, qty := results[i].FillPrice, results[i].FillQty
		pos := byName[leg.symbol]
		switch leg.side {
		case domain.OrderSell:
			realized += (fillPrice - pos.AvgBuyPrice) * qty
			pos.Quantity -= qty
			pos.LastPrice = fillPrice
			netCash += fillPrice * qty
		case domain.OrderBuy:
			if pos == nil {
				p := domain.Position{Symbol: leg.symbol}
				byName[leg.symbol] = &p
				pos = &p
			}
			merged := mergeBuy(pos, leg.symbol, qty, fillPrice)
			*pos = merged
			netCash -= fillPrice * qty
		}
		traded += fillPrice * qty
	}

	newBalance, err := e.cashRepo.AdjustTx(tx, netCash)
	if err != nil {
		return domain.Transaction{}, err
	}
	for _, pos := range byName {
		if err := e.positionRepo.UpsertTx(tx, *pos); err != nil {
			return domain.Transaction{}, err
		}
	}

	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         domain.TxKindRebalance,
		Status:       domain.TxFilled,
		Amount:       traded,
		RealizedPL:   realized,
		BalanceAfter: newBalance,
		Note:         fmt.Sprintf("%s (%d legs)", plan.Rationale, len(legs)),
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}

	e.log.Info().Int("legs", len(legs)).Float64("traded", traded).Msg("Rebalance executed")

	return entry, nil
}

// rebalanceLegs computes the trades moving current holdings to the target
// weights, sells listed before buys so proceeds fund purchases.
func rebalanceLegs(positions []domain.Position, target map[string]float64, prices map[string]float64) []rebalanceLeg {
	total := 0.0
	current := make(map[string]float64, len(positions))
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.LastPrice
		}
		v := p.Quantity * price
		current[p.Symbol] = v
		total += v
	}
	if total <= 0 {
		return nil
	}

	var sells, buys []rebalanceLeg
	for symbol, weight := range target {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}
		delta := weight*total - current[symbol]
		// Ignore dust below one hundredth of a percent of the book.
		if delta > -total*0.0001 && delta < total*0.0001 {
			continue
		}
		if delta < 0 {
			sells = append(sells, rebalanceLeg{symbol: symbol, side: domain.OrderSell, qty: -delta / price, price: price})
		} else {
			buys = append(buys, rebalanceLeg{symbol: symbol, side: domain.OrderBuy, qty: delta / price, price: price})
		}
	}
	// Liquidate symbols held but absent from the target.
	for _, p := range positions {
		if _, ok := target[p.Symbol]; ok || p.Quantity <= 0 {
			continue
		}
		price, found := prices[p.Symbol]
		if !found {
			price = p.LastPrice
		}
		sells = append(sells, rebalanceLeg{symbol: p.Symbol, side: domain.OrderSell, qty: p.Quantity, price: price})
	}

	return append(sells, buys...)
}

// mergeBuy folds a fill into a position, recomputing the weighted-average
// cost basis.
func mergeBuy(pos *domain.Position, symbol string, qty, price float64) domain.Position {
	if pos == nil || pos.Quantity <= 0 {
		return domain.Position{
			Symbol:      symbol,
			Quantity:    qty,
			AvgBuyPrice: price,
			LastPrice:   price,
			UpdatedAt:   time.Now().UTC(),
		}
	}
	totalQty := pos.Quantity + qty
	basis := (pos.AvgBuyPrice*pos.Quantity + price*qty) / totalQty
	return domain.Position{
		Symbol:      symbol,
		Quantity:    totalQty,
		AvgBuyPrice: basis,
		LastPrice:   price,
		UpdatedAt:   time.Now().UTC(),
	}
}

// recordBrokerFailure journals a FAILED entry for a venue outage or
// rejection. The portfolio is untouched and the cycle continues.
func (e *Executor) recordBrokerFailure(
	tx *sql.Tx,
	kind domain.TransactionKind,
	plan domain.ActionPlan,
	cause error,
) (domain.Transaction, error) {
	if !errors.Is(cause, domain.ErrBrokerUnavailable) && !errors.Is(cause, domain.ErrOrderRejected) {
		return domain.Transaction{}, fmt.Errorf("order placement failed: %w", cause)
	}

	balance, err := e.cashRepo.BalanceTx(tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       domain.TxFailed,
		Symbol:       plan.Symbol,
		Quantity:     plan.Quantity,
		Amount:       plan.Amount,
		BalanceAfter: balance,
		Note:         fmt.Sprintf("broker %s: %v", e.gateway.Name(), cause),
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}

	e.log.Warn().Err(cause).Str("kind", string(kind)).Msg("Order failed, portfolio untouched")

	return entry, nil
}

func (e *Executor) recordNoop(tx *sql.Tx, kind domain.TransactionKind, amount float64, note string) (domain.Transaction, error) {
	balance, err := e.cashRepo.BalanceTx(tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	entry := domain.Transaction{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       domain.TxNoop,
		Amount:       amount,
		BalanceAfter: balance,
		Note:         note,
		ExecutedAt:   time.Now().UTC(),
	}
	if err := e.txRepo.CreateTx(tx, entry); err != nil {
		return domain.Transaction{}, err
	}
	return entry, nil
}
