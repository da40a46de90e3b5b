// Package execution applies action plans to the portfolio. All state
// mutation for a cycle happens here, inside a single database transaction.
package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/steward-fin/steward/internal/domain"
)

// BrokerGateway places orders with an execution venue. Implementations must
// honor the context deadline; the executor treats a gateway failure as a
// degraded outcome, not a cycle failure.
type BrokerGateway interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	Name() string
}

// PaperGateway fills every order instantly at the caller-supplied reference
// price. It is the default venue when live trading is disabled.
type PaperGateway struct {
	priceFn func(symbol string) (float64, bool)
}

// NewPaperGateway creates a paper venue backed by a price lookup.
func NewPaperGateway(priceFn func(symbol string) (float64, bool)) *PaperGateway {
	return &PaperGateway{priceFn: priceFn}
}

// PlaceOrder fills the order at the current reference price.
func (g *PaperGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	price, ok := g.priceFn(req.Symbol)
	if !ok || price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("no reference price for %s: %w", req.Symbol, domain.ErrOrderRejected)
	}
	return domain.OrderResult{
		OrderID:   uuid.NewString(),
		Status:    "FILLED",
		FillPrice: price,
		FillQty:   req.Quantity,
	}, nil
}

// Name identifies the venue in logs and transaction notes.
func (g *PaperGateway) Name() string { return "paper" }
