// Package brokerhttp provides the HTTP broker gateway used when live
// trading is enabled.
package brokerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// Client places orders against a broker's REST API. Timeouts and connection
// failures surface as ErrBrokerUnavailable so the executor can degrade
// instead of failing the cycle.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a broker client. timeout bounds each request in addition
// to the caller's context deadline.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "broker").Logger(),
	}
}

// orderResponse is the broker's order acknowledgement payload.
type orderResponse struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	FillQty   float64 `json:"fill_qty"`
	Reason    string  `json:"reason,omitempty"`
}

// PlaceOrder submits an order and waits for the acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("failed to encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("failed to build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("Broker unreachable")
		if errors.Is(err, context.Canceled) {
			return domain.OrderResult{}, err
		}
		return domain.OrderResult{}, fmt.Errorf("order request failed: %w", domain.ErrBrokerUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return domain.OrderResult{}, fmt.Errorf("broker returned %d: %w", resp.StatusCode, domain.ErrBrokerUnavailable)
	}

	var ack orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return domain.OrderResult{}, fmt.Errorf("failed to decode order response: %w", domain.ErrBrokerUnavailable)
	}

	if resp.StatusCode != http.StatusOK || ack.Status == "REJECTED" {
		return domain.OrderResult{}, fmt.Errorf("order rejected (%s): %w", ack.Reason, domain.ErrOrderRejected)
	}

	c.log.Info().
		Str("order_id", ack.OrderID).
		Str("symbol", req.Symbol).
		Float64("fill_price", ack.FillPrice).
		Msg("Order placed")

	return domain.OrderResult{
		OrderID:   ack.OrderID,
		Status:    ack.Status,
		FillPrice: ack.FillPrice,
		FillQty:   ack.FillQty,
	}, nil
}

// Name identifies the venue in logs and transaction notes.
func (c *Client) Name() string { return "live" }
