package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// handleRunCycle triggers one decision cycle. Returns 409 when a cycle is
// already in flight.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	entry, err := s.cfg.Orchestrator.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentCycleInProgress) {
			s.respondError(w, http.StatusConflict, "a cycle is already running")
			return
		}
		// The failed attempt is recorded; surface both the log and the error.
		s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
			"cycle": entry,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	latest, err := s.cfg.CycleLogs.Latest()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":       string(s.cfg.Orchestrator.State()),
		"cycle_index": s.cfg.Orchestrator.CycleIndex(),
		"last_cycle":  latest,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := s.cfg.Portfolio.GetSummary()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": s.cfg.Symbols,
		"prices":  s.cfg.Market.LastPrices(),
	})
}

func (s *Server) handleMarketSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	history := s.cfg.Market.History(symbol)
	if len(history) == 0 {
		s.respondError(w, http.StatusNotFound, "unknown symbol")
		return
	}

	resp := map[string]interface{}{
		"symbol":  symbol,
		"price":   s.cfg.Market.LastPrice(symbol),
		"history": history,
	}
	if signal, err := s.cfg.Market.Signal(symbol); err == nil {
		resp["signal"] = signal
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	logs, err := s.cfg.CycleLogs.List(queryLimit(r, 50, 500))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 1000)

	var (
		txs []domain.Transaction
		err error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		txs, err = s.cfg.Transactions.GetBySymbol(symbol, limit)
	} else {
		txs, err = s.cfg.Transactions.GetHistory(limit)
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, txs)
}

// tradeRequest is a manual trade intent submitted via the API. It goes
// through the same executor as autonomous cycles, so every precondition and
// ledger rule applies.
type tradeRequest struct {
	Kind     domain.ActionKind `json:"kind"`
	Symbol   string            `json:"symbol"`
	Amount   float64           `json:"amount"`
	Quantity float64           `json:"quantity"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Kind {
	case domain.ActionInvestSIP, domain.ActionInvestLump, domain.ActionSell:
	default:
		s.respondError(w, http.StatusBadRequest, "kind must be INVEST_SIP, INVEST_LUMP, or SELL")
		return
	}
	if req.Symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	plan := domain.ActionPlan{
		Kind:      req.Kind,
		Amount:    req.Amount,
		Symbol:    req.Symbol,
		Quantity:  req.Quantity,
		Rationale: "manual trade via API",
	}
	prices := s.cfg.Market.LastPrices()

	var entry domain.Transaction
	err := database.WithTransaction(s.cfg.CoreDB.Conn(), func(tx *sql.Tx) error {
		var applyErr error
		entry, applyErr = s.cfg.Executor.Apply(r.Context(), tx, plan, prices)
		return applyErr
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds),
			errors.Is(err, domain.ErrInsufficientPosition):
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.respondJSON(w, http.StatusOK, entry)
}
