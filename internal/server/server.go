// Package server provides the HTTP server and routing for Steward.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/events"
	"github.com/steward-fin/steward/internal/modules/cycle"
	"github.com/steward-fin/steward/internal/modules/execution"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/market"
	"github.com/steward-fin/steward/internal/modules/portfolio"
)

// Config holds server configuration and the services routes depend on.
type Config struct {
	Port    int
	DevMode bool

	Log          zerolog.Logger
	CoreDB       *database.DB
	HistoryDB    *database.DB
	Orchestrator *cycle.Orchestrator
	Portfolio    *portfolio.Service
	Market       *market.Model
	Executor     *execution.Executor
	CycleLogs    *cycle.LogRepository
	Transactions *ledger.TransactionRepository
	Events       *events.Manager
	Symbols      []string
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates a new HTTP server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/cycle/run", s.handleRunCycle)
		r.Get("/state", s.handleState)
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/market", s.handleMarket)
		r.Get("/market/{symbol}", s.handleMarketSymbol)
		r.Get("/cycles", s.handleCycles)
		r.Get("/transactions", s.handleTransactions)
		r.Post("/trade", s.handleTrade)
		r.Get("/system/health", s.handleSystemHealth)
		r.Get("/events", s.handleEventsWS)
	})
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
