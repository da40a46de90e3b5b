// Steward is an autonomous financial steward: it simulates a household's
// cash flows against a synthetic market and runs a recurring decision cycle
// that observes, plans, executes, and scores one action at a time.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/clients/brokerhttp"
	"github.com/steward-fin/steward/internal/config"
	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/events"
	"github.com/steward-fin/steward/internal/modules/cashflows"
	"github.com/steward-fin/steward/internal/modules/cycle"
	"github.com/steward-fin/steward/internal/modules/evaluation"
	"github.com/steward-fin/steward/internal/modules/execution"
	"github.com/steward-fin/steward/internal/modules/ledger"
	"github.com/steward-fin/steward/internal/modules/market"
	"github.com/steward-fin/steward/internal/modules/planning"
	"github.com/steward-fin/steward/internal/modules/portfolio"
	"github.com/steward-fin/steward/internal/reliability"
	"github.com/steward-fin/steward/internal/scheduler"
	"github.com/steward-fin/steward/internal/server"
	"github.com/steward-fin/steward/pkg/logger"
)

// bootstrapSamples seeds enough history that signals are available from the
// first cycle on a fresh data directory.
const bootstrapSamples = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Steward starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Steward exited with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// core.db holds everything one cycle mutates; history.db only caches
	// market data and can be rebuilt.
	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "core.db"),
		Profile: database.ProfileLedger,
		Name:    "core",
		Schema:  database.CoreSchema,
	})
	if err != nil {
		return err
	}
	defer coreDB.Close()

	historyDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
		Schema:  database.HistorySchema,
	})
	if err != nil {
		return err
	}
	defer historyDB.Close()

	eventBus := events.NewManager(log)

	// Repositories.
	cashRepo := portfolio.NewCashRepository(coreDB.Conn(), log)
	positionRepo := portfolio.NewPositionRepository(coreDB.Conn(), log)
	txRepo := ledger.NewTransactionRepository(coreDB.Conn(), log)
	priceRepo := market.NewPriceRepository(historyDB.Conn(), log)
	logRepo := cycle.NewLogRepository(coreDB.Conn(), log)

	if err := cashRepo.Initialize(cfg.InitialCash); err != nil {
		return err
	}

	// Market model with synthetic data source.
	source := market.NewGBMSource(market.DefaultInstruments(), time.Now().UnixNano())
	model := market.NewModel(source, priceRepo, cfg.Symbols, log)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()
	if len(model.History(cfg.Symbols[0])) == 0 {
		if err := model.Bootstrap(bootCtx, bootstrapSamples); err != nil {
			return err
		}
	}

	// Decision pipeline.
	var gateway execution.BrokerGateway
	if cfg.LiveTrade {
		gateway = brokerhttp.NewClient(cfg.BrokerURL, cfg.BrokerTimeout, log)
	} else {
		gateway = execution.NewPaperGateway(func(symbol string) (float64, bool) {
			price := model.LastPrice(symbol)
			return price, price > 0
		})
	}

	executor := execution.NewExecutor(cashRepo, positionRepo, txRepo, gateway, cfg.TargetAllocation, log)
	evaluator := evaluation.NewEvaluator(evaluation.Weights{
		Growth:       cfg.RewardGrowthWeight,
		Stability:    cfg.RewardStabilityWeight,
		VolReduction: cfg.RewardVolWeight,
		BufferHealth: cfg.RewardBufferWeight,
	}, log)
	simulator := cashflows.NewSimulator(
		coreDB.Conn(), cashRepo, txRepo,
		cfg.BaseIncome, cfg.BaseExpense,
		time.Now().UnixNano(), log,
	)
	observer := cycle.NewStateObserver(
		cashRepo, positionRepo,
		cfg.BufferMonths, cfg.SIPCadenceCycles, cfg.RiskTier,
		log,
	)

	orchestrator := cycle.NewOrchestrator(
		coreDB.Conn(),
		simulator, observer, model, executor, evaluator,
		txRepo, cashRepo, positionRepo, logRepo,
		eventBus,
		planning.Config{
			SurplusThreshold: cfg.SurplusThreshold,
			DriftThreshold:   cfg.DriftThreshold,
			TargetAllocation: cfg.TargetAllocation,
		},
		cfg.Symbols[0],
		cycle.Timeouts{
			Cycle:  cfg.CycleTimeout,
			Market: cfg.MarketTimeout,
			Broker: cfg.BrokerTimeout,
		},
		log,
	)

	// Background jobs.
	backupSvc, err := reliability.NewBackupService(
		context.Background(),
		reliability.BackupConfig{
			Bucket: cfg.BackupBucket,
			Region: cfg.BackupRegion,
			Prefix: cfg.BackupPrefix,
		},
		[]*database.DB{coreDB, historyDB},
		cfg.DataDir,
		eventBus,
		log,
	)
	if err != nil {
		return err
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.CycleSchedule, scheduler.NewCycleJob(orchestrator)); err != nil {
		return err
	}
	if err := sched.AddJob("0 */30 * * * *", reliability.NewWALMaintenanceJob(
		[]*database.DB{coreDB, historyDB}, log)); err != nil {
		return err
	}
	if backupSvc.Enabled() {
		if err := sched.AddJob(cfg.BackupSchedule, scheduler.NewBackupJob(backupSvc)); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server.
	portfolioSvc := portfolio.NewService(positionRepo, cashRepo, log)
	srv := server.New(server.Config{
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Log:          log,
		CoreDB:       coreDB,
		HistoryDB:    historyDB,
		Orchestrator: orchestrator,
		Portfolio:    portfolioSvc,
		Market:       model,
		Executor:     executor,
		CycleLogs:    logRepo,
		Transactions: txRepo,
		Events:       eventBus,
		Symbols:      cfg.Symbols,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	if err := model.Persist(); err != nil {
		log.Error().Err(err).Msg("Failed to persist market history")
	}

	log.Info().Msg("Steward stopped")
	return nil
}
