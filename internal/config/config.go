// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/steward-fin/steward/internal/domain"
)

// Config holds application configuration.
// It is loaded once at startup and treated as immutable per cycle.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Cycle scheduling and deadlines
	CycleSchedule string        // cron spec for the autonomous cycle trigger
	CycleTimeout  time.Duration // overall per-cycle deadline
	MarketTimeout time.Duration // sub-timeout for market data calls
	BrokerTimeout time.Duration // sub-timeout for broker gateway calls

	// Financial simulation baseline (original income/expense model)
	InitialCash  float64
	BaseIncome   float64
	BaseExpense  float64
	BufferMonths float64 // emergency reserve = BufferMonths x monthly expense

	// Planner
	RiskTier         domain.RiskTier
	SurplusThreshold float64 // lump-sum considered above SurplusThreshold x buffer
	DriftThreshold   float64 // rebalance when allocation drifts beyond this fraction
	SIPCadenceCycles int     // SIP due every N cycles
	Symbols          []string
	TargetAllocation map[string]float64 // symbol -> target fraction of invested value

	// Reward composite weights
	RewardGrowthWeight    float64
	RewardStabilityWeight float64
	RewardVolWeight       float64
	RewardBufferWeight    float64

	// Live trading
	LiveTrade bool
	BrokerURL string

	// Backups
	BackupBucket   string
	BackupRegion   string
	BackupPrefix   string
	BackupSchedule string
}

// Load reads configuration from environment variables (.env supported).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("STEWARD_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("STEWARD_PORT", 8010),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		CycleSchedule: getEnv("CYCLE_SCHEDULE", "@every 10s"),
		CycleTimeout:  getEnvAsDuration("CYCLE_TIMEOUT", 30*time.Second),
		MarketTimeout: getEnvAsDuration("MARKET_TIMEOUT", 5*time.Second),
		BrokerTimeout: getEnvAsDuration("BROKER_TIMEOUT", 5*time.Second),

		InitialCash:  getEnvAsFloat("INITIAL_CASH", 10000.0),
		BaseIncome:   getEnvAsFloat("BASE_INCOME", 5000.0),
		BaseExpense:  getEnvAsFloat("BASE_EXPENSE", 3000.0),
		BufferMonths: getEnvAsFloat("BUFFER_MONTHS", 3.0),

		RiskTier:         domain.RiskTier(getEnv("RISK_TIER", string(domain.RiskBalanced))),
		SurplusThreshold: getEnvAsFloat("SURPLUS_THRESHOLD", 1.25),
		DriftThreshold:   getEnvAsFloat("DRIFT_THRESHOLD", 0.05),
		SIPCadenceCycles: getEnvAsInt("SIP_CADENCE_CYCLES", 1),
		Symbols:          getEnvAsList("SYMBOLS", []string{"INDEX", "STOCK_A", "STOCK_B"}),

		RewardGrowthWeight:    getEnvAsFloat("REWARD_GROWTH_WEIGHT", 0.4),
		RewardStabilityWeight: getEnvAsFloat("REWARD_STABILITY_WEIGHT", 0.2),
		RewardVolWeight:       getEnvAsFloat("REWARD_VOL_WEIGHT", 0.2),
		RewardBufferWeight:    getEnvAsFloat("REWARD_BUFFER_WEIGHT", 0.2),

		LiveTrade: getEnvAsBool("LIVE_TRADE", false),
		BrokerURL: getEnv("BROKER_URL", ""),

		BackupBucket:   getEnv("BACKUP_S3_BUCKET", ""),
		BackupRegion:   getEnv("BACKUP_S3_REGION", "eu-central-1"),
		BackupPrefix:   getEnv("BACKUP_S3_PREFIX", "steward"),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
	}

	cfg.TargetAllocation = defaultTargetAllocation(cfg.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent.
func (c *Config) Validate() error {
	switch c.RiskTier {
	case domain.RiskConservative, domain.RiskBalanced, domain.RiskAggressive:
	default:
		return fmt.Errorf("invalid risk tier %q", c.RiskTier)
	}

	if c.LiveTrade && c.BrokerURL == "" {
		return fmt.Errorf("LIVE_TRADE enabled but BROKER_URL is empty")
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	weights := c.RewardGrowthWeight + c.RewardStabilityWeight + c.RewardVolWeight + c.RewardBufferWeight
	if weights <= 0 {
		return fmt.Errorf("reward weights must sum to a positive value")
	}

	return nil
}

// defaultTargetAllocation spreads the invested value evenly across symbols.
func defaultTargetAllocation(symbols []string) map[string]float64 {
	targets := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return targets
	}
	share := 1.0 / float64(len(symbols))
	for _, s := range symbols {
		targets[s] = share
	}
	return targets
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
