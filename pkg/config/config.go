package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Market context source
	FearGreedURL    string
	FearGreedAPIKey string

	// Evaluation loop
	EvalInterval    time.Duration // time between evaluation batches
	BatchBudget     time.Duration // wall-clock budget for one batch
	WorkerLimit     int           // max concurrent per-user attempts
	MaxOpenTrades   int           // per-user open trade cap
	AllocationFrac  float64       // fraction of balance committed per order
	TakeProfitFrac  float64       // TP distance per leverage unit
	StopLossFrac    float64       // SL distance per leverage unit
	QuoteAsset      string
	RulesConfigPath string

	// Trade monitor
	MonitorInterval time.Duration

	// Outbound exchange calls
	ExchangeRPS     float64 // per-venue requests per second
	ExchangeTimeout time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/tradepilot.db"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		FearGreedURL:    getEnv("FEAR_GREED_URL", "https://api.alternative.me/fng/"),
		FearGreedAPIKey: os.Getenv("FEAR_GREED_API_KEY"),
		EvalInterval:    getEnvDuration("EVAL_INTERVAL", 5*time.Minute),
		BatchBudget:     getEnvDuration("BATCH_BUDGET", 2*time.Minute),
		WorkerLimit:     getEnvInt("WORKER_LIMIT", 8),
		MaxOpenTrades:   getEnvInt("MAX_OPEN_TRADES", 2),
		AllocationFrac:  getEnvFloat("ALLOCATION_FRACTION", 0.3),
		TakeProfitFrac:  getEnvFloat("TAKE_PROFIT_FRACTION", 0.005),
		StopLossFrac:    getEnvFloat("STOP_LOSS_FRACTION", 0.02),
		QuoteAsset:      getEnv("QUOTE_ASSET", "USDT"),
		RulesConfigPath: getEnv("RULES_CONFIG", ""),
		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", time.Minute),
		ExchangeRPS:     getEnvFloat("EXCHANGE_RPS", 5),
		ExchangeTimeout: getEnvDuration("EXCHANGE_TIMEOUT", 10*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
