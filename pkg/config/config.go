package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds environment-driven settings for the signal core.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	// Storage
	StoreDriver string // "sqlite" (default), "postgres", "memory"
	DBPath      string
	PostgresDSN string

	// ClickHouse bar history (optional)
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	// Strategies
	StrategiesFile string
	HistoryWindow  int

	// Market feed
	Symbols      []string
	UseMockFeed  bool
	FeedURL      string
	FeedInterval string
	HistoryURL   string // REST klines endpoint used for warm-up without ClickHouse

	// Costs applied to strategy-generated signals
	DefaultFeePct      float64
	DefaultSlippagePct float64

	JournalEnabled  bool
	RateLimit       float64 // requests per second per client, 0 disables
	ShutdownTimeout time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/signal.db")
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnv("LOG_PRETTY", "false") == "true",
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DBPath:             dbPath,
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		ClickHouseAddr:     os.Getenv("CLICKHOUSE_ADDR"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		StrategiesFile:     getEnv("STRATEGIES_FILE", "./strategies.yaml"),
		HistoryWindow:      getEnvInt("HISTORY_WINDOW", 500),
		Symbols:            splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		UseMockFeed:        getEnv("USE_MOCK_FEED", "true") == "true",
		FeedURL:            getEnv("FEED_URL", "wss://stream.binance.com:9443"),
		FeedInterval:       getEnv("FEED_INTERVAL", "1m"),
		HistoryURL:         getEnv("HISTORY_URL", "https://api.binance.com"),
		DefaultFeePct:      getEnvFloat("DEFAULT_FEE_PCT", 0.1),
		DefaultSlippagePct: getEnvFloat("DEFAULT_SLIPPAGE_PCT", 0.05),
		JournalEnabled:     getEnv("JOURNAL_ENABLED", "true") == "true",
		RateLimit:          getEnvFloat("RATE_LIMIT", 20),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
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
