package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the strategy runner.
type Config struct {
	Port string

	// Binance spot
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceBaseURL   string // overrides the testnet/mainnet default when set

	// Execution
	DryRun bool

	// Dry-run simulation
	DryRunInitialBalance float64 // quote asset balance
	DryRunQuoteAsset     string
	DryRunFeeRate        float64 // decimal (e.g. 0.001 = 10 bps)
	DryRunSlippageBps    float64 // slippage applied on market fills (bps)

	// Strategies
	StrategiesFile   string
	StopGrace        time.Duration
	SnapshotInterval time.Duration
	AutoStart        bool // start every active strategy at boot

	// Database
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// API
	JWTSecret      string
	AuthDisabled   bool
	APIRatePerSec  float64
	APIRateBurst   int
	RequestTimeout time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/strategies.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		BinanceTestnet:       getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		BinanceBaseURL:       os.Getenv("BINANCE_BASE_URL"),
		DryRun:               getEnvBool("DRY_RUN", true),
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DryRunQuoteAsset:     strings.ToUpper(getEnv("DRY_RUN_QUOTE_ASSET", "USDT")),
		DryRunFeeRate:        getEnvFloat("DRY_RUN_FEE_RATE", 0.001),
		DryRunSlippageBps:    getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		StrategiesFile:       getEnv("STRATEGIES_FILE", "./strategies.yaml"),
		StopGrace:            getEnvDuration("STOP_GRACE", 12*time.Second),
		SnapshotInterval:     getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),
		AutoStart:            getEnvBool("AUTO_START", false),
		DBPath:               dbPath,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
		LogFile:              os.Getenv("LOG_FILE"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		AuthDisabled:         getEnvBool("AUTH_DISABLED", false),
		APIRatePerSec:        getEnvFloat("API_RATE_PER_SEC", 20),
		APIRateBurst:         getEnvInt("API_RATE_BURST", 50),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
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

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
