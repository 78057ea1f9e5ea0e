// Package config loads the bot's runtime configuration from environment
// variables (optionally via a .env file), following this codebase's
// flat-struct-plus-typed-getters convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// Polling
	PollingIntervalMS int

	// Edge thresholds per confidence level
	EdgeMinStrong   float64
	EdgeMinModerate float64
	EdgeMinWeak     float64

	// Kelly sizing
	KellyFractionStrong   float64
	KellyFractionModerate float64
	KellyFractionWeak     float64
	MaxBetPct             float64
	MaxBetUSDC            decimal.Decimal
	MinBetUSDC            decimal.Decimal

	// Timing gates
	MinSecondsElapsed   int
	MinSecondsRemaining int

	// Filters
	RequireMomentumAlignment bool
	MinConfidence            string
	LiquidityMargin          float64

	// Execution
	SlippageBps         int
	MaxRetries          int
	ExternalCallDeadline time.Duration
	ShutdownGrace        time.Duration

	// Selling before expiry (disabled by default: hold to expiry instead)
	SellProfitThresholdEnabled bool
	SellProfitThresholdPct     float64

	// Risk
	MaxBetsPerWindow  int
	DailyLossLimitPct float64

	// Bankroll
	Bankroll decimal.Decimal

	// Ambient
	DatabaseDSN        string
	TelegramBotToken   string
	TelegramChatID     int64
	MatrixSnapshotFile string

	// Live-bot market wiring
	BinanceSymbol        string
	PolymarketPrivateKey string
	PolymarketAPIKey     string
	PolymarketAPISecret  string
	PolymarketPassphrase string
	CandleHistoryFile    string

	Debug bool
}

// Load reads .env (if present) then assembles a Config from the
// environment, applying defaults and validating required fields fail-fast.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PollingIntervalMS: getEnvInt("POLLING_INTERVAL_MS", 500),

		EdgeMinStrong:   getEnvFloat("EDGE_MIN_STRONG", 0.05),
		EdgeMinModerate: getEnvFloat("EDGE_MIN_MODERATE", 0.07),
		EdgeMinWeak:     getEnvFloat("EDGE_MIN_WEAK", 0.15),

		KellyFractionStrong:   getEnvFloat("KELLY_FRACTION_STRONG", 0.50),
		KellyFractionModerate: getEnvFloat("KELLY_FRACTION_MODERATE", 0.25),
		KellyFractionWeak:     getEnvFloat("KELLY_FRACTION_WEAK", 0.10),
		MaxBetPct:             getEnvFloat("MAX_BET_PCT", 0.10),
		MaxBetUSDC:            getEnvDecimal("MAX_BET_USDC", decimal.NewFromInt(100)),
		MinBetUSDC:            getEnvDecimal("MIN_BET_USDC", decimal.NewFromInt(1)),

		MinSecondsElapsed:   getEnvInt("MIN_SECONDS_ELAPSED", 60),
		MinSecondsRemaining: getEnvInt("MIN_SECONDS_REMAINING", 15),

		RequireMomentumAlignment: getEnvBool("REQUIRE_MOMENTUM_ALIGNMENT", true),
		MinConfidence:            getEnv("MIN_CONFIDENCE", "Moderate"),
		LiquidityMargin:          getEnvFloat("LIQUIDITY_MARGIN", 1.0),

		SlippageBps:          getEnvInt("SLIPPAGE_BPS", 50),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		ExternalCallDeadline: getEnvDuration("EXTERNAL_CALL_DEADLINE", 800*time.Millisecond),
		ShutdownGrace:        getEnvDuration("SHUTDOWN_GRACE", 5*time.Second),

		SellProfitThresholdEnabled: getEnvBool("SELL_PROFIT_THRESHOLD_ENABLED", false),
		SellProfitThresholdPct:     getEnvFloat("SELL_PROFIT_THRESHOLD_PCT", 0),

		MaxBetsPerWindow:  getEnvInt("MAX_BETS_PER_WINDOW", 1),
		DailyLossLimitPct: getEnvFloat("DAILY_LOSS_LIMIT_PCT", 10.0),

		Bankroll: getEnvDecimal("BANKROLL", decimal.NewFromInt(1000)),

		DatabaseDSN:        getEnv("DATABASE_DSN", "data/btc15m.db"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		MatrixSnapshotFile: getEnv("MATRIX_SNAPSHOT_FILE", "data/matrix_snapshot.json"),

		BinanceSymbol:        getEnv("BINANCE_SYMBOL", "BTCUSDT"),
		PolymarketPrivateKey: os.Getenv("POLYMARKET_PRIVATE_KEY"),
		PolymarketAPIKey:     os.Getenv("POLYMARKET_API_KEY"),
		PolymarketAPISecret:  os.Getenv("POLYMARKET_API_SECRET"),
		PolymarketPassphrase: os.Getenv("POLYMARKET_PASSPHRASE"),
		CandleHistoryFile:    getEnv("CANDLE_HISTORY_FILE", "data/candles.csv"),

		Debug: getEnvBool("DEBUG", false),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Bankroll.IsZero() || cfg.Bankroll.IsNegative() {
		return nil, fmt.Errorf("BANKROLL must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
