package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Binance API
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceBaseURL   string
	BinanceStreamURL string

	// Trading
	DefaultInterval string
	QuoteAsset      string
	Leverage        float64

	// Persistence
	DatabasePath string

	// Performance
	HTTPTimeout         time.Duration
	StreamReconnectWait time.Duration
	PriceCacheTTL       time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		BinanceBaseURL:   getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		BinanceStreamURL: getEnv("BINANCE_STREAM_URL", "wss://stream.binance.com:9443"),

		DefaultInterval: getEnv("DEFAULT_INTERVAL", "1d"),
		QuoteAsset:      getEnv("QUOTE_ASSET", "USDC"),
		Leverage:        getEnvFloat("LEVERAGE", 3.8),

		DatabasePath: getEnv("DATABASE_PATH", "trading_data.db"),

		HTTPTimeout:         getEnvDuration("HTTP_TIMEOUT_MS", 5000) * time.Millisecond,
		StreamReconnectWait: getEnvDuration("STREAM_RECONNECT_DELAY_MS", 1000) * time.Millisecond,
		PriceCacheTTL:       getEnvDuration("PRICE_CACHE_TTL_MS", 500) * time.Millisecond,
	}

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}

	return cfg, nil
}

// DefaultDatabasePath resolves the database location without requiring
// API credentials, for read-only commands.
func DefaultDatabasePath() string {
	_ = godotenv.Load()
	return getEnv("DATABASE_PATH", "trading_data.db")
}

// StrategyFile is the optional YAML description of a basket strategy.
type StrategyFile struct {
	Symbols        []string `mapstructure:"symbols"`
	Interval       string   `mapstructure:"interval"`
	EntryThreshold float64  `mapstructure:"entry_threshold"`
	ExitThreshold  float64  `mapstructure:"exit_threshold"`
	LongOnly       bool     `mapstructure:"long_only"`
	Leverage       float64  `mapstructure:"leverage"`
	QuoteAsset     string   `mapstructure:"quote_asset"`
}

// LoadStrategyFile reads a strategy YAML file with defaults applied.
func LoadStrategyFile(path string) (*StrategyFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("interval", "1d")
	v.SetDefault("entry_threshold", 1.0)
	v.SetDefault("exit_threshold", 0.0)
	v.SetDefault("leverage", 3.8)
	v.SetDefault("quote_asset", "USDC")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy file %s: %w", path, err)
	}
	var sf StrategyFile
	if err := v.Unmarshal(&sf); err != nil {
		return nil, fmt.Errorf("parse strategy file %s: %w", path, err)
	}
	if len(sf.Symbols) < 2 {
		return nil, fmt.Errorf("strategy file %s must list at least two symbols", path)
	}
	return &sf, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(parsed)
		}
	}
	return time.Duration(defaultValue)
}
