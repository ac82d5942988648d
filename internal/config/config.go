// Package config provides configuration management for the powminer client.
// It handles loading configuration from environment variables with sensible defaults;
// command line flags are applied on top by the caller.
package config

import (
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/powminer/pkg/errors"
)

// Config holds the miner configuration
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Job source
	JobSourceURL string
	Ticker       string
	Address      string
	Network      string
	ChainName    string
	WalletName   string

	// Mining
	BatchSize int
	Workers   int

	// Refresh and submission pacing
	RefreshInterval    time.Duration
	RefreshEveryRounds int
	RefreshRateLimit   float64
	RequestTimeout     time.Duration
	StatusInterval     time.Duration

	// Local override file; empty disables it
	OverridePath string

	// Telemetry backends; empty values disable them
	LedgerDSN          string
	KafkaBrokers       []string
	RedisURL           string
	InfluxURL          string
	InfluxToken        string
	InfluxOrg          string
	InfluxBucket       string
	ChainZMQAddr       string
	ChainZMQTopic      string
	TelemetryQueueSize int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "powminer"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "production"),

		// Job source defaults
		JobSourceURL: getEnv("JOB_SOURCE_URL", "http://api.pow20.io"),
		Ticker:       getEnv("TICKER", ""),
		Address:      getEnv("PAYOUT_ADDRESS", ""),
		Network:      getEnv("NETWORK", "mainnet"),
		ChainName:    getEnv("CHAIN_NAME", "BSV"),
		WalletName:   getEnv("WALLET_NAME", "PANDA"),

		// Mining defaults
		BatchSize: getEnvInt("MINER_BATCH_SIZE", 8_000_000),
		Workers:   getEnvInt("MINER_WORKERS", runtime.NumCPU()),

		// Pacing defaults
		RefreshInterval:    getEnvDuration("REFRESH_INTERVAL", time.Second),
		RefreshEveryRounds: getEnvInt("REFRESH_EVERY_ROUNDS", 12),
		RefreshRateLimit:   getEnvFloat("REFRESH_RATE_LIMIT", 4),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		StatusInterval:     getEnvDuration("STATUS_INTERVAL", 30*time.Second),

		OverridePath: getEnv("JOB_OVERRIDE_PATH", ""),

		// Telemetry defaults, all off
		LedgerDSN:          getEnv("LEDGER_DSN", ""),
		KafkaBrokers:       getEnvSlice("KAFKA_BROKERS", nil),
		RedisURL:           getEnv("REDIS_URL", ""),
		InfluxURL:          getEnv("INFLUX_URL", ""),
		InfluxToken:        getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:          getEnv("INFLUX_ORG", "powminer"),
		InfluxBucket:       getEnv("INFLUX_BUCKET", "mining"),
		ChainZMQAddr:       getEnv("CHAIN_ZMQ_ADDR", ""),
		ChainZMQTopic:      getEnv("CHAIN_ZMQ_TOPIC", "hashblock"),
		TelemetryQueueSize: getEnvInt("TELEMETRY_QUEUE_SIZE", 1024),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load_config", "config validation failed")
	}

	return cfg, nil
}

// Validate checks the whole configuration, including the identity fields that
// may only arrive via command line flags.
func (c *Config) Validate() error {
	if c.Ticker == "" {
		return configError("TICKER (--tick) is required")
	}
	if c.Address == "" {
		return configError("PAYOUT_ADDRESS (--address) is required")
	}
	return c.validate()
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return configError("SERVICE_NAME cannot be empty")
	}

	if c.JobSourceURL == "" {
		return configError("JOB_SOURCE_URL cannot be empty")
	}

	if c.BatchSize <= 0 {
		return configError("MINER_BATCH_SIZE must be positive")
	}

	// Slot indices are carried in a 4-byte nonce prefix.
	if int64(c.BatchSize) > math.MaxUint32 {
		return configError("MINER_BATCH_SIZE must not exceed 4294967295")
	}

	if c.Workers <= 0 {
		return configError("MINER_WORKERS must be positive")
	}

	if c.RefreshInterval <= 0 {
		return configError("REFRESH_INTERVAL must be positive")
	}

	if c.RefreshEveryRounds <= 0 {
		return configError("REFRESH_EVERY_ROUNDS must be positive")
	}

	if c.RefreshRateLimit <= 0 {
		return configError("REFRESH_RATE_LIMIT must be positive")
	}

	if c.RequestTimeout <= 0 {
		return configError("REQUEST_TIMEOUT must be positive")
	}

	if c.StatusInterval <= 0 {
		return configError("STATUS_INTERVAL must be positive")
	}

	if c.TelemetryQueueSize <= 0 {
		return configError("TELEMETRY_QUEUE_SIZE must be positive")
	}

	return nil
}

func configError(msg string) error {
	return errors.New(errors.ErrorTypeConfig, "validate_config", msg)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
