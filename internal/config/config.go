// Package config loads the finance engine configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	LogLevel    slog.Level

	ReserveRequiredMinimum       decimal.Decimal
	ReserveAlertThresholdPercent decimal.Decimal
	ReserveSeedBalance           decimal.Decimal

	CDIAnnualRate   decimal.Decimal
	SELICAnnualRate decimal.Decimal

	ProjectionSchedule   string
	ReserveWatchSchedule string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Malformed numbers and durations are errors, not silent defaults.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		ProjectionSchedule:   getEnv("PROJECTION_SCHEDULE", "@daily"),
		ReserveWatchSchedule: getEnv("RESERVE_WATCH_SCHEDULE", "@every 5m"),
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("CACHE_TTL: %w", err)
	}
	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}

	decimals := []struct {
		key  string
		def  string
		dest *decimal.Decimal
	}{
		{"RESERVE_REQUIRED_MINIMUM", "200000", &cfg.ReserveRequiredMinimum},
		{"RESERVE_ALERT_THRESHOLD_PERCENT", "110", &cfg.ReserveAlertThresholdPercent},
		{"RESERVE_SEED_BALANCE", "0", &cfg.ReserveSeedBalance},
		{"CDI_ANNUAL_RATE", "10.65", &cfg.CDIAnnualRate},
		{"SELIC_ANNUAL_RATE", "10.75", &cfg.SELICAnnualRate},
	}
	for _, d := range decimals {
		if *d.dest, err = getEnvAsDecimal(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !c.ReserveRequiredMinimum.IsPositive() {
		return fmt.Errorf("RESERVE_REQUIRED_MINIMUM must be positive, got %s", c.ReserveRequiredMinimum)
	}
	if !c.ReserveAlertThresholdPercent.IsPositive() {
		return fmt.Errorf("RESERVE_ALERT_THRESHOLD_PERCENT must be positive, got %s", c.ReserveAlertThresholdPercent)
	}
	if c.CDIAnnualRate.IsNegative() || c.SELICAnnualRate.IsNegative() {
		return fmt.Errorf("reference rates must not be negative")
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		slog.Warn("REDIS_URL ignored without DATABASE_URL")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(getEnv(key, defaultValue)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
