package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	LocalDBPath string
	DatabaseURL string
	RedisAddr   string
	DeviceID    string
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Load loads configuration from environment variables. REDIS_ADDR and
// DEVICE_ID are optional: without redis the snapshot cache is a no-op,
// and a missing device id is generated on first run and persisted.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: os.Getenv("APP_ENV"),
		LocalDBPath: os.Getenv("LOCAL_DB_PATH"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DeviceID:    os.Getenv("DEVICE_ID"),
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}

	if v := os.Getenv("SYNC_BACKOFF_BASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("invalid SYNC_BACKOFF_BASE: " + v)
		}
		cfg.BackoffBase = d
	}
	if v := os.Getenv("SYNC_BACKOFF_MAX"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("invalid SYNC_BACKOFF_MAX: " + v)
		}
		cfg.BackoffMax = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.LocalDBPath == "" {
		missing = append(missing, "LOCAL_DB_PATH")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return errors.New("backoff bounds must satisfy 0 < SYNC_BACKOFF_BASE <= SYNC_BACKOFF_MAX")
	}

	return nil
}
