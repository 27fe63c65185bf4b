// Package config provides centralized configuration loading and
// validation for the validation service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all validated configuration for the service.
type Config struct {
	// ListenAddr is the address the HTTP server binds to (e.g., ":3000").
	ListenAddr string

	// AdminAPIToken is the bearer token required for management API access.
	AdminAPIToken string

	// TrustProxy enables trusting X-Forwarded-For headers when
	// recording client IPs in the audit log.
	TrustProxy bool

	// RateLimitRequests is the default per-caller rate limit.
	RateLimitRequests int64

	// RateLimitWindow is the fixed window duration for rate limiting.
	RateLimitWindow time.Duration

	// RateLimitStoreTimeout bounds each counter-store round-trip.
	RateLimitStoreTimeout time.Duration

	// RateLimitFailClosed rejects calls when the counter store is
	// unreachable. Default is fail-open.
	RateLimitFailClosed bool

	// GovernorateLenient labels unknown governorate codes "Unknown"
	// instead of rejecting the ID.
	GovernorateLenient bool

	// RedisAddr is the Redis server address (host:port).
	RedisAddr string

	// RedisPassword is the Redis password (empty for no auth).
	RedisPassword string

	// DatabaseURL is the PostgreSQL connection string for API keys and
	// the call-audit log.
	DatabaseURL string

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from environment variables, applies defaults,
// and validates all required values.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:            getEnv("LISTEN_ADDR", ":3000"),
		AdminAPIToken:         strings.TrimSpace(getEnv("ADMIN_API_TOKEN", "")),
		TrustProxy:            getEnv("TRUST_PROXY", "false") == "true",
		RateLimitRequests:     getEnvInt64("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:       time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		RateLimitStoreTimeout: time.Duration(getEnvInt("RATE_LIMIT_STORE_TIMEOUT_MS", 500)) * time.Millisecond,
		RateLimitFailClosed:   getEnv("RATE_LIMIT_FAIL_CLOSED", "false") == "true",
		GovernorateLenient:    getEnv("GOVERNORATE_LENIENT", "false") == "true",
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		DatabaseURL:           strings.TrimSpace(getEnv("DATABASE_URL", "")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent and safe.
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("config: REDIS_ADDR is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW_SECONDS must be > 0")
	}
	if c.RateLimitStoreTimeout <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_STORE_TIMEOUT_MS must be > 0")
	}
	if c.AdminAPIToken == "change-me" {
		return fmt.Errorf("config: ADMIN_API_TOKEN must be changed from default value")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
