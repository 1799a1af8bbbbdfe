// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: minimum log level (default "info").
//   - ADMIN_KEY_HASH: bcrypt (or legacy hex SHA-256) hash of the admin
//     bearer key. Empty disables the admin endpoints.
//   - AUTH_RATE_LIMIT: max failed auth attempts per IP per minute
//     (default "10", must be > 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net ruleset cache refresh interval
//     (default "1m", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - MOCK_NOW: RFC 3339 instant that pins the evaluation clock, for
//     rehearsals and manual testing. Never set this in production.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultAuthRateLimit             = 10
	defaultMaxJSONBodySize     int64 = 1 << 20 // 1MB
	defaultCacheResyncInterval       = time.Minute
)

// Config holds the runtime configuration for the ccip server.
type Config struct {
	DatabaseURL         string
	HTTPAddr            string
	LogLevel            string
	AdminKeyHash        string
	AuthRateLimit       int
	CacheResyncInterval time.Duration
	MaxJSONBodySize     int64
	MockNow             *time.Time
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	cacheResyncInterval := defaultCacheResyncInterval
	if value := strings.TrimSpace(os.Getenv("CACHE_RESYNC_INTERVAL")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse CACHE_RESYNC_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("CACHE_RESYNC_INTERVAL must be > 0")
		}
		cacheResyncInterval = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if value := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); value != "" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	var mockNow *time.Time
	if value := strings.TrimSpace(os.Getenv("MOCK_NOW")); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MOCK_NOW: %w", err)
		}
		mockNow = &parsed
	}

	return Config{
		DatabaseURL:         databaseURL,
		HTTPAddr:            envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		AdminKeyHash:        strings.TrimSpace(os.Getenv("ADMIN_KEY_HASH")),
		AuthRateLimit:       authRateLimit,
		CacheResyncInterval: cacheResyncInterval,
		MaxJSONBodySize:     maxJSONBodySize,
		MockNow:             mockNow,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
