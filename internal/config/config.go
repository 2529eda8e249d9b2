// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the growth engine.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store (development only)
	RedisURL    string // empty → no cache layer
	JWTSecret   string

	// AccrualInterval is the cadence of the in-process accrual scheduler.
	// Accrual is idempotent per elapsed day, so any cadence at or below
	// daily is safe.
	AccrualInterval time.Duration

	// CacheTTL bounds staleness of the Redis read-through cache.
	CacheTTL time.Duration

	// RetryAttempts bounds the boundary-layer retry policy on store reads.
	RetryAttempts int
}

// Load reads configuration from the environment. A missing JWT_SECRET is
// fatal: without it every request would be unauthenticated.
func Load() *Config {
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return &Config{
		Port:            port,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       jwtSecret,
		AccrualInterval: durationEnv("ACCRUAL_INTERVAL", time.Hour),
		CacheTTL:        durationEnv("CACHE_TTL", 30*time.Second),
		RetryAttempts:   intEnv("RETRY_ATTEMPTS", 3),
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
	}
	return fallback
}
