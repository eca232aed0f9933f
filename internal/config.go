package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Timezone used for every quota period boundary. One zone for the
	// whole platform; users in other zones still reset at this zone's
	// midnight.
	Timezone string

	// Catalog cache TTL for plans, flags and experiment definitions.
	CatalogTTL time.Duration

	// Escape valve tuning
	EscapeValveThreshold float64 // fraction of quota considered sustained usage
	EscapeValveWindow    int     // days of history examined

	// Experiment priority: experiment names whose overrides win when a
	// user is in several experiments at once. Names not listed keep
	// their discovery order after the listed ones.
	ExperimentPriority []string

	// Worker Configuration
	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerJobTimeout   time.Duration

	// Admin endpoint authentication
	// If both are empty, the /admin surface is unprotected (not recommended)
	AdminUsername string
	AdminPassword string

	// Admin surface rate limiting
	AdminRateLimit  int
	AdminRateWindow time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Timezone: getEnv("TIMEZONE", "Europe/Madrid"),

		CatalogTTL: getEnvDuration("CATALOG_TTL", 5*time.Second),

		// Escape valve defaults: 80% of quota sustained over 7 days
		EscapeValveThreshold: getEnvFloat("ESCAPE_VALVE_THRESHOLD", 0.8),
		EscapeValveWindow:    getEnvInt("ESCAPE_VALVE_WINDOW_DAYS", 7),

		// Worker defaults
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:   getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		// Admin authentication
		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		// Admin rate limiting defaults
		AdminRateLimit:  getEnvInt("ADMIN_RATE_LIMIT", 60),
		AdminRateWindow: getEnvDuration("ADMIN_RATE_WINDOW", time.Minute),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Parse experiment priority from comma-separated environment variable
	priorityStr := getEnv("EXPERIMENT_PRIORITY", "")
	if priorityStr != "" {
		names := strings.Split(priorityStr, ",")
		for _, name := range names {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				cfg.ExperimentPriority = append(cfg.ExperimentPriority, trimmed)
			}
		}
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// The timezone must resolve before any period key is computed
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", cfg.Timezone, err)
	}

	if cfg.EscapeValveThreshold <= 0 || cfg.EscapeValveThreshold > 1 {
		return nil, fmt.Errorf("ESCAPE_VALVE_THRESHOLD must be in (0, 1], got: %v", cfg.EscapeValveThreshold)
	}
	if cfg.EscapeValveWindow < 1 {
		return nil, fmt.Errorf("ESCAPE_VALVE_WINDOW_DAYS must be at least 1, got: %d", cfg.EscapeValveWindow)
	}

	return cfg, nil
}

// Location resolves the configured timezone. NewConfig has already
// validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
