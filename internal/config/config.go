package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	AdminUser     string
	AdminPassword string

	// DatabaseURL selects the durable postgres backend. When empty, the
	// service runs on its in-memory reference stores (no durability
	// across restarts).
	DatabaseURL string

	ListenAddr string

	// APIKey is a static bearer token for the event ingestion API. It is
	// bootstrapped into the database when one is configured; without a
	// database it is checked directly. Empty means ingestion is open
	// (dev mode).
	APIKey string

	// AllocationSalt seeds the bucketing hash. Deployments running
	// overlapping experiments should give each engine instance its own
	// salt so bucketing stays uncorrelated.
	AllocationSalt string

	// SignificanceThreshold is the two-tailed alpha for the analyzer.
	SignificanceThreshold float64
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		AdminUser:             getenv("APP_ADMIN_USER", "admin"),
		AdminPassword:         getenv("APP_ADMIN_PASSWORD", "changeme"),
		DatabaseURL:           os.Getenv("APP_DATABASE_URL"),
		ListenAddr:            getenv("APP_LISTEN_ADDR", ":8080"),
		APIKey:                getenv("APP_API_KEY", ""),
		AllocationSalt:        getenv("APP_ALLOCATION_SALT", ""),
		SignificanceThreshold: 0.05,
	}

	if v := os.Getenv("APP_SIGNIFICANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			cfg.SignificanceThreshold = f
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
