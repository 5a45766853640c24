// Package config loads server configuration from the environment,
// 12-factor style. Every knob has a default that boots the demo shop
// with no environment at all.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// BusinessURL is the public base URL of the business, used in the
	// discovery profile, continue URLs, and order permalinks.
	BusinessURL string
	// BusinessProfilePath optionally points at a YAML profile that
	// replaces the built-in demo profile.
	BusinessProfilePath string

	// StoreDriver selects session persistence: "memory", "sqlite", or
	// "postgres".
	StoreDriver string
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string
	// DatabaseURL is the DSN for the postgres driver.
	DatabaseURL string

	// RedisAddr enables the Redis negotiation cache when non-empty.
	RedisAddr string

	// TaxExpr overrides the default tax rule (a CEL expression).
	TaxExpr string

	// RateLimitRPS and RateLimitBurst bound per-IP request rates.
	RateLimitRPS   int
	RateLimitBurst int

	// CollaboratorTimeout bounds catalog, tax, and settlement calls.
	CollaboratorTimeout time.Duration

	// OTLPEndpoint enables OpenTelemetry export when non-empty.
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:                getenv("PORT", "8182"),
		LogLevel:            getenv("LOG_LEVEL", "INFO"),
		BusinessURL:         getenv("BUSINESS_URL", "http://localhost:8182"),
		BusinessProfilePath: os.Getenv("BUSINESS_PROFILE_PATH"),
		StoreDriver:         getenv("STORE_DRIVER", "memory"),
		SQLitePath:          getenv("SQLITE_PATH", "ucp.db"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		TaxExpr:             os.Getenv("TAX_EXPR"),
		RateLimitRPS:        getint("RATE_LIMIT_RPS", 50),
		RateLimitBurst:      getint("RATE_LIMIT_BURST", 100),
		CollaboratorTimeout: getduration("COLLABORATOR_TIMEOUT", 5*time.Second),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
