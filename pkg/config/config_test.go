package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cymbal-labs/ucp-engine/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: the demo shop must boot with no environment at all.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("RATE_LIMIT_RPS", "")
	t.Setenv("COLLABORATOR_TIMEOUT", "")

	cfg := config.Load()

	assert.Equal(t, "8182", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, 5*time.Second, cfg.CollaboratorTimeout)
	assert.Contains(t, cfg.BusinessURL, "localhost")
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: ops control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/ucp")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TAX_EXPR", "taxable * 10 / 100")
	t.Setenv("COLLABORATOR_TIMEOUT", "2s")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "postgres://production:5432/ucp", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "taxable * 10 / 100", cfg.TaxExpr)
	assert.Equal(t, 2*time.Second, cfg.CollaboratorTimeout)
}

// TestLoad_BadNumbersFallBack verifies malformed numeric envs fall back
// to defaults instead of failing the boot.
func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")
	t.Setenv("COLLABORATOR_TIMEOUT", "soon")

	cfg := config.Load()

	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, 5*time.Second, cfg.CollaboratorTimeout)
}
