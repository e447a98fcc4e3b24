package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrall/warden/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WARDEN_POSTGRES_URL", "postgres://localhost/warden_test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, 4, cfg.Bulk.Workers)
	assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	// Redis is off unless configured
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WARDEN_POSTGRES_URL", "postgres://db:5432/warden")
	t.Setenv("WARDEN_PORT", "3000")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")
	t.Setenv("WARDEN_BULK_WORKERS", "16")
	t.Setenv("WARDEN_AUDIT_RETRY_BACKOFF", "250ms")
	t.Setenv("WARDEN_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 16, cfg.Bulk.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.RetryBackoff)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestValidate(t *testing.T) {
	t.Run("missing postgres URL", func(t *testing.T) {
		t.Setenv("WARDEN_POSTGRES_URL", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "postgres URL")
	})

	t.Run("port collision", func(t *testing.T) {
		t.Setenv("WARDEN_POSTGRES_URL", "postgres://localhost/warden")
		t.Setenv("WARDEN_PORT", "9090")
		t.Setenv("WARDEN_HEALTH_PORT", "9090")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "must be different")
	})

	t.Run("malformed numbers fall back to defaults", func(t *testing.T) {
		t.Setenv("WARDEN_POSTGRES_URL", "postgres://localhost/warden")
		t.Setenv("WARDEN_BULK_WORKERS", "not-a-number")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Bulk.Workers)
	})
}
