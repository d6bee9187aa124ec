package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSQLite(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "fulfillment-sync.db", cfg.SQLitePath)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, time.Minute, cfg.Sync.TickInterval)
	assert.Equal(t, 99, cfg.Sync.PageCeiling)
	assert.Equal(t, []int{3, 15}, cfg.Sync.DeepHours)
	assert.Equal(t, 30*time.Minute, cfg.Sync.FastInterval)
	assert.Equal(t, 2.0, cfg.Provider.RequestsPerSecond)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("SYNC_DEEP_HOURS", "2, 14,22")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("SYNC_FAST_INTERVAL", "15m")
	t.Setenv("REDIS_TLS", "yes")
	t.Setenv("SYNC_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, []int{2, 14, 22}, cfg.Sync.DeepHours)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Sync.FastInterval)
	assert.True(t, cfg.RedisTLS)
	assert.False(t, cfg.Sync.Enabled)
}

func TestLoadReportsEveryInvalidValue(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SYNC_TICK_INTERVAL", "soon")
	t.Setenv("SYNC_WORKERS", "many")
	t.Setenv("SYNC_DEEP_HOURS", "3,25")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_TICK_INTERVAL")
	assert.Contains(t, err.Error(), "SYNC_WORKERS")
	assert.Contains(t, err.Error(), "SYNC_DEEP_HOURS")
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported driver")
}
