package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, 5, cfg.Batch.CompareSize)
	assert.Equal(t, 7, cfg.Jobs.RetentionDays)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 2, cfg.Cleanup.Hour)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADDR_STORE_DRIVER", "postgres")
	t.Setenv("ADDR_JOBS_RETENTION_DAYS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Jobs.RetentionDays)
}

func TestJobsRetention(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, JobsConfig{}.Retention())
	assert.Equal(t, 3*24*time.Hour, JobsConfig{RetentionDays: 3}.Retention())
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "chatty", Format: "json"}))
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
