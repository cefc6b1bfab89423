package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffInitial)
	assert.Equal(t, 5*time.Minute, cfg.BackoffMax)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.False(t, cfg.DryRunNotify)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "7")
	t.Setenv("DRY_RUN_PRINT", "true")
	t.Setenv("BACKOFF_INITIAL", "150ms")
	t.Setenv("STORAGE", "Postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.True(t, cfg.DryRunPrint)
	assert.Equal(t, 150*time.Millisecond, cfg.BackoffInitial)
	assert.Equal(t, "postgres", cfg.Storage)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("WORKER_POOL_SIZE: 9\nCOMPANY_NAME: Acme Repairs\n"), 0o644))
	t.Setenv("CRM_CONFIG", path)
	t.Setenv("COMPANY_NAME", "Env Wins")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.WorkerPoolSize)
	assert.Equal(t, "Env Wins", cfg.CompanyName)
}
