package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, Duration(200*time.Millisecond), c.ProPublica.MinInterval)
	assert.Equal(t, 25.0, c.Budget.RunUSD)
	assert.Equal(t, int64(8), c.Workflow.MaxConcurrent)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
log:
  level: debug
bmf:
  path: /data/eo_va.csv
propublica:
  min_interval: 500ms
  cache_ttl: 48h
budget:
  run_usd: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/data/eo_va.csv", c.BMF.Path)
	assert.Equal(t, Duration(500*time.Millisecond), c.ProPublica.MinInterval)
	assert.Equal(t, Duration(48*time.Hour), c.ProPublica.CacheTTL)
	assert.Equal(t, 5.0, c.Budget.RunUSD)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100.0, c.Budget.DayUSD)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nbudget:\n  run_usd: 5\n"), 0o644))

	t.Setenv("GRANTSCOPE_LOG_LEVEL", "warn")
	t.Setenv("GRANTSCOPE_BUDGET_RUN_USD", "2.5")
	t.Setenv("GRANTSCOPE_PG_DSN", "postgres://grantscope@localhost/grantscope")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 2.5, c.Budget.RunUSD)
	assert.Equal(t, "postgres://grantscope@localhost/grantscope", c.Postgres.DSN)
}

func TestBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("propublica:\n  min_interval: soon\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
