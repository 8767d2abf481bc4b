package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "car_listings.db", cfg.Store.Path)
	assert.True(t, cfg.Store.Compression)
	assert.Equal(t, 500, cfg.Store.MaxSizeMB)
	assert.Equal(t, 90, cfg.Store.RetentionDays)
	assert.InDelta(t, 0.1, cfg.Store.VacuumProbability, 0.001)

	assert.Equal(t, 30, cfg.Analysis.CacheTTLMinutes)
	assert.Equal(t, 30*time.Minute, cfg.Analysis.CacheTTL())
	assert.Equal(t, 100, cfg.Analysis.MaxChartPoints)
	assert.Equal(t, 500, cfg.Analysis.BatchPageSize)
	assert.True(t, cfg.Analysis.Precompute)
	assert.Equal(t, 500*time.Millisecond, cfg.Analysis.CancelGrace())

	assert.Equal(t, 200, cfg.Import.BatchSize)
	assert.Equal(t, 4, cfg.Import.Concurrency)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "@hourly", cfg.Server.MaintenanceCron)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/cars
  compression: false
analysis:
  cache_ttl_minutes: 5
  precompute: false
server:
  port: 9090
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/cars", cfg.Store.DatabaseURL)
	assert.False(t, cfg.Store.Compression)
	assert.Equal(t, 5, cfg.Analysis.CacheTTLMinutes)
	assert.False(t, cfg.Analysis.Precompute)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys still fall back to defaults.
	assert.Equal(t, 100, cfg.Analysis.MaxChartPoints)
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CARMARKET_STORE_DRIVER", "postgres")
	t.Setenv("CARMARKET_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	require.Error(t, InitLogger(LogConfig{Level: "shouty", Format: "json"}))
}
