package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ProcessPeriod)
	assert.Equal(t, "@every 1h", cfg.Scheduler.CleanupSchedule)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
store:
  driver: postgres
  dsn: postgres://taskmgr@localhost/taskmgr
scheduler:
  process_period: 2s
  cleanup_schedule: "0 * * * *"
locks:
  backend: local
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.ProcessPeriod)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Retention, "unset keys keep their default")
	assert.Equal(t, LocksLocal, cfg.Locks.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "scheduler:\n  period: 5s\n"))
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Store.DSN = "" }},
		{"period", func(c *Config) { c.Scheduler.ProcessPeriod = 0 }},
		{"cron", func(c *Config) { c.Scheduler.CleanupSchedule = "hourly" }},
		{"retention", func(c *Config) { c.Scheduler.Retention = -time.Hour }},
		{"lock backend", func(c *Config) { c.Locks.Backend = "redis" }},
		{"lock ttl", func(c *Config) { c.Locks.TTL = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSetupLoggingJSON(t *testing.T) {
	prevLogger, prevLevel, prevCtx := log.Logger, zerolog.GlobalLevel(), zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevCtx
	})

	var buf bytes.Buffer
	Log{Level: "warn"}.SetupLogging(&buf)
	log.Info().Msg("hidden")
	log.Warn().Int64("task_id", 7).Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"task_id":7`)
}
