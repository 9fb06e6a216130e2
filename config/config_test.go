package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Database = DatabaseConfig{Driver: DriverPostgres, DSN: "postgres://ledger@db/ledger"}
	cfg.Fiscal.YearStartMonth = 7
	cfg.Reconciler = ReconcilerConfig{Enabled: true, Interval: 10 * time.Minute}

	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Database, got.Database)
	assert.Equal(t, 7, got.Fiscal.YearStartMonth)
	assert.Equal(t, time.July, got.FiscalCalendar().StartMonth)
	assert.Equal(t, 10*time.Minute, got.Reconciler.Interval)
	assert.Equal(t, 15*time.Second, got.Server.ReadTimeout)
	assert.Equal(t, cfg.CORS.AllowedOrigins, got.CORS.AllowedOrigins)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "32", cfg.Accounts.RetainedEarnings)
	assert.Equal(t, 1, cfg.Fiscal.YearStartMonth)
	assert.False(t, cfg.Reconciler.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n  read_timeout: 5s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "32", cfg.Accounts.RetainedEarnings)
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DB_DRIVER", "memory")
	t.Setenv("LEDGER_PORT", "7000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }, "unknown database driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "dsn is required"},
		{"bad month", func(c *Config) { c.Fiscal.YearStartMonth = 13 }, "year_start_month"},
		{"zero month", func(c *Config) { c.Fiscal.YearStartMonth = 0 }, "year_start_month"},
		{"no retained earnings", func(c *Config) { c.Accounts.RetainedEarnings = " " }, "retained_earnings"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"reconciler interval", func(c *Config) { c.Reconciler = ReconcilerConfig{Enabled: true} }, "reconciler interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	memory := Default()
	memory.Database = DatabaseConfig{Driver: DriverMemory}
	assert.NoError(t, memory.Validate(), "the memory driver needs no dsn")
}

func TestYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, Save(path, Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "driver: sqlite")
	assert.Contains(t, contents, "retained_earnings: \"32\"")
	assert.Contains(t, contents, "read_timeout: 15s")
}
