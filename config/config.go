/*
config.go - YAML configuration for the ledger server and CLI

PURPOSE:
  One file describes where the ledger lives, how it logs and which
  accounting conventions it follows. Environment variables override the
  few values that differ between deployments.

ENVIRONMENT OVERRIDES:
  LEDGER_DB_DRIVER   database.driver (memory | sqlite | postgres)
  LEDGER_DB_DSN      database.dsn
  LEDGER_PORT        server.port
  LOG_LEVEL          log.level

SEE ALSO:
  - cmd/server/main.go: Loads the file named by --config
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/ledger-engine/ledger"
	"gopkg.in/yaml.v3"
)

// Config is the top-level ledger.yaml configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Fiscal     FiscalConfig     `yaml:"fiscal"`
	Accounts   AccountsConfig   `yaml:"accounts"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// FiscalConfig defines the fiscal year boundaries.
type FiscalConfig struct {
	YearStartMonth int `yaml:"year_start_month"`
}

// AccountsConfig maps system roles to chart codes.
type AccountsConfig struct {
	RetainedEarnings string `yaml:"retained_earnings"`
}

// ReconcilerConfig controls the background balance drift repair.
type ReconcilerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Driver names accepted in database.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads a ledger.yaml file from disk, fills unset values from Default
// and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (with environment overrides applied).
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return cfg, err
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config for a local single-user ledger.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "ledger.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Fiscal: FiscalConfig{
			YearStartMonth: 1,
		},
		Accounts: AccountsConfig{
			RetainedEarnings: ledger.DefaultRetainedEarningsCode,
		},
		Reconciler: ReconcilerConfig{
			Enabled:  false,
			Interval: time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
	}
}

// ApplyEnv overrides values from the environment.
func (c *Config) ApplyEnv() {
	c.Database.Driver = getEnv("LEDGER_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("LEDGER_DB_DSN", c.Database.DSN)
	c.Server.Port = getEnvInt("LEDGER_PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		problems = append(problems, "database dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Server.Port))
	}
	if err := c.FiscalCalendar().Validate(); err != nil || c.Fiscal.YearStartMonth == 0 {
		problems = append(problems, fmt.Sprintf("fiscal year_start_month must be 1..12, got %d", c.Fiscal.YearStartMonth))
	}
	if strings.TrimSpace(c.Accounts.RetainedEarnings) == "" {
		problems = append(problems, "accounts.retained_earnings is required")
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		problems = append(problems, "reconciler interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FiscalCalendar converts the fiscal section for the ledger package.
func (c *Config) FiscalCalendar() ledger.FiscalCalendar {
	return ledger.FiscalCalendar{StartMonth: time.Month(c.Fiscal.YearStartMonth)}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
