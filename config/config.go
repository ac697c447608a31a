// Package config loads cashdesk settings.
//
// Precedence, lowest first: built-in defaults, the YAML file given with
// -config, a .env file in the working directory, CASHDESK_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/warp/cashdesk/cash"
)

const (
	BackendSQLite = "sqlite"
	BackendWAL    = "wal"
	BackendMemory = "memory"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Audit      AuditConfig      `yaml:"audit"`
	History    HistoryConfig    `yaml:"history"`
	Log        LogConfig        `yaml:"log"`
	Currencies map[string][]int `yaml:"currencies"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	WALDir     string `yaml:"wal_dir"`
}

type LedgerConfig struct {
	Shards         int  `yaml:"shards"`
	RebuildOnStart bool `yaml:"rebuild_on_start"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type HistoryConfig struct {
	MaxDays int `yaml:"max_days"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing overrides it. The API
// key is intentionally empty: it must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: "cashdesk.db",
			WALDir:     "./wal/transactions",
		},
		Ledger: LedgerConfig{
			Shards:         32,
			RebuildOnStart: true,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Schedule: "0 5 0 * * *",
		},
		History: HistoryConfig{MaxDays: 366},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, .env and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("CASHDESK_PORT", c.Server.Port)
	c.Auth.APIKey = getEnv("CASHDESK_API_KEY", c.Auth.APIKey)
	c.Storage.Backend = getEnv("CASHDESK_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("CASHDESK_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.WALDir = getEnv("CASHDESK_WAL_DIR", c.Storage.WALDir)
	c.Ledger.Shards = getEnvAsInt("CASHDESK_LEDGER_SHARDS", c.Ledger.Shards)
	c.Ledger.RebuildOnStart = getEnvAsBool("CASHDESK_REBUILD_ON_START", c.Ledger.RebuildOnStart)
	c.Audit.Enabled = getEnvAsBool("CASHDESK_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.Schedule = getEnv("CASHDESK_AUDIT_SCHEDULE", c.Audit.Schedule)
	c.History.MaxDays = getEnvAsInt("CASHDESK_HISTORY_MAX_DAYS", c.History.MaxDays)
	c.Log.Level = getEnv("CASHDESK_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvAsBool("CASHDESK_DEV_MODE", c.Log.Development)
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.APIKey) == "" {
		return fmt.Errorf("auth.api_key (CASHDESK_API_KEY) is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendWAL:
		if c.Storage.WALDir == "" {
			return fmt.Errorf("storage.wal_dir is required for the wal backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, wal, memory; got %q", c.Storage.Backend)
	}
	if c.Ledger.Shards <= 0 {
		return fmt.Errorf("ledger.shards must be positive, got %d", c.Ledger.Shards)
	}
	if c.History.MaxDays <= 0 {
		return fmt.Errorf("history.max_days must be positive, got %d", c.History.MaxDays)
	}
	if c.Audit.Enabled && c.Audit.Schedule == "" {
		return fmt.Errorf("audit.schedule is required when audit is enabled")
	}
	if _, err := c.DenominationTable(); err != nil {
		return err
	}
	return nil
}

// DenominationTable builds the legal denomination set. An empty currencies
// block means the built-in BGN/EUR table.
func (c *Config) DenominationTable() (*cash.DenominationTable, error) {
	if len(c.Currencies) == 0 {
		return cash.NewDenominationTable(cash.DefaultDenominations())
	}
	currencies := make(map[cash.Currency][]int, len(c.Currencies))
	for code, denoms := range c.Currencies {
		currencies[cash.Currency(strings.ToUpper(strings.TrimSpace(code)))] = denoms
	}
	table, err := cash.NewDenominationTable(currencies)
	if err != nil {
		return nil, errors.Wrap(err, "currencies")
	}
	return table, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
