package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/config"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsNeedAPIKey(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "cashdesk.yaml", `
server:
  port: 9090
  read_timeout: 5s
auth:
  api_key: from-yaml
storage:
  backend: wal
  wal_dir: /var/lib/cashdesk/wal
history:
  max_days: 31
currencies:
  eur: [5, 10, 20]
`)
	t.Setenv("CASHDESK_API_KEY", "from-env")
	t.Setenv("CASHDESK_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "untouched fields keep defaults")
	assert.Equal(t, "from-env", cfg.Auth.APIKey)
	assert.Equal(t, config.BackendWAL, cfg.Storage.Backend)
	assert.Equal(t, 31, cfg.History.MaxDays)
	assert.Equal(t, "debug", cfg.Log.Level)

	table, err := cfg.DenominationTable()
	require.NoError(t, err)
	assert.Equal(t, []cash.Currency{"EUR"}, table.Currencies())
	assert.False(t, table.IsLegal("EUR", 500))
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "CASHDESK_API_KEY=dotenv-secret\nCASHDESK_STORAGE_BACKEND=memory\n")
	t.Cleanup(func() {
		os.Unsetenv("CASHDESK_API_KEY")
		os.Unsetenv("CASHDESK_STORAGE_BACKEND")
	})

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Auth.APIKey)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Auth.APIKey = "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "postgres" }},
		{"sqlite without path", func(c *config.Config) { c.Storage.SQLitePath = "" }},
		{"bad port", func(c *config.Config) { c.Server.Port = 70000 }},
		{"no shards", func(c *config.Config) { c.Ledger.Shards = 0 }},
		{"no max days", func(c *config.Config) { c.History.MaxDays = 0 }},
		{"audit without schedule", func(c *config.Config) { c.Audit.Schedule = "" }},
		{"empty currency", func(c *config.Config) { c.Currencies = map[string][]int{"BGN": {}} }},
		{"negative face value", func(c *config.Config) { c.Currencies = map[string][]int{"BGN": {-1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDenominationTable_DefaultWhenUnset(t *testing.T) {
	table, err := config.Default().DenominationTable()
	require.NoError(t, err)
	assert.Equal(t, []cash.Currency{"BGN", "EUR"}, table.Currencies())
}
