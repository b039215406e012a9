package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, 90, cfg.Importer.LookbackDays)
	assert.Equal(t, 3, cfg.Importer.MaxEmptyPages)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - name: main-bybit
    exchange: bybit
    key_env: BYBIT_MAIN_KEY
    secret_env: BYBIT_MAIN_SECRET
  - name: sub-blofin
    exchange: blofin
    key_env: BLOFIN_SUB_KEY
    secret_env: BLOFIN_SUB_SECRET
    passphrase_env: BLOFIN_SUB_PASSPHRASE
storage:
  type: duckdb
  path: /tmp/trades.db
importer:
  lookback_days: 30
  page_size: 50
server:
  addr: ":9090"
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "main-bybit", cfg.Accounts[0].Name)
	assert.Equal(t, 30, cfg.Importer.LookbackDays)
	// Unset fields keep their defaults.
	assert.Equal(t, 100, cfg.Importer.MaxPages)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"accounts": [
			{"name": "main", "exchange": "bybit", "key_env": "K", "secret_env": "S"}
		],
		"storage": {"type": "memory", "path": ""}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	require.Len(t, cfg.Accounts, 1)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AppConfig)
	}{
		{"bad storage type", func(c *AppConfig) { c.Storage.Type = "postgres" }},
		{"zero lookback", func(c *AppConfig) { c.Importer.LookbackDays = 0 }},
		{"zero page size", func(c *AppConfig) { c.Importer.PageSize = 0 }},
		{"bad duration", func(c *AppConfig) { c.Importer.PageDelay = "sometimes" }},
		{"unnamed account", func(c *AppConfig) {
			c.Accounts = []AccountConfig{{Exchange: "bybit"}}
		}},
		{"duplicate account", func(c *AppConfig) {
			c.Accounts = []AccountConfig{
				{Name: "x", Exchange: "bybit"},
				{Name: "x", Exchange: "blofin"},
			}
		}},
		{"unsupported exchange", func(c *AppConfig) {
			c.Accounts = []AccountConfig{{Name: "x", Exchange: "kraken"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveAccounts(t *testing.T) {
	t.Setenv("TEST_IMPORT_KEY", "resolved-key")
	t.Setenv("TEST_IMPORT_SECRET", "resolved-secret")

	cfg := Default()
	cfg.Accounts = []AccountConfig{
		{Name: "main", Exchange: "Bybit", KeyEnv: "TEST_IMPORT_KEY", SecretEnv: "TEST_IMPORT_SECRET"},
		{Name: "empty", Exchange: "bybit", KeyEnv: "TEST_IMPORT_UNSET", SecretEnv: "TEST_IMPORT_UNSET"},
	}

	accounts := cfg.ResolveAccounts()
	require.Len(t, accounts, 2)

	assert.Equal(t, models.ExchangeBybit, accounts[0].Exchange)
	assert.Equal(t, "resolved-key", accounts[0].Key)
	assert.True(t, accounts[0].HasCredentials())

	// Accounts with missing credentials are kept, not dropped.
	assert.Equal(t, "empty", accounts[1].Name)
	assert.False(t, accounts[1].HasCredentials())
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("junk", time.Minute))
}
