// Package config provides configuration loading for the trade importer.
// Configuration is read from a YAML or JSON file with environment variable
// overrides for credentials, so API keys never live in the config file
// itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	Accounts []AccountConfig `json:"accounts" yaml:"accounts"`
	Storage  StorageConfig   `json:"storage" yaml:"storage"`
	Importer ImporterConfig  `json:"importer" yaml:"importer"`
	Server   ServerConfig    `json:"server" yaml:"server"`
	Logging  LoggingConfig   `json:"logging" yaml:"logging"`
}

// AccountConfig declares one exchange sub-account. Credentials are referenced
// by environment variable name; the values are resolved by Load and never
// written back to disk.
type AccountConfig struct {
	Name          string `json:"name" yaml:"name"`
	Exchange      string `json:"exchange" yaml:"exchange"`
	KeyEnv        string `json:"key_env" yaml:"key_env"`
	SecretEnv     string `json:"secret_env" yaml:"secret_env"`
	PassphraseEnv string `json:"passphrase_env,omitempty" yaml:"passphrase_env,omitempty"`
}

// StorageConfig configures the progress store backend.
type StorageConfig struct {
	Type string `json:"type" yaml:"type"` // "duckdb" or "memory"
	Path string `json:"path" yaml:"path"` // database file, or ":memory:"
}

// ImporterConfig configures the progressive import engine.
type ImporterConfig struct {
	LookbackDays     int    `json:"lookback_days" yaml:"lookback_days"`
	PageSize         int    `json:"page_size" yaml:"page_size"`
	MaxPages         int    `json:"max_pages" yaml:"max_pages"`
	MaxRetries       int    `json:"max_retries" yaml:"max_retries"`
	MaxEmptyPages    int    `json:"max_empty_pages" yaml:"max_empty_pages"`
	PageDelay        string `json:"page_delay" yaml:"page_delay"`
	AccountDelay     string `json:"account_delay" yaml:"account_delay"`
	RateLimitBackoff string `json:"rate_limit_backoff" yaml:"rate_limit_backoff"`
}

// ServerConfig configures the dashboard HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format   string `json:"format" yaml:"format"` // json, text
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

// Default returns a configuration with sensible defaults and no accounts.
func Default() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{
			Type: "duckdb",
			Path: "trade_import.db",
		},
		Importer: ImporterConfig{
			LookbackDays:     90,
			PageSize:         100,
			MaxPages:         100,
			MaxRetries:       3,
			MaxEmptyPages:    3,
			PageDelay:        "1s",
			AccountDelay:     "3s",
			RateLimitBackoff: "5s",
		},
		Server: ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path (YAML or JSON, decided by content) and
// resolves account credentials from the environment.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *AppConfig) Validate() error {
	switch c.Storage.Type {
	case "duckdb", "memory":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}

	if c.Importer.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive")
	}
	if c.Importer.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if c.Importer.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive")
	}

	for _, d := range []string{c.Importer.PageDelay, c.Importer.AccountDelay, c.Importer.RateLimitBackoff} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i)
		}
		if seen[acc.Name] {
			return fmt.Errorf("duplicate account name %q", acc.Name)
		}
		seen[acc.Name] = true

		switch models.ExchangeType(strings.ToLower(acc.Exchange)) {
		case models.ExchangeBybit, models.ExchangeBlofin:
		default:
			return fmt.Errorf("account %s: unsupported exchange %q", acc.Name, acc.Exchange)
		}
	}

	return nil
}

// ResolveAccounts builds the runtime account list, reading credentials from
// the environment. Accounts with missing credentials are still returned so
// the importer can record them as failed instead of silently dropping them.
func (c *AppConfig) ResolveAccounts() []models.Account {
	accounts := make([]models.Account, 0, len(c.Accounts))
	for _, ac := range c.Accounts {
		accounts = append(accounts, models.Account{
			Name:       ac.Name,
			Exchange:   models.ExchangeType(strings.ToLower(ac.Exchange)),
			Key:        os.Getenv(ac.KeyEnv),
			Secret:     os.Getenv(ac.SecretEnv),
			Passphrase: os.Getenv(ac.PassphraseEnv),
		})
	}
	return accounts
}

// ParseDuration returns the parsed duration or the fallback when the field
// is empty or malformed.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
