// Package config provides configuration loading and validation for
// codex-relay.
package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jqwei/codex-relay/internal/account"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Pool     PoolConfig     `yaml:"pool"`
	Accounts AccountsConfig `yaml:"accounts"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the listening side of the gateway.
type ServerConfig struct {
	// Listen is the host:port to bind.
	Listen string `yaml:"listen"`

	// APIKey authorizes callers. When empty the gateway fails closed: every
	// proxied request is rejected until a key is configured.
	APIKey string `yaml:"api_key"`

	// Enabled gates the proxy and status routes at startup.
	Enabled bool `yaml:"enabled"`

	// EnableHTTP2 turns on HTTP/2 cleartext (h2c) support.
	EnableHTTP2 bool `yaml:"enable_http2"`
}

// UpstreamConfig configures the upstream origin.
type UpstreamConfig struct {
	// Origin overrides the upstream base URL. Empty means the production
	// upstream.
	Origin string `yaml:"origin"`

	// TokenURL overrides the OAuth token endpoint. Empty means the default.
	TokenURL string `yaml:"token_url"`

	// ClientID overrides the OAuth client id. Empty means the default.
	ClientID string `yaml:"client_id"`
}

// PoolConfig configures account selection.
type PoolConfig struct {
	// Strategy is one of round_robin, single, smart. Empty defaults to
	// round_robin.
	Strategy string `yaml:"strategy"`

	// PinnedAccountID pins the account used by the single strategy.
	PinnedAccountID string `yaml:"pinned_account_id"`
}

// AccountsConfig locates the credential store.
type AccountsConfig struct {
	// File is the path of the JSON account file owned by the hosting app.
	File string `yaml:"file"`

	// Watch enables reloading the pool when the file changes.
	Watch bool `yaml:"watch"`
}

// LedgerConfig locates the usage ledger.
type LedgerConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, or error. Empty defaults to info.
	Level string `yaml:"level"`

	// Format is json, console, or pretty. Console auto-detects a terminal.
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output"`
}

// ParseLevel converts the configured level to a zerolog level.
func (c LoggingConfig) ParseLevel() zerolog.Level {
	switch c.Level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Validate checks the configuration for fatal mistakes. A missing api_key is
// allowed here; the gateway rejects proxied requests until one is set.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen is required")
	}
	if !account.ValidStrategy(c.Pool.Strategy) {
		return fmt.Errorf("config: unknown pool.strategy %q", c.Pool.Strategy)
	}
	if c.Accounts.File == "" {
		return fmt.Errorf("config: accounts.file is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("config: ledger.path is required")
	}
	return nil
}

// Default returns a configuration with sensible local defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:  "127.0.0.1:8787",
			Enabled: true,
		},
		Pool: PoolConfig{
			Strategy: account.StrategyRoundRobin,
		},
		Accounts: AccountsConfig{
			File:  "accounts.json",
			Watch: true,
		},
		Ledger: LedgerConfig{
			Path: "codex-relay.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}
