package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex-relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("parses a full config", func(t *testing.T) {
		path := writeConfig(t, `
server:
  listen: "0.0.0.0:9000"
  api_key: "sk-test"
  enabled: true
  enable_http2: true
pool:
  strategy: smart
accounts:
  file: /tmp/accounts.json
  watch: true
ledger:
  path: /tmp/ledger.db
logging:
  level: debug
  format: json
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
		assert.Equal(t, "sk-test", cfg.Server.APIKey)
		assert.True(t, cfg.Server.EnableHTTP2)
		assert.Equal(t, "smart", cfg.Pool.Strategy)
		assert.Equal(t, "/tmp/accounts.json", cfg.Accounts.File)
		assert.Equal(t, zerolog.DebugLevel, cfg.Logging.ParseLevel())
	})

	t.Run("expands environment references", func(t *testing.T) {
		t.Setenv("RELAY_TEST_KEY", "sk-from-env")
		path := writeConfig(t, `
server:
  listen: "127.0.0.1:8787"
  api_key: "${RELAY_TEST_KEY}"
accounts:
  file: accounts.json
ledger:
  path: ledger.db
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Server.APIKey)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown strategy fails validation", func(t *testing.T) {
		path := writeConfig(t, `
server:
  listen: "127.0.0.1:8787"
pool:
  strategy: fastest
accounts:
  file: accounts.json
ledger:
  path: ledger.db
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown pool.strategy")
	})

	t.Run("defaults fill unset sections", func(t *testing.T) {
		path := writeConfig(t, `
server:
  listen: "127.0.0.1:8787"
accounts:
  file: accounts.json
ledger:
  path: ledger.db
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "round_robin", cfg.Pool.Strategy)
		assert.Equal(t, zerolog.InfoLevel, cfg.Logging.ParseLevel())
	})
}

func TestValidate(t *testing.T) {
	t.Run("missing listen", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Listen = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing api key is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.Server.APIKey = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing ledger path", func(t *testing.T) {
		cfg := Default()
		cfg.Ledger.Path = ""
		assert.Error(t, cfg.Validate())
	})
}
