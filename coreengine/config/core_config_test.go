package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultAppConfig(t *testing.T) {
	c := DefaultAppConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ":50051", c.ListenAddress)
	assert.Equal(t, "mock", c.LLM.Provider)
}

func TestLoadAppConfig(t *testing.T) {
	path := writeConfigFile(t, `
listen_address: ":6000"
database_path: /var/lib/codeanalysis/index.db
repo_root: /srv/repos/widget
log_level: debug
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  api_key_env: ANTHROPIC_API_KEY
  max_tokens: 1500
execution:
  max_reintent_cycles: 1
  max_total_code_tokens: 10000
`)

	c, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", c.ListenAddress)
	assert.Equal(t, "/srv/repos/widget", c.RepoRoot)
	assert.Equal(t, "anthropic", c.LLM.Provider)
	assert.Equal(t, 1500, c.LLM.MaxTokens)

	exec := c.ExecutionConfig()
	assert.Equal(t, 1, exec.MaxReintentCycles)
	assert.Equal(t, 10000, exec.MaxTotalCodeTokens)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 50, exec.MaxGrepResults)
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadAppConfigUnknownKeyRejected(t *testing.T) {
	path := writeConfigFile(t, `
listen_address: ":6000"
database_path: index.db
repo_root: .
lisen_adress: ":6001"
`)
	_, err := LoadAppConfig(path)
	require.Error(t, err)
}

func TestAppConfigValidate(t *testing.T) {
	t.Run("missing database path", func(t *testing.T) {
		c := DefaultAppConfig()
		c.DatabasePath = ""
		require.Error(t, c.Validate())
	})

	t.Run("unknown llm provider", func(t *testing.T) {
		c := DefaultAppConfig()
		c.LLM.Provider = "oracle"
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.provider")
	})
}

func TestExecutionConfigWithoutOverrides(t *testing.T) {
	c := DefaultAppConfig()
	assert.Equal(t, DefaultExecutionConfig(), c.ExecutionConfig())
}
