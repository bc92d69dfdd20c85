package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "claude-sonnet-4-5", s.DefaultModel)
	assert.Equal(t, 5, s.MaxConcurrent)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"log_level": "debug",
		"default_model": "gpt-5",
		"test_nodes_enabled": true,
		"node_deny_list": ["shell"]
	}`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "gpt-5", s.DefaultModel)
	assert.True(t, s.TestNodesEnabled)
	assert.Equal(t, []string{"shell"}, s.NodeDenyList)
	assert.Equal(t, 5, s.MaxConcurrent, "unset fields keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "debug"}`), 0o600))
	t.Setenv("PFLOW_LOG_LEVEL", "warn")
	t.Setenv("PFLOW_MAX_CONCURRENT", "9")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, 9, s.MaxConcurrent)
}

func TestLoadTestNodesShortForm(t *testing.T) {
	t.Setenv("PFLOW_TEST_NODES", "true")
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.True(t, s.TestNodesEnabled)
}

func TestLoadProviderKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-oai-test")

	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", s.AnthropicAPIKey)
	assert.Equal(t, "sk-oai-test", s.OpenAIAPIKey)
}

func TestLoadExplicitKeyWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"anthropic_api_key": "sk-from-file"}`), 0o600))
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", s.AnthropicAPIKey)
}

func TestHomeOverride(t *testing.T) {
	t.Setenv(HomeEnvVar, "/tmp/pflow-test-home")
	assert.Equal(t, "/tmp/pflow-test-home", Home())
	assert.Equal(t, "/tmp/pflow-test-home/settings.json", SettingsPath())
	assert.Equal(t, "/tmp/pflow-test-home/workflows", WorkflowsDir())
}

func TestEnsureHome(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	t.Setenv(HomeEnvVar, dir)
	require.NoError(t, EnsureHome())
	for _, sub := range []string{dir, filepath.Join(dir, "workflows"), filepath.Join(dir, "debug")} {
		info, err := os.Stat(sub)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
