package config

import (
	"fmt"
	"os"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings is the merged user configuration. Precedence, lowest to highest:
// built-in defaults, the settings file, PFLOW_* environment variables.
type Settings struct {
	LogLevel     string `koanf:"log_level"`
	DefaultModel string `koanf:"default_model"`

	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	OpenAIAPIKey    string `koanf:"openai_api_key"`

	// TestNodesEnabled exposes test-only node types (echo) in listings and
	// workflows.
	TestNodesEnabled bool `koanf:"test_nodes_enabled"`

	// NodeAllowList and NodeDenyList filter the user-visible node catalog
	// with glob patterns.
	NodeAllowList []string `koanf:"node_allow_list"`
	NodeDenyList  []string `koanf:"node_deny_list"`

	// MaxConcurrent bounds parallel batch fan-out when a workflow does not
	// set its own limit.
	MaxConcurrent int `koanf:"max_concurrent"`

	// DebugDir overrides where execution traces are written.
	DebugDir string `koanf:"debug_dir"`
}

func defaults() Settings {
	return Settings{
		LogLevel:      "info",
		DefaultModel:  "claude-sonnet-4-5",
		MaxConcurrent: 5,
	}
}

// Load reads the settings file (missing is fine) and applies environment
// overrides.
func Load(path string) (Settings, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return Settings{}, fmt.Errorf("failed to load settings from %s: %w", path, err)
		}
	}

	// PFLOW_TEST_NODES_ENABLED=true maps to test_nodes_enabled, and so on.
	if err := k.Load(env.Provider("PFLOW_", ".", func(s string) string {
		key := strings.TrimPrefix(s, "PFLOW_")
		switch key {
		case "HOME":
			// PFLOW_HOME picks the directory tree, it is not a setting.
			return ""
		case "TEST_NODES":
			// Short form of PFLOW_TEST_NODES_ENABLED.
			return "test_nodes_enabled"
		}
		return strings.ToLower(key)
	}), nil); err != nil {
		return Settings{}, fmt.Errorf("failed to load environment settings: %w", err)
	}

	settings := defaults()
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Bare provider keys work without the PFLOW_ prefix, matching what the
	// provider SDKs themselves read.
	if settings.AnthropicAPIKey == "" {
		settings.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if settings.OpenAIAPIKey == "" {
		settings.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if settings.DebugDir == "" {
		settings.DebugDir = DebugDir()
	}
	return settings, nil
}
