// Package config resolves the pflow home directory layout and loads user
// settings from the settings file and PFLOW_* environment variables.
package config

import (
	"os"
	"path/filepath"
)

// HomeEnvVar overrides the pflow home directory, primarily for tests and
// sandboxed installs.
const HomeEnvVar = "PFLOW_HOME"

// Home returns the pflow home directory, ~/.pflow unless overridden.
func Home() string {
	if home := os.Getenv(HomeEnvVar); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".pflow"
	}
	return filepath.Join(userHome, ".pflow")
}

// SettingsPath is the user settings file.
func SettingsPath() string {
	return filepath.Join(Home(), "settings.json")
}

// MCPServersPath is the MCP server configuration file.
func MCPServersPath() string {
	return filepath.Join(Home(), "mcp-servers.json")
}

// RegistryCachePath is the cached node catalog.
func RegistryCachePath() string {
	return filepath.Join(Home(), "registry-cache.json")
}

// WorkflowsDir holds saved workflow IR files.
func WorkflowsDir() string {
	return filepath.Join(Home(), "workflows")
}

// DebugDir holds execution trace files.
func DebugDir() string {
	return filepath.Join(Home(), "debug")
}

// EnsureHome creates the home directory tree.
func EnsureHome() error {
	for _, dir := range []string{Home(), WorkflowsDir(), DebugDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
