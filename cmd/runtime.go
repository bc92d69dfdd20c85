package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"pflow/internal/config"
	"pflow/internal/ir"
	"pflow/internal/library"
	"pflow/internal/mcp"
	"pflow/internal/nodes"
	"pflow/internal/registry"
	"pflow/pkg/logging"
)

// cliRuntime bundles the engine state every command needs: settings, the node
// catalog, the MCP server config and the workflow library.
type cliRuntime struct {
	settings   config.Settings
	registry   *registry.Registry
	library    *library.Library
	mcpConfig  mcp.Config
	mcpModTime int64
}

// newRuntime loads settings and builds the node catalog. The MCP registry
// cache is restored when present; commands that need a fresh catalog run a
// sync themselves.
func newRuntime() (*cliRuntime, error) {
	settings, err := config.Load(config.SettingsPath())
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Filter{
		Allow:            settings.NodeAllowList,
		Deny:             settings.NodeDenyList,
		TestNodesEnabled: settings.TestNodesEnabled,
	})
	if err := nodes.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if _, err := reg.LoadCache(config.RegistryCachePath()); err != nil {
		logging.Warn("CLI", "ignoring unreadable registry cache: %v", err)
	}

	mcpConfig, modTime, err := mcp.LoadConfig(config.MCPServersPath())
	if err != nil {
		return nil, err
	}

	return &cliRuntime{
		settings:   settings,
		registry:   reg,
		library:    library.New(config.WorkflowsDir()),
		mcpConfig:  mcpConfig,
		mcpModTime: modTime,
	}, nil
}

// syncMCP refreshes the virtual node catalog from the configured servers,
// using the cache when nothing changed.
func (rt *cliRuntime) syncMCP(ctx context.Context, force bool) (mcp.SyncResult, error) {
	return mcp.NewDiscoverer().Sync(ctx, rt.mcpConfig, rt.mcpModTime, rt.registry, config.RegistryCachePath(), force)
}

// loadWorkflow resolves the positional workflow argument: an existing file
// path wins, otherwise the name is looked up in the library.
func (rt *cliRuntime) loadWorkflow(ref string) (*ir.Workflow, bool, error) {
	if _, err := os.Stat(ref); err == nil {
		wf, err := ir.LoadFile(ref)
		return wf, false, err
	}
	if library.ValidateName(ref) == nil {
		wf, err := rt.library.Load(ref)
		return wf, true, err
	}
	wf, err := ir.LoadFile(ref)
	return wf, false, err
}

// parseParams turns key=value arguments into workflow inputs. Values that
// parse as JSON keep their native type so counts stay ints and flags stay
// bools; everything else is a string.
func parseParams(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, usageError("invalid parameter %q, expected key=value", arg)
		}
		params[key] = coerceValue(value)
	}
	return params, nil
}

func coerceValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || strings.HasPrefix(s, `"`) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
