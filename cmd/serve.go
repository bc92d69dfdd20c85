package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"pflow/internal/config"
	"pflow/internal/mcp"
	"pflow/internal/mcpserve"
	"pflow/pkg/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run pflow as an MCP server on stdio",
		Long: `Expose the workflow engine to AI agents as an MCP server over
stdio. The agent gets capability tools to discover, validate, execute,
debug and export workflows and to browse the node catalog. Changes to
mcp-servers.json trigger a re-discovery while serving.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	return cmd
}

func serve(parent context.Context) error {
	// Serving speaks MCP on stdout; logs must stay on stderr only.
	logging.Init(logging.LevelInfo, os.Stderr)

	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if result, err := rt.syncMCP(ctx, false); err != nil {
		logging.Warn("Serve", "initial mcp discovery failed: %v", err)
	} else {
		logging.Info("Serve", "node catalog ready: %d mcp tools from %d servers", result.Tools, result.Servers)
	}

	server := mcpserve.New(mcpserve.Deps{
		Settings:  rt.settings,
		Registry:  rt.registry,
		Library:   rt.library,
		MCPConfig: rt.mcpConfig,
		DebugDir:  rt.settings.DebugDir,
	})
	go watchMCPConfig(ctx, rt, server)
	return server.ServeStdio()
}

// watchMCPConfig re-runs discovery whenever mcp-servers.json changes. The
// watch is on the home directory because editors replace files instead of
// writing them in place.
func watchMCPConfig(ctx context.Context, rt *cliRuntime, server *mcpserve.Server) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Serve", "config watch unavailable: %v", err)
		return
	}
	defer watcher.Close()

	configPath := config.MCPServersPath()
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		logging.Warn("Serve", "cannot watch %s: %v", filepath.Dir(configPath), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != configPath || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			logging.Info("Serve", "mcp server configuration changed, re-syncing")
			cfg, modTime, err := mcp.LoadConfig(configPath)
			if err != nil {
				logging.Error("Serve", err, "failed to reload mcp configuration")
				continue
			}
			rt.mcpConfig = cfg
			rt.mcpModTime = modTime
			server.SetMCPConfig(cfg)
			if result, err := rt.syncMCP(ctx, true); err != nil {
				logging.Error("Serve", err, "re-discovery failed")
			} else {
				logging.Info("Serve", "catalog refreshed: %d tools from %d servers", result.Tools, result.Servers)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Serve", "config watch error: %v", err)
		}
	}
}
