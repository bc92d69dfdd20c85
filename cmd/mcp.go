package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pflow/internal/config"
	"pflow/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server configuration and tool discovery",
	}
	cmd.AddCommand(newMCPAddCmd())
	cmd.AddCommand(newMCPListCmd())
	cmd.AddCommand(newMCPSyncCmd())
	cmd.AddCommand(newMCPRemoveCmd())
	cmd.AddCommand(newMCPToolsCmd())
	cmd.AddCommand(newMCPInfoCmd())
	return cmd
}

func newMCPAddCmd() *cobra.Command {
	var (
		url     string
		envVars []string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "add <name> [command] [args...]",
		Short: "Add an MCP server",
		Long: `Add a stdio MCP server with a launch command, or a remote one
with --url. Values may reference environment variables as ${VAR} or
${VAR:-default}; expansion happens at load time, so secrets never land in
the config file.`,
		Args: minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := mcp.ValidateServerName(name); err != nil {
				return exitWith(ExitCodeUsage, err)
			}

			def := mcp.ServerDef{}
			switch {
			case url != "":
				if len(args) > 1 {
					return usageError("remote servers take --url, not a command")
				}
				def.Type = "http"
				def.URL = url
				def.Headers = map[string]string{}
				for _, h := range headers {
					k, v, ok := strings.Cut(h, ":")
					if !ok {
						return usageError("invalid header %q, expected Name:Value", h)
					}
					def.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			case len(args) > 1:
				def.Command = args[1]
				def.Args = args[2:]
				def.Env = map[string]string{}
				for _, e := range envVars {
					k, v, ok := strings.Cut(e, "=")
					if !ok {
						return usageError("invalid env %q, expected KEY=VALUE", e)
					}
					def.Env[k] = v
				}
			default:
				return usageError("either a launch command or --url is required")
			}

			cfg, _, err := mcp.LoadConfig(config.MCPServersPath())
			if err != nil {
				return err
			}
			if cfg.Servers == nil {
				cfg.Servers = map[string]mcp.ServerDef{}
			}
			cfg.Servers[name] = def
			if err := mcp.SaveConfig(config.MCPServersPath(), cfg); err != nil {
				return err
			}
			fmt.Printf("%s added server %s, run `pflow mcp sync` to discover its tools\n", text.FgGreen.Sprint("✓"), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "remote server URL (streamable HTTP transport)")
	cmd.Flags().StringArrayVar(&envVars, "env", nil, "environment variable for a stdio server (KEY=VALUE, repeatable)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "HTTP header for a remote server (Name:Value, repeatable)")
	return cmd
}

func newMCPListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := mcp.LoadConfig(config.MCPServersPath())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cfg)
			}
			if len(cfg.Servers) == 0 {
				fmt.Printf("%s no MCP servers configured, use `pflow mcp add`\n", text.FgYellow.Sprint("!"))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"NAME", "TRANSPORT", "TARGET"})
			for _, name := range sortedServerNames(cfg) {
				def := cfg.Servers[name]
				target := def.URL
				if def.Transport() == "stdio" {
					target = strings.TrimSpace(def.Command + " " + strings.Join(def.Args, " "))
				}
				t.AppendRow(table.Row{name, def.Transport(), truncateCell(target, 60)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the configuration as JSON on stdout")
	return cmd
}

func newMCPSyncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover tools from configured MCP servers",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			result, err := rt.syncMCP(cmd.Context(), force)
			if err != nil {
				return err
			}
			if result.FromCache {
				fmt.Printf("%s catalog up to date: %d tools from %d servers (cached)\n",
					text.FgGreen.Sprint("✓"), result.Tools, result.Servers)
				return nil
			}
			fmt.Printf("%s discovered %d tools from %d servers\n",
				text.FgGreen.Sprint("✓"), result.Tools, result.Servers)
			for name, ferr := range result.Failed {
				fmt.Printf("%s %s unreachable: %v\n", text.FgYellow.Sprint("!"), name, ferr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-discover even when the cache is current")
	return cmd
}

func newMCPRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := mcp.LoadConfig(config.MCPServersPath())
			if err != nil {
				return err
			}
			if _, ok := cfg.Servers[args[0]]; !ok {
				return fmt.Errorf("server %q is not configured", args[0])
			}
			delete(cfg.Servers, args[0])
			if err := mcp.SaveConfig(config.MCPServersPath(), cfg); err != nil {
				return err
			}
			fmt.Printf("%s removed server %s, run `pflow mcp sync` to refresh the catalog\n", text.FgGreen.Sprint("✓"), args[0])
			return nil
		},
	}
	return cmd
}

// newMCPToolsCmd lists discovered tools from the cached catalog without
// spawning any server.
func newMCPToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools [server]",
		Short: "List discovered MCP tools from the cached catalog",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			var server string
			if len(args) == 1 {
				server = args[0]
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"TYPE", "SERVER", "DESCRIPTION"})
			count := 0
			for _, entry := range rt.registry.List(true) {
				if !entry.IsVirtual() {
					continue
				}
				srv, _, err := mcp.SplitTypeID(entry.Key)
				if err != nil || (server != "" && srv != server) {
					continue
				}
				t.AppendRow(table.Row{entry.Key, srv, truncateCell(entry.Interface.Description, 50)})
				count++
			}
			if count == 0 {
				fmt.Printf("%s no tools in the catalog, run `pflow mcp sync`\n", text.FgYellow.Sprint("!"))
				return nil
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

func newMCPInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <server>",
		Short: "Show one server's configuration and discovered tools",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			def, ok := rt.mcpConfig.Servers[args[0]]
			if !ok {
				return fmt.Errorf("server %q is not configured", args[0])
			}
			fmt.Printf("%s (%s)\n", text.FgHiCyan.Sprint(args[0]), def.Transport())
			if def.Transport() == "stdio" {
				fmt.Printf("  command: %s %s\n", def.Command, strings.Join(def.Args, " "))
			} else {
				fmt.Printf("  url: %s\n", def.URL)
			}
			fmt.Println("\nTools:")
			found := false
			for _, entry := range rt.registry.List(true) {
				if !entry.IsVirtual() {
					continue
				}
				srv, tool, err := mcp.SplitTypeID(entry.Key)
				if err != nil || srv != args[0] {
					continue
				}
				fmt.Printf("  %-30s %s\n", tool, truncateCell(entry.Interface.Description, 60))
				found = true
			}
			if !found {
				fmt.Println("  (none discovered, run `pflow mcp sync`)")
			}
			return nil
		},
	}
	return cmd
}

func sortedServerNames(cfg mcp.Config) []string {
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
