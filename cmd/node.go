package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pflow/internal/registry"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect the node type catalog",
	}
	cmd.AddCommand(newNodeListCmd())
	cmd.AddCommand(newNodeDescribeCmd())
	cmd.AddCommand(newNodeSearchCmd())
	return cmd
}

func newNodeListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available node types",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if _, err := rt.syncMCP(cmd.Context(), false); err != nil {
				return err
			}
			entries := rt.registry.List(all)
			if flagJSON {
				return printJSON(map[string]any{"nodes": entries})
			}
			renderEntryTable(entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include filtered and test-only node types")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the catalog as JSON on stdout")
	return cmd
}

func newNodeDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <type>",
		Short: "Show a node type's interface",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if _, err := rt.syncMCP(cmd.Context(), false); err != nil {
				return err
			}
			entry, ok := rt.registry.Get(args[0])
			if !ok {
				return rt.registry.Miss(args[0])
			}
			if flagJSON {
				return printJSON(entry)
			}
			renderEntryDetail(entry)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the interface as JSON on stdout")
	return cmd
}

func newNodeSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search node types by id and description",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if _, err := rt.syncMCP(cmd.Context(), false); err != nil {
				return err
			}
			entries := rt.registry.Search(args[0])
			if flagJSON {
				return printJSON(map[string]any{"nodes": entries})
			}
			if len(entries) == 0 {
				fmt.Printf("%s no node types match %q\n", text.FgYellow.Sprint("!"), args[0])
				return nil
			}
			renderEntryTable(entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit matches as JSON on stdout")
	return cmd
}

func renderEntryTable(entries []registry.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TYPE", "KIND", "DESCRIPTION"})
	for _, e := range entries {
		kind := "builtin"
		if e.IsVirtual() {
			kind = "mcp"
		}
		t.AppendRow(table.Row{e.Key, kind, truncateCell(e.Interface.Description, 60)})
	}
	t.Render()
}

func renderEntryDetail(entry registry.Entry) {
	fmt.Printf("%s\n", text.FgHiCyan.Sprint(entry.Key))
	if entry.Interface.Description != "" {
		fmt.Printf("  %s\n", entry.Interface.Description)
	}
	if entry.IsVirtual() {
		fmt.Println("  source: MCP tool")
	} else {
		fmt.Printf("  source: %s\n", entry.ModulePath)
	}
	printFields("Params", entry.Interface.Params)
	printFields("Outputs", entry.Interface.Outputs)
	if len(entry.Interface.Actions) > 0 {
		fmt.Printf("\nActions: %v\n", entry.Interface.Actions)
	}
}

func printFields(title string, fields []registry.Field) {
	if len(fields) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, f := range fields {
		marker := ""
		if f.Required {
			marker = " (required)"
		}
		fmt.Printf("  %-20s %-8s%s %s\n", f.Key, f.Type, marker, f.Description)
	}
}

func truncateCell(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
