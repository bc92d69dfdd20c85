package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pflow/internal/ir"
	"pflow/internal/trace"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage the saved workflow library",
	}
	cmd.AddCommand(newWorkflowSaveCmd())
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowDescribeCmd())
	cmd.AddCommand(newWorkflowShowCmd())
	cmd.AddCommand(newWorkflowSearchCmd())
	cmd.AddCommand(newWorkflowDeleteCmd())
	return cmd
}

func newWorkflowSaveCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Save a workflow file into the library",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			wf, err := ir.LoadFile(args[0])
			if err != nil {
				return err
			}
			if name != "" {
				wf.Name = name
			}
			path, err := rt.library.Save(wf)
			if err != nil {
				return err
			}
			fmt.Printf("%s saved %s to %s\n", text.FgGreen.Sprint("✓"), wf.Name, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "save under this name instead of the document's name")
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			summaries, err := rt.library.List()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(map[string]any{"workflows": summaries})
			}
			if len(summaries) == 0 {
				fmt.Printf("%s no workflows saved yet, use `pflow workflow save <file>`\n", text.FgYellow.Sprint("!"))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"NAME", "NODES", "RUNS", "LAST RUN", "DESCRIPTION"})
			for _, s := range summaries {
				t.AppendRow(table.Row{s.Name, s.NodeCount, s.ExecutionCount, s.LastExecuted, truncateCell(s.Description, 50)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the listing as JSON on stdout")
	return cmd
}

func newWorkflowDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <name>",
		Short: "Show a saved workflow's metadata and last execution",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			wf, err := rt.library.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", text.FgHiCyan.Sprint(wf.Name))
			if wf.Description != "" {
				fmt.Printf("  %s\n", wf.Description)
			}
			fmt.Printf("  nodes: %d\n", len(wf.Nodes))
			if len(wf.Inputs) > 0 {
				fmt.Println("\nInputs:")
				for name, in := range wf.Inputs {
					marker := ""
					if in.Required {
						marker = " (required)"
					}
					fmt.Printf("  %-20s %s%s\n", name, in.Type, marker)
				}
			}
			if len(wf.Outputs) > 0 {
				fmt.Println("\nOutputs:")
				for name, out := range wf.Outputs {
					fmt.Printf("  %-20s %s\n", name, out.Source)
				}
			}
			fmt.Printf("\nExecutions: %d\n", wf.ExecutionCount)
			if wf.LastExecuted != "" {
				fmt.Printf("Last run: %s\n", wf.LastExecuted)
			}
			if path := trace.LatestFile(rt.settings.DebugDir, wf.Name); path != "" {
				fmt.Printf("Last trace: %s\n", path)
			}
			return nil
		},
	}
	return cmd
}

func newWorkflowShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a saved workflow as JSON IR or pflow markdown",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			wf, err := rt.library.Load(args[0])
			if err != nil {
				return err
			}
			switch format {
			case "json":
				data, err := wf.MarshalIndent()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			case "markdown", "md":
				fmt.Print(ir.ExportMarkdown(wf))
				return nil
			default:
				return usageError("unknown format %q, expected json or markdown", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or markdown")
	return cmd
}

func newWorkflowSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search saved workflows by name, description and keywords",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			summaries, err := rt.library.Search(args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(map[string]any{"workflows": summaries})
			}
			if len(summaries) == 0 {
				fmt.Printf("%s no workflows match %q\n", text.FgYellow.Sprint("!"), args[0])
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%s  %s\n", text.FgHiCyan.Sprint(s.Name), s.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit matches as JSON on stdout")
	return cmd
}

func newWorkflowDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved workflow",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if err := rt.library.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("%s deleted %s\n", text.FgGreen.Sprint("✓"), args[0])
			return nil
		},
	}
	return cmd
}
