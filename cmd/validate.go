package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pflow/internal/api"
	"pflow/internal/compiler"
	"pflow/internal/nodes"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow without executing it",
		Long: `Validate a workflow file or saved workflow: schema, node types,
graph structure and template references. Exits 0 when valid, 1 with a
structured error report when not.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateWorkflow(cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the validation report as JSON on stdout")
	return cmd
}

func validateWorkflow(cmd *cobra.Command, ref string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	wf, _, err := rt.loadWorkflow(ref)
	if err == nil {
		if _, serr := rt.syncMCP(cmd.Context(), false); serr != nil {
			return serr
		}
		_, err = compiler.Compile(wf, compiler.Deps{
			Registry:  rt.registry,
			Nodes:     nodes.DefaultDeps(nil),
			MCPConfig: rt.mcpConfig,
		})
	}

	if err != nil {
		if flagJSON {
			payload := map[string]any{"valid": false, "error": err.Error()}
			if structured := api.AsError(err); structured != nil {
				payload["error"] = structured
			}
			if perr := printJSON(payload); perr != nil {
				return perr
			}
			return exitWith(ExitCodeError, fmt.Errorf("workflow is invalid"))
		}
		fmt.Printf("%s %s\n", text.FgRed.Sprint("✗"), err.Error())
		if structured := api.AsError(err); structured != nil && structured.Suggestion != "" {
			fmt.Printf("%s %s\n", text.FgYellow.Sprint("hint:"), structured.Suggestion)
		}
		return exitWith(ExitCodeError, fmt.Errorf("workflow is invalid"))
	}

	if flagJSON {
		return printJSON(map[string]any{"valid": true, "name": wf.Name, "nodes": len(wf.Nodes)})
	}
	fmt.Printf("%s %s is valid (%d nodes)\n", text.FgGreen.Sprint("✓"), wf.Name, len(wf.Nodes))
	return nil
}
