package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"pflow/internal/compiler"
	"pflow/internal/llm"
	"pflow/internal/nodes"
	"pflow/internal/trace"
	"pflow/internal/workflow"
	"pflow/pkg/logging"
)

func newRunCmd() *cobra.Command {
	var noTrace bool

	cmd := &cobra.Command{
		Use:   "run <workflow> [key=value ...]",
		Short: "Execute a workflow",
		Long: `Execute a saved workflow by name or a workflow file (.json or
.pflow.md). Inputs are passed as key=value arguments; values that parse as
JSON keep their native type.`,
		Args: minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return runWorkflow(cmd.Context(), args[0], inputs, noTrace)
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "emit the result envelope as JSON on stdout")
	cmd.Flags().BoolVar(&noTrace, "no-trace", false, "skip writing the execution trace file")
	return cmd
}

func runWorkflow(parent context.Context, ref string, inputs map[string]any, noTrace bool) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	wf, fromLibrary, err := rt.loadWorkflow(ref)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := rt.syncMCP(ctx, false); err != nil {
		logging.Warn("CLI", "mcp discovery failed, continuing with cached catalog: %v", err)
	}

	collector := trace.New(wf.Name, "", inputs)
	llmClient := llm.FromEnv(rt.settings.AnthropicAPIKey, rt.settings.OpenAIAPIKey, collector)
	compiled, err := compiler.Compile(wf, compiler.Deps{
		Registry:  rt.registry,
		Nodes:     nodes.DefaultDeps(llmClient),
		MCPConfig: rt.mcpConfig,
		Collector: collector,
	})
	if err != nil {
		return err
	}

	var spin *spinner.Spinner
	if !flagJSON {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = fmt.Sprintf(" Running %s...", wf.Name)
		spin.Start()
	}

	result, err := workflow.New(collector).Execute(ctx, compiled, inputs)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}

	if !noTrace {
		if path, werr := collector.Write(rt.settings.DebugDir); werr != nil {
			logging.Warn("CLI", "failed to write trace: %v", werr)
		} else {
			result.TracePath = path
		}
	}
	if fromLibrary && result.Status == workflow.StatusCompleted {
		if err := rt.library.RecordExecution(ref, time.Now()); err != nil {
			logging.Warn("CLI", "failed to record execution: %v", err)
		}
	}

	if flagJSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printResult(result)
	}

	switch result.Status {
	case workflow.StatusCompleted:
		return nil
	case workflow.StatusCancelled:
		return exitWith(ExitCodeInterrupt, errors.New("execution interrupted"))
	default:
		return exitWith(ExitCodeError, fmt.Errorf("workflow %s failed", wf.Name))
	}
}

func printResult(result *workflow.Result) {
	switch result.Status {
	case workflow.StatusCompleted:
		fmt.Printf("%s %s completed in %dms\n", text.FgGreen.Sprint("✓"), result.Workflow, result.DurationMS)
	case workflow.StatusCancelled:
		fmt.Printf("%s %s cancelled after %dms\n", text.FgYellow.Sprint("✗"), result.Workflow, result.DurationMS)
	default:
		fmt.Printf("%s %s failed after %dms\n", text.FgRed.Sprint("✗"), result.Workflow, result.DurationMS)
	}

	if result.Error != nil {
		fmt.Printf("\n%s node %q (%s): %s\n", text.FgRed.Sprint("error:"), result.Error.NodeID, result.Error.Type, result.Error.Message)
		if result.Error.Suggestion != "" {
			fmt.Printf("%s %s\n", text.FgYellow.Sprint("hint:"), result.Error.Suggestion)
		}
	}

	if len(result.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for _, key := range sortedOutputKeys(result.Outputs) {
			fmt.Printf("  %s: %s\n", text.FgHiCyan.Sprint(key), formatOutput(result.Outputs[key]))
		}
	}
	if result.TracePath != "" {
		fmt.Printf("\nTrace: %s\n", result.TracePath)
	}
}

func formatOutput(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedOutputKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
