// Package cmd implements the pflow command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pflow/pkg/logging"
)

// Exit codes, stable for scripting.
const (
	ExitCodeSuccess   = 0
	ExitCodeError     = 1
	ExitCodeUsage     = 2
	ExitCodeInterrupt = 130
)

var (
	flagDebug bool
	flagJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "pflow",
	Short: "Declarative workflow engine for AI agents",
	Long: `pflow compiles declarative workflow documents (JSON IR or pflow
markdown) into executable node graphs and runs them: HTTP calls, LLM
completions, shell commands, file IO and any tool exposed by a configured
MCP server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

// exitCodeError carries a specific exit code up to Execute.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitCodeError{code: code, err: err}
}

func usageError(format string, args ...any) error {
	return exitWith(ExitCodeUsage, fmt.Errorf(format, args...))
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits the process with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pflow version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(ExitCodeError)
	}
}

func initLogging() {
	// JSON-emitting commands keep stdout clean for the machine consumer.
	if flagJSON {
		logging.InitQuiet()
		return
	}
	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	// Flag parse failures are usage errors, not execution failures.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitWith(ExitCodeUsage, err)
	})

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newNodeCmd())
	rootCmd.AddCommand(newWorkflowCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// exactArgs wraps cobra's validator so arg count mistakes exit 2.
func exactArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.ExactArgs(n))
}

func minimumArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.MinimumNArgs(n))
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return wrapArgs(cobra.RangeArgs(min, max))
}

func wrapArgs(inner cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return exitWith(ExitCodeUsage, err)
		}
		return nil
	}
}
