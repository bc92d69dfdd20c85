package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pflow version %s (%s/%s, %s)\n",
				rootCmd.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
