package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is stamped by the release build:
// -ldflags "-X github.com/nfrund/periskope/cmd/periskope-cli/cmd.version=1.2.3"
var version = "0.1.0"

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the periskope-cli version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "periskope-cli v%s\n", version)
			if verbose {
				fmt.Fprintf(out, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print the Go toolchain and platform")
	return cmd
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
