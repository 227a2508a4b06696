package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "neighd",
	Short:   "Neighbour resolution daemon for the switch control plane",
	Version: version.Version(),
	// Subcommands report their own errors.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(
		newRunCmd(),
		newShowCmd(),
		newFlushCmd(),
		newResolveCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}
