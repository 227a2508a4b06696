//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the neighbour resolution daemon",
		RunE: func(c *cobra.Command, args []string) error {
			return fmt.Errorf("the daemon is not supported on %s", runtime.GOOS)
		},
	}
}
