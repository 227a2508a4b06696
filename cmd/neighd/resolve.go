package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	flags := clientFlags{}
	wait := false

	c := &cobra.Command{
		Use:   "resolve ADDRESS",
		Short: "Start resolution of a neighbour",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			scope, err := flags.requireScope()
			if err != nil {
				return err
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}

			client, ctx, cancel, err := flags.connect(c.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			resolution, err := client.Resolve(ctx, scope, addr, wait)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", addr, err)
			}

			if !resolution.Resolved {
				fmt.Fprintf(c.OutOrStdout(), "%s: resolution in progress\n", addr)
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "%s is at %s port %d\n", addr, resolution.LinkAddr, resolution.Port)
			return nil
		},
	}
	flags.register(c)
	c.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the resolution to complete")

	return c
}
