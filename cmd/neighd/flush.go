package main

import (
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"
)

func newFlushCmd() *cobra.Command {
	flags := clientFlags{}

	c := &cobra.Command{
		Use:   "flush [ADDRESS]",
		Short: "Invalidate a neighbour, or all neighbours of a scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			scope, err := flags.requireScope()
			if err != nil {
				return err
			}

			var addr netip.Addr
			if len(args) == 1 {
				if addr, err = parseAddr(args[0]); err != nil {
					return err
				}
			}

			client, ctx, cancel, err := flags.connect(c.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			count, err := client.Flush(ctx, scope, addr)
			if err != nil {
				return fmt.Errorf("failed to flush neighbours: %w", err)
			}

			fmt.Fprintf(c.OutOrStdout(), "flushed %d entries\n", count)
			return nil
		},
	}
	flags.register(c)

	return c
}
