package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/internal/api"
)

func newShowCmd() *cobra.Command {
	flags := clientFlags{}

	c := &cobra.Command{
		Use:   "show",
		Short: "Show neighbour entries of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			scope, err := flags.scope()
			if err != nil {
				return err
			}

			client, ctx, cancel, err := flags.connect(c.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			entries, err := client.List(ctx, scope)
			if err != nil {
				return fmt.Errorf("failed to list neighbours: %w", err)
			}

			return writeEntries(c.OutOrStdout(), entries, time.Now())
		},
	}
	flags.register(c)

	return c
}

func writeEntries(w io.Writer, entries []api.Entry, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tADDRESS\tSTATE\tLINK ADDRESS\tPORT\tPROBES\tAGE\tNEXT")

	for _, entry := range entries {
		linkAddr, port := "-", "-"
		if entry.LinkAddr != nil {
			linkAddr = entry.LinkAddr.String()
			port = fmt.Sprint(entry.Port)
		}

		next := "-"
		if !entry.NextActionAt.IsZero() {
			next = entry.NextActionAt.Sub(now).Round(time.Millisecond).String()
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			entry.Scope,
			entry.Addr,
			entry.State,
			linkAddr,
			port,
			entry.Retries,
			entry.Age.Round(time.Millisecond),
			next,
		)
	}

	return tw.Flush()
}
