//go:build linux

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/common/go/logging"
	"github.com/yanet-platform/neighd/common/go/xcmd"
	"github.com/yanet-platform/neighd/internal/daemon"
	"github.com/yanet-platform/neighd/internal/version"
)

type runCmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

func newRunCmd() *cobra.Command {
	cmd := runCmd{}

	c := &cobra.Command{
		Use:   "run",
		Short: "Run the neighbour resolution daemon",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			err := cmd.run()
			if xcmd.IsInterrupted(err) {
				return nil
			}
			return err
		},
	}
	c.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	c.MarkFlagRequired("config")

	return c
}

func (m *runCmd) run() error {
	cfg, err := daemon.LoadConfig(m.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, atomicLevel, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	log.Infow("starting neighd", "version", version.Version())

	d, err := daemon.NewDaemon(cfg, daemon.WithLog(log), daemon.WithAtomicLogLevel(&atomicLevel))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	wg, ctx := errgroup.WithContext(context.Background())
	wg.Go(func() error {
		return d.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
