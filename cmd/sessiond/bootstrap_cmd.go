package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "bootstrap",
		Short:        "Idempotently provision the database, container, and conflict-arbitration script",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rootLogger()
			backend, err := connectBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			if !lockTTLWasSet(cmd) {
				logger.Debug("bootstrap.lock_ttl_default")
			}
			logger.Info("bootstrap.start")
			if err := backend.Bootstrap(cmd.Context()); err != nil {
				logger.Error("bootstrap.failed", "error", err)
				return fmt.Errorf("bootstrap: %w", err)
			}
			logger.Info("bootstrap.done")
			fmt.Fprintln(cmd.OutOrStdout(), "bootstrap complete")
			return nil
		},
	}
}
