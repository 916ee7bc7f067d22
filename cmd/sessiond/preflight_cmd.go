package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/azsession/cosmosstate/internal/diagnostics"
)

func newPreflightCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "preflight",
		Short:        "Run a connectivity preflight: point read/write, conditional replace, delete, lock create/release",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := connectBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			result, err := diagnostics.Verify(cmd.Context(), viper.GetString("database"), viper.GetString("container"), backend)
			if err != nil {
				return fmt.Errorf("preflight: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", result.DatabaseID)
			fmt.Fprintf(out, "Container: %s\n", result.ContainerID)
			fmt.Fprintf(out, "Lock TTL: %s\n", backend.LockTTL())
			for _, check := range result.Checks {
				status := "ok"
				if check.Err != nil {
					status = check.Err.Error()
				}
				fmt.Fprintf(out, "  %-20s %s\n", check.Name, status)
			}
			usedBytes := result.Host.UsedMemoryMB * 1024 * 1024
			totalBytes := result.Host.TotalMemoryMB * 1024 * 1024
			fmt.Fprintf(out, "Host: %s (%s, kernel %s), memory %s/%s (%.1f%%)\n",
				result.Host.Hostname, result.Host.Platform, result.Host.KernelVersion,
				humanize.Bytes(usedBytes), humanize.Bytes(totalBytes), result.Host.MemoryUsPercent)

			if !result.Passed() {
				return fmt.Errorf("preflight: one or more checks failed")
			}
			fmt.Fprintln(out, "all checks passed")
			return nil
		},
	}
}
