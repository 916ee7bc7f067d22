package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/azsession/cosmosstate/internal/store"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "inspect <session-id>",
		Short:        "Print the content record stored for one session id",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := connectBackend()
			if err != nil {
				return err
			}
			defer backend.Close()

			sessionID := args[0]
			rec, err := backend.ReadContent(cmd.Context(), sessionID, store.ConsistencyDefault)
			out := cmd.OutOrStdout()
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintf(out, "session %q: no content record\n", sessionID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			fmt.Fprintf(out, "session:      %s\n", rec.ID)
			fmt.Fprintf(out, "etag:         %s\n", rec.ETag)
			fmt.Fprintf(out, "ttl_seconds:  %d\n", rec.TTLSeconds)
			fmt.Fprintf(out, "created_date: %s\n", rec.CreatedDate.Format("2006-01-02T15:04:05.000Z07:00"))
			fmt.Fprintf(out, "is_new:       %t\n", rec.IsNew)
			fmt.Fprintf(out, "compressed:   %t\n", rec.Compressed)
			fmt.Fprintf(out, "payload_size: %d bytes\n", len(rec.Payload))
			return nil
		},
	}
}
