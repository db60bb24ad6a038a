package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/storage"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show keys, pending messages and active filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				keys, err := store.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				active := 0
				for _, k := range keys {
					if !k.Revoked() {
						active++
					}
				}

				pending, err := store.CountPending(ctx)
				if err != nil {
					return err
				}
				filters, err := store.ListEnabledFilters(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				bold := color.New(color.Bold).SprintFunc()
				fmt.Fprintln(out, bold("Gateway status"))
				fmt.Fprintf(out, "Version:         %s\n", version)
				fmt.Fprintf(out, "API keys:        %d active, %d revoked\n", active, len(keys)-active)
				pendingText := fmt.Sprintf("%d", pending)
				if pending > 0 {
					pendingText = color.YellowString("%d", pending)
				}
				fmt.Fprintf(out, "Awaiting review: %s\n", pendingText)
				fmt.Fprintf(out, "Content filters: %d enabled\n", len(filters))
				return nil
			})
		},
	}
}
