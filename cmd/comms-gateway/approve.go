package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/config"
	"github.com/sipico/comms-gateway/internal/console"
)

func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve",
		Short: "Review queued messages interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// The console owns the terminal; logs would corrupt it.
			c, err := initializeComponents(cfg, io.Discard)
			if err != nil {
				return err
			}
			defer c.store.Close() //nolint:errcheck

			return console.Run(cmd.Context(), c.store, c.reviewer)
		},
	}
}
