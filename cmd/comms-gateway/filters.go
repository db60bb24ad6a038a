package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/filter"
	"github.com/sipico/comms-gateway/internal/storage"
)

const reloadHint = "A running server applies filter changes on SIGHUP or restart."

func newFiltersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Manage content filters",
		Long: "Content filters match message text case-insensitively. A deny filter rejects\n" +
			"the message outright; a flag filter queues it with a warning for the reviewer.",
	}
	cmd.AddCommand(
		newFiltersListCmd(),
		newFiltersAddCmd(),
		filterToggleCmd("enable", "Enable a filter", true),
		filterToggleCmd("disable", "Disable a filter", false),
		newFiltersRemoveCmd(),
	)
	return cmd
}

func newFiltersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				filters, err := store.ListFilters(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(filters) == 0 {
					fmt.Fprintln(out, "No content filters.")
					return nil
				}

				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("ID", "TYPE", "ACTION", "PATTERN", "DESCRIPTION", "ENABLED")
				for _, f := range filters {
					action := color.YellowString(string(f.Action))
					if f.Action == storage.ActionDeny {
						action = color.RedString(string(f.Action))
					}
					enabled := "no"
					if f.Enabled {
						enabled = "yes"
					}
					t.Row(strconv.FormatInt(f.ID, 10), string(f.PatternType), action, truncate(f.Pattern, 40), f.Description, enabled)
				}
				fmt.Fprintln(out, t.String())
				return nil
			})
		},
	}
}

func newFiltersAddCmd() *cobra.Command {
	var (
		patternType string
		action      string
		description string
		disabled    bool
	)

	cmd := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Add a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &storage.ContentFilter{
				Pattern:     args[0],
				PatternType: storage.PatternType(patternType),
				Action:      storage.FilterAction(action),
				Description: description,
				Enabled:     !disabled,
			}
			if err := filter.Validate(f); err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				created, err := store.CreateFilter(ctx, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added %s filter %d.\n", created.Action, created.ID)
				fmt.Fprintln(out, reloadHint)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&patternType, "type", string(storage.PatternRegex), "pattern type: regex or literal")
	cmd.Flags().StringVar(&action, "action", string(storage.ActionFlag), "action on match: deny or flag")
	cmd.Flags().StringVar(&description, "description", "", "reason shown to agents and reviewers")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the filter without enabling it")
	return cmd
}

func filterToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFilterID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				if err := store.SetFilterEnabled(ctx, id, enabled); err != nil {
					return fmt.Errorf("filter %d: %w", id, err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Filter %d %sd.\n", id, use)
				fmt.Fprintln(out, reloadHint)
				return nil
			})
		},
	}
}

func newFiltersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFilterID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				if err := store.DeleteFilter(ctx, id); err != nil {
					return fmt.Errorf("filter %d: %w", id, err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed filter %d.\n", id)
				fmt.Fprintln(out, reloadHint)
				return nil
			})
		},
	}
}

func parseFilterID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid filter ID %q", s)
	}
	return id, nil
}
