package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sipico/comms-gateway/internal/logging"
	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

const historyBodyWidth = 40

func newHistoryCmd() *cobra.Command {
	var (
		status string
		agent  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List queued and decided messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := storage.HistoryFilter{Agent: agent, Limit: limit}
			if status != "" {
				s, err := message.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}

			return withStore(cmd, func(ctx context.Context, store *storage.SQLiteStorage) error {
				entries, err := store.ListHistory(ctx, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No messages.")
					return nil
				}
				fmt.Fprintln(out, historyTable(entries))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only messages in this status (pending, flagged, approved, denied, sent, failed)")
	cmd.Flags().StringVar(&agent, "agent", "", "only messages from keys whose name contains this text")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultHistoryLimit, "maximum number of messages")
	return cmd
}

func historyTable(entries []*storage.QueueEntry) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "AGENT", "CH", "TO", "BODY", "STATUS")
	for _, e := range entries {
		body := e.Body
		if e.Subject != nil {
			body = *e.Subject
		}
		t.Row(
			shortID(e.ID),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.AgentName,
			e.Channel.String(),
			logging.MaskAddress(e.RecipientAddress),
			truncate(body, historyBodyWidth),
			statusColor(e.Status)(e.Status.String()),
		)
	}
	return t.String()
}

// truncate collapses whitespace and cuts s to width cells.
func truncate(s string, width int) string {
	return ansi.Truncate(strings.Join(strings.Fields(s), " "), width, "…")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// statusColor returns the color function of a status.
func statusColor(s message.Status) func(a ...any) string {
	switch s {
	case message.StatusSent:
		return color.New(color.FgGreen).SprintFunc()
	case message.StatusFailed:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case message.StatusDenied:
		return color.New(color.FgYellow).SprintFunc()
	case message.StatusFlagged:
		return color.New(color.FgMagenta).SprintFunc()
	case message.StatusPending, message.StatusApproved:
		return color.New(color.FgCyan).SprintFunc()
	default:
		return fmt.Sprint
	}
}
