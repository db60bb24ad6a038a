package console

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

const (
	defaultWidth  = 80
	maxBodyLines  = 15
	wideThreshold = 100
)

// layout holds the column widths of the queue list.
type layout struct {
	channel, to, subject, body, agent, priority int
}

// layoutFor sizes the columns to the terminal width. Narrow terminals drop
// the body column.
func layoutFor(width int) layout {
	if width >= wideThreshold {
		l := layout{channel: 8, to: 20, subject: 24, agent: 15, priority: 6}
		// Marker, five separators and the fixed columns.
		used := 1 + 5*2 + l.channel + l.to + l.subject + l.agent + l.priority
		l.body = max(width-used, 10)
		return l
	}
	return layout{channel: 6, to: 15, subject: 20, agent: 10, priority: 6}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.loaded {
		return "Loading queue...\n"
	}
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	var b strings.Builder
	if m.page == pageDetail && m.selected() != nil {
		m.renderDetail(&b, m.selected(), width)
		b.WriteString("\n")
		b.WriteString(m.help.View(detailHelp(m.keys)))
	} else {
		m.renderList(&b, width)
		b.WriteString("\n")
		b.WriteString(m.help.View(m.keys))
	}
	b.WriteString("\n")
	if m.status != "" {
		color := m.theme.Success
		if !m.statusGood {
			color = m.theme.Failure
		}
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render(ansi.Truncate(m.status, width, "…")))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderList(b *strings.Builder, width int) {
	header := lipgloss.NewStyle().Bold(true).Foreground(m.theme.HeaderForeground)
	b.WriteString(header.Render(fmt.Sprintf("GATEWAY QUEUE (%d pending)", len(m.entries))))
	b.WriteString("\n\n")

	l := layoutFor(width)
	columns := []string{"CH", "TO", "SUBJECT", "BODY", "AGENT", "PRI"}
	b.WriteString(lipgloss.NewStyle().Foreground(m.theme.FaintText).Render(" " + l.row(columns)))
	b.WriteString("\n")

	if len(m.entries) == 0 {
		b.WriteString("  No pending messages.\n")
		return
	}

	for i, e := range m.entries {
		subject := ""
		if e.Subject != nil {
			subject = *e.Subject
		} else if l.body == 0 {
			subject = e.Body
		}
		to := e.RecipientAddress
		if e.RecipientName != nil && *e.RecipientName != "" {
			to = *e.RecipientName
		}
		marker := " "
		if e.Status == message.StatusFlagged {
			marker = "!"
		}
		line := marker + l.row([]string{
			strings.ToUpper(e.Channel.String()),
			to,
			subject,
			oneLine(e.Body),
			agentName(e),
			e.Priority.String(),
		})

		style := lipgloss.NewStyle().Foreground(m.theme.PriorityColor(e.Priority))
		if e.Status == message.StatusFlagged {
			style = style.Foreground(m.theme.Flagged)
		}
		if i == m.cursor {
			style = style.Background(m.theme.SelectedBackground).Bold(true)
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
}

// row pads and truncates cells to the layout. A zero width omits the column.
func (l layout) row(cells []string) string {
	widths := []int{l.channel, l.to, l.subject, l.body, l.agent, l.priority}
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if widths[i] == 0 {
			continue
		}
		parts = append(parts, pad(ansi.Truncate(cell, widths[i], "…"), widths[i]))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderDetail(b *strings.Builder, e *storage.QueueEntry, width int) {
	header := lipgloss.NewStyle().Bold(true).Foreground(m.theme.HeaderForeground)
	b.WriteString(header.Render("MESSAGE DETAIL"))
	b.WriteString("\n\n")

	if e.Status == message.StatusFlagged {
		flagged := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Flagged)
		b.WriteString(flagged.Render("!! FLAGGED - Review carefully (matched content filter) !!"))
		b.WriteString("\n\n")
	}

	field := func(label, value string) {
		fmt.Fprintf(b, "%-10s %s\n", label+":", value)
	}
	field("Agent", agentName(e))
	field("Channel", strings.ToUpper(e.Channel.String()))
	field("Priority", e.Priority.String())
	field("Status", e.Status.String())
	field("Queued", e.CreatedAt.Local().Format("2006-01-02 15:04"))
	b.WriteString("\n")
	field("To", e.RecipientAddress)
	if e.RecipientName != nil && *e.RecipientName != "" {
		fmt.Fprintf(b, "%-10s (%s)\n", "", *e.RecipientName)
	}
	if e.Subject != nil {
		b.WriteString("\n")
		field("Subject", *e.Subject)
	}

	rule := lipgloss.NewStyle().Foreground(m.theme.BorderColor).Render(strings.Repeat("─", min(width, 61)))
	b.WriteString("\nMessage:\n")
	b.WriteString(rule + "\n")
	lines := strings.Split(e.Body, "\n")
	for i, line := range lines {
		if i == maxBodyLines {
			b.WriteString("  ...(truncated)\n")
			break
		}
		b.WriteString("  " + ansi.Truncate(line, max(width-2, 1), "…") + "\n")
	}
	b.WriteString(rule + "\n")

	if ctx := contextFields(e.AgentContext); len(ctx) > 0 {
		b.WriteString("\nContext:\n")
		for _, kv := range ctx {
			b.WriteString("  " + ansi.Truncate(kv, max(width-2, 1), "…") + "\n")
		}
	}
}

// contextFields renders the top-level fields of an agent context object,
// sorted by key. Other JSON values render as a single line.
func contextFields(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return []string{oneLine(string(raw))}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + ": " + string(obj[k])
	}
	return out
}

func agentName(e *storage.QueueEntry) string {
	if e.AgentName == "" {
		return "Unknown"
	}
	return e.AgentName
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pad(s string, width int) string {
	if gap := width - ansi.StringWidth(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
