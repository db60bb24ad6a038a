// Package console implements the interactive approval console: a terminal
// list of messages awaiting review, with a detail page and approve/deny
// actions.
//
// The console never talks to the HTTP server. It reads the queue from
// storage and decides through the same review service the management
// endpoints use, so both paths dispatch and notify identically.
package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

// Source lists the messages awaiting review.
type Source interface {
	ListPendingAndFlagged(ctx context.Context) ([]*storage.QueueEntry, error)
}

// Reviewer decides on a message. *review.Service satisfies it.
type Reviewer interface {
	Approve(ctx context.Context, id string) (*storage.QueueEntry, error)
	Deny(ctx context.Context, id string) (*storage.QueueEntry, error)
}

type page int

const (
	pageList page = iota
	pageDetail
)

// entriesMsg carries a fresh queue listing.
type entriesMsg struct {
	entries []*storage.QueueEntry
	err     error
}

// decisionMsg carries the outcome of an approve or deny.
type decisionMsg struct {
	decision string
	entry    *storage.QueueEntry
	err      error
}

// Model is the bubbletea model of the console.
type Model struct {
	ctx      context.Context
	source   Source
	reviewer Reviewer
	keys     KeyMap
	theme    Theme
	help     help.Model

	entries []*storage.QueueEntry
	cursor  int
	page    page
	loaded  bool
	busy    bool

	// status is the result line of the last action.
	status     string
	statusGood bool

	width  int
	height int
}

// Option configures a Model.
type Option func(*Model)

// WithKeyMap replaces the default key bindings.
func WithKeyMap(keys KeyMap) Option {
	return func(m *Model) { m.keys = keys }
}

// WithTheme replaces the default theme.
func WithTheme(theme Theme) Option {
	return func(m *Model) { m.theme = theme }
}

// NewModel creates a console model.
func NewModel(ctx context.Context, source Source, reviewer Reviewer, opts ...Option) Model {
	m := Model{
		ctx:      ctx,
		source:   source,
		reviewer: reviewer,
		keys:     DefaultKeyMap,
		theme:    DefaultTheme,
		help:     help.New(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts the console on the terminal and blocks until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, source Source, reviewer Reviewer, opts ...Option) error {
	program := tea.NewProgram(NewModel(ctx, source, reviewer, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model by loading the queue.
func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.source.ListPendingAndFlagged(m.ctx)
		return entriesMsg{entries: entries, err: err}
	}
}

func (m Model) decide(decision string, id string) tea.Cmd {
	return func() tea.Msg {
		var (
			entry *storage.QueueEntry
			err   error
		)
		if decision == "approve" {
			entry, err = m.reviewer.Approve(m.ctx, id)
		} else {
			entry, err = m.reviewer.Deny(m.ctx, id)
		}
		return decisionMsg{decision: decision, entry: entry, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case entriesMsg:
		m.loaded = true
		if msg.err != nil {
			m.setStatus(false, "Error: %v", msg.err)
			return m, nil
		}
		m.entries = msg.entries
		m.clampCursor()
		if len(m.entries) == 0 {
			m.page = pageList
		}
		return m, nil

	case decisionMsg:
		m.busy = false
		m.page = pageList
		m.reportDecision(msg)
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	// Decisions run one at a time; everything but quit waits.
	if m.busy {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.page == pageList && m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.page == pageList && m.cursor < len(m.entries)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Detail):
		if m.selected() != nil {
			m.page = pageDetail
		}

	case key.Matches(msg, m.keys.Back):
		m.page = pageList

	case key.Matches(msg, m.keys.Approve), key.Matches(msg, m.keys.Deny):
		entry := m.selected()
		if entry == nil {
			return m, nil
		}
		decision := "deny"
		if key.Matches(msg, m.keys.Approve) {
			decision = "approve"
		}
		m.busy = true
		m.status = fmt.Sprintf("%s %s...", progressVerb(decision), shortID(entry.ID))
		m.statusGood = true
		return m, m.decide(decision, entry.ID)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()
	}
	return m, nil
}

func (m *Model) reportDecision(msg decisionMsg) {
	if msg.err != nil {
		m.setStatus(false, "Error: %v", msg.err)
		return
	}
	id := shortID(msg.entry.ID)
	switch msg.entry.Status {
	case message.StatusSent:
		m.setStatus(true, "Sent %s.", id)
	case message.StatusFailed:
		reason := "unknown error"
		if msg.entry.ErrorMessage != nil {
			reason = *msg.entry.ErrorMessage
		}
		m.setStatus(false, "Send failed for %s: %s", id, reason)
	case message.StatusDenied:
		m.setStatus(true, "Denied %s.", id)
	default:
		m.setStatus(true, "%s is %s.", id, msg.entry.Status)
	}
}

func (m *Model) setStatus(good bool, format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusGood = good
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() *storage.QueueEntry {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return nil
	}
	return m.entries[m.cursor]
}

func progressVerb(decision string) string {
	if decision == "approve" {
		return "Approving"
	}
	return "Denying"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
