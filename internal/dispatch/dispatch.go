// Package dispatch hands approved messages to the programs that deliver them.
//
// The gateway does not speak SMS, iMessage or SMTP itself. Each channel is
// bound to a Sender; the production Sender runs an external command and
// writes the message to its stdin as JSON.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

// ErrNoSender is returned when no Sender is registered for a channel.
var ErrNoSender = errors.New("no sender configured for channel")

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, e *storage.QueueEntry) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, e *storage.QueueEntry) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, e *storage.QueueEntry) error {
	return f(ctx, e)
}

// Registry routes messages to the Sender registered for their channel.
type Registry struct {
	mu      sync.RWMutex
	senders map[message.Channel]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[message.Channel]Sender)}
}

// Register binds s to channel, replacing any previous binding.
func (r *Registry) Register(channel message.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// Channels returns the channels that have a Sender, in channel order.
func (r *Registry) Channels() []message.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]message.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// Send delivers e through the Sender for its channel.
func (r *Registry) Send(ctx context.Context, e *storage.QueueEntry) error {
	r.mu.RLock()
	s, ok := r.senders[e.Channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, e.Channel)
	}
	return s.Send(ctx, e)
}

// Job is the JSON document written to a command's stdin.
type Job struct {
	ActionID      string           `json:"action_id"`
	Channel       message.Channel  `json:"channel"`
	Recipient     string           `json:"recipient"`
	RecipientName *string          `json:"recipient_name,omitempty"`
	Subject       *string          `json:"subject,omitempty"`
	Body          string           `json:"body"`
	Priority      message.Priority `json:"priority"`
}

// NewJob builds the stdin document for e.
func NewJob(e *storage.QueueEntry) Job {
	return Job{
		ActionID:      e.ID,
		Channel:       e.Channel,
		Recipient:     e.RecipientAddress,
		RecipientName: e.RecipientName,
		Subject:       e.Subject,
		Body:          e.Body,
		Priority:      e.Priority,
	}
}

// SendError is a failed command run. Its message becomes the queue entry's
// error_message.
type SendError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *SendError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// maxStderr caps how much stderr is kept in a SendError.
const maxStderr = 1024

// DefaultCommandTimeout bounds a single command run. It stays below the
// default request timeout so an approval can report the outcome.
const DefaultCommandTimeout = 20 * time.Second

// CommandSender runs an external program per message.
type CommandSender struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// ParseCommand splits a whitespace-separated command line. Quoting is not
// supported; wrap complex invocations in a script.
func ParseCommand(line string) (*CommandSender, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty send command")
	}
	return &CommandSender{Path: fields[0], Args: fields[1:], Timeout: DefaultCommandTimeout}, nil
}

// Send runs the command with the job on stdin. A non-zero exit is a
// *SendError carrying the trimmed stderr.
func (c *CommandSender) Send(ctx context.Context, e *storage.QueueEntry) error {
	payload, err := json.Marshal(NewJob(e))
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := truncateUTF8(strings.TrimSpace(stderr.String()), maxStderr)
		return &SendError{Command: c.Path, Err: err, Stderr: msg}
	}
	return nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// LogSender logs messages instead of sending them.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs e and succeeds.
func (s LogSender) Send(_ context.Context, e *storage.QueueEntry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run: message not sent",
		"action_id", e.ID,
		"channel", e.Channel.String(),
		"body_length", len(e.Body),
	)
	return nil
}
