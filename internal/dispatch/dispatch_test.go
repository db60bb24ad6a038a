package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

func testEntry() *storage.QueueEntry {
	subject := "Lunch"
	return &storage.QueueEntry{
		ID:               "2d4f7c1e-8a3b-4e6d-9f0a-1b2c3d4e5f60",
		APIKeyID:         1,
		Channel:          message.ChannelEmail,
		RecipientAddress: "pat@example.com",
		Subject:          &subject,
		Body:             "Noon at the usual place?",
		Priority:         message.PriorityHigh,
		Status:           message.StatusApproved,
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Empty(t, r.Channels())

	var got *storage.QueueEntry
	r.Register(message.ChannelEmail, SenderFunc(func(_ context.Context, e *storage.QueueEntry) error {
		got = e
		return nil
	}))
	r.Register(message.ChannelSMS, LogSender{})

	assert.Equal(t, []message.Channel{message.ChannelSMS, message.ChannelEmail}, r.Channels())

	e := testEntry()
	require.NoError(t, r.Send(context.Background(), e))
	assert.Same(t, e, got)

	e.Channel = message.ChannelIMessage
	err := r.Send(context.Background(), e)
	require.ErrorIs(t, err, ErrNoSender)
	assert.Contains(t, err.Error(), "imessage")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	c, err := ParseCommand("  /usr/local/bin/send-sms --from  +15550000000 ")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/send-sms", c.Path)
	assert.Equal(t, []string{"--from", "+15550000000"}, c.Args)
	assert.Equal(t, DefaultCommandTimeout, c.Timeout)

	_, err = ParseCommand("   ")
	assert.Error(t, err)
}

func TestCommandSenderWritesJobToStdin(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "job.json")
	c := &CommandSender{Path: "sh", Args: []string{"-c", `cat > "$0"`, out}}

	require.NoError(t, c.Send(context.Background(), testEntry()))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	var job Job
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, "2d4f7c1e-8a3b-4e6d-9f0a-1b2c3d4e5f60", job.ActionID)
	assert.Equal(t, message.ChannelEmail, job.Channel)
	assert.Equal(t, "pat@example.com", job.Recipient)
	require.NotNil(t, job.Subject)
	assert.Equal(t, "Lunch", *job.Subject)
	assert.Equal(t, message.PriorityHigh, job.Priority)
	assert.Contains(t, string(raw), `"channel":"email"`)
	assert.NotContains(t, string(raw), "recipient_name")
}

func TestCommandSenderFailure(t *testing.T) {
	t.Parallel()

	c := &CommandSender{Path: "sh", Args: []string{"-c", `echo "  carrier rejected number  " >&2; exit 3`}}
	err := c.Send(context.Background(), testEntry())

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "carrier rejected number", sendErr.Stderr)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "carrier rejected number")
}

func TestCommandSenderTruncatesStderr(t *testing.T) {
	t.Parallel()

	c := &CommandSender{Path: "sh", Args: []string{"-c", `head -c 5000 /dev/zero | tr '\0' x >&2; exit 1`}}
	err := c.Send(context.Background(), testEntry())

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Len(t, sendErr.Stderr, maxStderr)
}

func TestCommandSenderTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// A one-byte prefix before 2-byte runes puts every rune boundary at an
	// odd offset, so an even limit lands mid-rune.
	c := &CommandSender{Path: "sh", Args: []string{"-c", `printf 'x'; i=0; while [ $i -lt 3000 ]; do printf 'é'; i=$((i+1)); done >&2; exit 1`}}
	err := c.Send(context.Background(), testEntry())

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.LessOrEqual(t, len(sendErr.Stderr), maxStderr)
	assert.True(t, utf8.ValidString(sendErr.Stderr), "stderr must stay valid UTF-8")
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "truncateUTF8(%q, %d)", tt.in, tt.n)
	}
}

func TestCommandSenderMissingBinary(t *testing.T) {
	t.Parallel()

	c := &CommandSender{Path: filepath.Join(t.TempDir(), "does-not-exist")}
	err := c.Send(context.Background(), testEntry())

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Empty(t, sendErr.Stderr)
}

func TestCommandSenderTimeout(t *testing.T) {
	t.Parallel()

	c := &CommandSender{Path: "sleep", Args: []string{"10"}, Timeout: 50 * time.Millisecond}

	start := time.Now()
	err := c.Send(context.Background(), testEntry())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &SendError{Command: "x", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "x: boom", err.Error())
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	require.NoError(t, s.Send(context.Background(), testEntry()))

	out := logs.String()
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "channel=email")
	assert.False(t, strings.Contains(out, "Noon at the usual place"), "body must not be logged")
}
