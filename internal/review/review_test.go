package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/comms-gateway/internal/dispatch"
	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
	"github.com/sipico/comms-gateway/internal/testutil/mockstore"
	"github.com/sipico/comms-gateway/internal/webhook"
)

type recordingNotifier struct {
	mu      sync.Mutex
	entries []*storage.QueueEntry
}

func (n *recordingNotifier) Notify(_ context.Context, e *storage.QueueEntry) webhook.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
	return webhook.Delivered
}

func (n *recordingNotifier) statuses() []message.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]message.Status, len(n.entries))
	for i, e := range n.entries {
		out[i] = e.Status
	}
	return out
}

type fixture struct {
	store    *storage.SQLiteStorage
	notifier *recordingNotifier
	key      *storage.APIKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	key, err := s.CreateAPIKey(context.Background(), "calendar-agent", "hash", "gw_0123456", 0, 0)
	require.NoError(t, err)
	return &fixture{store: s, notifier: &recordingNotifier{}, key: key}
}

func (f *fixture) queue(t *testing.T, status message.Status) string {
	t.Helper()
	id, err := f.store.InsertQueueEntry(context.Background(), &storage.QueueEntry{
		APIKeyID:         f.key.ID,
		Channel:          message.ChannelSMS,
		RecipientAddress: "+15551234567",
		Body:             "Running 10 minutes late",
		Status:           status,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) service(sender dispatch.Sender) *Service {
	reg := dispatch.NewRegistry()
	reg.Register(message.ChannelSMS, sender)
	return NewService(f.store, reg, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func succeed(context.Context, *storage.QueueEntry) error { return nil }

func TestApproveSends(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusPending)

	var dispatched *storage.QueueEntry
	svc := f.service(dispatch.SenderFunc(func(_ context.Context, e *storage.QueueEntry) error {
		dispatched = e
		return nil
	}))

	entry, err := svc.Approve(context.Background(), id)
	require.NoError(t, err)

	require.NotNil(t, dispatched)
	assert.Equal(t, message.StatusApproved, dispatched.Status, "dispatch sees the approved entry")
	assert.Equal(t, message.StatusSent, entry.Status)
	assert.NotNil(t, entry.ReviewedAt)
	assert.NotNil(t, entry.SentAt)
	assert.Nil(t, entry.ErrorMessage)
	assert.Equal(t, []message.Status{message.StatusSent}, f.notifier.statuses())
}

func TestApproveFlagged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusFlagged)

	entry, err := f.service(dispatch.SenderFunc(succeed)).Approve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, entry.Status)
}

func TestApproveDispatchFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusPending)

	svc := f.service(dispatch.SenderFunc(func(context.Context, *storage.QueueEntry) error {
		return &dispatch.SendError{Command: "send-sms", Err: errors.New("exit status 1"), Stderr: "no signal"}
	}))

	entry, err := svc.Approve(context.Background(), id)
	require.NoError(t, err, "dispatch failure is recorded, not returned")
	assert.Equal(t, message.StatusFailed, entry.Status)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "send-sms: exit status 1: no signal", *entry.ErrorMessage)
	assert.NotNil(t, entry.SentAt)
	assert.Equal(t, []message.Status{message.StatusFailed}, f.notifier.statuses())
}

func TestApproveWithoutSender(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusPending)

	svc := NewService(f.store, dispatch.NewRegistry(), nil, nil)
	entry, err := svc.Approve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, message.StatusFailed, entry.Status)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "no sender configured")
}

func TestDeny(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusFlagged)

	sent := false
	svc := f.service(dispatch.SenderFunc(func(context.Context, *storage.QueueEntry) error {
		sent = true
		return nil
	}))

	entry, err := svc.Deny(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sent, "denied messages are never dispatched")
	assert.Equal(t, message.StatusDenied, entry.Status)
	assert.NotNil(t, entry.ReviewedAt)
	assert.Nil(t, entry.SentAt)
	assert.Equal(t, []message.Status{message.StatusDenied}, f.notifier.statuses())
}

func TestDecisionsSurviveUnreachableWebhook(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	url := srv.URL
	srv.Close()
	require.NoError(t, f.store.SetWebhookURL(ctx, f.key.ID, &url))

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := webhook.NewNotifier(f.store, webhook.WithTimeout(2*time.Second), webhook.WithLogger(quiet))
	reg := dispatch.NewRegistry()
	reg.Register(message.ChannelSMS, dispatch.SenderFunc(succeed))
	svc := NewService(f.store, reg, notifier, quiet)

	approved, err := svc.Approve(ctx, f.queue(t, message.StatusPending))
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, approved.Status)
	assert.NotNil(t, approved.ReviewedAt)
	assert.NotNil(t, approved.SentAt)

	denied, err := svc.Deny(ctx, f.queue(t, message.StatusFlagged))
	require.NoError(t, err)
	assert.Equal(t, message.StatusDenied, denied.Status)
	assert.NotNil(t, denied.ReviewedAt)

	stored, err := f.store.GetQueueEntry(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, stored.Status, "webhook failure leaves the row as sent")
}

func TestHistoryAfterDecisions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(dispatch.SenderFunc(succeed))
	ctx := context.Background()

	deniedID := f.queue(t, message.StatusPending)
	sentID := f.queue(t, message.StatusFlagged)

	_, err := svc.Deny(ctx, deniedID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, sentID)
	require.NoError(t, err)

	history, err := f.store.ListHistory(ctx, storage.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)

	byID := make(map[string]*storage.QueueEntry, len(history))
	for _, e := range history {
		byID[e.ID] = e
	}

	denied := byID[deniedID]
	require.NotNil(t, denied)
	assert.Equal(t, message.StatusDenied, denied.Status)
	require.NotNil(t, denied.ReviewedAt)
	assert.False(t, denied.ReviewedAt.Before(denied.CreatedAt))
	assert.Nil(t, denied.SentAt)

	sent := byID[sentID]
	require.NotNil(t, sent)
	assert.Equal(t, message.StatusSent, sent.Status)
	require.NotNil(t, sent.ReviewedAt)
	require.NotNil(t, sent.SentAt)
	assert.False(t, sent.ReviewedAt.Before(sent.CreatedAt))
	assert.False(t, sent.SentAt.Before(*sent.ReviewedAt))
	assert.Nil(t, sent.ErrorMessage)
}

func TestReviewRejectsFinishedMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(dispatch.SenderFunc(succeed))
	ctx := context.Background()

	id := f.queue(t, message.StatusPending)
	_, err := svc.Deny(ctx, id)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, id)
	var te *storage.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, message.StatusDenied, te.From)
	assert.Equal(t, message.StatusApproved, te.To)

	_, err = svc.Deny(ctx, id)
	require.ErrorAs(t, err, &te)

	assert.Len(t, f.notifier.statuses(), 1, "rejected decisions do not notify")
}

func TestReviewNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(dispatch.SenderFunc(succeed))

	_, err := svc.Approve(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.Deny(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentApproveSendsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.queue(t, message.StatusPending)

	var mu sync.Mutex
	sends := 0
	svc := f.service(dispatch.SenderFunc(func(context.Context, *storage.QueueEntry) error {
		mu.Lock()
		sends++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Approve(context.Background(), id)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var te *storage.TransitionError
		assert.ErrorAs(t, err, &te)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, sends)
}

func TestApproveStorageFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk I/O error")
	pending := func(context.Context, string) (*storage.QueueEntry, error) {
		return &storage.QueueEntry{ID: "a", Channel: message.ChannelSMS, Status: message.StatusPending}, nil
	}
	sender := dispatch.NewRegistry()
	sender.Register(message.ChannelSMS, dispatch.SenderFunc(succeed))

	t.Run("transition", func(t *testing.T) {
		t.Parallel()
		store := &mockstore.MockStorage{
			GetQueueEntryFunc:        pending,
			TransitionQueueEntryFunc: func(context.Context, string, message.Status) error { return boom },
		}
		_, err := NewService(store, sender, nil, nil).Approve(context.Background(), "a")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("mark sent", func(t *testing.T) {
		t.Parallel()
		store := &mockstore.MockStorage{
			GetQueueEntryFunc: pending,
			MarkSentFunc:      func(context.Context, string) error { return boom },
		}
		_, err := NewService(store, sender, nil, nil).Approve(context.Background(), "a")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("reload", func(t *testing.T) {
		t.Parallel()
		calls := 0
		store := &mockstore.MockStorage{
			GetQueueEntryFunc: func(ctx context.Context, id string) (*storage.QueueEntry, error) {
				calls++
				if calls > 1 {
					return nil, boom
				}
				return pending(ctx, id)
			},
		}
		_, err := NewService(store, sender, nil, nil).Approve(context.Background(), "a")
		assert.ErrorIs(t, err, boom)
	})
}
