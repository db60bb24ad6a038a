package mockstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

// TestMockStorage_DefaultBehavior verifies default return values when no function fields are set.
func TestMockStorage_DefaultBehavior(t *testing.T) {
	t.Parallel()
	mock := &MockStorage{}
	ctx := context.Background()

	key, err := mock.CreateAPIKey(ctx, "agent", "hash", "gw_abc", 10, 50)
	if err != nil || key == nil || key.Name != "agent" {
		t.Errorf("CreateAPIKey default = %+v, %v", key, err)
	}

	if _, err := mock.GetAPIKey(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAPIKey default error = %v, want ErrNotFound", err)
	}
	if _, err := mock.GetQueueEntry(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetQueueEntry default error = %v, want ErrNotFound", err)
	}

	keys, err := mock.ListAPIKeys(ctx)
	if err != nil || keys == nil || len(keys) != 0 {
		t.Errorf("ListAPIKeys default = %v, %v; want empty non-nil slice", keys, err)
	}

	allowed, err := mock.ContactAllowsAI(ctx, "+15551234567")
	if err != nil || !allowed {
		t.Errorf("ContactAllowsAI default = %v, %v; want true", allowed, err)
	}

	if err := mock.TransitionQueueEntry(ctx, "x", message.StatusApproved); err != nil {
		t.Errorf("TransitionQueueEntry default error = %v", err)
	}
	if err := mock.Close(); err != nil {
		t.Errorf("Close default error = %v", err)
	}
}

// TestMockStorage_CustomBehavior verifies that function fields override defaults.
func TestMockStorage_CustomBehavior(t *testing.T) {
	t.Parallel()
	boom := errors.New("database is locked")

	var gotID string
	var gotMsg string
	mock := &MockStorage{
		InsertQueueEntryFunc: func(context.Context, *storage.QueueEntry) (string, error) {
			return "", boom
		},
		MarkFailedFunc: func(_ context.Context, id, errMsg string) error {
			gotID, gotMsg = id, errMsg
			return nil
		},
		CountPendingFunc: func(context.Context) (int, error) {
			return 7, nil
		},
	}
	ctx := context.Background()

	if _, err := mock.InsertQueueEntry(ctx, &storage.QueueEntry{}); !errors.Is(err, boom) {
		t.Errorf("InsertQueueEntry error = %v, want %v", err, boom)
	}
	if err := mock.MarkFailed(ctx, "abc", "exit status 1"); err != nil || gotID != "abc" || gotMsg != "exit status 1" {
		t.Errorf("MarkFailed not forwarded: %q %q %v", gotID, gotMsg, err)
	}
	if n, _ := mock.CountPending(ctx); n != 7 {
		t.Errorf("CountPending = %d, want 7", n)
	}
}
