package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sipico/comms-gateway/internal/message"
)

func strPtr(s string) *string { return &s }

func insertTestEntry(t *testing.T, s *SQLiteStorage, keyID int64, status message.Status, priority message.Priority) *QueueEntry {
	t.Helper()
	e := &QueueEntry{
		APIKeyID:         keyID,
		Channel:          message.ChannelSMS,
		RecipientAddress: "+15551234567",
		Body:             "hello",
		Priority:         priority,
		Status:           status,
	}
	if _, err := s.InsertQueueEntry(context.Background(), e); err != nil {
		t.Fatalf("InsertQueueEntry failed: %v", err)
	}
	return e
}

func TestInsertAndGetQueueEntry(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "writer")

	e := &QueueEntry{
		APIKeyID:         k.ID,
		Channel:          message.ChannelEmail,
		RecipientAddress: "bob@acme.com",
		RecipientName:    strPtr("Bob"),
		Subject:          strPtr("Lunch"),
		Body:             "Noon?",
		Status:           message.StatusPending,
		AgentContext:     json.RawMessage(`{"conversation":"c-1"}`),
	}
	id, err := s.InsertQueueEntry(ctx, e)
	if err != nil {
		t.Fatalf("InsertQueueEntry failed: %v", err)
	}
	if id == "" || id != e.ID {
		t.Fatalf("id = %q, entry ID = %q", id, e.ID)
	}

	got, err := s.GetQueueEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetQueueEntry failed: %v", err)
	}
	if got.Channel != message.ChannelEmail || got.Priority != message.PriorityNormal || got.Status != message.StatusPending {
		t.Errorf("enums = %s/%s/%s", got.Channel, got.Priority, got.Status)
	}
	if *got.RecipientName != "Bob" || *got.Subject != "Lunch" || got.Body != "Noon?" {
		t.Errorf("unexpected entry %+v", got)
	}
	if string(got.AgentContext) != `{"conversation":"c-1"}` {
		t.Errorf("AgentContext = %s", got.AgentContext)
	}
	if !got.CreatedAt.Equal(clock.t) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clock.t)
	}
	if got.AgentName != "writer" {
		t.Errorf("AgentName = %q, want writer", got.AgentName)
	}
	if got.ReviewedAt != nil || got.SentAt != nil || got.ErrorMessage != nil {
		t.Errorf("lifecycle fields should be nil: %+v", got)
	}

	if _, err := s.GetQueueEntry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertQueueEntryRejectsLaterStatuses(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	k := createTestKey(t, s, "writer")

	for _, st := range []message.Status{message.StatusApproved, message.StatusSent, message.StatusDenied} {
		e := &QueueEntry{APIKeyID: k.ID, Channel: message.ChannelSMS, RecipientAddress: "1", Body: "b", Status: st}
		if _, err := s.InsertQueueEntry(context.Background(), e); err == nil {
			t.Errorf("insert with status %s should fail", st)
		}
	}
}

func TestListPendingAndFlaggedOrder(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "agent")

	oldLow := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityLow)
	clock.advance(time.Second)
	normalA := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	clock.advance(time.Second)
	flaggedLow := insertTestEntry(t, s, k.ID, message.StatusFlagged, message.PriorityLow)
	clock.advance(time.Second)
	urgent := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityUrgent)
	clock.advance(time.Second)
	normalB := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	clock.advance(time.Second)
	done := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityUrgent)
	if err := s.TransitionQueueEntry(ctx, done.ID, message.StatusDenied); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	entries, err := s.ListPendingAndFlagged(ctx)
	if err != nil {
		t.Fatalf("ListPendingAndFlagged failed: %v", err)
	}

	want := []string{flaggedLow.ID, urgent.ID, normalA.ID, normalB.ID, oldLow.ID}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("position %d = %s (%s/%s), want %s", i, entries[i].ID, entries[i].Status, entries[i].Priority, id)
		}
	}

	n, err := s.CountPending(ctx)
	if err != nil || n != 5 {
		t.Errorf("CountPending = %d, %v; want 5", n, err)
	}
}

func TestListPendingAndFlaggedUnknownAgent(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	ctx := context.Background()

	// Orphan rows can only exist with foreign keys disabled.
	if _, err := s.getDB().Exec("PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatalf("pragma failed: %v", err)
	}
	insertTestEntry(t, s, 4242, message.StatusPending, message.PriorityNormal)

	entries, err := s.ListPendingAndFlagged(ctx)
	if err != nil {
		t.Fatalf("ListPendingAndFlagged failed: %v", err)
	}
	if len(entries) != 1 || entries[0].AgentName != "Unknown" {
		t.Errorf("entries = %+v, want one with AgentName Unknown", entries)
	}
}

func TestTransitionQueueEntry(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "agent")

	e := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	clock.advance(time.Minute)
	if err := s.TransitionQueueEntry(ctx, e.ID, message.StatusApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	got, _ := s.GetQueueEntry(ctx, e.ID)
	if got.Status != message.StatusApproved || got.ReviewedAt == nil || !got.ReviewedAt.Equal(clock.t) {
		t.Errorf("after approve: status=%s reviewed_at=%v", got.Status, got.ReviewedAt)
	}

	// approved -> denied is illegal and must leave the row untouched.
	err := s.TransitionQueueEntry(ctx, e.ID, message.StatusDenied)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if terr.From != message.StatusApproved || terr.To != message.StatusDenied {
		t.Errorf("TransitionError = %+v", terr)
	}
	got, _ = s.GetQueueEntry(ctx, e.ID)
	if got.Status != message.StatusApproved {
		t.Errorf("status changed to %s", got.Status)
	}

	if err := s.TransitionQueueEntry(ctx, "missing", message.StatusApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionFromTerminalStatuses(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "agent")

	sent := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, sent.ID, message.StatusApproved)
	_ = s.MarkSent(ctx, sent.ID)

	failed := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, failed.ID, message.StatusApproved)
	_ = s.MarkFailed(ctx, failed.ID, "boom")

	denied := insertTestEntry(t, s, k.ID, message.StatusFlagged, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, denied.ID, message.StatusDenied)

	for _, e := range []*QueueEntry{sent, failed, denied} {
		before, _ := s.GetQueueEntry(ctx, e.ID)
		for _, target := range []message.Status{message.StatusApproved, message.StatusDenied} {
			err := s.TransitionQueueEntry(ctx, e.ID, target)
			var terr *TransitionError
			if !errors.As(err, &terr) {
				t.Errorf("%s -> %s: expected *TransitionError, got %v", before.Status, target, err)
			}
		}
		after, _ := s.GetQueueEntry(ctx, e.ID)
		if after.Status != before.Status {
			t.Errorf("status changed from %s to %s", before.Status, after.Status)
		}
	}
}

func TestMarkSentAndFailed(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "agent")

	pending := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	var terr *TransitionError
	if err := s.MarkSent(ctx, pending.ID); !errors.As(err, &terr) {
		t.Errorf("MarkSent on pending: expected *TransitionError, got %v", err)
	}

	_ = s.TransitionQueueEntry(ctx, pending.ID, message.StatusApproved)
	clock.advance(time.Second)
	if err := s.MarkSent(ctx, pending.ID); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	got, _ := s.GetQueueEntry(ctx, pending.ID)
	if got.Status != message.StatusSent || got.SentAt == nil || !got.SentAt.Equal(clock.t) || got.ErrorMessage != nil {
		t.Errorf("after MarkSent: %+v", got)
	}

	other := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, other.ID, message.StatusApproved)
	if err := s.MarkFailed(ctx, other.ID, "carrier rejected"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ = s.GetQueueEntry(ctx, other.ID)
	if got.Status != message.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "carrier rejected" {
		t.Errorf("after MarkFailed: %+v", got)
	}
}

func TestCountQueueSince(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "counter")
	other := createTestKey(t, s, "other")

	start := clock.t
	insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	clock.advance(30 * time.Minute)
	e := insertTestEntry(t, s, k.ID, message.StatusPending, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, e.ID, message.StatusDenied)
	insertTestEntry(t, s, other.ID, message.StatusPending, message.PriorityNormal)

	tests := []struct {
		since time.Time
		want  int
	}{
		{start, 2},
		{start.Add(time.Second), 1},
		{clock.t.Add(time.Second), 0},
	}
	for _, tt := range tests {
		n, err := s.CountQueueSince(ctx, k.ID, tt.since)
		if err != nil {
			t.Fatalf("CountQueueSince failed: %v", err)
		}
		if n != tt.want {
			t.Errorf("CountQueueSince(%v) = %d, want %d", tt.since, n, tt.want)
		}
	}
}

func TestListHistory(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()
	alpha := createTestKey(t, s, "alpha-bot")
	beta := createTestKey(t, s, "beta-bot")

	first := insertTestEntry(t, s, alpha.ID, message.StatusPending, message.PriorityNormal)
	clock.advance(time.Minute)
	second := insertTestEntry(t, s, beta.ID, message.StatusPending, message.PriorityNormal)
	_ = s.TransitionQueueEntry(ctx, second.ID, message.StatusDenied)
	clock.advance(time.Minute)
	third := insertTestEntry(t, s, alpha.ID, message.StatusFlagged, message.PriorityHigh)

	all, err := s.ListHistory(ctx, HistoryFilter{})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID || all[2].ID != first.ID {
		t.Errorf("history should be newest first, got %v", all)
	}

	denied, _ := s.ListHistory(ctx, HistoryFilter{Status: message.StatusDenied})
	if len(denied) != 1 || denied[0].ID != second.ID {
		t.Errorf("status filter returned %v", denied)
	}

	alphaOnly, _ := s.ListHistory(ctx, HistoryFilter{Agent: "alpha"})
	if len(alphaOnly) != 2 {
		t.Errorf("agent filter returned %d entries, want 2", len(alphaOnly))
	}
	for _, e := range alphaOnly {
		if e.AgentName != "alpha-bot" {
			t.Errorf("unexpected agent %q", e.AgentName)
		}
	}

	limited, _ := s.ListHistory(ctx, HistoryFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != third.ID {
		t.Errorf("limit returned %v", limited)
	}
}

func TestAllowlist(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	ctx := context.Background()
	k := createTestKey(t, s, "listed")

	entries, err := s.ListAllowlist(ctx, k.ID)
	if err != nil || len(entries) != 0 {
		t.Fatalf("empty allowlist = %v, %v", entries, err)
	}

	for _, p := range []string{"*@acme.com", "+15551234567", "*@acme.com"} {
		if err := s.AddAllowlistEntry(ctx, k.ID, p); err != nil {
			t.Fatalf("AddAllowlistEntry(%s) failed: %v", p, err)
		}
	}

	entries, _ = s.ListAllowlist(ctx, k.ID)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (duplicate insert is a no-op)", len(entries))
	}
	if entries[0].RecipientPattern != "*@acme.com" || entries[1].RecipientPattern != "+15551234567" {
		t.Errorf("unexpected entries %v", entries)
	}

	if err := s.RemoveAllowlistEntry(ctx, k.ID, "*@acme.com"); err != nil {
		t.Fatalf("RemoveAllowlistEntry failed: %v", err)
	}
	if err := s.RemoveAllowlistEntry(ctx, k.ID, "*@acme.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	entries, _ = s.ListAllowlist(ctx, k.ID)
	if len(entries) != 1 {
		t.Errorf("got %d entries after remove, want 1", len(entries))
	}
}

func TestFilterCRUD(t *testing.T) {
	t.Parallel()
	s, clock := newClockedStorage(t)
	ctx := context.Background()

	// Seeds are stamped with the wall clock; new filters must be younger.
	clock.t = time.Now().UTC().Add(time.Hour)
	flag, err := s.CreateFilter(ctx, &ContentFilter{
		Pattern: "wire transfer", PatternType: PatternLiteral, Action: ActionFlag, Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateFilter failed: %v", err)
	}
	if flag.Description != "" {
		t.Errorf("Description = %q, want empty", flag.Description)
	}

	clock.advance(time.Hour)
	deny, err := s.CreateFilter(ctx, &ContentFilter{
		Pattern: `bitcoin`, PatternType: PatternRegex, Action: ActionDeny, Description: "crypto", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateFilter failed: %v", err)
	}

	enabled, _ := s.ListEnabledFilters(ctx)
	// Three seeded deny filters, then the new deny, then both flags by age.
	if len(enabled) != 6 || enabled[3].ID != deny.ID || enabled[5].ID != flag.ID {
		t.Errorf("unexpected order: %v", enabled)
	}

	if err := s.SetFilterEnabled(ctx, deny.ID, false); err != nil {
		t.Fatalf("SetFilterEnabled failed: %v", err)
	}
	enabled, _ = s.ListEnabledFilters(ctx)
	if len(enabled) != 5 {
		t.Errorf("got %d enabled filters, want 5", len(enabled))
	}
	all, _ := s.ListFilters(ctx)
	if len(all) != 6 {
		t.Errorf("got %d filters, want 6", len(all))
	}

	if err := s.DeleteFilter(ctx, deny.ID); err != nil {
		t.Fatalf("DeleteFilter failed: %v", err)
	}
	if _, err := s.GetFilter(ctx, deny.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteFilter(ctx, deny.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	if _, err := s.CreateFilter(ctx, &ContentFilter{Pattern: "x", PatternType: "glob", Action: ActionDeny}); err == nil {
		t.Error("expected error for unknown pattern type")
	}
}

func TestContactConsent(t *testing.T) {
	t.Parallel()
	s := newTestStorage(t)
	ctx := context.Background()

	allowed, err := s.ContactAllowsAI(ctx, "stranger@example.com")
	if err != nil || !allowed {
		t.Errorf("unknown contact = %v, %v; want allowed", allowed, err)
	}

	if err := s.SetContactConsent(ctx, "mom@example.com", false); err != nil {
		t.Fatalf("SetContactConsent failed: %v", err)
	}
	allowed, _ = s.ContactAllowsAI(ctx, "mom@example.com")
	if allowed {
		t.Error("opted-out contact should not allow AI messages")
	}

	if err := s.SetContactConsent(ctx, "mom@example.com", true); err != nil {
		t.Fatalf("SetContactConsent failed: %v", err)
	}
	allowed, _ = s.ContactAllowsAI(ctx, "mom@example.com")
	if !allowed {
		t.Error("contact should allow AI messages after opting back in")
	}
}
