// Package review implements the human decision on a queued message. Both the
// HTTP review endpoints and the approval console go through Service, so an
// approval always dispatches, records the outcome and notifies the agent in
// the same order.
package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/storage"
	"github.com/sipico/comms-gateway/internal/webhook"
)

// Store is the queue persistence the workflow needs.
type Store interface {
	GetQueueEntry(ctx context.Context, id string) (*storage.QueueEntry, error)
	TransitionQueueEntry(ctx context.Context, id string, to message.Status) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// Dispatcher delivers an approved message.
type Dispatcher interface {
	Send(ctx context.Context, e *storage.QueueEntry) error
}

// Notifier reports a final status to the owning agent.
type Notifier interface {
	Notify(ctx context.Context, e *storage.QueueEntry) webhook.Result
}

// Service approves and denies queued messages.
type Service struct {
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger
}

// NewService creates a Service. notifier may be nil; logger falls back to
// slog.Default().
func NewService(store Store, dispatcher Dispatcher, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, dispatcher: dispatcher, notifier: notifier, logger: logger}
}

// Approve moves a pending or flagged message to approved, dispatches it and
// records sent or failed. A dispatch failure is not an error: it is recorded
// on the returned entry. Errors are storage.ErrNotFound, a
// *storage.TransitionError when the message is not reviewable, or storage
// failures.
func (s *Service) Approve(ctx context.Context, id string) (*storage.QueueEntry, error) {
	entry, err := s.reviewable(ctx, id, message.StatusApproved)
	if err != nil {
		return nil, err
	}

	if err := s.store.TransitionQueueEntry(ctx, id, message.StatusApproved); err != nil {
		return nil, err
	}
	entry.Status = message.StatusApproved
	s.logger.Info("message approved", "action_id", id, "channel", entry.Channel.String())

	// Once approved, the message must reach sent or failed even if the
	// reviewer goes away.
	ctx = context.WithoutCancel(ctx)

	if sendErr := s.dispatcher.Send(ctx, entry); sendErr != nil {
		s.logger.Warn("dispatch failed", "action_id", id, "channel", entry.Channel.String(), "error", sendErr)
		if err := s.store.MarkFailed(ctx, id, sendErr.Error()); err != nil {
			return nil, fmt.Errorf("failed to record dispatch failure: %w", err)
		}
	} else {
		if err := s.store.MarkSent(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to record dispatch: %w", err)
		}
		s.logger.Info("message sent", "action_id", id, "channel", entry.Channel.String())
	}

	return s.finish(ctx, id, "approve")
}

// Deny moves a pending or flagged message to denied.
func (s *Service) Deny(ctx context.Context, id string) (*storage.QueueEntry, error) {
	if _, err := s.reviewable(ctx, id, message.StatusDenied); err != nil {
		return nil, err
	}

	if err := s.store.TransitionQueueEntry(ctx, id, message.StatusDenied); err != nil {
		return nil, err
	}
	s.logger.Info("message denied", "action_id", id)

	return s.finish(ctx, id, "deny")
}

func (s *Service) reviewable(ctx context.Context, id string, to message.Status) (*storage.QueueEntry, error) {
	entry, err := s.store.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.Status.Reviewable() {
		return nil, &storage.TransitionError{ID: id, From: entry.Status, To: to}
	}
	return entry, nil
}

// finish reloads the entry, notifies the agent and counts the decision.
func (s *Service) finish(ctx context.Context, id, decision string) (*storage.QueueEntry, error) {
	entry, err := s.store.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload message: %w", err)
	}
	metrics.RecordReview(decision, entry.Status.String())

	if s.notifier != nil {
		s.notifier.Notify(ctx, entry)
	}
	return entry, nil
}
