// Package ratelimit enforces per-key send volume over rolling windows.
//
// Limits are not token buckets: the limiter counts queue entries the key
// created within the trailing hour and the trailing day, so only sends that
// were actually accepted count against the budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sipico/comms-gateway/internal/storage"
)

// Window identifies which limit was exceeded.
type Window string

const (
	Hourly Window = "hourly"
	Daily  Window = "daily"
)

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	if w == Daily {
		return 24 * time.Hour
	}
	return time.Hour
}

// ExceededError reports a rejected send.
type ExceededError struct {
	Window       Window
	CurrentCount int
	Limit        int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded: %d of %d", e.Window, e.CurrentCount, e.Limit)
}

// RetryAfterSeconds is the full length of the exceeded window.
func (e *ExceededError) RetryAfterSeconds() int {
	return int(e.Window.Duration() / time.Second)
}

// Counter counts the queue entries a key created at or after since.
type Counter interface {
	CountQueueSince(ctx context.Context, keyID int64, since time.Time) (int, error)
}

// Limiter checks keys against their configured limits.
type Limiter struct {
	counter Counter
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter.
func New(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{counter: counter, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check returns an *ExceededError if the key is at or above its hourly or
// daily limit. The hourly window is checked first.
func (l *Limiter) Check(ctx context.Context, key *storage.APIKey) error {
	now := l.now()
	windows := []struct {
		window Window
		limit  int
	}{
		{Hourly, key.RateLimitPerHour},
		{Daily, key.RateLimitPerDay},
	}

	for _, w := range windows {
		count, err := l.counter.CountQueueSince(ctx, key.ID, now.Add(-w.window.Duration()))
		if err != nil {
			return fmt.Errorf("failed to count %s sends: %w", w.window, err)
		}
		if count >= w.limit {
			return &ExceededError{Window: w.window, CurrentCount: count, Limit: w.limit}
		}
	}
	return nil
}
