package storage

import (
	"context"
	"time"

	"github.com/sipico/comms-gateway/internal/message"
)

// Storage defines every persistence operation of the gateway.
// Consumers normally depend on a narrower interface of their own.
type Storage interface {
	// API key operations
	CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, perHour, perDay int) (*APIKey, error)
	GetAPIKey(ctx context.Context, id int64) (*APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindAPIKey(ctx context.Context, idOrPrefix string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id int64) error
	SetWebhookURL(ctx context.Context, id int64, url *string) error
	SetRateLimits(ctx context.Context, id int64, perHour, perDay int) error
	TouchAPIKey(ctx context.Context, id int64) error

	// Allowlist operations
	AddAllowlistEntry(ctx context.Context, keyID int64, pattern string) error
	ListAllowlist(ctx context.Context, keyID int64) ([]*AllowlistEntry, error)
	RemoveAllowlistEntry(ctx context.Context, keyID int64, pattern string) error

	// Content filter operations
	CreateFilter(ctx context.Context, f *ContentFilter) (*ContentFilter, error)
	GetFilter(ctx context.Context, id int64) (*ContentFilter, error)
	ListFilters(ctx context.Context) ([]*ContentFilter, error)
	ListEnabledFilters(ctx context.Context) ([]*ContentFilter, error)
	SetFilterEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteFilter(ctx context.Context, id int64) error

	// Queue operations
	InsertQueueEntry(ctx context.Context, e *QueueEntry) (string, error)
	GetQueueEntry(ctx context.Context, id string) (*QueueEntry, error)
	ListPendingAndFlagged(ctx context.Context) ([]*QueueEntry, error)
	ListHistory(ctx context.Context, f HistoryFilter) ([]*QueueEntry, error)
	CountPending(ctx context.Context) (int, error)
	CountQueueSince(ctx context.Context, keyID int64, since time.Time) (int, error)
	TransitionQueueEntry(ctx context.Context, id string, to message.Status) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// Contact consent
	SetContactConsent(ctx context.Context, address string, allowed bool) error
	ContactAllowsAI(ctx context.Context, address string) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

var _ Storage = (*SQLiteStorage)(nil)
