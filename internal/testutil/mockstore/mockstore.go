// Package mockstore provides a configurable mock implementation of storage interfaces for testing.
//
// The MockStorage type uses function fields for each method, allowing tests to customize behavior
// as needed while providing sensible defaults for methods that aren't customized.
package mockstore

import (
	"context"
	"time"

	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/storage"
)

// MockStorage is a configurable mock implementation of storage.Storage.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a sensible default value.
type MockStorage struct {
	// API key operations
	CreateAPIKeyFunc    func(ctx context.Context, name, keyHash, keyPrefix string, perHour, perDay int) (*storage.APIKey, error)
	GetAPIKeyFunc       func(ctx context.Context, id int64) (*storage.APIKey, error)
	GetAPIKeyByHashFunc func(ctx context.Context, keyHash string) (*storage.APIKey, error)
	FindAPIKeyFunc      func(ctx context.Context, idOrPrefix string) (*storage.APIKey, error)
	ListAPIKeysFunc     func(ctx context.Context) ([]*storage.APIKey, error)
	RevokeAPIKeyFunc    func(ctx context.Context, id int64) error
	SetWebhookURLFunc   func(ctx context.Context, id int64, url *string) error
	SetRateLimitsFunc   func(ctx context.Context, id int64, perHour, perDay int) error
	TouchAPIKeyFunc     func(ctx context.Context, id int64) error

	// Allowlist operations
	AddAllowlistEntryFunc    func(ctx context.Context, keyID int64, pattern string) error
	ListAllowlistFunc        func(ctx context.Context, keyID int64) ([]*storage.AllowlistEntry, error)
	RemoveAllowlistEntryFunc func(ctx context.Context, keyID int64, pattern string) error

	// Content filter operations
	CreateFilterFunc       func(ctx context.Context, f *storage.ContentFilter) (*storage.ContentFilter, error)
	GetFilterFunc          func(ctx context.Context, id int64) (*storage.ContentFilter, error)
	ListFiltersFunc        func(ctx context.Context) ([]*storage.ContentFilter, error)
	ListEnabledFiltersFunc func(ctx context.Context) ([]*storage.ContentFilter, error)
	SetFilterEnabledFunc   func(ctx context.Context, id int64, enabled bool) error
	DeleteFilterFunc       func(ctx context.Context, id int64) error

	// Queue operations
	InsertQueueEntryFunc      func(ctx context.Context, e *storage.QueueEntry) (string, error)
	GetQueueEntryFunc         func(ctx context.Context, id string) (*storage.QueueEntry, error)
	ListPendingAndFlaggedFunc func(ctx context.Context) ([]*storage.QueueEntry, error)
	ListHistoryFunc           func(ctx context.Context, f storage.HistoryFilter) ([]*storage.QueueEntry, error)
	CountPendingFunc          func(ctx context.Context) (int, error)
	CountQueueSinceFunc       func(ctx context.Context, keyID int64, since time.Time) (int, error)
	TransitionQueueEntryFunc  func(ctx context.Context, id string, to message.Status) error
	MarkSentFunc              func(ctx context.Context, id string) error
	MarkFailedFunc            func(ctx context.Context, id string, errMsg string) error

	// Contact consent
	SetContactConsentFunc func(ctx context.Context, address string, allowed bool) error
	ContactAllowsAIFunc   func(ctx context.Context, address string) (bool, error)

	// Lifecycle
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

// CreateAPIKey stores a new API key.
func (m *MockStorage) CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, perHour, perDay int) (*storage.APIKey, error) {
	if m.CreateAPIKeyFunc != nil {
		return m.CreateAPIKeyFunc(ctx, name, keyHash, keyPrefix, perHour, perDay)
	}
	return &storage.APIKey{ID: 1, Name: name, KeyHash: keyHash, KeyPrefix: keyPrefix, RateLimitPerHour: perHour, RateLimitPerDay: perDay}, nil
}

// GetAPIKey retrieves a key by ID.
func (m *MockStorage) GetAPIKey(ctx context.Context, id int64) (*storage.APIKey, error) {
	if m.GetAPIKeyFunc != nil {
		return m.GetAPIKeyFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// GetAPIKeyByHash retrieves a key by the hash of its plaintext.
func (m *MockStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error) {
	if m.GetAPIKeyByHashFunc != nil {
		return m.GetAPIKeyByHashFunc(ctx, keyHash)
	}
	return nil, storage.ErrNotFound
}

// FindAPIKey resolves a key by ID or display prefix.
func (m *MockStorage) FindAPIKey(ctx context.Context, idOrPrefix string) (*storage.APIKey, error) {
	if m.FindAPIKeyFunc != nil {
		return m.FindAPIKeyFunc(ctx, idOrPrefix)
	}
	return nil, storage.ErrNotFound
}

// ListAPIKeys lists all keys.
func (m *MockStorage) ListAPIKeys(ctx context.Context) ([]*storage.APIKey, error) {
	if m.ListAPIKeysFunc != nil {
		return m.ListAPIKeysFunc(ctx)
	}
	return []*storage.APIKey{}, nil
}

// RevokeAPIKey revokes a key.
func (m *MockStorage) RevokeAPIKey(ctx context.Context, id int64) error {
	if m.RevokeAPIKeyFunc != nil {
		return m.RevokeAPIKeyFunc(ctx, id)
	}
	return nil
}

// SetWebhookURL sets or clears a key's webhook.
func (m *MockStorage) SetWebhookURL(ctx context.Context, id int64, url *string) error {
	if m.SetWebhookURLFunc != nil {
		return m.SetWebhookURLFunc(ctx, id, url)
	}
	return nil
}

// SetRateLimits updates a key's limits.
func (m *MockStorage) SetRateLimits(ctx context.Context, id int64, perHour, perDay int) error {
	if m.SetRateLimitsFunc != nil {
		return m.SetRateLimitsFunc(ctx, id, perHour, perDay)
	}
	return nil
}

// TouchAPIKey records key use.
func (m *MockStorage) TouchAPIKey(ctx context.Context, id int64) error {
	if m.TouchAPIKeyFunc != nil {
		return m.TouchAPIKeyFunc(ctx, id)
	}
	return nil
}

// AddAllowlistEntry adds a recipient pattern.
func (m *MockStorage) AddAllowlistEntry(ctx context.Context, keyID int64, pattern string) error {
	if m.AddAllowlistEntryFunc != nil {
		return m.AddAllowlistEntryFunc(ctx, keyID, pattern)
	}
	return nil
}

// ListAllowlist lists a key's recipient patterns.
func (m *MockStorage) ListAllowlist(ctx context.Context, keyID int64) ([]*storage.AllowlistEntry, error) {
	if m.ListAllowlistFunc != nil {
		return m.ListAllowlistFunc(ctx, keyID)
	}
	return []*storage.AllowlistEntry{}, nil
}

// RemoveAllowlistEntry removes a recipient pattern.
func (m *MockStorage) RemoveAllowlistEntry(ctx context.Context, keyID int64, pattern string) error {
	if m.RemoveAllowlistEntryFunc != nil {
		return m.RemoveAllowlistEntryFunc(ctx, keyID, pattern)
	}
	return nil
}

// CreateFilter stores a content filter.
func (m *MockStorage) CreateFilter(ctx context.Context, f *storage.ContentFilter) (*storage.ContentFilter, error) {
	if m.CreateFilterFunc != nil {
		return m.CreateFilterFunc(ctx, f)
	}
	return f, nil
}

// GetFilter retrieves a content filter.
func (m *MockStorage) GetFilter(ctx context.Context, id int64) (*storage.ContentFilter, error) {
	if m.GetFilterFunc != nil {
		return m.GetFilterFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// ListFilters lists all content filters.
func (m *MockStorage) ListFilters(ctx context.Context) ([]*storage.ContentFilter, error) {
	if m.ListFiltersFunc != nil {
		return m.ListFiltersFunc(ctx)
	}
	return []*storage.ContentFilter{}, nil
}

// ListEnabledFilters lists enabled content filters.
func (m *MockStorage) ListEnabledFilters(ctx context.Context) ([]*storage.ContentFilter, error) {
	if m.ListEnabledFiltersFunc != nil {
		return m.ListEnabledFiltersFunc(ctx)
	}
	return []*storage.ContentFilter{}, nil
}

// SetFilterEnabled enables or disables a filter.
func (m *MockStorage) SetFilterEnabled(ctx context.Context, id int64, enabled bool) error {
	if m.SetFilterEnabledFunc != nil {
		return m.SetFilterEnabledFunc(ctx, id, enabled)
	}
	return nil
}

// DeleteFilter deletes a filter.
func (m *MockStorage) DeleteFilter(ctx context.Context, id int64) error {
	if m.DeleteFilterFunc != nil {
		return m.DeleteFilterFunc(ctx, id)
	}
	return nil
}

// InsertQueueEntry queues a message.
func (m *MockStorage) InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) (string, error) {
	if m.InsertQueueEntryFunc != nil {
		return m.InsertQueueEntryFunc(ctx, e)
	}
	return "00000000-0000-0000-0000-000000000001", nil
}

// GetQueueEntry retrieves a queued message.
func (m *MockStorage) GetQueueEntry(ctx context.Context, id string) (*storage.QueueEntry, error) {
	if m.GetQueueEntryFunc != nil {
		return m.GetQueueEntryFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// ListPendingAndFlagged lists messages awaiting review.
func (m *MockStorage) ListPendingAndFlagged(ctx context.Context) ([]*storage.QueueEntry, error) {
	if m.ListPendingAndFlaggedFunc != nil {
		return m.ListPendingAndFlaggedFunc(ctx)
	}
	return []*storage.QueueEntry{}, nil
}

// ListHistory lists past messages.
func (m *MockStorage) ListHistory(ctx context.Context, f storage.HistoryFilter) ([]*storage.QueueEntry, error) {
	if m.ListHistoryFunc != nil {
		return m.ListHistoryFunc(ctx, f)
	}
	return []*storage.QueueEntry{}, nil
}

// CountPending counts messages awaiting review.
func (m *MockStorage) CountPending(ctx context.Context) (int, error) {
	if m.CountPendingFunc != nil {
		return m.CountPendingFunc(ctx)
	}
	return 0, nil
}

// CountQueueSince counts a key's recent messages.
func (m *MockStorage) CountQueueSince(ctx context.Context, keyID int64, since time.Time) (int, error) {
	if m.CountQueueSinceFunc != nil {
		return m.CountQueueSinceFunc(ctx, keyID, since)
	}
	return 0, nil
}

// TransitionQueueEntry changes a message's status.
func (m *MockStorage) TransitionQueueEntry(ctx context.Context, id string, to message.Status) error {
	if m.TransitionQueueEntryFunc != nil {
		return m.TransitionQueueEntryFunc(ctx, id, to)
	}
	return nil
}

// MarkSent records a successful dispatch.
func (m *MockStorage) MarkSent(ctx context.Context, id string) error {
	if m.MarkSentFunc != nil {
		return m.MarkSentFunc(ctx, id)
	}
	return nil
}

// MarkFailed records a failed dispatch.
func (m *MockStorage) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, errMsg)
	}
	return nil
}

// SetContactConsent sets a contact's consent flag.
func (m *MockStorage) SetContactConsent(ctx context.Context, address string, allowed bool) error {
	if m.SetContactConsentFunc != nil {
		return m.SetContactConsentFunc(ctx, address, allowed)
	}
	return nil
}

// ContactAllowsAI reports whether a contact accepts AI messages.
func (m *MockStorage) ContactAllowsAI(ctx context.Context, address string) (bool, error) {
	if m.ContactAllowsAIFunc != nil {
		return m.ContactAllowsAIFunc(ctx, address)
	}
	return true, nil
}

// Ping checks the database.
func (m *MockStorage) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close closes the database.
func (m *MockStorage) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ storage.Storage = (*MockStorage)(nil)
