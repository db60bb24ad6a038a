package storage

import (
	"encoding/json"
	"time"

	"github.com/sipico/comms-gateway/internal/message"
)

// Default per-key limits applied when a key is issued without explicit ones.
const (
	DefaultRateLimitPerHour = 10
	DefaultRateLimitPerDay  = 50
)

// APIKey is an agent credential. Only the hash of the secret is stored.
type APIKey struct {
	ID               int64
	Name             string
	KeyHash          string
	KeyPrefix        string
	CreatedAt        time.Time
	LastUsedAt       *time.Time
	RevokedAt        *time.Time
	RateLimitPerHour int
	RateLimitPerDay  int
	WebhookURL       *string
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// AllowlistEntry permits a recipient pattern for one key.
type AllowlistEntry struct {
	ID               int64
	APIKeyID         int64
	RecipientPattern string
	CreatedAt        time.Time
}

// PatternType selects how a content filter pattern is interpreted.
type PatternType string

const (
	PatternRegex   PatternType = "regex"
	PatternLiteral PatternType = "literal"
)

// Valid reports whether t is a known pattern type.
func (t PatternType) Valid() bool {
	return t == PatternRegex || t == PatternLiteral
}

// FilterAction is what happens to a message matching a content filter.
type FilterAction string

const (
	ActionDeny FilterAction = "deny"
	ActionFlag FilterAction = "flag"
)

// Valid reports whether a is a known filter action.
func (a FilterAction) Valid() bool {
	return a == ActionDeny || a == ActionFlag
}

// ContentFilter is a stored pattern rule.
type ContentFilter struct {
	ID          int64
	Pattern     string
	PatternType PatternType
	Action      FilterAction
	Description string
	Enabled     bool
	CreatedAt   time.Time
}

// QueueEntry is one outbound message and its full lifecycle record.
type QueueEntry struct {
	ID               string
	APIKeyID         int64
	Channel          message.Channel
	RecipientAddress string
	RecipientName    *string
	Subject          *string
	Body             string
	Priority         message.Priority
	Status           message.Status
	AgentContext     json.RawMessage
	CreatedAt        time.Time
	ReviewedAt       *time.Time
	SentAt           *time.Time
	ErrorMessage     *string

	// AgentName is resolved from api_keys by list queries only.
	AgentName string
}

// HistoryFilter narrows ListHistory. Zero values mean "no restriction".
type HistoryFilter struct {
	Status message.Status
	Agent  string // substring of the key name
	Limit  int    // defaults to DefaultHistoryLimit
}

// DefaultHistoryLimit caps ListHistory when no limit is given.
const DefaultHistoryLimit = 50
