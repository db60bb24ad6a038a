// Package auth issues, authenticates and revokes the API keys agents use to
// reach the gateway.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sipico/comms-gateway/internal/storage"
	"github.com/sipico/comms-gateway/internal/webhook"
)

// Reason classifies an authentication failure.
type Reason int

const (
	ReasonMissingKey Reason = iota
	ReasonInvalidFormat
	ReasonUnknownKey
	ReasonRevoked
)

// String returns the metric label of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonMissingKey:
		return "missing_key"
	case ReasonInvalidFormat:
		return "invalid_format"
	case ReasonUnknownKey:
		return "unknown_key"
	case ReasonRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Error is an authentication failure. All reasons map to 401.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonMissingKey:
		return "Missing " + HeaderName + " header"
	case ReasonInvalidFormat:
		return "Invalid API key format"
	case ReasonRevoked:
		return "API key has been revoked"
	default:
		return "Invalid API key"
	}
}

// Is matches any *Error with the same reason, and ErrUnauthorized.
func (e *Error) Is(target error) bool {
	if target == ErrUnauthorized {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// ErrUnauthorized matches every authentication failure.
var ErrUnauthorized = errors.New("unauthorized")

// Errors for authentication failures.
var (
	ErrMissingKey    = &Error{Reason: ReasonMissingKey}
	ErrInvalidFormat = &Error{Reason: ReasonInvalidFormat}
	ErrUnknownKey    = &Error{Reason: ReasonUnknownKey}
	ErrRevoked       = &Error{Reason: ReasonRevoked}
)

// Store is the persistence the credential store needs.
type Store interface {
	CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, perHour, perDay int) (*storage.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error)
	RevokeAPIKey(ctx context.Context, id int64) error
	SetWebhookURL(ctx context.Context, id int64, url *string) error
	TouchAPIKey(ctx context.Context, id int64) error
}

// Authenticator is the credential store.
type Authenticator struct {
	store  Store
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
// If logger is nil, slog.Default() will be used.
func NewAuthenticator(store Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{store: store, logger: logger}
}

// IssuedKey carries the only copy of a new plaintext key.
type IssuedKey struct {
	Plaintext string
	Key       *storage.APIKey
}

// Issue creates a key. Non-positive limits select the defaults.
func (a *Authenticator) Issue(ctx context.Context, name string, perHour, perDay int) (*IssuedKey, error) {
	if name == "" {
		return nil, errors.New("key name is required")
	}

	plaintext, prefix, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	key, err := a.store.CreateAPIKey(ctx, name, HashKey(plaintext), prefix, perHour, perDay)
	if err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	a.logger.Info("API key issued", "key_id", key.ID, "name", name, "prefix", prefix)
	return &IssuedKey{Plaintext: plaintext, Key: key}, nil
}

// Authenticate resolves a raw key to its record. The format is checked
// before any hashing or lookup, and a revoked key never authenticates.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*storage.APIKey, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}
	if !ValidateKeyFormat(raw) {
		return nil, ErrInvalidFormat
	}

	key, err := a.store.GetAPIKeyByHash(ctx, HashKey(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("failed to look up key: %w", err)
	}

	if key.Revoked() {
		return nil, ErrRevoked
	}
	return key, nil
}

// Revoke permanently disables a key.
func (a *Authenticator) Revoke(ctx context.Context, id int64) error {
	if err := a.store.RevokeAPIKey(ctx, id); err != nil {
		return err
	}
	a.logger.Info("API key revoked", "key_id", id)
	return nil
}

// SetWebhook sets the callback URL of a key. A nil url removes it.
func (a *Authenticator) SetWebhook(ctx context.Context, id int64, url *string) error {
	if url != nil {
		if err := webhook.ValidateURL(*url); err != nil {
			return err
		}
	}
	return a.store.SetWebhookURL(ctx, id, url)
}

// Touch records that a key was just used.
func (a *Authenticator) Touch(ctx context.Context, id int64) error {
	return a.store.TouchAPIKey(ctx, id)
}
