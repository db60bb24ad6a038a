package auth

import (
	"context"

	"github.com/sipico/comms-gateway/internal/storage"
)

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey int

const apiKeyKey ctxKey = iota // stores *storage.APIKey

// WithAPIKey adds the authenticated key to the context.
func WithAPIKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

// APIKeyFromContext retrieves the authenticated key from context.
// Returns nil if the request was not authenticated.
func APIKeyFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(apiKeyKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}
