package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// ErrAmbiguous is returned by FindAPIKey when a prefix matches several keys.
var ErrAmbiguous = errors.New("prefix matches more than one key")

const apiKeyColumns = `id, name, key_hash, key_prefix, created_at, last_used_at, revoked_at,
	rate_limit_per_hour, rate_limit_per_day, webhook_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var (
		k                   APIKey
		createdAt           string
		lastUsedAt, revoked sql.NullString
		webhookURL          sql.NullString
	)
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &createdAt, &lastUsedAt, &revoked,
		&k.RateLimitPerHour, &k.RateLimitPerDay, &webhookURL)
	if err != nil {
		return nil, err
	}

	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if k.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}
	if k.RevokedAt, err = parseNullTime(revoked); err != nil {
		return nil, err
	}
	k.WebhookURL = stringPtr(webhookURL)
	return &k, nil
}

// CreateAPIKey stores a new key. Non-positive limits fall back to the defaults.
// Returns ErrDuplicate if a key with this hash already exists.
func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, name, keyHash, keyPrefix string, perHour, perDay int) (*APIKey, error) {
	if perHour <= 0 {
		perHour = DefaultRateLimitPerHour
	}
	if perDay <= 0 {
		perDay = DefaultRateLimitPerDay
	}

	created := s.now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (name, key_hash, key_prefix, created_at, rate_limit_per_hour, rate_limit_per_day)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, keyHash, keyPrefix, formatTime(created), perHour, perDay)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	return s.GetAPIKey(ctx, id)
}

// GetAPIKey retrieves a key by ID.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStorage) GetAPIKey(ctx context.Context, id int64) (*APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByHash retrieves a key by the hash of its secret.
// Revoked keys are returned too; callers decide what revocation means.
func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE key_hash = ?", keyHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get API key by hash: %w", err)
	}
	return k, nil
}

// FindAPIKey resolves a numeric ID or a display prefix to a key.
func (s *SQLiteStorage) FindAPIKey(ctx context.Context, idOrPrefix string) (*APIKey, error) {
	if id, err := strconv.ParseInt(idOrPrefix, 10, 64); err == nil {
		return s.GetAPIKey(ctx, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE key_prefix = ? LIMIT 2", idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find API key: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var found []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key row: %w", err)
		}
		found = append(found, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// ListAPIKeys returns all keys, newest first.
// Returns empty slice if no keys exist.
func (s *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	keys := make([]*APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key as revoked. Revoking twice keeps the original
// revocation time.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStorage) RevokeAPIKey(ctx context.Context, id int64) error {
	return s.execOne(ctx, "revoke API key",
		"UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?", s.timestamp(), id)
}

// SetWebhookURL sets or, with a nil url, clears the webhook of a key.
func (s *SQLiteStorage) SetWebhookURL(ctx context.Context, id int64, url *string) error {
	return s.execOne(ctx, "set webhook URL",
		"UPDATE api_keys SET webhook_url = ? WHERE id = ?", nullString(url), id)
}

// SetRateLimits replaces the hourly and daily limits of a key.
func (s *SQLiteStorage) SetRateLimits(ctx context.Context, id int64, perHour, perDay int) error {
	if perHour <= 0 || perDay <= 0 {
		return fmt.Errorf("rate limits must be positive (got %d/hour, %d/day)", perHour, perDay)
	}
	return s.execOne(ctx, "set rate limits",
		"UPDATE api_keys SET rate_limit_per_hour = ?, rate_limit_per_day = ? WHERE id = ?", perHour, perDay, id)
}

// TouchAPIKey records a successful authentication.
func (s *SQLiteStorage) TouchAPIKey(ctx context.Context, id int64) error {
	return s.execOne(ctx, "touch API key",
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", s.timestamp(), id)
}

func (s *SQLiteStorage) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
