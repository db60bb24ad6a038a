package storage

import (
	"context"
	"fmt"
)

// AddAllowlistEntry permits pattern for the key. Adding an existing pattern
// is a no-op.
func (s *SQLiteStorage) AddAllowlistEntry(ctx context.Context, keyID int64, pattern string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO api_key_allowlists (api_key_id, recipient_pattern, created_at)
		 VALUES (?, ?, ?)`,
		keyID, pattern, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to add allowlist entry: %w", err)
	}
	return nil
}

// ListAllowlist returns the patterns of a key in insertion order.
// An empty result means the key is unrestricted.
func (s *SQLiteStorage) ListAllowlist(ctx context.Context, keyID int64) ([]*AllowlistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, api_key_id, recipient_pattern, created_at
		 FROM api_key_allowlists WHERE api_key_id = ? ORDER BY id`, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allowlist: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := make([]*AllowlistEntry, 0)
	for rows.Next() {
		var (
			e         AllowlistEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.RecipientPattern, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allowlist row: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allowlist: %w", err)
	}
	return entries, nil
}

// RemoveAllowlistEntry deletes one pattern from a key's allowlist.
// Returns ErrNotFound if the key has no such pattern.
func (s *SQLiteStorage) RemoveAllowlistEntry(ctx context.Context, keyID int64, pattern string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM api_key_allowlists WHERE api_key_id = ? AND recipient_pattern = ?", keyID, pattern)
	if err != nil {
		return fmt.Errorf("failed to remove allowlist entry: %w", err)
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
