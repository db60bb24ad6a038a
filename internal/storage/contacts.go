package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetContactConsent records whether the contact at address accepts messages
// written by an agent. Callers normalize address; lookups are exact.
func (s *SQLiteStorage) SetContactConsent(ctx context.Context, address string, allowed bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (address, ai_contact_allowed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
			ai_contact_allowed = excluded.ai_contact_allowed,
			updated_at = excluded.updated_at`,
		address, allowed, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to set contact consent: %w", err)
	}
	return nil
}

// ContactAllowsAI reports the consent flag of address. Unknown contacts have
// not opted out.
func (s *SQLiteStorage) ContactAllowsAI(ctx context.Context, address string) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx,
		"SELECT ai_contact_allowed FROM contacts WHERE address = ?", address).Scan(&allowed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to look up contact consent: %w", err)
	}
	return allowed, nil
}
