// Package storage persists API keys, allowlists, content filters, consent
// flags and the communication queue in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the value of PRAGMA user_version after MigrateSchema.
const SchemaVersion = 1

// InitSchema creates all required tables and indexes.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	ddlStatements := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at TEXT,
			rate_limit_per_hour INTEGER NOT NULL DEFAULT 10,
			rate_limit_per_day INTEGER NOT NULL DEFAULT 50,
			webhook_url TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS api_key_allowlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER NOT NULL,
			recipient_pattern TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (api_key_id) REFERENCES api_keys(id) ON DELETE CASCADE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_allowlists_key_pattern
			ON api_key_allowlists(api_key_id, recipient_pattern)`,

		`CREATE TABLE IF NOT EXISTS content_filters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			pattern_type TEXT NOT NULL CHECK (pattern_type IN ('regex', 'literal')),
			action TEXT NOT NULL CHECK (action IN ('deny', 'flag')),
			description TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS communication_queue (
			id TEXT PRIMARY KEY,
			api_key_id INTEGER NOT NULL,
			channel TEXT NOT NULL CHECK (channel IN ('sms', 'imessage', 'email')),
			recipient_address TEXT NOT NULL,
			recipient_name TEXT,
			subject TEXT,
			body TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal'
				CHECK (priority IN ('urgent', 'high', 'normal', 'low')),
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'flagged', 'approved', 'denied', 'sent', 'failed')),
			agent_context TEXT,
			created_at TEXT NOT NULL,
			reviewed_at TEXT,
			sent_at TEXT,
			error_message TEXT,
			FOREIGN KEY (api_key_id) REFERENCES api_keys(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON communication_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_created ON communication_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_api_key ON communication_queue(api_key_id)`,

		// contacts holds the one CRM flag the gateway consults.
		`CREATE TABLE IF NOT EXISTS contacts (
			address TEXT PRIMARY KEY,
			ai_contact_allowed INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// DefaultFilters are inserted once, when the schema is first created.
var DefaultFilters = []ContentFilter{
	{
		Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
		PatternType: PatternRegex,
		Action:      ActionDeny,
		Description: "Social Security Number pattern (XXX-XX-XXXX)",
		Enabled:     true,
	},
	{
		Pattern:     `\b(?:\d{4}[- ]?){3}\d{4}\b`,
		PatternType: PatternRegex,
		Action:      ActionDeny,
		Description: "Credit card number pattern (16 digits)",
		Enabled:     true,
	},
	{
		Pattern:     "password",
		PatternType: PatternLiteral,
		Action:      ActionFlag,
		Description: "Message contains the word 'password'",
		Enabled:     true,
	},
	{
		Pattern:     `\b(?:api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*\S+`,
		PatternType: PatternRegex,
		Action:      ActionDeny,
		Description: "API key or secret assignment pattern",
		Enabled:     true,
	},
}

// MigrateSchema brings the database up to SchemaVersion.
// Seed filters are only inserted by the migration that creates the tables,
// so filters deleted later are not resurrected on restart.
func MigrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if err := InitSchema(db); err != nil {
		return err
	}

	if version >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	created := formatTime(time.Now())
	for _, f := range DefaultFilters {
		_, err := tx.Exec(
			`INSERT INTO content_filters (pattern, pattern_type, action, description, enabled, created_at)
			 VALUES (?, ?, ?, ?, 1, ?)`,
			f.Pattern, string(f.PatternType), string(f.Action), f.Description, created)
		if err != nil {
			return fmt.Errorf("failed to seed content filter: %w", err)
		}
	}

	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
