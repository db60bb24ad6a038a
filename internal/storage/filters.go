package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const filterColumns = "id, pattern, pattern_type, action, description, enabled, created_at"

func scanFilter(row rowScanner) (*ContentFilter, error) {
	var (
		f                   ContentFilter
		patternType, action string
		description         sql.NullString
		createdAt           string
	)
	if err := row.Scan(&f.ID, &f.Pattern, &patternType, &action, &description, &f.Enabled, &createdAt); err != nil {
		return nil, err
	}
	f.PatternType = PatternType(patternType)
	f.Action = FilterAction(action)
	f.Description = description.String

	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFilter stores a new content filter and returns it with its ID.
func (s *SQLiteStorage) CreateFilter(ctx context.Context, f *ContentFilter) (*ContentFilter, error) {
	if !f.PatternType.Valid() {
		return nil, fmt.Errorf("invalid pattern type %q", f.PatternType)
	}
	if !f.Action.Valid() {
		return nil, fmt.Errorf("invalid filter action %q", f.Action)
	}

	var description sql.NullString
	if f.Description != "" {
		description = sql.NullString{String: f.Description, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO content_filters (pattern, pattern_type, action, description, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.Pattern, string(f.PatternType), string(f.Action), description, f.Enabled, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("failed to create content filter: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return s.GetFilter(ctx, id)
}

// GetFilter retrieves a content filter by ID.
func (s *SQLiteStorage) GetFilter(ctx context.Context, id int64) (*ContentFilter, error) {
	f, err := scanFilter(s.db.QueryRowContext(ctx,
		"SELECT "+filterColumns+" FROM content_filters WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content filter: %w", err)
	}
	return f, nil
}

// ListFilters returns every filter, enabled or not, in evaluation order.
func (s *SQLiteStorage) ListFilters(ctx context.Context) ([]*ContentFilter, error) {
	return s.queryFilters(ctx, "SELECT "+filterColumns+` FROM content_filters
		ORDER BY CASE action WHEN 'deny' THEN 0 ELSE 1 END, created_at, id`)
}

// ListEnabledFilters returns enabled filters, deny filters first, then oldest first.
func (s *SQLiteStorage) ListEnabledFilters(ctx context.Context) ([]*ContentFilter, error) {
	return s.queryFilters(ctx, "SELECT "+filterColumns+` FROM content_filters WHERE enabled = 1
		ORDER BY CASE action WHEN 'deny' THEN 0 ELSE 1 END, created_at, id`)
}

func (s *SQLiteStorage) queryFilters(ctx context.Context, query string) ([]*ContentFilter, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query content filters: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	filters := make([]*ContentFilter, 0)
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content filter row: %w", err)
		}
		filters = append(filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content filters: %w", err)
	}
	return filters, nil
}

// SetFilterEnabled enables or disables a filter. Running engines only see
// the change after a reload.
func (s *SQLiteStorage) SetFilterEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.execOne(ctx, "update content filter",
		"UPDATE content_filters SET enabled = ? WHERE id = ?", enabled, id)
}

// DeleteFilter removes a filter.
// Returns ErrNotFound if the filter doesn't exist.
func (s *SQLiteStorage) DeleteFilter(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete content filter",
		"DELETE FROM content_filters WHERE id = ?", id)
}
