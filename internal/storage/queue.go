package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sipico/comms-gateway/internal/message"
)

const queueSelect = `SELECT q.id, q.api_key_id, q.channel, q.recipient_address, q.recipient_name,
	q.subject, q.body, q.priority, q.status, q.agent_context, q.created_at,
	q.reviewed_at, q.sent_at, q.error_message, COALESCE(k.name, 'Unknown')
	FROM communication_queue q
	LEFT JOIN api_keys k ON k.id = q.api_key_id`

func scanQueueEntry(row rowScanner) (*QueueEntry, error) {
	var (
		e                       QueueEntry
		name, subject, agentCtx sql.NullString
		errorMessage            sql.NullString
		createdAt               string
		reviewedAt, sentAt      sql.NullString
	)
	err := row.Scan(&e.ID, &e.APIKeyID, &e.Channel, &e.RecipientAddress, &name,
		&subject, &e.Body, &e.Priority, &e.Status, &agentCtx, &createdAt,
		&reviewedAt, &sentAt, &errorMessage, &e.AgentName)
	if err != nil {
		return nil, err
	}

	e.RecipientName = stringPtr(name)
	e.Subject = stringPtr(subject)
	e.ErrorMessage = stringPtr(errorMessage)
	if agentCtx.Valid {
		e.AgentContext = []byte(agentCtx.String)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if e.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertQueueEntry persists a new message and returns its ID. The entry must
// start as pending or flagged; a flagged message is written as flagged
// directly rather than inserted then transitioned. ID and CreatedAt are set on e.
func (s *SQLiteStorage) InsertQueueEntry(ctx context.Context, e *QueueEntry) (string, error) {
	if e.Status != message.StatusPending && e.Status != message.StatusFlagged {
		return "", fmt.Errorf("new messages must be pending or flagged, got %s", e.Status)
	}
	if e.Priority == 0 {
		e.Priority = message.PriorityNormal
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = s.now().UTC().Truncate(time.Microsecond)

	var agentCtx sql.NullString
	if len(e.AgentContext) > 0 {
		agentCtx = sql.NullString{String: string(e.AgentContext), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO communication_queue
			(id, api_key_id, channel, recipient_address, recipient_name, subject, body,
			 priority, status, agent_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.APIKeyID, e.Channel, e.RecipientAddress, nullString(e.RecipientName),
		nullString(e.Subject), e.Body, e.Priority, e.Status, agentCtx, formatTime(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return e.ID, nil
}

// GetQueueEntry retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStorage) GetQueueEntry(ctx context.Context, id string) (*QueueEntry, error) {
	e, err := scanQueueEntry(s.db.QueryRowContext(ctx, queueSelect+" WHERE q.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// ListPendingAndFlagged returns messages awaiting review: flagged before
// pending, then by priority severity, then oldest first.
func (s *SQLiteStorage) ListPendingAndFlagged(ctx context.Context) ([]*QueueEntry, error) {
	return s.queryQueue(ctx, queueSelect+`
		WHERE q.status IN ('pending', 'flagged')
		ORDER BY
			CASE q.status WHEN 'flagged' THEN 0 ELSE 1 END,
			CASE q.priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
			q.created_at ASC, q.rowid ASC`)
}

// ListHistory returns messages newest first, optionally narrowed by status
// and by a substring of the owning key's name.
func (s *SQLiteStorage) ListHistory(ctx context.Context, f HistoryFilter) ([]*QueueEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != 0 {
		where = append(where, "q.status = ?")
		args = append(args, f.Status)
	}
	if f.Agent != "" {
		where = append(where, "k.name LIKE ?")
		args = append(args, "%"+f.Agent+"%")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := queueSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY q.created_at DESC, q.rowid DESC LIMIT ?"
	args = append(args, limit)

	return s.queryQueue(ctx, query, args...)
}

func (s *SQLiteStorage) queryQueue(ctx context.Context, query string, args ...any) ([]*QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := make([]*QueueEntry, 0)
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return entries, nil
}

// CountPending returns the number of messages awaiting review.
func (s *SQLiteStorage) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM communication_queue WHERE status IN ('pending', 'flagged')").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

// CountQueueSince counts messages queued by a key at or after since,
// whatever their status.
func (s *SQLiteStorage) CountQueueSince(ctx context.Context, keyID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM communication_queue WHERE api_key_id = ? AND created_at >= ?",
		keyID, formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return n, nil
}

// TransitionQueueEntry moves a message to status to. The move only happens
// if the current status may legally reach to; otherwise a *TransitionError is
// returned and the row is left untouched. Review decisions stamp reviewed_at.
func (s *SQLiteStorage) TransitionQueueEntry(ctx context.Context, id string, to message.Status) error {
	switch to {
	case message.StatusApproved, message.StatusDenied:
		return s.transition(ctx, id, to, "reviewed_at = ?", s.timestamp())
	case message.StatusSent:
		return s.MarkSent(ctx, id)
	default:
		return s.transition(ctx, id, to, "")
	}
}

// MarkSent records a successful dispatch of an approved message.
func (s *SQLiteStorage) MarkSent(ctx context.Context, id string) error {
	return s.transition(ctx, id, message.StatusSent, "sent_at = ?", s.timestamp())
}

// MarkFailed records a failed dispatch of an approved message. The attempt
// time is kept in sent_at.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return s.transition(ctx, id, message.StatusFailed, "sent_at = ?, error_message = ?", s.timestamp(), errMsg)
}

// transition is a compare-and-set on the status column: the UPDATE only
// matches rows whose status is a legal source for to.
func (s *SQLiteStorage) transition(ctx context.Context, id string, to message.Status, set string, setArgs ...any) error {
	sources := message.SourcesFor(to)
	if len(sources) == 0 {
		current, err := s.currentStatus(ctx, id)
		if err != nil {
			return err
		}
		return &TransitionError{ID: id, From: current, To: to}
	}

	assignments := "status = ?"
	if set != "" {
		assignments += ", " + set
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")

	args := append([]any{to}, setArgs...)
	args = append(args, id)
	for _, src := range sources {
		args = append(args, src)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE communication_queue SET "+assignments+" WHERE id = ? AND status IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	current, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return &TransitionError{ID: id, From: current, To: to}
}

func (s *SQLiteStorage) currentStatus(ctx context.Context, id string) (message.Status, error) {
	var status message.Status
	err := s.db.QueryRowContext(ctx, "SELECT status FROM communication_queue WHERE id = ?", id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to read queue status: %w", err)
	}
	return status, nil
}
