package storage

import (
	"errors"
	"fmt"

	"github.com/sipico/comms-gateway/internal/message"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate is returned when attempting to create a resource that already exists.
	ErrDuplicate = errors.New("resource already exists")

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")
)

// TransitionError is returned when a queue entry cannot move to the requested
// status from the status it is currently in.
type TransitionError struct {
	ID   string
	From message.Status
	To   message.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move message %s from %s to %s", e.ID, e.From, e.To)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended code 2067 is SQLITE_CONSTRAINT_UNIQUE; the low byte is the
		// primary SQLITE_CONSTRAINT code.
		return sqliteErr.Code() == 2067 || (sqliteErr.Code()&0xFF) == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
