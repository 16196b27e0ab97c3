package records

import (
	"errors"
	"fmt"
)

// Sentinel errors for records API operations. The sync engine classifies
// these to decide between retrying and giving up, so every failure a
// store returns must wrap exactly one of them (or carry a context error
// for cancellation).
var (
	// ErrNotFound means the record or database does not exist, or the
	// record was archived out from under us.
	ErrNotFound = errors.New("records: not found")
	// ErrRateLimited means the service returned 429. Transient.
	ErrRateLimited = errors.New("records: rate limited by server")
	// ErrInvalid means the service rejected the payload as malformed.
	ErrInvalid = errors.New("records: invalid request")
	// ErrUnauthorized means the token lacks access: revoked integration,
	// unshared database, or a delegate whose grant was withdrawn.
	ErrUnauthorized = errors.New("records: unauthorized")
	// ErrServer means a 5xx response. Transient.
	ErrServer = errors.New("records: server error")
	// ErrUnreachable means the request produced no HTTP response at all:
	// DNS failure, refused connection, client-side timeout. Transient.
	ErrUnreachable = errors.New("records: service unreachable")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op       string // Operation: "create", "get", "update", "archive", "query"
	Database string // Database ID, if applicable
	RecordID string // If applicable
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.RecordID != "":
		return fmt.Sprintf("records %s [%s/%s]: %v", e.Op, e.Database, e.RecordID, e.Err)
	case e.Database != "":
		return fmt.Sprintf("records %s [%s]: %v", e.Op, e.Database, e.Err)
	default:
		return fmt.Sprintf("records %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError creates an Error with context.
func wrapError(op, database, recordID string, err error) error {
	return &Error{
		Op:       op,
		Database: database,
		RecordID: recordID,
		Err:      err,
	}
}
