package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAuthRejected  = fmt.Errorf("authentication rejected")
	ErrNotAuthorized = fmt.Errorf("not authorized for project")
	ErrRoomNotFound  = fmt.Errorf("room not found")
	ErrNotAMember    = fmt.Errorf("not a member of room")
	ErrSlowConsumer  = fmt.Errorf("subscriber queue full")
	ErrSinkClosed    = fmt.Errorf("sink closed")
	ErrWorkerPanic   = fmt.Errorf("worker panic")
)

// ConflictError is the expected, recoverable outcome of a mutation proposed
// against a stale base revision. The caller re-fetches the scene at
// CurrentRevision and retries; the ledger never merges.
type ConflictError struct {
	CurrentRevision int64
	LastWriter      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict: current=%d last_writer=%s",
		e.CurrentRevision, e.LastWriter)
}

// MapToWireCode translates the error taxonomy into the stable codes carried
// on error frames. Unknown errors map to "internal" rather than leaking text.
func MapToWireCode(err error) string {
	var conflict *ConflictError
	switch {
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer"
	case errors.As(err, &conflict):
		return "conflict"
	}
	return "internal"
}
