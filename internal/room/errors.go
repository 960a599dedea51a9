package room

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("signaling channel not connected")
	ErrSessionEnded     = errors.New("session ended")
	ErrKicked           = errors.New("removed from session")
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrNotHost          = errors.New("host privileges required")
)

// RoomError wraps a failed room operation with the operation name and
// optional detail.
type RoomError struct {
	Op      string
	Err     error
	Details string
}

func (e *RoomError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RoomError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *RoomError {
	return &RoomError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *RoomError {
	return &RoomError{Op: op, Err: err, Details: details}
}
