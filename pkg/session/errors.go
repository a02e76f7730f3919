package session

import (
	"errors"
	"fmt"

	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
)

var (
	// ErrConflict indicates a lifecycle call collided with another active session.
	ErrConflict = errors.New("another session is active")
	// ErrNoSession indicates there is no session to operate on.
	ErrNoSession = errors.New("no session")
)

// ConflictError names the session that blocked the call.
type ConflictError struct {
	ActiveID string
	State    lifecycle.State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s is %s", e.ActiveID, e.State)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
