package screenshots

import (
	"errors"
	"strings"
)

var (
	// ErrPermissionRequired indicates screen recording permission is needed.
	ErrPermissionRequired = errors.New("screen recording permission required for screenshot capture")
	// ErrNoFrame means no frame could be produced for a monitor.
	ErrNoFrame = errors.New("no screenshot frame available")
)

type permissionError struct {
	message string
}

func (e *permissionError) Error() string {
	return e.message
}

func (e *permissionError) Is(target error) bool {
	return target == ErrPermissionRequired
}

func newPermissionError(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrPermissionRequired.Error()
	}
	return &permissionError{message: trimmed}
}
