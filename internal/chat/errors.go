package chat

import (
	"errors"
	"strings"
)

var (
	// ErrConflict is returned when registering a name that is already taken.
	ErrConflict = errors.New("name already in use")
	// ErrNotFound is returned for an unknown or missing participant.
	ErrNotFound = errors.New("participant not found")
)

// ValidationError carries every validation failure of a request.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

func invalid(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}
