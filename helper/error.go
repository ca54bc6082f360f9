package helper

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match them with errors.Is to decide
// whether an operation should be retried, surfaced or ignored.
var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing chunk, entity or message.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a transient collaborator failure
	// (embedding provider, store connectivity). Retried with backoff.
	ErrUnavailable = errors.New("unavailable")
	// ErrInvalidArgument marks an unusable request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NewError wraps an error with the operation that produced it
func NewError(operation string, err error) error {
	return fmt.Errorf("error in %v: %w", operation, err)
}

// NewValidationError wraps a validation failure so that
// errors.Is(err, ErrValidation) holds
func NewValidationError(operation string, reason string) error {
	return fmt.Errorf("error in %v: %w: %v", operation, ErrValidation, reason)
}

// NewInvalidArgumentError wraps a bad request parameter so that
// errors.Is(err, ErrInvalidArgument) holds
func NewInvalidArgumentError(operation string, reason string) error {
	return fmt.Errorf("error in %v: %w: %v", operation, ErrInvalidArgument, reason)
}
