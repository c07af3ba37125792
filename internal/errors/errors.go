package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of these,
// so boundaries can classify failures with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrProvider      = errors.New("embedding provider error")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
)

var (
	// Lookup errors
	ErrNoteNotFound    = fmt.Errorf("note %w", ErrNotFound)
	ErrProjectNotFound = fmt.Errorf("project %w", ErrNotFound)

	// Validation errors
	ErrEmptyContent      = fmt.Errorf("%w: content cannot be empty", ErrValidation)
	ErrEmptyQuery        = fmt.Errorf("%w: query cannot be empty", ErrValidation)
	ErrInvalidProjectID  = fmt.Errorf("%w: invalid project ID", ErrValidation)
	ErrInvalidNoteID     = fmt.Errorf("%w: invalid note ID", ErrValidation)
	ErrInvalidLimit      = fmt.Errorf("%w: limit must be positive", ErrValidation)
	ErrEmptyProjectName  = fmt.Errorf("%w: project name cannot be empty", ErrValidation)
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrValidation)
	ErrInvalidBoolean    = fmt.Errorf("%w: invalid boolean value (use true/false)", ErrValidation)
	ErrUnknownConfigKey  = fmt.Errorf("%w: unknown configuration key", ErrValidation)

	// Embedding errors
	ErrMissingCredential      = fmt.Errorf("%w: no embedding provider credential configured", ErrConfiguration)
	ErrUnknownProvider        = fmt.Errorf("%w: unknown embedding provider", ErrConfiguration)
	ErrInvalidEmbeddingLength = errors.New("invalid embedding data length")

	// Queue errors
	ErrQueueClosed  = errors.New("queue closed")
	ErrUnknownQueue = fmt.Errorf("%w: unknown queue backend", ErrConfiguration)
)

// Kind returns a short, log-friendly name for the error kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}

// IsRetryable reports whether a failed embedding job may succeed on a later
// attempt. Bad input and missing rows never will.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConfiguration)
}
