package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across storage backends.
var (
	// ErrNotFound is returned when a blob, record or document is absent.
	ErrNotFound = errors.New("not found")
	// ErrIndexNotFound is returned when a vector index does not exist.
	ErrIndexNotFound = errors.New("index not found")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIndexNotFound reports whether err is (or wraps) ErrIndexNotFound.
func IsIndexNotFound(err error) bool {
	return errors.Is(err, ErrIndexNotFound)
}

// ValidationError reports caller mistakes: bad index or document id, illegal
// tag characters, null filter values, dimension mismatches. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DimensionMismatchError is returned when an upsert or index creation does
// not match the dimension the index was created with.
type DimensionMismatchError struct {
	Index    string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("index %s expects vectors of dimension %d, got %d", e.Index, e.Expected, e.Actual)
}

// IsDimensionMismatch reports whether err is (or wraps) a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var de *DimensionMismatchError
	return errors.As(err, &de)
}

// TransientError wraps failures worth retrying: network errors, 5xx
// responses, lease contention. The orchestrator maps it to a retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. Returns nil when err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FatalError wraps failures that must never be retried: unknown steps,
// corrupt status files, schema mismatches.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks err as non-retryable. Returns nil when err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
