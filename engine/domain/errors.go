package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the pipeline.
var (
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrQuestionTooLong = errors.New("question too long")
	ErrQueryInjection  = errors.New("question contains suspicious content")
	ErrMissingUser     = errors.New("user id is required")
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrUpgradeRequired = errors.New("upgrade required")
	ErrSynthesisFailed = errors.New("answer synthesis failed")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UsageDeniedError is returned when the usage limiter rejects a request.
// It matches ErrUpgradeRequired under errors.Is.
type UsageDeniedError struct {
	Action string
	Reason string
}

func (e *UsageDeniedError) Error() string {
	return fmt.Sprintf("usage denied for %s: %s", e.Action, e.Reason)
}

func (e *UsageDeniedError) Unwrap() error { return ErrUpgradeRequired }

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSynthesisFailed)
}
