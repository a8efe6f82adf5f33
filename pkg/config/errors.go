package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingURL indicates the target URL is absent.
	ErrMissingURL = errors.New("target URL is required")

	// ErrInvalidURL indicates the target URL did not parse as absolute http/https.
	ErrInvalidURL = errors.New("target URL must be absolute http or https")

	// ErrNoScannerEnabled indicates both scanner flags are false.
	ErrNoScannerEnabled = errors.New("at least one of sqli or xss must be enabled")
)

// ValidationError wraps scan configuration validation errors with the
// offending field.
type ValidationError struct {
	Field string
	Err   error
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("scan config: field '%s': %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
