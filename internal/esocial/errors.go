package esocial

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports a payload or business-rule violation. It is
// deterministic for a given payload, so retrying can never clear it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a specific field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransientError reports a transport or gateway failure that may clear on a
// later attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// NewTransientErrorf creates a retryable error from a format string
func NewTransientErrorf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransientError reports whether err is (or wraps) a TransientError
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
