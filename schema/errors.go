package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a slug matches no built-in or stored configuration.
	ErrNotFound = errors.New("configuration not found")

	// ErrBackendUnavailable is returned when the configuration store cannot
	// be reached or its schema cannot be ensured.
	ErrBackendUnavailable = errors.New("configuration store unavailable")

	// ErrUnsupportedOutputShape is returned when a vendor output cannot be
	// mapped onto the declared output fields.
	ErrUnsupportedOutputShape = errors.New("unsupported output shape")
)

// ValidationError reports an invalid configuration or caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return validationErrorf(field, format, args...)
}

// DispatchError wraps a vendor connection, authentication or runtime failure.
type DispatchError struct {
	Vendor     Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Vendor, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Message)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
