package vtube

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed marks transport failures. Callers recover by reconnecting.
	ErrConnectionClosed = errors.New("avatar connection closed")
	ErrAuthRejected     = errors.New("avatar authentication rejected")
	ErrValidation       = errors.New("invalid avatar request")
	ErrClientClosed     = errors.New("avatar client closed")
)

// ValidationError names the offending field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
