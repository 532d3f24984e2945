package booking

import (
	"fmt"

	"github.com/pkg/errors"
)

// Caller-visible outcomes. Every error returned by the scheduler matches at
// most one of these with errors.Is; anything else is an internal failure.
var (
	ErrValidation          = errors.New("validation failed")
	ErrResourceUnavailable = errors.New("computer is not available for booking")
	ErrConflict            = errors.New("computer already booked for this time")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrForbidden           = errors.New("forbidden")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
