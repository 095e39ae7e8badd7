package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed or out-of-bound request. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks a requester who does not own the listing.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a listing that does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrInternal marks a failed transaction. The cause is kept in the chain for logs only.
	ErrInternal = errors.New("internal error")
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// classify keeps caller-facing errors as they are and wraps everything else as ErrInternal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
