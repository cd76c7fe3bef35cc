package types

import (
	"errors"
	"fmt"
)

// Sentinel errors used for control flow across package boundaries.
var (
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrEventNotFound is returned when an event record does not exist.
	ErrEventNotFound = errors.New("event not found")
)

// RetriableError wraps a transient failure that should be surfaced to the
// queue transport so the message is redelivered (and eventually routed to the
// DLQ once the transport's receive count is exhausted).
type RetriableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetriableError) Unwrap() error {
	return e.Err
}

// Retriable wraps err so IsRetriable reports true for it.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &RetriableError{Err: err}
}

// IsRetriable reports whether err (or anything it wraps) was marked retriable.
func IsRetriable(err error) bool {
	var re *RetriableError
	return errors.As(err, &re)
}
