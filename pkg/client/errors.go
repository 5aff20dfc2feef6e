package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrQuotaExhausted is the sentinel matched by quota_exhausted results.
	ErrQuotaExhausted = errors.New("daily quota exhausted")

	// ErrNotFound is the sentinel matched by not_found results.
	ErrNotFound = errors.New("no flights found")
)

// APIError represents a non-successful call with its classification.
type APIError struct {
	StatusCode int
	Class      Class
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flightstatus %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("flightstatus %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// sentinel maps a class to the error it unwraps to, if any.
func sentinel(class Class) error {
	switch class {
	case ClassQuotaExhausted:
		return ErrQuotaExhausted
	case ClassNotFound:
		return ErrNotFound
	default:
		return nil
	}
}
