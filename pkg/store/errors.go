package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the key does not exist (or has expired).
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable indicates the store could not be reached or answered with an error.
	ErrUnavailable = errors.New("store: unavailable")
)

// UnavailableError wraps a network, timeout or auth failure talking to the store.
type UnavailableError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: unavailable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: unavailable", e.Op)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes every UnavailableError match ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// IsUnavailable reports whether err is a store availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
