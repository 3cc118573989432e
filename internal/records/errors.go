package records

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means no user is signed in.
	ErrUnauthorized = errors.New("user is not signed in")
	// ErrNotFound means the record does not exist or could not be decoded.
	ErrNotFound = errors.New("record not found")
	// ErrUnknown wraps any other storage failure.
	ErrUnknown = errors.New("unknown record service error")
)

func unknown(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnknown, err)
}
