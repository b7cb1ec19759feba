package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for empty keys or keys that try to escape
	// the storage root.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrAccessDenied is returned when the provider refuses the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoPublicURL is returned when public URLs are requested but no
	// public base URL is configured.
	ErrNoPublicURL = errors.New("no public url configured")
)

// StorageError wraps storage operation errors with additional context.
type StorageError struct {
	Op  string // "Put", "Delete", ...
	Key string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error {
	return e.Err
}
