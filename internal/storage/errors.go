package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no document or blob exists at a key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocument is returned for documents that fail validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrInvalidKey is returned for keys that could escape the storage root.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrUnavailable is returned when no backend could be initialized.
	ErrUnavailable = errors.New("storage unavailable")
)

// Error describes a failed storage operation
type Error struct {
	Backend Kind
	Op      string // "put", "get", "list", "remove", "put_image", ...
	Key     string
	Err     error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s storage %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s storage %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error, passing nil through
func Wrap(kind Kind, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: kind, Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err signals a missing document or blob
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
