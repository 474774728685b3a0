package storage

import (
	"errors"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrInvalidLimit rejects non-positive TopN limits.
	ErrInvalidLimit = errors.New("storage: limit must be positive")
)

// Error reports a failed append or query against the history store.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var sErr *Error
	if errors.As(err, &sErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}
