package db

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that no analysis matches the requested id.
var ErrNotFound = errors.New("analysis not found")

// PersistenceError wraps a failure while writing to or reading from the
// analysis database.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("db %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
