package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is matched by every DuplicateError.
var ErrDuplicate = errors.New("duplicate")

// DuplicateError reports a unique constraint violation on Field.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return e.Field + " already exists"
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

const uniqueViolation = "23505"

// translateUnique turns a Postgres unique violation into a DuplicateError,
// using fields to map constraint names to attribute names.
func translateUnique(err error, fields map[string]string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	if field, ok := fields[pqErr.Constraint]; ok {
		return &DuplicateError{Field: field}
	}
	return &DuplicateError{Field: pqErr.Constraint}
}
