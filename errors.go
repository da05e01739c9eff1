package strata

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("strata: entity not found")

	// ErrNotPersisted is returned when an operation requires a persisted
	// entity but the given one has no id yet.
	ErrNotPersisted = errors.New("strata: entity not persisted")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // the id that was searched for, if known.
}

// NewNotFoundError returns a new NotFoundError for the given entity label.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(err, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string { return e.label }

// ID returns the id that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ConstraintError is returned when a mutation fails a database constraint.
// The underlying engine error is carried unchanged and can be classified
// with IsUniqueConstraintError / IsForeignKeyConstraintError.
type ConstraintError struct {
	msg  string
	wrap error
}

// NewConstraintError wraps the given engine error as a ConstraintError.
func NewConstraintError(msg string, wrap error) *ConstraintError {
	return &ConstraintError{msg: msg, wrap: wrap}
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying engine error.
func (e *ConstraintError) Unwrap() error { return e.wrap }

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	var e *ConstraintError
	return errors.As(err, &e) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err)
}

// errorNumberer is an interface for database errors that provide numeric
// error codes. Implemented by mysql.MySQLError.
type errorNumberer interface {
	Number() uint16
}

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451 // Cannot delete or update a parent row.
	mysqlForeignKeyChild  = 1452 // Cannot add or update a child row.
)

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness
// constraint violation. e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[errorNumberer](err); ok {
		if e.Number() == mysqlDuplicateEntry {
			return true
		}
	}
	// Fallback to string matching for drivers without typed errors.
	return chainContainsAny(err,
		"Error 1062",               // MySQL
		"UNIQUE constraint failed", // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database
// foreign-key constraint violation. e.g. the parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[errorNumberer](err); ok {
		num := e.Number()
		if num == mysqlForeignKeyParent || num == mysqlForeignKeyChild {
			return true
		}
	}
	return chainContainsAny(err,
		"Error 1451",                    // MySQL
		"Error 1452",                    // MySQL
		"FOREIGN KEY constraint failed", // SQLite
	)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// chainContainsAny matches the substrings against every error in the
// unwrap chain, not only the outermost one; wrappers like ConstraintError
// do not repeat the engine's message in their own text.
func chainContainsAny(err error, substrings ...string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		s := err.Error()
		for _, sub := range substrings {
			if strings.Contains(s, sub) {
				return true
			}
		}
	}
	return false
}
