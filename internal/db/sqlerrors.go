package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrRetriesExceeded is returned when a transaction still hits busy
	// errors after the configured number of attempts.
	ErrRetriesExceeded = errors.New("db tx retries exceeded")
)

// MapSQLError turns sqlite errors into the database agnostic error types
// below. Other errors, including nil, are returned unchanged.
func MapSQLError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return parseSqliteError(sqliteErr)
	}

	return err
}

// parseSqliteError attempts to parse a sqlite error as a database agnostic
// SQL error.
func parseSqliteError(sqliteErr sqlite3.Error) error {
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique,
			sqlite3.ErrConstraintPrimaryKey:

			return &ErrSQLUniqueConstraintViolation{
				DBError: sqliteErr,
			}

		case sqlite3.ErrConstraintForeignKey:
			return &ErrSQLForeignKeyViolation{DBError: sqliteErr}
		}

		return fmt.Errorf("sqlite constraint error: %w", sqliteErr)

	// Another connection holds the write lock.
	case sqlite3.ErrBusy:
		return &ErrSerializationError{DBError: sqliteErr}

	// A conflict within the same connection.
	case sqlite3.ErrLocked:
		return &ErrDeadlockError{DBError: sqliteErr}

	case sqlite3.ErrError:
		if strings.Contains(sqliteErr.Error(), "no such table") {
			return &ErrSchemaError{DBError: sqliteErr}
		}

		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)

	default:
		return fmt.Errorf("unknown sqlite error: %w", sqliteErr)
	}
}

// ErrSQLUniqueConstraintViolation reports a duplicate key.
type ErrSQLUniqueConstraintViolation struct {
	DBError error
}

// Error returns the error message.
func (e ErrSQLUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DBError)
}

// Unwrap returns the wrapped error.
func (e ErrSQLUniqueConstraintViolation) Unwrap() error {
	return e.DBError
}

// ErrSQLForeignKeyViolation reports a reference to a missing row.
type ErrSQLForeignKeyViolation struct {
	DBError error
}

// Error returns the error message.
func (e ErrSQLForeignKeyViolation) Error() string {
	return fmt.Sprintf("sql foreign key violation: %v", e.DBError)
}

// Unwrap returns the wrapped error.
func (e ErrSQLForeignKeyViolation) Unwrap() error {
	return e.DBError
}

// ErrSerializationError reports that the database was busy.
type ErrSerializationError struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrSerializationError) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrSerializationError) Error() string {
	return e.DBError.Error()
}

// ErrDeadlockError reports a lock conflict on the same connection.
type ErrDeadlockError struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrDeadlockError) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrDeadlockError) Error() string {
	return e.DBError.Error()
}

// ErrSchemaError reports a query against a table that does not exist.
type ErrSchemaError struct {
	DBError error
}

// Unwrap returns the wrapped error.
func (e ErrSchemaError) Unwrap() error {
	return e.DBError
}

// Error returns the error message.
func (e ErrSchemaError) Error() string {
	return e.DBError.Error()
}

// IsUniqueViolation reports whether err is a duplicate key error.
func IsUniqueViolation(err error) bool {
	var target *ErrSQLUniqueConstraintViolation
	return errors.As(err, &target)
}

// IsForeignKeyViolation reports whether err is a missing reference error.
func IsForeignKeyViolation(err error) bool {
	var target *ErrSQLForeignKeyViolation
	return errors.As(err, &target)
}

// IsSerializationError reports whether err is a busy error.
func IsSerializationError(err error) bool {
	var target *ErrSerializationError
	return errors.As(err, &target)
}

// IsDeadlockError reports whether err is a locked error.
func IsDeadlockError(err error) bool {
	var target *ErrDeadlockError
	return errors.As(err, &target)
}

// IsSerializationOrDeadlockError reports whether err is worth retrying.
func IsSerializationOrDeadlockError(err error) bool {
	return IsDeadlockError(err) || IsSerializationError(err)
}

// IsSchemaError reports whether err is a missing table error.
func IsSchemaError(err error) bool {
	var target *ErrSchemaError
	return errors.As(err, &target)
}
