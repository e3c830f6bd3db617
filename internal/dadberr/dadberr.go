// Package dadberr defines the sentinel error taxonomy shared across DADB's
// core components, and helpers for wrapping backend errors with operation
// context, in the same style as a storage adapter's error helpers.
package dadberr

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors. Callers should test with errors.Is, never string
// comparison — wrapped errors carry operation context via %w.
var (
	// ErrRepositoryMismatch indicates the reserved row is missing or
	// incompatible with the compiled-in schemaversion/apiversion/prefix/pkey.
	ErrRepositoryMismatch = errors.New("repository mismatch")

	// ErrModelConflict indicates a re-registered model/enum disagrees in
	// version or shape with the already-registered definition.
	ErrModelConflict = errors.New("model conflict")

	// ErrNoSuchModel indicates an unknown model or enum name.
	ErrNoSuchModel = errors.New("no such model")

	// ErrNoSuchModelItem indicates a modelitem id not present in its
	// backing table.
	ErrNoSuchModelItem = errors.New("no such modelitem")

	// ErrNoSuchDataObject indicates a data id not present, or rolled back.
	ErrNoSuchDataObject = errors.New("no such data object")

	// ErrDuplicateItem indicates a fail_on_dup policy violation.
	ErrDuplicateItem = errors.New("duplicate item")

	// ErrDuplicateData indicates insert_data was asked to fail rather than
	// reuse an existing data object with a matching sha256.
	ErrDuplicateData = errors.New("duplicate data")

	// ErrValue indicates invalid user input: a bad datatype, an
	// out-of-range timeline exclusion, or an invalid identifier.
	ErrValue = errors.New("invalid value")

	// ErrStore indicates an unrecoverable backend failure.
	ErrStore = errors.New("store error")
)

// Wrap wraps err with operation context op, translating sql.ErrNoRows into
// the given notFound sentinel (or ErrStore if notFound is nil).
func Wrap(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStore, err))
}

// Wrapf is Wrap with a formatted operation description.
func Wrapf(err error, notFound error, format string, args ...interface{}) error {
	return Wrap(fmt.Sprintf(format, args...), err, notFound)
}

// ValueErrorf builds an ErrValue-wrapping error naming the offending field.
func ValueErrorf(field string, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("field %q: %s: %w", field, msg, ErrValue)
}
