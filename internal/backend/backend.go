// Package backend defines the thin contract DADB's core components use to
// talk to the underlying single-file embedded relational store. Concrete
// implementations (see the sqlite subpackage) add no policy of their own:
// errors from the store are surfaced verbatim, wrapped only with operation
// context.
package backend

import (
	"context"
	"database/sql"
)

// Row is a single result row addressed by column name, the shape returned
// by Select. Values are already decoded to Go native types by database/sql
// (int64, float64, string, []byte, time.Time, nil).
type Row map[string]interface{}

// SelectOptions narrows a Select call.
type SelectOptions struct {
	// Where is a set of exact-match column equality constraints, ANDed
	// together. Use WhereRaw for anything richer.
	Where map[string]interface{}
	// WhereRaw is a raw SQL boolean expression, ANDed with Where.
	WhereRaw string
	// WhereArgs are positional args substituted into WhereRaw's "?" placeholders.
	WhereArgs []interface{}
	// OrderBy is a raw "ORDER BY" clause body, e.g. "id ASC".
	OrderBy string
	// Limit caps the number of rows; zero means unlimited.
	Limit int64
}

// Backend is the contract the core's higher-level components (Catalog,
// Modelitem Engine, Timeline Engine) use to reach the store. A Backend
// holds at most one open transaction at a time, per §5 of the design: the
// core is single-writer per repository handle.
type Backend interface {
	// Exec runs a parameterized statement with no result rows.
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// Query runs a parameterized statement returning rows. Callers must
	// close the returned *sql.Rows.
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// QueryRow runs a parameterized statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// Select runs a typed select against table (or a view), returning rows
	// as name-addressed records in the shape named by §4.1.
	Select(ctx context.Context, table string, opts SelectOptions) ([]Row, error)

	// DDL issues a CREATE/ALTER/DROP statement. Distinguished from Exec
	// for readability at call sites; behaves identically.
	DDL(ctx context.Context, stmt string) error

	// BeginTx starts the single supported transaction level. Returns an
	// error if one is already active — nesting is handled by the
	// Transaction Facade, not here.
	BeginTx(ctx context.Context) error

	// Commit commits the active transaction.
	Commit() error

	// Rollback rolls back the active transaction. Safe to call when none
	// is active (returns false, nil).
	Rollback() (bool, error)

	// InTransaction reports whether a transaction is currently open.
	InTransaction() bool

	// CreateFTSTable creates an fts5 virtual table over the given columns.
	CreateFTSTable(ctx context.Context, name string, columns []string) error

	// OpenBlob returns a seek/read handle over a BLOB column of a single
	// row. The sqlite implementation reads the whole value into memory when
	// the handle is opened; it does not stream it incrementally.
	OpenBlob(ctx context.Context, table, column string, rowid int64) (Blob, error)

	// TableNames lists the physical tables and views known to the store,
	// used by reopen-identity checks (§8 property 3).
	TableNames(ctx context.Context) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

// Blob is a seek/read handle onto a single stored BLOB value.
type Blob interface {
	Read(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}
