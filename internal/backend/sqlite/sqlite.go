// Package sqlite implements the backend.Backend contract over a single-file
// embedded store using modernc.org/sqlite, a pure-Go SQLite driver. It adds
// no policy beyond surfacing store errors with operation context and
// retrying on transient busy/locked conditions: DADB's schema and
// deduplication semantics live one layer up.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/mxkrt/dadb/internal/backend"
	"github.com/mxkrt/dadb/internal/dadberr"
)

// Options configures how a repository file is opened.
type Options struct {
	// ReadOnly opens the store without a writable connection.
	ReadOnly bool
	// BusyTimeout bounds how long SQLite itself waits on a lock before
	// surfacing SQLITE_BUSY (on top of our own retry loop).
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Store is the sqlite-backed implementation of backend.Backend.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu sync.Mutex // guards tx: only one active transaction per handle (§5)
	tx *sql.Tx
}

var _ backend.Backend = (*Store)(nil)

// Open opens or creates the repository file at path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	busy := opts.BusyTimeout
	if busy == 0 {
		busy = 5 * time.Second
	}

	mode := "rwc"
	if opts.ReadOnly {
		mode = "ro"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)",
		path, mode, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, dadberr.Wrap("open repository", err, nil)
	}
	// A single connection matches the single-writer, single-threaded
	// cooperative scheduling model of §5: at most one transaction per
	// handle, writes are always made on the connection holding the lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dadberr.Wrap("open repository", err, nil)
	}

	logger.Debug("opened repository", "path", path, "readonly", opts.ReadOnly)
	return &Store{db: db, path: path, logger: logger}, nil
}

func (s *Store) querier() interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := tracer.Start(ctx, "backend.exec", trace.WithAttributes(spanAttrs("exec", query)...))
	start := time.Now()
	var result sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = s.querier().ExecContext(ctx, query, args...)
		return execErr
	})
	backendMetrics.execDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes())
	finalErr := dadberr.Wrap("exec", err, nil)
	endSpan(span, finalErr)
	return result, finalErr
}

func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := tracer.Start(ctx, "backend.query", trace.WithAttributes(spanAttrs("query", query)...))
	var rows *sql.Rows
	err := withBusyRetry(ctx, func() error {
		var qerr error
		rows, qerr = s.querier().QueryContext(ctx, query, args...)
		return qerr
	})
	finalErr := dadberr.Wrap("query", err, nil)
	endSpan(span, finalErr)
	return rows, finalErr
}

func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := tracer.Start(ctx, "backend.query_row", trace.WithAttributes(spanAttrs("query_row", query)...))
	defer span.End()
	return s.querier().QueryRowContext(ctx, query, args...)
}

// Select implements backend.Backend.Select: a parameterized equality-where,
// ordered, row-as-map reader over a table or view.
func (s *Store) Select(ctx context.Context, table string, opts backend.SelectOptions) ([]backend.Row, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", table)

	var args []interface{}
	var clauses []string
	for col, val := range opts.Where {
		clauses = append(clauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
	}
	if opts.WhereRaw != "" {
		clauses = append(clauses, "("+opts.WhereRaw+")")
		args = append(args, opts.WhereArgs...)
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if opts.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(opts.OrderBy)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}

	rows, err := s.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dadberr.Wrap("select columns", err, nil)
	}

	var out []backend.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dadberr.Wrap("select scan", err, nil)
		}
		row := make(backend.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, dadberr.Wrap("select iterate", rows.Err(), nil)
}

func (s *Store) DDL(ctx context.Context, stmt string) error {
	_, err := s.Exec(ctx, stmt)
	return err
}

func (s *Store) BeginTx(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("begin transaction: already active: %w", dadberr.ErrStore)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dadberr.Wrap("begin transaction", err, nil)
	}
	s.tx = tx
	return nil
}

func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("commit: no active transaction: %w", dadberr.ErrStore)
	}
	err := s.tx.Commit()
	s.tx = nil
	return dadberr.Wrap("commit", err, nil)
}

func (s *Store) Rollback() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return false, nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return true, dadberr.Wrap("rollback", err, nil)
}

func (s *Store) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// CreateFTSTable creates an fts5 virtual table. modernc.org/sqlite is built
// with the fts5 extension, so this needs no additional Go dependency.
func (s *Store) CreateFTSTable(ctx context.Context, name string, columns []string) error {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s)", name, strings.Join(columns, ", "))
	return s.DDL(ctx, stmt)
}

// OpenBlob returns a read/seek handle over a single BLOB column value.
// modernc.org/sqlite's database/sql driver does not expose incremental
// sqlite3_blob_open-style I/O, so this reads the value once into memory and
// wraps it in a seekable reader; callers in the Data Store still avoid
// holding more than BLOCKSIZE bytes at a time since each stored block is a
// separate row.
func (s *Store) OpenBlob(ctx context.Context, table, column string, rowid int64) (backend.Blob, error) {
	row := s.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE rowid = ?", column, table), rowid)
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, dadberr.Wrap("open blob", err, dadberr.ErrNoSuchDataObject)
	}
	return &memBlob{r: bytes.NewReader(data)}, nil
}

type memBlob struct{ r *bytes.Reader }

func (b *memBlob) Read(p []byte) (int, error)                 { return b.r.Read(p) }
func (b *memBlob) Seek(offset int64, whence int) (int64, error) { return b.r.Seek(offset, whence) }
func (b *memBlob) Close() error                                { return nil }

func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.Query(ctx, "SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, dadberr.Wrap("scan table name", err, nil)
		}
		names = append(names, n)
	}
	return names, dadberr.Wrap("iterate table names", rows.Err(), nil)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.mu.Unlock()
	return dadberr.Wrap("close repository", s.db.Close(), nil)
}

