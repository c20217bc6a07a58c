// Package store is the single owner of amebo's relational persistence.
// It abstracts an embedded sqlite file and a networked postgres database
// behind one operation set: Exec (no rows), One (at most one row), and
// Many (all rows), with engine-aware placeholder forms and table
// qualification for caller-built SQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Import for registration side-effect.
	_ "github.com/mattn/go-sqlite3"    // Import for registration side-effect.
)

// Engine names a supported relational backend.
type Engine string

const (
	// Embedded is the single-file sqlite backend.
	Embedded Engine = "embedded"
	// Networked is the postgres backend.
	Networked Engine = "networked"
)

// namespace qualifies every table reference of the networked backend.
const namespace = "amebo."

// Store executes parameterized SQL against the selected engine.
// It is safe for concurrent use; callers never see connections or cursors.
type Store struct {
	db     *sql.DB
	engine Engine
}

// Open connects the selected engine. The embedded engine takes a file
// path as its DSN and is limited to a single connection; the networked
// engine takes a postgres URL and pools.
func Open(engine Engine, dsn string) (*Store, error) {
	var driver string
	switch engine {
	case Embedded:
		driver, dsn = "sqlite3", fmt.Sprintf("file:%s?_fk=1&_busy_timeout=5000", dsn)
	case Networked:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}

	var db, err = sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", engine, err)
	}
	if engine == Embedded {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, engine: engine}, nil
}

// Engine returns the active backend.
func (s *Store) Engine() Engine { return s.engine }

// Schema returns the qualifier prefix prepended to table references:
// empty for the embedded engine, "amebo." for the networked one.
func (s *Store) Schema() string {
	if s.engine == Networked {
		return namespace
	}
	return ""
}

// Placeholder returns the engine's positional placeholder for the
// n-th parameter (1-based): "?" for embedded, "$n" for networked.
func (s *Store) Placeholder(n int) string {
	if s.engine == Networked {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Exec runs a statement without returning rows.
func (s *Store) Exec(ctx context.Context, sqls string, args ...any) error {
	var _, err = s.db.ExecContext(ctx, sqls, args...)
	return normalize(err)
}

// One runs a query expected to match at most one row and scans it into
// dest. It returns ErrNotFound when the query matches nothing.
func (s *Store) One(ctx context.Context, sqls string, args []any, dest ...any) error {
	var err = s.db.QueryRowContext(ctx, sqls, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return normalize(err)
}

// Many runs a query and invokes scan once per row. Pagination happens
// upstream, in the SQL itself.
func (s *Store) Many(ctx context.Context, sqls string, args []any, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, sqls, args...)
	if err != nil {
		return normalize(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err = scan(rows); err != nil {
			return err
		}
	}
	return normalize(rows.Err())
}

// Tx groups mutating operations under a single transaction.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a transaction. The caller must Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	var tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, normalize(err)
	}
	return &Tx{tx: tx}, nil
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, sqls string, args ...any) error {
	var _, err = t.tx.ExecContext(ctx, sqls, args...)
	return normalize(err)
}

// One runs a single-row query inside the transaction.
func (t *Tx) One(ctx context.Context, sqls string, args []any, dest ...any) error {
	var err = t.tx.QueryRowContext(ctx, sqls, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return normalize(err)
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return normalize(t.tx.Commit()) }

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return normalize(err)
	}
	return nil
}

// Close releases the underlying connections.
func (s *Store) Close() error { return s.db.Close() }
