// Package dbkit is the thin database facade spec.md §2 sits the index
// core directly on: typed value/filter/column constructors,
// transactions with isolation level, existence checks, id lookups, and
// cursor-style selects, shared across all three backend engines.
//
// The facade deliberately does not hide the backend behind
// database/sql's connection pool for write transactions: like the
// teacher's CreateIssue in internal/storage/sqlite/queries.go, a write
// transaction here checks out one dedicated *sql.Conn and starts a
// *sql.Tx on it with Conn.BeginTx, so the statements run inside it and
// its commit or rollback land on the same underlying connection, which
// is returned to the pool on End.
package dbkit

import (
	"context"
	"database/sql"
	"fmt"
)

// DB wraps a *sql.DB for one backend engine plus the dialect name used
// by internal/schema and internal/fts to pick dialect-specific SQL.
type DB struct {
	Dialect string // "sqlite", "dolt", "mysql"
	conn    *sql.DB
}

// Open wraps an already-constructed *sql.DB (built by
// internal/backend/{sqlite,dolt,mysql}) in a DB facade.
func Open(dialect string, conn *sql.DB) *DB {
	return &DB{Dialect: dialect, conn: conn}
}

// Close closes the underlying *sql.DB.
func (d *DB) Close() error { return d.conn.Close() }

// Isolation is the transaction isolation level requested by BeginTx.
// Every bxindex caller, the storage purger included, requests
// IsolationDefault; aggregate recompute runs outside any transaction.
// IsolationSerializable maps to sql.LevelSerializable.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationSerializable
)

func (i Isolation) sqlLevel() sql.IsolationLevel {
	switch i {
	case IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Tx is a transaction bound to one dedicated connection, following the
// teacher's CreateIssue pattern: the connection is checked out for the
// transaction's whole lifetime and returned to the pool on End.
type Tx struct {
	db        *DB
	conn      *sql.Conn
	tx        *sql.Tx
	committed bool
}

// BeginTx checks out a dedicated connection and starts a transaction at
// the given isolation level. Callers must call End exactly once; if the
// transaction was not committed, End rolls back.
func (d *DB) BeginTx(ctx context.Context, isolation Isolation) (*Tx, error) {
	conn, err := d.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbkit: checkout connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: isolation.sqlLevel()})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dbkit: begin: %w", err)
	}
	return &Tx{db: d, conn: conn, tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("dbkit: commit: %w", err)
	}
	t.committed = true
	return nil
}

// End releases the dedicated connection, rolling back first if Commit
// was never called — mirrors the teacher's `defer` rollback-if-not-
// committed idiom in CreateIssue.
func (t *Tx) End() {
	if !t.committed {
		t.tx.Rollback()
	}
	t.conn.Close()
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, WrapDBError("exec", err)
	}
	return res, nil
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapDBError("query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Exists reports whether a row matching whereClause (without the
// leading "WHERE") exists in table. Spec.md §2 calls out existence
// checks as a first-class facade operation distinct from a full select,
// since callers only need a boolean and the facade can use `SELECT 1 …
// LIMIT 1` rather than materializing a row.
func (d *DB) Exists(ctx context.Context, table, whereClause string, args ...any) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", table, whereClause)
	var one int
	err := d.conn.QueryRowContext(ctx, q, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, WrapDBError("exists", err)
	}
	return true, nil
}

// FindID looks up the integer primary key of the row matching
// whereClause, returning ErrNotFound if none matches. internal/bxindex
// uses it for its UUID and entity lookups; it runs on the pool, not
// inside a transaction.
func (d *DB) FindID(ctx context.Context, table, whereClause string, args ...any) (int64, error) {
	q := fmt.Sprintf("SELECT id FROM %s WHERE %s LIMIT 1", table, whereClause)
	var id int64
	err := d.conn.QueryRowContext(ctx, q, args...).Scan(&id)
	if err != nil {
		return 0, WrapDBError("find_id", err)
	}
	return id, nil
}

// Exec runs a statement outside of any explicit transaction, using the
// pool directly. Used for single-statement writes that don't need
// dedicated-connection semantics (e.g. internal/aggregate's counter
// writes).
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, WrapDBError("exec", err)
	}
	return res, nil
}

// QueryScalar runs a single-row, single-column query and scans it into
// dest.
func (d *DB) QueryScalar(ctx context.Context, dest any, query string, args ...any) error {
	if err := d.conn.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return WrapDBError("query_scalar", err)
	}
	return nil
}

// QueryScalars runs a single-row, multi-column query and scans it into
// dest, used by internal/aggregate's SUM/COUNT recompute queries which
// fetch a whole row of aggregate columns at once.
func (d *DB) QueryScalars(ctx context.Context, query string, args []any, dest ...any) error {
	if err := d.conn.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return WrapDBError("query_scalars", err)
	}
	return nil
}

// Cursor is a forward-only, column-scanning iterator over a query
// result, used by internal/query's list operations so callers don't
// each repeat the rows.Next/rows.Scan/rows.Err/rows.Close boilerplate.
type Cursor struct {
	rows *sql.Rows
	err  error
}

// Select runs query and returns a Cursor over the result.
func (d *DB) Select(ctx context.Context, query string, args ...any) (*Cursor, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapDBError("select", err)
	}
	return &Cursor{rows: rows}, nil
}

// Next advances the cursor, returning false at end-of-result or on
// error; check Err afterward to distinguish the two.
func (c *Cursor) Next() bool { return c.rows.Next() }

// Scan copies the current row's columns into dest, following
// database/sql's Rows.Scan conventions.
func (c *Cursor) Scan(dest ...any) error {
	if err := c.rows.Scan(dest...); err != nil {
		c.err = err
		return WrapDBError("scan", err)
	}
	return nil
}

// Err returns the first error encountered by Next or Scan, if any.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the cursor's underlying rows.
func (c *Cursor) Close() error { return c.rows.Close() }
