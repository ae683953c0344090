// Package sqlite opens the embedded single-file backing engine named
// by spec.md §2 ("an embedded single-file engine"), using the pure-Go
// ncruces/go-sqlite3 driver (no cgo) the same way the teacher does.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Options configures the embedded backend's connection string.
type Options struct {
	// Path is the database file path, or ":memory:" for an ephemeral
	// database (used by dbkittest).
	Path string
	// ReadOnly opens the database in mode=ro, for read-replica style
	// query-only handles.
	ReadOnly bool
	// BusyTimeout bounds how long SQLITE_BUSY is retried by the driver
	// itself before surfacing the error; no bxindex write path adds a
	// dbkit.Retry layer on top, so an error that outlasts it reaches the
	// caller. Zero means 30s, matching the teacher's BD_LOCK_TIMEOUT default.
	BusyTimeout time.Duration
}

// ConnString builds the `file:` DSN understood by ncruces/go-sqlite3,
// generalizing the teacher's SQLiteConnString (internal/storage/
// connstring.go) from the issue tracker's fixed pragma set to bxindex's
// own (foreign keys on, busy_timeout from Options, WAL journal mode for
// concurrent readers during a write per spec.md §5).
func ConnString(opts Options) string {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = ":memory:"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 30 * time.Second
	}
	busyMs := int64(busy / time.Millisecond)

	if path == ":memory:" {
		return fmt.Sprintf("file:%s?vfs=memdb&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", randMemName(), busyMs)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "file:%s?_pragma=busy_timeout(%d)", path, busyMs)
	fmt.Fprint(&b, "&_pragma=foreign_keys(ON)")
	fmt.Fprint(&b, "&_pragma=journal_mode(WAL)")
	if opts.ReadOnly {
		fmt.Fprint(&b, "&mode=ro")
	}
	return b.String()
}

// randMemName gives each :memory: handle a distinct vfs=memdb name so
// concurrent test harnesses don't share one anonymous in-memory
// database (which ncruces/go-sqlite3 would otherwise do by name).
func randMemName() string {
	return fmt.Sprintf("bxindex-%d-%d", os.Getpid(), memCounter.add())
}

var memCounter counter

// Open opens the embedded backend and verifies connectivity with Ping.
func Open(opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ConnString(opts))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Single-writer engine: the dedicated-connection transaction
	// pattern in internal/dbkit already serializes writers, but the
	// embedded engine itself only accepts one writer connection at a
	// time, so the pool is capped to keep contention inside bxindex's
	// own gate rather than SQLITE_BUSY surfacing from the pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}
