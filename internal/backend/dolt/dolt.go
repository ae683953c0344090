// Package dolt opens a connection to one of spec.md §2's two
// client/server engines: a dolt sql-server reached over the MySQL wire
// protocol via github.com/dolthub/driver. The package also guards
// embedded-mode Dolt access (a local dolt data directory opened
// in-process rather than through a server) with the flock-based
// AccessLock the teacher uses in internal/storage/dolt/access_lock.go,
// generalized from an issue tracker's single dolt-access.lock file to
// bxindex's own lock path.
package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/dolthub/driver"

	"github.com/duskvault/bxindex/internal/lockfile"
)

// Options configures a dolt sql-server connection.
type Options struct {
	Host     string // default "127.0.0.1"
	Port     int    // default 3307
	User     string // default "root"
	Password string
	Database string // default "bxindex"

	// EmbeddedDir, if set, names a local dolt data directory opened
	// in-process instead of connecting to a server. bxindex's normal
	// deployment is server mode; embedded mode exists for single-node
	// setups and single-process tests, guarded by AccessLock exactly as
	// the teacher guards its own embedded dolt mode.
	EmbeddedDir string
}

func (o Options) dsn() string {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = 3307
	}
	user := o.User
	if user == "" {
		user = "root"
	}
	db := o.Database
	if db == "" {
		db = "bxindex"
	}
	if o.Password != "" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, o.Password, host, port, db)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", user, host, port, db)
}

// Open connects to the dolt server and verifies connectivity. When
// opts.EmbeddedDir is set it additionally acquires an exclusive
// AccessLock so no second bxindex process can open the same embedded
// data directory concurrently (spec.md §5's single-writer invariant,
// here enforced at the process level rather than in-process).
func Open(ctx context.Context, opts Options) (*sql.DB, *AccessLock, error) {
	var lock *AccessLock
	if opts.EmbeddedDir != "" {
		l, err := AcquireAccessLock(opts.EmbeddedDir, true, 30*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("dolt: %w", err)
		}
		lock = l
	}

	db, err := sql.Open("dolt", opts.dsn())
	if err != nil {
		if lock != nil {
			lock.Release()
		}
		return nil, nil, fmt.Errorf("dolt: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if lock != nil {
			lock.Release()
		}
		return nil, nil, fmt.Errorf("dolt: ping: %w", err)
	}
	return db, lock, nil
}

// AccessLock coordinates access to an embedded dolt data directory
// using flock, the same shape as the teacher's AccessLock in
// internal/storage/dolt/access_lock.go: shared locks allow concurrent
// readers, an exclusive lock ensures single-writer.
type AccessLock struct {
	file *os.File
}

const (
	accessLockFile   = "dolt-access.lock"
	lockPollInterval = 50 * time.Millisecond
)

// AcquireAccessLock acquires an advisory flock on <dir>/../dolt-access.lock,
// polling every lockPollInterval until timeout expires.
func AcquireAccessLock(dataDir string, exclusive bool, timeout time.Duration) (*AccessLock, error) {
	parent := filepath.Dir(dataDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lockPath := filepath.Join(parent, accessLockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open access lock: %w", err)
	}

	lockFn := lockfile.Shared
	if exclusive {
		lockFn = lockfile.Exclusive
	}

	if err := lockFn(f); err == nil {
		return &AccessLock{file: f}, nil
	} else if !errors.Is(err, lockfile.ErrLockBusy) {
		f.Close()
		return nil, fmt.Errorf("access lock: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(lockPollInterval)
		if err := lockFn(f); err == nil {
			return &AccessLock{file: f}, nil
		} else if !errors.Is(err, lockfile.ErrLockBusy) {
			f.Close()
			return nil, fmt.Errorf("access lock: %w", err)
		}
	}

	f.Close()
	kind := "shared"
	if exclusive {
		kind = "exclusive"
	}
	return nil, fmt.Errorf("dolt access lock timeout (%s, %v): another bxindex process holds the embedded database: %w",
		kind, timeout, lockfile.ErrLockBusy)
}

// Release releases the lock and closes the underlying file. Safe to
// call on a nil receiver and to call more than once.
func (l *AccessLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	lockfile.Unlock(l.file)
	l.file.Close()
	l.file = nil
}
