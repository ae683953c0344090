// Package backend is the small registry the index core opens a
// dbkit.DB from: one of three engine names, resolved to the matching
// internal/backend/{sqlite,dolt,mysql} opener. Mirrors the teacher's
// internal/storage/factory package's name->opener registry, trimmed to
// bxindex's fixed set of three known backends rather than a
// register-at-init-time open registry, since there will only ever be
// exactly these three (spec.md §2: "three backings must be supported").
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/duskvault/bxindex/internal/backend/dolt"
	"github.com/duskvault/bxindex/internal/backend/mysql"
	"github.com/duskvault/bxindex/internal/backend/sqlite"
	"github.com/duskvault/bxindex/internal/dbkit"
)

// Kind names one of the three supported engines.
type Kind string

const (
	KindSQLite Kind = "sqlite"
	KindDolt   Kind = "dolt"
	KindMySQL  Kind = "mysql"
)

// Options configures whichever backend Kind names; only the fields
// relevant to the selected Kind are read.
type Options struct {
	Kind Kind

	// SQLite
	SQLitePath     string
	SQLiteReadOnly bool
	BusyTimeout    time.Duration

	// Dolt / MySQL (client/server)
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	EmbeddedDir string // Dolt only: local data dir for embedded mode
}

// Open constructs the engine named by opts.Kind and wraps it in a
// dbkit.DB. The returned closer only releases any process-level lock
// (Dolt embedded mode; a no-op for the other kinds) and does not close
// the *sql.DB, so callers defer it alongside dbkit.DB.Close, not
// instead of it.
func Open(ctx context.Context, opts Options) (*dbkit.DB, func(), error) {
	switch opts.Kind {
	case KindSQLite:
		conn, err := sqlite.Open(sqlite.Options{
			Path:        opts.SQLitePath,
			ReadOnly:    opts.SQLiteReadOnly,
			BusyTimeout: opts.BusyTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return dbkit.Open(string(KindSQLite), conn), func() {}, nil

	case KindDolt:
		conn, lock, err := dolt.Open(ctx, dolt.Options{
			Host:        opts.Host,
			Port:        opts.Port,
			User:        opts.User,
			Password:    opts.Password,
			Database:    opts.Database,
			EmbeddedDir: opts.EmbeddedDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return dbkit.Open(string(KindDolt), conn), func() { lock.Release() }, nil

	case KindMySQL:
		conn, err := mysql.Open(ctx, mysql.Options{
			Host:     opts.Host,
			Port:     opts.Port,
			User:     opts.User,
			Password: opts.Password,
			Database: opts.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		return dbkit.Open(string(KindMySQL), conn), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("backend: unknown kind %q (supported: sqlite, dolt, mysql)", opts.Kind)
	}
}
