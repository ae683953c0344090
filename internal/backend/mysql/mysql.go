// Package mysql opens the second client/server engine named by
// spec.md §2, using github.com/go-sql-driver/mysql directly (the
// driver dolthub/driver itself wraps for the wire protocol).
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Options configures a MySQL connection.
type Options struct {
	Host     string // default "127.0.0.1"
	Port     int    // default 3306
	User     string // default "root"
	Password string
	Database string // default "bxindex"

	// MaxOpenConns bounds the pool; zero leaves the database/sql default
	// (unlimited). backend.Open does not set it.
	MaxOpenConns int
}

func (o Options) dsn() string {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	user := o.User
	if user == "" {
		user = "root"
	}
	db := o.Database
	if db == "" {
		db = "bxindex"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", user, o.Password, host, port, db)
}

// Open connects to MySQL and verifies connectivity.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	db, err := sql.Open("mysql", opts.dsn())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return db, nil
}
