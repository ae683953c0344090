package txrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/txrun"
)

func TestInterruptCommitsIntermediateWork(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			db := backend.Open(t)
			ctx := context.Background()
			if _, err := db.Exec(ctx, "CREATE TABLE rows_t (n INTEGER)"); err != nil {
				t.Fatalf("create: %v", err)
			}

			run, err := txrun.Begin(ctx, db, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if _, err := run.Tx().Exec(ctx, "INSERT INTO rows_t (n) VALUES (1)"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := run.Interrupt(ctx, time.Millisecond); err != nil {
				t.Fatalf("interrupt: %v", err)
			}

			// The interrupted transaction must already be durable: a
			// fresh read sees the row even before End is called.
			exists, err := db.Exists(ctx, "rows_t", "n = ?", 1)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if !exists {
				t.Fatal("expected row committed by Interrupt to be visible")
			}

			if _, err := run.Tx().Exec(ctx, "INSERT INTO rows_t (n) VALUES (2)"); err != nil {
				t.Fatalf("insert 2: %v", err)
			}
			if err := run.End(nil); err != nil {
				t.Fatalf("end: %v", err)
			}

			exists2, err := db.Exists(ctx, "rows_t", "n = ?", 2)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if !exists2 {
				t.Fatal("expected final row committed by End to be visible")
			}
		})
	}
}

func TestEndRollsBackOnError(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			db := backend.Open(t)
			ctx := context.Background()
			if _, err := db.Exec(ctx, "CREATE TABLE rows_t (n INTEGER)"); err != nil {
				t.Fatalf("create: %v", err)
			}

			run, err := txrun.Begin(ctx, db, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if _, err := run.Tx().Exec(ctx, "INSERT INTO rows_t (n) VALUES (1)"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := run.End(context.DeadlineExceeded); err == nil {
				t.Fatal("expected End to propagate the given error")
			}

			exists, err := db.Exists(ctx, "rows_t", "n = ?", 1)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if exists {
				t.Fatal("expected row to be rolled back")
			}
		})
	}
}
