package dbkit_test

import (
	"context"
	"testing"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
)

func TestFacadeAgainstAllBackends(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			db := backend.Open(t)
			ctx := context.Background()

			if _, err := db.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
				t.Fatalf("create table: %v", err)
			}

			tx, err := db.BeginTx(ctx, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", 1, "sprocket"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("commit: %v", err)
			}
			tx.End()

			exists, err := db.Exists(ctx, "widgets", "name = ?", "sprocket")
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if !exists {
				t.Fatal("expected sprocket to exist")
			}

			missing, err := db.Exists(ctx, "widgets", "name = ?", "gizmo")
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if missing {
				t.Fatal("expected gizmo to not exist")
			}

			id, err := db.FindID(ctx, "widgets", "name = ?", "sprocket")
			if err != nil {
				t.Fatalf("find_id: %v", err)
			}
			if id != 1 {
				t.Fatalf("id = %d, want 1", id)
			}

			if _, err := db.FindID(ctx, "widgets", "name = ?", "gizmo"); !dbkit.IsNotFound(err) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			cur, err := db.Select(ctx, "SELECT id, name FROM widgets ORDER BY id")
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			defer cur.Close()
			var count int
			for cur.Next() {
				var gotID int64
				var name string
				if err := cur.Scan(&gotID, &name); err != nil {
					t.Fatalf("scan: %v", err)
				}
				count++
			}
			if err := cur.Err(); err != nil {
				t.Fatalf("cursor err: %v", err)
			}
			if count != 1 {
				t.Fatalf("count = %d, want 1", count)
			}
		})
	}
}

func TestTxRollbackOnEndWithoutCommit(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			db := backend.Open(t)
			ctx := context.Background()

			if _, err := db.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
				t.Fatalf("create table: %v", err)
			}

			tx, err := db.BeginTx(ctx, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", 1, "sprocket"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			tx.End() // no Commit

			exists, err := db.Exists(ctx, "widgets", "name = ?", "sprocket")
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if exists {
				t.Fatal("expected rollback to discard the uncommitted row")
			}
		})
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"database is locked", true},
		{"SQLITE_BUSY: database is locked", true},
		{"Error 1205: Lock wait timeout exceeded", true},
		{"Error 1213: Deadlock found", true},
		{"driver: bad connection", true},
		{"no such table: widgets", false},
		{"UNIQUE constraint failed: widgets.name", false},
	}
	for _, c := range cases {
		got := dbkit.IsRetryable(fakeErr(c.msg))
		if got != c.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
