package newest_test

import (
	"context"
	"testing"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/newest"
	"github.com/duskvault/bxindex/internal/schema"
	"github.com/duskvault/bxindex/internal/txrun"
)

func applySchema(t *testing.T, db *dbkit.DB) {
	t.Helper()
	ctx := context.Background()
	var dialect schema.Dialect
	switch db.Dialect {
	case "sqlite":
		dialect = schema.DialectSQLite
	case "dolt":
		dialect = schema.DialectDolt
	default:
		dialect = schema.DialectMySQL
	}
	for _, stmt := range schema.Statements(dialect) {
		if _, err := db.Exec(ctx, stmt.SQL); err != nil {
			t.Fatalf("ddl %s: %v", stmt.Name, err)
		}
	}
}

func seedBaseRows(t *testing.T, db *dbkit.DB) {
	t.Helper()
	ctx := context.Background()
	exec := func(q string, args ...any) {
		if _, err := db.Exec(ctx, q, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	exec("INSERT INTO " + schema.Uuids + " (id, job_uuid) VALUES (1, 'job-1')")
	exec("INSERT INTO " + schema.Entities + " (id, uuid_id, job_uuid) VALUES (1, 1, 'job-1')")
	// Two storages under the same entity, one will be "cleared" later.
	exec("INSERT INTO " + schema.Storages + " (id, entity_id, uuid_id, name, deleted) VALUES (1, 1, 1, 's1', 0)")
	exec("INSERT INTO " + schema.Storages + " (id, entity_id, uuid_id, name, deleted) VALUES (2, 1, 1, 's2', 0)")
}

func insertEntry(t *testing.T, db *dbkit.DB, id int64, name string, timeLastChanged int64, storageID int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Exec(ctx, `INSERT INTO `+schema.Entries+`
			(id, uuid_id, entity_id, type, name, time_last_changed, size, deleted)
			VALUES (?, 1, 1, 0, ?, ?, 0, 0)`, id, name, timeLastChanged); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	if _, err := db.Exec(ctx, `INSERT INTO `+schema.EntryFragments+`
			(entry_id, storage_id, offset_bytes, size) VALUES (?, ?, 0, 0)`, id, storageID); err != nil {
		t.Fatalf("insert fragment: %v", err)
	}
}

// TestRemoveReinstatesFromSurvivingStorage exercises spec.md §4.8's
// eventual-consistency note: storage 1's entry for "/a" is the current
// newest row. Storage 1 gets cleared (its entries marked deleted, as a
// real clear_storage would do before its fragments are removed); Remove
// must delete the stale newest row and reinstate storage 2's older but
// still-live entry for "/a" in its place.
func TestRemoveReinstatesFromSurvivingStorage(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			ctx := context.Background()
			db := backend.Open(t)
			applySchema(t, db)
			seedBaseRows(t, db)

			insertEntry(t, db, 1, "/a", 200, 1)
			insertEntry(t, db, 2, "/a", 100, 2)

			p := newest.New(db.Dialect)

			run, err := txrun.Begin(ctx, db, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if err := p.Add(ctx, run, idtag.New(idtag.KindStorage, 1), 0); err != nil {
				t.Fatalf("add storage 1: %v", err)
			}
			if err := p.Add(ctx, run, idtag.New(idtag.KindStorage, 2), 0); err != nil {
				t.Fatalf("add storage 2: %v", err)
			}
			if err := run.End(nil); err != nil {
				t.Fatalf("end: %v", err)
			}

			var entryID int64
			if err := db.QueryScalar(ctx, &entryID, "SELECT entry_id FROM "+schema.EntriesNewest+" WHERE name = '/a'"); err != nil {
				t.Fatalf("query newest before clear: %v", err)
			}
			if entryID != 1 {
				t.Fatalf("newest entry before clear = %d, want 1", entryID)
			}

			// Simulate clear_storage's early soft-delete of storage 1's entries.
			if _, err := db.Exec(ctx, "UPDATE "+schema.Entries+" SET deleted = 1 WHERE id = 1"); err != nil {
				t.Fatalf("soft delete entry 1: %v", err)
			}

			run2, err := txrun.Begin(ctx, db, dbkit.IsolationDefault)
			if err != nil {
				t.Fatalf("begin 2: %v", err)
			}
			if err := p.Remove(ctx, run2, idtag.New(idtag.KindStorage, 1), 0); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if err := run2.End(nil); err != nil {
				t.Fatalf("end 2: %v", err)
			}

			if err := db.QueryScalar(ctx, &entryID, "SELECT entry_id FROM "+schema.EntriesNewest+" WHERE name = '/a'"); err != nil {
				t.Fatalf("query newest after remove: %v", err)
			}
			if entryID != 2 {
				t.Fatalf("newest entry after remove = %d, want 2 (storage 2's surviving entry)", entryID)
			}
		})
	}
}
