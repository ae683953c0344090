package startupcleanup_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/duskvault/bxindex/internal/aggregate"
	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/purge"
	"github.com/duskvault/bxindex/internal/schema"
	"github.com/duskvault/bxindex/internal/startupcleanup"
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

func exec(t *testing.T, db *dbkit.DB, q string, args ...any) {
	t.Helper()
	if _, err := db.Exec(context.Background(), q, args...); err != nil {
		t.Fatalf("exec %q: %v", q, err)
	}
}

func TestRunFixesKnownIssues(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			ctx := context.Background()
			db := backend.Open(t)
			applySchema(t, db)

			exec(t, db, "INSERT INTO "+schema.Uuids+" (id, job_uuid) VALUES (1, 'job-1')")
			exec(t, db, "INSERT INTO "+schema.Entities+" (id, uuid_id, job_uuid, locked_count) VALUES (1, 1, 'job-1', 3)")

			// Pass 2 target: soft-deleted storage with a stale active state.
			exec(t, db, "INSERT INTO "+schema.Storages+
				" (id, entity_id, uuid_id, name, state, deleted) VALUES (1, 1, 1, 's1', ?, 1)", int(model.StorageStateUpdate))
			// Pass 3 target: live storage with an empty name.
			exec(t, db, "INSERT INTO "+schema.Storages+
				" (id, entity_id, uuid_id, name, state, deleted) VALUES (2, 1, 1, '', ?, 0)", int(model.StorageStateCreate))
			// Pass 4 target: live storage with a known sibling but no entity assigned.
			exec(t, db, "INSERT INTO "+schema.Storages+
				" (id, uuid_id, name, state, deleted) VALUES (3, 1, 's3', ?, 0)", int(model.StorageStateOK))
			exec(t, db, "UPDATE "+schema.Storages+" SET entity_id = NULL WHERE id = 3")
			// Pass 5 target: live storage with an out-of-range state value.
			exec(t, db, "INSERT INTO "+schema.Storages+
				" (id, entity_id, uuid_id, name, state, deleted) VALUES (4, 1, 1, 's4', 99, 0)")

			meter := otel.GetMeterProvider().Meter("test")
			aggs, err := aggregate.New(db, meter)
			if err != nil {
				t.Fatalf("aggregate.New: %v", err)
			}
			p := purge.New(db, aggs, time.Millisecond)
			log := slog.New(slog.DiscardHandler)
			c := startupcleanup.New(db, p, log)

			if err := c.Run(ctx); err != nil {
				t.Fatalf("run: %v", err)
			}

			var lockedCount int
			if err := db.QueryScalar(ctx, &lockedCount, "SELECT locked_count FROM "+schema.Entities+" WHERE id = 1"); err != nil {
				t.Fatalf("query locked_count: %v", err)
			}
			if lockedCount != 0 {
				t.Fatalf("lockedCount = %d, want 0", lockedCount)
			}

			var state1 int
			if err := db.QueryScalar(ctx, &state1, "SELECT state FROM "+schema.Storages+" WHERE id = 1"); err != nil {
				t.Fatalf("query state 1: %v", err)
			}
			if state1 != int(model.StorageStateNone) {
				t.Fatalf("storage 1 state = %d, want none", state1)
			}

			exists2, err := db.Exists(ctx, schema.Storages, "id = 2")
			if err != nil {
				t.Fatalf("exists 2: %v", err)
			}
			if exists2 {
				t.Fatalf("storage 2 (empty name) should have been purged")
			}

			var entity3 int64
			if err := db.QueryScalar(ctx, &entity3, "SELECT entity_id FROM "+schema.Storages+" WHERE id = 3"); err != nil {
				t.Fatalf("query entity 3: %v", err)
			}
			if entity3 != 1 {
				t.Fatalf("storage 3 entity_id = %d, want 1 (assigned from sibling)", entity3)
			}

			exists4, err := db.Exists(ctx, schema.Storages, "id = 4")
			if err != nil {
				t.Fatalf("exists 4: %v", err)
			}
			if exists4 {
				t.Fatalf("storage 4 (invalid state) should have been purged")
			}
		})
	}
}
