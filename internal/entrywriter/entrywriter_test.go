package entrywriter_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/duskvault/bxindex/internal/aggregate"
	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/entrywriter"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/schema"
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

func seedParents(t *testing.T, db *dbkit.DB) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Exec(ctx, "INSERT INTO "+schema.Uuids+" (id, job_uuid) VALUES (1, 'job-1')"); err != nil {
		t.Fatalf("seed uuid: %v", err)
	}
	if _, err := db.Exec(ctx, "INSERT INTO "+schema.Entities+" (id, uuid_id, job_uuid) VALUES (1, 1, 'job-1')"); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	if _, err := db.Exec(ctx, "INSERT INTO "+schema.Storages+" (id, entity_id, uuid_id, name) VALUES (1, 1, 1, 's1')"); err != nil {
		t.Fatalf("seed storage: %v", err)
	}
}

func TestWriteIsIdempotentOnNaturalKey(t *testing.T) {
	for _, backend := range dbkittest.All() {
		t.Run(backend.Name, func(t *testing.T) {
			ctx := context.Background()
			db := backend.Open(t)
			applySchema(t, db)
			seedParents(t, db)

			meter := otel.GetMeterProvider().Meter("test")
			aggs, err := aggregate.New(db, meter)
			if err != nil {
				t.Fatalf("aggregate.New: %v", err)
			}
			w := entrywriter.New(db, aggs)

			in := entrywriter.Input{
				UUIDID:         idtag.New(idtag.KindUUID, 1),
				EntityID:       idtag.New(idtag.KindEntity, 1),
				Storage:        idtag.New(idtag.KindStorage, 1),
				Type:           model.EntryTypeFile,
				Name:           "/a/b/file.txt",
				Size:           1000,
				FragmentOffset: 0,
				FragmentSize:   600,
				Stat:           model.FileStat{TimeLastChanged: time.Now()},
			}
			id1, err := w.Write(ctx, in)
			if err != nil {
				t.Fatalf("write 1: %v", err)
			}

			in.FragmentOffset = 600
			in.FragmentSize = 400
			id2, err := w.Write(ctx, in)
			if err != nil {
				t.Fatalf("write 2: %v", err)
			}
			if id1 != id2 {
				t.Fatalf("expected same entry id across get-or-insert calls, got %v and %v", id1, id2)
			}

			var fragCount int
			if err := db.QueryScalar(ctx, &fragCount, "SELECT COUNT(*) FROM "+schema.EntryFragments+" WHERE entry_id = ?", id1.Raw()); err != nil {
				t.Fatalf("count fragments: %v", err)
			}
			if fragCount != 2 {
				t.Fatalf("fragCount = %d, want 2", fragCount)
			}
		})
	}
}
