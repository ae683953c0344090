package schema_test

import (
	"context"
	"testing"

	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/schema"
)

func TestStatementsApplyCleanly(t *testing.T) {
	for _, backend := range dbkittest.All() {
		if backend.Name != "sqlite" {
			// Dolt/MySQL DDL (AUTO_INCREMENT, FULLTEXT ALTER) needs a
			// live server to validate; exercised under -tags integration.
			continue
		}
		t.Run(backend.Name, func(t *testing.T) {
			db := backend.Open(t)
			ctx := context.Background()
			for _, stmt := range schema.Statements(schema.DialectSQLite) {
				if _, err := db.Exec(ctx, stmt.SQL); err != nil {
					t.Fatalf("%s: %v", stmt.Name, err)
				}
			}
			// Applying twice must stay idempotent.
			for _, stmt := range schema.Statements(schema.DialectSQLite) {
				if _, err := db.Exec(ctx, stmt.SQL); err != nil {
					t.Fatalf("%s (second apply): %v", stmt.Name, err)
				}
			}
		})
	}
}
