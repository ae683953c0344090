package dbkittest

import (
	"testing"

	"github.com/duskvault/bxindex/internal/backend/sqlite"
	"github.com/duskvault/bxindex/internal/dbkit"
)

func init() {
	register(Backend{Name: "sqlite", Open: openSQLite})
}

// openSQLite opens a fresh, uniquely named in-memory database per
// call, the same shape as the teacher's newTestSQLiteDB in
// internal/storage/dolt/store_unit_test.go.
func openSQLite(t *testing.T) *dbkit.DB {
	t.Helper()
	conn, err := sqlite.Open(sqlite.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("dbkittest: open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return dbkit.Open("sqlite", conn)
}
