//go:build integration

package dbkittest

import (
	"context"
	"testing"

	doltmodule "github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/duskvault/bxindex/internal/backend/dolt"
	"github.com/duskvault/bxindex/internal/dbkit"
)

func init() {
	register(Backend{Name: "dolt", Open: openDolt})
}

// openDolt starts a throwaway dolt sql-server container per test via
// testcontainers-go's dolt module, then connects through
// internal/backend/dolt exactly as production code would. Gated behind
// the integration build tag so the default `go test ./...` run (no
// Docker required) still exercises the sqlite harness.
func openDolt(t *testing.T) *dbkit.DB {
	t.Helper()
	ctx := context.Background()

	container, err := doltmodule.Run(ctx, "dolthub/dolt-sql-server:latest",
		doltmodule.WithDatabase("bxindex"),
		doltmodule.WithUsername("root"),
	)
	if err != nil {
		t.Fatalf("dbkittest: start dolt container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("dbkittest: dolt container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("dbkittest: dolt container port: %v", err)
	}

	conn, lock, err := dolt.Open(ctx, dolt.Options{
		Host:     host,
		Port:     port.Int(),
		User:     "root",
		Database: "bxindex",
	})
	if err != nil {
		t.Fatalf("dbkittest: open dolt: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		lock.Release()
	})
	return dbkit.Open("dolt", conn)
}
