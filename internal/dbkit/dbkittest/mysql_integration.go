//go:build integration

package dbkittest

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/duskvault/bxindex/internal/backend/mysql"
	"github.com/duskvault/bxindex/internal/dbkit"
)

func init() {
	register(Backend{Name: "mysql", Open: openMySQL})
}

// openMySQL connects to a MySQL instance named by BXINDEX_TEST_MYSQL_DSN
// (host:port form, e.g. "127.0.0.1:3306"), skipping the test if unset.
// Unlike dolt, the retrieval pack carries no testcontainers MySQL module
// dependency to spin up a throwaway instance from, so this harness
// targets an externally provisioned server the same way a CI pipeline
// would point it at a service container.
func openMySQL(t *testing.T) *dbkit.DB {
	t.Helper()
	addr := os.Getenv("BXINDEX_TEST_MYSQL_DSN")
	if addr == "" {
		t.Skip("BXINDEX_TEST_MYSQL_DSN not set, skipping mysql backend harness")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("dbkittest: BXINDEX_TEST_MYSQL_DSN must be host:port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("dbkittest: invalid port in BXINDEX_TEST_MYSQL_DSN: %v", err)
	}
	conn, err := mysql.Open(context.Background(), mysql.Options{
		Host:     host,
		Port:     port,
		Database: "bxindex_test",
	})
	if err != nil {
		t.Fatalf("dbkittest: open mysql: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return dbkit.Open("mysql", conn)
}
