package main

import (
	"fmt"
	"regexp"
	"strconv"
)

// dsnPattern matches the same "user:password@tcp(host:port)/database"
// shape internal/backend/mysql.Options.dsn and internal/backend/dolt
// build for the driver, so a bxconfig.BackendDSN profile for a
// client/server backend can round-trip through backend.Options.
var dsnPattern = regexp.MustCompile(`^([^:@]*)(?::([^@]*))?@tcp\(([^:]+):(\d+)\)/(.+)$`)

func splitDSN(dsn string) (host string, port int, user, password, database string, err error) {
	m := dsnPattern.FindStringSubmatch(dsn)
	if m == nil {
		return "", 0, "", "", "", fmt.Errorf("dsn %q does not match user:password@tcp(host:port)/database", dsn)
	}
	port, err = strconv.Atoi(m[4])
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("dsn %q: bad port: %w", dsn, err)
	}
	return m[3], port, m[1], m[2], m[5], nil
}
