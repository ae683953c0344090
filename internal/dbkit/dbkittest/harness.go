// Package dbkittest is the shared test harness SPEC_FULL.md §8 calls
// for: every scenario in internal/bxindex/scenario_test.go runs once
// per registered Backend so the properties in spec.md §8 hold across
// all three engines, not just whichever one a developer happens to run
// locally.
package dbkittest

import (
	"testing"

	"github.com/duskvault/bxindex/internal/dbkit"
)

// Backend names one engine; its Open returns a fresh, empty dbkit.DB
// and registers that DB's teardown with t.Cleanup itself.
type Backend struct {
	Name string
	Open func(t *testing.T) *dbkit.DB
}

// registry accumulates always-available backends (sqlite) plus any
// registered by build-tag-gated files (dolt_integration.go,
// mysql_integration.go) so `go test ./...` works without Docker while
// `go test -tags integration ./...` exercises every engine, the same
// split the teacher uses between its plain unit tests and its
// container-backed ones.
var registry []Backend

func register(b Backend) { registry = append(registry, b) }

// All returns every backend registered for this build.
func All() []Backend {
	out := make([]Backend, len(registry))
	copy(out, registry)
	return out
}
