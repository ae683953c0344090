package dbkit

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec.md §7.
var (
	// ErrNotFound means a finder's target row does not exist. FindID and
	// internal/query's finders return it wrapped, so callers test it with
	// IsNotFound; existence checks (DB.Exists) report false instead.
	ErrNotFound = errors.New("dbkit: not found")

	// ErrConflict means a uniqueness or foreign-key constraint was
	// violated by a writer racing another writer on the same natural key.
	ErrConflict = errors.New("dbkit: conflict")

	// ErrUpgradeRequired names a schema-version mismatch (spec.md §7).
	// No code in this module checks the schema version or returns it, and
	// no Index handle latches it.
	ErrUpgradeRequired = errors.New("dbkit: schema upgrade required")

	// ErrShuttingDown names the shutting-down condition of spec.md §5.
	// No code in this module returns it; calls made after the quit flag
	// is set do not fail with it.
	ErrShuttingDown = errors.New("dbkit: index is shutting down")
)

// WrapDBError wraps a raw database/sql error with operation context,
// converting sql.ErrNoRows into ErrNotFound so callers can use a single
// errors.Is check regardless of backend. Mirrors the teacher's
// wrapDBError in internal/storage/sqlite/errors.go.
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isUniqueViolation(err) || isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable classifies an error per spec.md §7's
// database-busy/database-timeout row. Retry (retry.go) retries the
// errors it accepts with bounded exponential back-off; no write path
// calls Retry, so such errors reach the caller unretried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return isBusyOrTimeout(err)
}
