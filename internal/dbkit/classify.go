package dbkit

import "strings"

// isBusyOrTimeout classifies transient database-busy/database-timeout
// conditions across all three backends by substring match on the
// driver's error text, the same string-matching idiom the teacher uses
// in internal/storage/dolt/store.go's isRetryableError — with three
// heterogeneous drivers (sqlite, the dolt mysql-wire driver, and the
// plain mysql driver) a single type switch can't cover every case, so
// matching on text is the portable common denominator.
func isBusyOrTimeout(err error) bool {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "database is locked"): // sqlite SQLITE_BUSY
		return true
	case strings.Contains(s, "busy"):
		return true
	case strings.Contains(s, "lock wait timeout"): // mysql/dolt 1205
		return true
	case strings.Contains(s, "deadlock"): // mysql/dolt 1213
		return true
	case strings.Contains(s, "driver: bad connection"):
		return true
	case strings.Contains(s, "invalid connection"):
		return true
	case strings.Contains(s, "broken pipe"):
		return true
	case strings.Contains(s, "connection reset"):
		return true
	case strings.Contains(s, "connection refused"):
		return true
	case strings.Contains(s, "lost connection"): // mysql 2013
		return true
	case strings.Contains(s, "gone away"): // mysql 2006
		return true
	case strings.Contains(s, "i/o timeout"):
		return true
	case strings.Contains(s, "context deadline exceeded"):
		return true
	default:
		return false
	}
}

// isUniqueViolation classifies constraint errors that should surface
// as ErrConflict (spec.md §7's "foreign-key / uniqueness violation
// inside writer" row).
func isUniqueViolation(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "duplicate entry") ||
		strings.Contains(s, "duplicate key")
}

func isForeignKeyViolation(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "foreign key constraint") ||
		strings.Contains(s, "foreign key mismatch")
}
