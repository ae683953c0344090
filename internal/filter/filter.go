// Package filter builds parameterized WHERE/ORDER clauses for the
// query surface and storage purger (spec.md §4.2). It never
// interpolates untrusted values: every condition contributes a "?"
// placeholder plus a bound parameter, following the same pattern as
// the teacher's hand-built query fragments in
// internal/storage/sqlite/queries.go and queries_helpers.go.
package filter

import "strings"

// Builder accumulates conditions for a single WHERE clause.
type Builder struct {
	conds  []string
	args   []any
	joiner string
}

// New returns a Builder that joins conditions with the given SQL
// boolean operator ("AND" or "OR").
func New(joiner string) *Builder {
	return &Builder{joiner: joiner}
}

// And starts a Builder whose conditions are ANDed together — the
// common case for the query surface's compound filters.
func And() *Builder { return New("AND") }

// Add appends a condition fragment with its bound parameters. A
// false-guarded condition (guard == false) contributes nothing, per
// spec.md §4.2 ("a condition that is false contributes nothing").
func (b *Builder) Add(guard bool, clause string, args ...any) *Builder {
	if !guard {
		return b
	}
	b.conds = append(b.conds, clause)
	b.args = append(b.args, args...)
	return b
}

// AddIn appends an `column IN (?, ?, ...)` condition over a bit-set
// style enumeration, skipping entirely if members is empty (spec.md
// §4.2: "Enumerations are rendered as IN (n1, n2, …) over their
// bit-set members").
func (b *Builder) AddIn(column string, members []any) *Builder {
	if len(members) == 0 {
		return b
	}
	placeholders := make([]string, len(members))
	for i := range members {
		placeholders[i] = "?"
	}
	b.conds = append(b.conds, column+" IN ("+strings.Join(placeholders, ", ")+")")
	b.args = append(b.args, members...)
	return b
}

// Build returns the joined clause (empty string if no conditions were
// added) and the parallel parameter slice.
func (b *Builder) Build() (string, []any) {
	if len(b.conds) == 0 {
		return "", nil
	}
	return strings.Join(b.conds, " "+b.joiner+" "), b.args
}

// WhereClause returns Build's clause prefixed with "WHERE ", or the
// empty string if there were no conditions.
func (b *Builder) WhereClause() (string, []any) {
	clause, args := b.Build()
	if clause == "" {
		return "", nil
	}
	return "WHERE " + clause, args
}

// Direction is the sort direction accepted by Order.
type Direction int

const (
	None Direction = iota
	Ascending
	Descending
)

// SortColumns is the small closed set of sort keys accepted per entity
// kind (spec.md §4.2); callers pass the logical key name and Order maps
// it to a column already known to be safe to interpolate (never derived
// from user input).
type SortColumns map[string]string

// Order renders an ORDER BY clause for key within the allowed set,
// returning "" if key is unknown or direction is None. Because the
// column name comes only from the fixed SortColumns map, never from
// caller-supplied text, this is safe to concatenate directly.
func Order(columns SortColumns, key string, dir Direction) string {
	col, ok := columns[key]
	if !ok || dir == None {
		return ""
	}
	switch dir {
	case Ascending:
		return "ORDER BY " + col + " ASC"
	case Descending:
		return "ORDER BY " + col + " DESC"
	default:
		return ""
	}
}

// Page renders a LIMIT/OFFSET clause. A zero limit means "no limit".
func Page(limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return "", nil
	}
	if limit <= 0 {
		return "LIMIT -1 OFFSET ?", []any{offset}
	}
	return "LIMIT ? OFFSET ?", []any{limit, offset}
}
