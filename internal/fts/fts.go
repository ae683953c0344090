// Package fts hides the three backing engines' different full-text
// search facilities behind one shim (spec.md §4.5). bxindex maps its
// three backends onto the spec's three strategies as follows: the
// embedded engine (sqlite) gets a dedicated FTS5 virtual table per
// searchable object; MySQL's native FULLTEXT index lives directly on
// the base table, so its shim is a no-op that matches inline; Dolt gets
// a shadow table holding a host-tokenized vector, since it has neither
// a virtual-table facility nor a native text-search operator reachable
// over the MySQL wire protocol.
package fts

import (
	"context"
	"fmt"
	"strings"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/schema"
)

// ObjectKind names which base table/shadow-table pair a call targets.
type ObjectKind int

const (
	Storages ObjectKind = iota
	Entries
)

func (k ObjectKind) shadowTable() string {
	switch k {
	case Storages:
		return schema.FTSStorages
	default:
		return schema.FTSEntries
	}
}

func (k ObjectKind) baseTable() string {
	switch k {
	case Storages:
		return schema.Storages
	default:
		return schema.Entries
	}
}

// Shim is implemented once per backend dialect.
type Shim interface {
	Insert(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error
	Update(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error
	Delete(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64) error
	// MatchClause returns a SQL fragment (with "?" placeholders) and its
	// bound arguments implementing "kind's name column matches pattern",
	// suitable for splicing into a WHERE clause built by internal/filter.
	MatchClause(kind ObjectKind, column, pattern string) (string, []any)
}

// New returns the Shim for dialect.
func New(dialect string) Shim {
	switch dialect {
	case "sqlite":
		return sqliteShim{}
	case "mysql":
		return mysqlShim{}
	case "dolt":
		return doltShim{}
	default:
		return mysqlShim{} // inline-operator fallback: least surprising default
	}
}

// Tokenize applies spec.md §4.5's tsvector tokenization rule: fold
// case, keep only alphanumeric and {'/', '.', '_', '-'}, split on
// everything else, and drop single-character tokens.
func Tokenize(text string) []string {
	folded := strings.ToLower(text)
	var b strings.Builder
	tokens := make([]string, 0, 8)
	flush := func() {
		if b.Len() > 1 {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '/', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// sqliteShim: dedicated FTS5 virtual table per searchable object.
type sqliteShim struct{}

func (sqliteShim) Insert(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (rowid, name) VALUES (?, ?)", kind.shadowTable()), rowID, text)
	return err
}

func (sqliteShim) Update(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET name = ? WHERE rowid = ?", kind.shadowTable()), text, rowID)
	return err
}

func (sqliteShim) Delete(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", kind.shadowTable()), rowID)
	return err
}

func (sqliteShim) MatchClause(kind ObjectKind, _, pattern string) (string, []any) {
	return fmt.Sprintf("%s MATCH ?", kind.shadowTable()), []any{pattern}
}

// mysqlShim: native FULLTEXT index on the base table; no shadow rows.
type mysqlShim struct{}

func (mysqlShim) Insert(context.Context, *dbkit.Tx, ObjectKind, int64, string) error { return nil }
func (mysqlShim) Update(context.Context, *dbkit.Tx, ObjectKind, int64, string) error { return nil }
func (mysqlShim) Delete(context.Context, *dbkit.Tx, ObjectKind, int64) error         { return nil }

func (mysqlShim) MatchClause(kind ObjectKind, column, pattern string) (string, []any) {
	return fmt.Sprintf("MATCH(%s.%s) AGAINST (? IN NATURAL LANGUAGE MODE)", kind.baseTable(), column), []any{pattern}
}

// doltShim: shadow table holding a pre-tokenized, host-side vector.
type doltShim struct{}

func (doltShim) Insert(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error {
	vector := strings.Join(Tokenize(text), " ")
	_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (row_id, tokens) VALUES (?, ?)", kind.shadowTable()), rowID, vector)
	return err
}

func (doltShim) Update(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64, text string) error {
	vector := strings.Join(Tokenize(text), " ")
	_, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET tokens = ? WHERE row_id = ?", kind.shadowTable()), vector, rowID)
	return err
}

func (doltShim) Delete(ctx context.Context, tx *dbkit.Tx, kind ObjectKind, rowID int64) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE row_id = ?", kind.shadowTable()), rowID)
	return err
}

func (doltShim) MatchClause(kind ObjectKind, _, pattern string) (string, []any) {
	terms := Tokenize(pattern)
	if len(terms) == 0 {
		return "1=0", nil
	}
	clauses := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, term := range terms {
		clauses[i] = fmt.Sprintf("%s.tokens LIKE ?", kind.shadowTable())
		args[i] = "%" + term + "%"
	}
	return strings.Join(clauses, " AND "), args
}
