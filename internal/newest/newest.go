// Package newest maintains the entries_newest projection of spec.md
// §4.8: per name, the entry with the greatest time_last_changed across
// all non-deleted storages.
//
// Grounded on the teacher's ON CONFLICT ... DO UPDATE upsert idiom in
// internal/storage/sqlite/queries_helpers.go, generalized from the
// issue tracker's metadata-index upsert to the newest-entry upsert.
// Dolt speaks the MySQL wire protocol, so it takes the same
// ON DUPLICATE KEY UPDATE branch as mysql.
package newest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/schema"
	"github.com/duskvault/bxindex/internal/txrun"
)

// Projector runs the Add/Remove phases against one interruptable run.
type Projector struct {
	dialect string
}

// New builds a Projector for the given backend dialect.
func New(dialect string) *Projector { return &Projector{dialect: dialect} }

// candidate is one row fetched from entries for the Add/Remove walks.
type candidate struct {
	entryID         int64
	name            string
	timeLastChanged int64
	uuidID          int64
	entityID        int64
	entryType       int64
	fileUser        string
	fileGroup       string
	permission      int64
	size            int64
}

// Add implements spec.md §4.8's Add phase, called after a storage
// finishes indexing: for every live entry of storageID, upsert the
// entries_newest row for its name if this entry's time_last_changed is
// the greatest seen so far. Yields at txrun.SingleStepPurgeLimit rows
// per spec.md §4.4.
func (p *Projector) Add(ctx context.Context, run *txrun.Run, storageID idtag.ID, pollInterval time.Duration) error {
	rows, err := liveEntriesOfStorage(ctx, run.Tx(), storageID)
	if err != nil {
		return err
	}
	for _, c := range rows {
		if err := p.upsertIfNewer(ctx, run.Tx(), c); err != nil {
			return err
		}
		run.Advance(1)
		if run.YieldDue() {
			if err := run.Interrupt(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// liveOwnerTables lists every table that carries an entry's storage_id:
// entry_fragments for the multi-part kinds, plus each non-fragment
// kind's own sub-entry table (schema.go has no fragment row for
// directory/link/special).
var liveOwnerTables = []string{schema.EntryFragments, schema.DirectoryEntries, schema.LinkEntries, schema.SpecialEntries}

func liveEntriesOfStorage(ctx context.Context, tx *dbkit.Tx, storageID idtag.ID) ([]candidate, error) {
	selects := make([]string, len(liveOwnerTables))
	args := make([]any, len(liveOwnerTables))
	for i, table := range liveOwnerTables {
		selects[i] = `SELECT e.id, e.name, e.time_last_changed, e.uuid_id, e.entity_id, e.type,
				e.file_user, e.file_group, e.permission, e.size
			FROM ` + schema.Entries + ` e
			JOIN ` + table + ` o ON o.entry_id = e.id
			WHERE o.storage_id = ? AND e.deleted = 0`
		args[i] = storageID.Raw()
	}
	rows, err := tx.Query(ctx, strings.Join(selects, " UNION "), args...)
	if err != nil {
		return nil, fmt.Errorf("newest: query live entries: %w", err)
	}
	defer rows.Close()
	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.entryID, &c.name, &c.timeLastChanged, &c.uuidID, &c.entityID, &c.entryType,
			&c.fileUser, &c.fileGroup, &c.permission, &c.size); err != nil {
			return nil, fmt.Errorf("newest: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// upsertIfNewer inserts or replaces the entries_newest row for c.name
// only if c is at least as new as whatever is currently there, matching
// spec.md §4.8's "if the candidate's timeLastChanged exceeds the
// existing value (or no row exists), upsert".
func (p *Projector) upsertIfNewer(ctx context.Context, tx *dbkit.Tx, c candidate) error {
	switch p.dialect {
	case "sqlite":
		_, err := tx.Exec(ctx, `INSERT INTO `+schema.EntriesNewest+`
				(name, entry_id, uuid_id, entity_id, type, file_user, file_group, permission, size, time_last_changed)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				entry_id = excluded.entry_id, uuid_id = excluded.uuid_id, entity_id = excluded.entity_id,
				type = excluded.type, file_user = excluded.file_user, file_group = excluded.file_group,
				permission = excluded.permission, size = excluded.size, time_last_changed = excluded.time_last_changed
			WHERE excluded.time_last_changed >= `+schema.EntriesNewest+`.time_last_changed`,
			c.name, c.entryID, c.uuidID, c.entityID, c.entryType, c.fileUser, c.fileGroup, c.permission, c.size, c.timeLastChanged)
		if err != nil {
			return fmt.Errorf("newest: upsert: %w", err)
		}
		return nil
	default:
		_, err := tx.Exec(ctx, `INSERT INTO `+schema.EntriesNewest+`
				(name, entry_id, uuid_id, entity_id, type, file_user, file_group, permission, size, time_last_changed)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				entry_id = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(entry_id), entry_id),
				uuid_id = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(uuid_id), uuid_id),
				entity_id = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(entity_id), entity_id),
				type = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(type), type),
				file_user = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(file_user), file_user),
				file_group = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(file_group), file_group),
				permission = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(permission), permission),
				size = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(size), size),
				time_last_changed = IF(VALUES(time_last_changed) >= time_last_changed, VALUES(time_last_changed), time_last_changed)`,
			c.name, c.entryID, c.uuidID, c.entityID, c.entryType, c.fileUser, c.fileGroup, c.permission, c.size, c.timeLastChanged)
		if err != nil {
			return fmt.Errorf("newest: upsert: %w", err)
		}
		return nil
	}
}

// Remove implements spec.md §4.8's Remove phase, called when a storage
// is cleared: delete the newest row for each of the storage's entries,
// then for each affected name find the highest time_last_changed live
// entry of that name across all non-deleted storages and upsert a
// replacement if one exists. This is where the documented eventual-
// consistency window gets closed: a clear may have already marked the
// storage's entries deleted, but its fragment/sub-entry rows (joined
// here) still identify which names it owned until step 3 of
// clear_storage removes them.
func (p *Projector) Remove(ctx context.Context, run *txrun.Run, storageID idtag.ID, pollInterval time.Duration) error {
	names, err := newestNamesOwnedByStorage(ctx, run.Tx(), storageID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := run.Tx().Exec(ctx, "DELETE FROM "+schema.EntriesNewest+" WHERE name = ?", name); err != nil {
			return fmt.Errorf("newest: delete: %w", err)
		}
		if err := p.reinstateBestFor(ctx, run.Tx(), name); err != nil {
			return err
		}
		run.Advance(1)
		if run.YieldDue() {
			if err := run.Interrupt(ctx, pollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

func newestNamesOwnedByStorage(ctx context.Context, tx *dbkit.Tx, storageID idtag.ID) ([]string, error) {
	selects := make([]string, len(liveOwnerTables))
	args := make([]any, len(liveOwnerTables))
	for i, table := range liveOwnerTables {
		selects[i] = `SELECT nn.name FROM ` + schema.EntriesNewest + ` nn
			JOIN ` + table + ` o ON o.entry_id = nn.entry_id
			WHERE o.storage_id = ?`
		args[i] = storageID.Raw()
	}
	rows, err := tx.Query(ctx, strings.Join(selects, " UNION "), args...)
	if err != nil {
		return nil, fmt.Errorf("newest: query owned names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// reinstateBestFor finds the highest time_last_changed live entry named
// name across all entries belonging to non-deleted storages and, if one
// exists, inserts it as the new entries_newest row.
func (p *Projector) reinstateBestFor(ctx context.Context, tx *dbkit.Tx, name string) error {
	selects := make([]string, len(liveOwnerTables))
	for i, table := range liveOwnerTables {
		selects[i] = `SELECT e.id, e.name, e.time_last_changed, e.uuid_id, e.entity_id, e.type,
				e.file_user, e.file_group, e.permission, e.size
			FROM ` + schema.Entries + ` e
			JOIN ` + table + ` o ON o.entry_id = e.id
			JOIN ` + schema.Storages + ` s ON s.id = o.storage_id
			WHERE e.name = ? AND e.deleted = 0 AND s.deleted = 0`
	}
	q := `SELECT id, name, time_last_changed, uuid_id, entity_id, type,
			file_user, file_group, permission, size
		FROM (` + strings.Join(selects, " UNION ") + `) candidates
		ORDER BY time_last_changed DESC
		LIMIT 1`
	args := make([]any, len(liveOwnerTables))
	for i := range args {
		args[i] = name
	}
	var c candidate
	err := tx.QueryRow(ctx, q, args...).Scan(&c.entryID, &c.name, &c.timeLastChanged, &c.uuidID, &c.entityID, &c.entryType,
		&c.fileUser, &c.fileGroup, &c.permission, &c.size)
	wrapped := dbkit.WrapDBError("newest: find replacement", err)
	if dbkit.IsNotFound(wrapped) {
		return nil
	}
	if wrapped != nil {
		return wrapped
	}
	return p.upsertIfNewer(ctx, tx, c)
}
