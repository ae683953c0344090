// Package startupcleanup implements spec.md §4.11's five ordered
// passes run once, on first open of an index after process start.
//
// Grounded on original_source/bar/index/index_storages.c's
// cleanUpIncompleteUpdate, cleanUpStorageNoName,
// cleanUpStorageNoEntity, and cleanUpStorageInvalidState, each of which
// runs as one pass over all matching rows at startup; reworked here as
// a single Run entry point calling one function per pass, logging
// through the same *slog.Logger the teacher threads into its daemon
// startup sequence.
package startupcleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/purge"
	"github.com/duskvault/bxindex/internal/schema"
)

// Cleaner runs the startup passes against one backend.
type Cleaner struct {
	db     *dbkit.DB
	purger *purge.Purger
	log    *slog.Logger
}

// New builds a Cleaner.
func New(db *dbkit.DB, purger *purge.Purger, log *slog.Logger) *Cleaner {
	return &Cleaner{db: db, purger: purger, log: log.With("component", "startupcleanup")}
}

// Run executes all five passes in order. Failure in one pass is logged
// and does not prevent the remaining passes from running: each pass
// targets a disjoint set of rows, so a partial failure only leaves that
// pass's rows in their prior (still-valid, if slightly untidy) state.
func (c *Cleaner) Run(ctx context.Context) error {
	passes := []struct {
		name string
		fn   func(context.Context) (int64, error)
	}{
		{"reset_locked_counts", c.resetLockedCounts},
		{"clear_soft_deleted_state", c.clearSoftDeletedState},
		{"purge_unnamed_storages", c.purgeUnnamedStorages},
		{"assign_default_entity", c.assignDefaultEntity},
		{"purge_invalid_state_storages", c.purgeInvalidStateStorages},
	}
	var firstErr error
	for _, p := range passes {
		n, err := p.fn(ctx)
		if err != nil {
			c.log.Error("startup clean-up pass failed", "pass", p.name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("startupcleanup: %s: %w", p.name, err)
			}
			continue
		}
		c.log.Info("startup clean-up pass done", "pass", p.name, "rows", n)
	}
	return firstErr
}

// resetLockedCounts implements pass 1: no live client holds a lock yet
// at process start, so every entity's lockedCount resets to zero.
func (c *Cleaner) resetLockedCounts(ctx context.Context) (int64, error) {
	res, err := c.db.Exec(ctx, "UPDATE "+schema.Entities+" SET locked_count = 0 WHERE locked_count != 0")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// clearSoftDeletedState implements pass 2: storages already soft-
// deleted get their state reset to none, so a stale update_requested
// value doesn't restart indexing work on a row that's about to be
// physically purged.
func (c *Cleaner) clearSoftDeletedState(ctx context.Context) (int64, error) {
	res, err := c.db.Exec(ctx,
		"UPDATE "+schema.Storages+" SET state = ? WHERE deleted = 1 AND state != ?",
		int(model.StorageStateNone), int(model.StorageStateNone))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// purgeUnnamedStorages implements pass 3: a storage row created but
// never assigned an archive name (name = "") is purged outright.
func (c *Cleaner) purgeUnnamedStorages(ctx context.Context) (int64, error) {
	ids, err := c.storageIDsWhere(ctx, "name = ''")
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := c.purger.PurgeStorage(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}

// assignDefaultEntity implements pass 4: a storage whose entityId is
// null is assigned the entity of any sibling storage sharing its UUID.
func (c *Cleaner) assignDefaultEntity(ctx context.Context) (int64, error) {
	rows, err := c.db.Select(ctx, "SELECT id, uuid_id FROM "+schema.Storages+" WHERE entity_id IS NULL")
	if err != nil {
		return 0, err
	}
	type orphan struct {
		storageID, uuidID int64
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.storageID, &o.uuidID); err != nil {
			rows.Close()
			return 0, err
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var n int64
	for _, o := range orphans {
		var siblingEntity int64
		err := c.db.QueryScalar(ctx, &siblingEntity,
			"SELECT entity_id FROM "+schema.Storages+" WHERE uuid_id = ? AND entity_id IS NOT NULL LIMIT 1", o.uuidID)
		if err != nil {
			if dbkit.IsNotFound(err) {
				continue
			}
			return n, err
		}
		if _, err := c.db.Exec(ctx, "UPDATE "+schema.Storages+" SET entity_id = ? WHERE id = ?", siblingEntity, o.storageID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// purgeInvalidStateStorages implements pass 5: a storage whose state
// column holds a value outside the known enum is purged, since no code
// path can ever legitimately drive it back to a valid state.
func (c *Cleaner) purgeInvalidStateStorages(ctx context.Context) (int64, error) {
	rows, err := c.db.Select(ctx, "SELECT id, state FROM "+schema.Storages)
	if err != nil {
		return 0, err
	}
	var invalid []idtag.ID
	for rows.Next() {
		var id int64
		var state int
		if err := rows.Scan(&id, &state); err != nil {
			rows.Close()
			return 0, err
		}
		if !model.StorageState(state).Valid() {
			invalid = append(invalid, idtag.New(idtag.KindStorage, id))
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range invalid {
		if err := c.purger.PurgeStorage(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(invalid)), nil
}

func (c *Cleaner) storageIDsWhere(ctx context.Context, whereClause string) ([]idtag.ID, error) {
	rows, err := c.db.Select(ctx, "SELECT id FROM "+schema.Storages+" WHERE "+whereClause)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []idtag.ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, idtag.New(idtag.KindStorage, id))
	}
	return ids, rows.Err()
}
