// Package purge implements spec.md §4.9's storage purger state machine
// (live -> clearing -> deleted-soft -> deleted-physically) and §4.10's
// pruner.
//
// Grounded on the teacher's chunked, idempotent multi-table delete in
// internal/storage/sqlite/delete.go, generalized from "delete one
// issue and its comments/labels" to "delete one storage's fragments,
// orphaned entries, and sub-entry rows, then its own row" — and on
// original_source/bar/index/index_storages.c's clearStorage /
// IndexStorage_isEmpty for the exact step ordering and emptiness test.
package purge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duskvault/bxindex/internal/aggregate"
	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/fts"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/newest"
	"github.com/duskvault/bxindex/internal/schema"
	"github.com/duskvault/bxindex/internal/txrun"
)

// Purger runs the clear/purge/prune operations against one backend.
// clearLock is spec.md §5's clearStorageLock: held for the whole
// duration of a clear_storage call so two clears never overlap, while
// ordinary writers never block on it.
type Purger struct {
	db           *dbkit.DB
	fts          fts.Shim
	aggs         *aggregate.Maintainer
	newestProj   *newest.Projector
	pollInterval time.Duration

	clearLock sync.Mutex
}

// New builds a Purger. pollInterval is the sleep duration used between
// interruptable batches (spec.md's SLEEP_TIME_PURGE).
func New(db *dbkit.DB, aggs *aggregate.Maintainer, pollInterval time.Duration) *Purger {
	return &Purger{
		db:           db,
		fts:          fts.New(db.Dialect),
		aggs:         aggs,
		newestProj:   newest.New(db.Dialect),
		pollInterval: pollInterval,
	}
}

// ClearStorage runs spec.md §4.9's 7-step clear_storage algorithm. Each
// step is idempotent, so a crash partway through leaves the storage in
// a state where calling ClearStorage again completes correctly.
func (p *Purger) ClearStorage(ctx context.Context, storageID idtag.ID) (err error) {
	p.clearLock.Lock()
	defer p.clearLock.Unlock()

	run, err := txrun.Begin(ctx, p.db, dbkit.IsolationDefault)
	if err != nil {
		return err
	}
	ended := false
	defer func() {
		if !ended {
			run.End(err)
		}
	}()

	entryIDs, err := p.collectReachableEntryIDs(ctx, run.Tx(), storageID)
	if err != nil {
		return err
	}

	if err = p.deleteFragmentsChunked(ctx, run, storageID); err != nil {
		return err
	}

	for _, table := range []string{schema.DirectoryEntries, schema.LinkEntries, schema.SpecialEntries} {
		if err = p.deleteOwnedRowsChunked(ctx, run, table, storageID); err != nil {
			return err
		}
	}

	for _, entryID := range entryIDs {
		referenced, rerr := p.entryStillReferenced(ctx, run.Tx(), entryID)
		if rerr != nil {
			err = rerr
			return err
		}
		if !referenced {
			if derr := p.deleteOrphanEntry(ctx, run.Tx(), entryID); derr != nil {
				err = derr
				return err
			}
		}
		run.Advance(1)
		if run.YieldDue() {
			if err = run.Interrupt(ctx, p.pollInterval); err != nil {
				return err
			}
		}
	}

	if err = p.newestProj.Remove(ctx, run, storageID, p.pollInterval); err != nil {
		return err
	}

	if err = run.End(nil); err != nil {
		return err
	}
	ended = true

	// Step 6: with fragments and orphaned entries gone, a from-scratch
	// recompute naturally zeroes the storage's own counters and cascades
	// into its parent entity/uuid (internal/aggregate.RecomputeStorageAggregates).
	return p.aggs.RecomputeStorageAggregates(ctx, storageID)
}

// collectReachableEntryIDs gathers step 2's entryIds = every entry
// reachable from storageID via a fragment, directory entry, link entry,
// or special entry.
func (p *Purger) collectReachableEntryIDs(ctx context.Context, tx *dbkit.Tx, storageID idtag.ID) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	add := func(q string) error {
		rows, err := tx.Query(ctx, q, storageID.Raw())
		if err != nil {
			return fmt.Errorf("purge: collect reachable: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return rows.Err()
	}
	queries := []string{
		"SELECT DISTINCT entry_id FROM " + schema.EntryFragments + " WHERE storage_id = ?",
		"SELECT entry_id FROM " + schema.DirectoryEntries + " WHERE storage_id = ?",
		"SELECT entry_id FROM " + schema.LinkEntries + " WHERE storage_id = ?",
		"SELECT entry_id FROM " + schema.SpecialEntries + " WHERE storage_id = ?",
	}
	for _, q := range queries {
		if err := add(q); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// deleteFragmentsChunked implements step 3: delete all fragment rows
// for storageID, yielding every SingleStepPurgeLimit rows.
func (p *Purger) deleteFragmentsChunked(ctx context.Context, run *txrun.Run, storageID idtag.ID) error {
	return p.deleteOwnedRowsChunked(ctx, run, schema.EntryFragments, storageID)
}

// deleteOwnedRowsChunked deletes every row of table owned by storageID,
// also part of step 3: directory/link/special sub-entries carry
// storage_id directly (unlike fragments, there's at most one row per
// entry_id), so clearing them here is what lets entryStillReferenced
// correctly see those entries as orphaned afterward.
func (p *Purger) deleteOwnedRowsChunked(ctx context.Context, run *txrun.Run, table string, storageID idtag.ID) error {
	for {
		res, err := run.Tx().Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE storage_id = ? LIMIT %d", table, txrun.SingleStepPurgeLimit),
			storageID.Raw())
		if err != nil {
			// Dialects without DELETE...LIMIT fall back to an unbounded delete.
			res, err = run.Tx().Exec(ctx, "DELETE FROM "+table+" WHERE storage_id = ?", storageID.Raw())
			if err != nil {
				return fmt.Errorf("purge: delete from %s: %w", table, err)
			}
		}
		n, _ := res.RowsAffected()
		run.Advance(int(n))
		if run.YieldDue() {
			if err := run.Interrupt(ctx, p.pollInterval); err != nil {
				return err
			}
		}
		if n < txrun.SingleStepPurgeLimit {
			return nil
		}
	}
}

// entryStillReferenced implements step 4's orphan test: entryID is kept
// if any fragment (in any storage) or any directory/link/special
// sub-entry row still points at it. Because step 3 already deleted
// storageID's own fragment and sub-entry rows, a hit here means some
// other storage still references entryID.
func (p *Purger) entryStillReferenced(ctx context.Context, tx *dbkit.Tx, entryID int64) (bool, error) {
	tables := []string{schema.EntryFragments, schema.DirectoryEntries, schema.LinkEntries, schema.SpecialEntries}
	for _, table := range tables {
		var one int
		err := tx.QueryRow(ctx, "SELECT 1 FROM "+table+" WHERE entry_id = ? LIMIT 1", entryID).Scan(&one)
		if err == nil {
			return true, nil
		}
		wrapped := dbkit.WrapDBError("purge: check reference", err)
		if !dbkit.IsNotFound(wrapped) {
			return false, wrapped
		}
	}
	return false, nil
}

// deleteOrphanEntry removes the FTS row, the kind-specific sub-entry
// row, and the entry row itself for an entryID no longer referenced by
// anything.
func (p *Purger) deleteOrphanEntry(ctx context.Context, tx *dbkit.Tx, entryID int64) error {
	if err := p.fts.Delete(ctx, tx, fts.Entries, entryID); err != nil {
		return fmt.Errorf("purge: delete fts entry: %w", err)
	}
	for _, table := range []string{
		schema.FileEntries, schema.ImageEntries, schema.DirectoryEntries,
		schema.LinkEntries, schema.HardlinkEntries, schema.SpecialEntries,
	} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE entry_id = ?", entryID); err != nil {
			return fmt.Errorf("purge: delete sub-entry from %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+schema.Entries+" WHERE id = ?", entryID); err != nil {
		return fmt.Errorf("purge: delete entry: %w", err)
	}
	return nil
}

// PurgeStorage runs spec.md §4.9's purge_storage: clear, then drop the
// FTS-storage row and the storage row itself.
func (p *Purger) PurgeStorage(ctx context.Context, storageID idtag.ID) error {
	var name string
	var createdAt int64
	if err := p.db.QueryScalars(ctx,
		"SELECT name, created_at FROM "+schema.Storages+" WHERE id = ?", []any{storageID.Raw()}, &name, &createdAt,
	); err != nil && !dbkit.IsNotFound(err) {
		return fmt.Errorf("purge: read storage for logging: %w", err)
	}

	if err := p.ClearStorage(ctx, storageID); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, dbkit.IsolationDefault)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.End()
		}
	}()

	if err := p.fts.Delete(ctx, tx, fts.Storages, storageID.Raw()); err != nil {
		return fmt.Errorf("purge: delete fts storage: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+schema.Storages+" WHERE id = ?", storageID.Raw()); err != nil {
		return fmt.Errorf("purge: delete storage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ParseSpecifier splits a storage's parsed name into the specifier and
// archive-name halves purge_all_by_name matches against, on the final
// path separator (spec.md §4.9's "parsed name equals specifier/archive_name").
func ParseSpecifier(parsedName string) (specifier, archiveName string) {
	idx := strings.LastIndex(parsedName, "/")
	if idx < 0 {
		return "", parsedName
	}
	return parsedName[:idx], parsedName[idx+1:]
}

func joinSpecifier(specifier, archiveName string) string {
	if specifier == "" {
		return archiveName
	}
	return specifier + "/" + archiveName
}

// PurgeAllByName implements purge_all_by_name: purge every live storage
// whose parsed name equals specifier/archiveName except keepID, then
// prune any entity/UUID left empty by those purges.
func (p *Purger) PurgeAllByName(ctx context.Context, specifier, archiveName string, keepID idtag.ID) error {
	name := joinSpecifier(specifier, archiveName)
	rows, err := p.db.Select(ctx,
		"SELECT id, entity_id FROM "+schema.Storages+" WHERE name = ? AND deleted = 0 AND id != ?",
		name, keepID.Raw())
	if err != nil {
		return fmt.Errorf("purge: list matching storages: %w", err)
	}
	var targets []struct {
		storageID idtag.ID
		entityID  idtag.ID
	}
	for rows.Next() {
		var sid, eid int64
		if err := rows.Scan(&sid, &eid); err != nil {
			rows.Close()
			return err
		}
		targets = append(targets, struct {
			storageID idtag.ID
			entityID  idtag.ID
		}{idtag.New(idtag.KindStorage, sid), idtag.New(idtag.KindEntity, eid)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, t := range targets {
		if err := p.PurgeStorage(ctx, t.storageID); err != nil {
			return err
		}
		if err := p.PruneEntity(ctx, t.entityID); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty implements original_source's IndexStorage_isEmpty: true if no
// fragment, directory, link, or special entry still references
// storageID.
func (p *Purger) IsEmpty(ctx context.Context, storageID idtag.ID) (bool, error) {
	tables := []string{schema.EntryFragments, schema.DirectoryEntries, schema.LinkEntries, schema.SpecialEntries}
	for _, table := range tables {
		exists, err := p.db.Exists(ctx, table, "storage_id = ?", storageID.Raw())
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	return true, nil
}

// PruneStorage implements spec.md §4.10's prune_storage: purge the
// storage if it is in the ok state and empty.
func (p *Purger) PruneStorage(ctx context.Context, storageID idtag.ID) error {
	var state int
	if err := p.db.QueryScalar(ctx, &state, "SELECT state FROM "+schema.Storages+" WHERE id = ?", storageID.Raw()); err != nil {
		if dbkit.IsNotFound(err) {
			return nil
		}
		return err
	}
	if model.StorageState(state) != model.StorageStateOK {
		return nil
	}
	empty, err := p.IsEmpty(ctx, storageID)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	return p.PurgeStorage(ctx, storageID)
}

// PruneEntity implements prune_entity: soft-delete entityID if it has
// no lock held and no live storages remain.
func (p *Purger) PruneEntity(ctx context.Context, entityID idtag.ID) error {
	var lockedCount int
	if err := p.db.QueryScalar(ctx, &lockedCount, "SELECT locked_count FROM "+schema.Entities+" WHERE id = ?", entityID.Raw()); err != nil {
		if dbkit.IsNotFound(err) {
			return nil
		}
		return err
	}
	if lockedCount != 0 {
		return nil
	}
	hasLive, err := p.db.Exists(ctx, schema.Storages, "entity_id = ? AND deleted = 0", entityID.Raw())
	if err != nil {
		return err
	}
	if hasLive {
		return nil
	}
	if _, err := p.db.Exec(ctx, "UPDATE "+schema.Entities+" SET deleted = 1 WHERE id = ?", entityID.Raw()); err != nil {
		return fmt.Errorf("purge: soft-delete entity: %w", err)
	}
	var uuidID int64
	if err := p.db.QueryScalar(ctx, &uuidID, "SELECT uuid_id FROM "+schema.Entities+" WHERE id = ?", entityID.Raw()); err != nil {
		return err
	}
	return p.PruneUUID(ctx, idtag.New(idtag.KindUUID, uuidID))
}

// PruneUUID implements prune_uuid: delete the UUID row if no live
// entities reference it.
func (p *Purger) PruneUUID(ctx context.Context, uuidID idtag.ID) error {
	hasLive, err := p.db.Exists(ctx, schema.Entities, "uuid_id = ? AND deleted = 0", uuidID.Raw())
	if err != nil {
		return err
	}
	if hasLive {
		return nil
	}
	if _, err := p.db.Exec(ctx, "DELETE FROM "+schema.Uuids+" WHERE id = ?", uuidID.Raw()); err != nil {
		return fmt.Errorf("purge: delete uuid: %w", err)
	}
	return nil
}
