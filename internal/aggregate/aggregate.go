// Package aggregate maintains the cached counters and sizes on
// storage, entity, and UUID rows (spec.md §4.6): incremental
// propagation up a directory's ancestry on insert, plus an
// authoritative full recompute used as the reconciliation oracle after
// any change whose incremental correctness is doubtful.
//
// Grounded on the teacher's dirty-flag reconciliation pattern in
// internal/storage/sqlite/dirty.go (counters kept roughly in sync
// incrementally, with a from-scratch recompute path that's always
// correct) and its cached-counter style in blocked_cache.go.
package aggregate

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/schema"
)

// Maintainer wires the two aggregate surfaces to a backend.
type Maintainer struct {
	db             *dbkit.DB
	recomputeTimer metric.Float64Histogram
}

// New builds a Maintainer, recording recompute duration through meter
// (matching the teacher's OTel usage in internal/storage/dolt).
func New(db *dbkit.DB, meter metric.Meter) (*Maintainer, error) {
	hist, err := meter.Float64Histogram("bxindex.aggregate.recompute_ms",
		metric.WithDescription("duration of recompute_storage_aggregates in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("aggregate: histogram: %w", err)
	}
	return &Maintainer{db: db, recomputeTimer: hist}, nil
}

// PropagateAncestry walks name's directory ancestry (successive parent
// extraction until the path is empty) and, for each ancestor that has a
// directory-entry row in storageID, increments its totalEntryCount/
// totalEntrySize by one and size, per spec.md §4.6's per-insert
// propagation. Directory rows carry only "all" totals (newest totals
// exist on storage/entity/uuid rows, not on individual directories), so
// there is no separate newest-projection variant of this walk.
func (m *Maintainer) PropagateAncestry(ctx context.Context, tx *dbkit.Tx, storageID idtag.ID, name string, size int64) error {
	for ancestor := parentOf(name); ancestor != ""; ancestor = parentOf(ancestor) {
		dirEntryID, err := findDirectoryEntryID(ctx, tx, storageID, ancestor)
		if err != nil {
			if dbkit.IsNotFound(err) {
				continue
			}
			return err
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET total_entry_count = total_entry_count + 1, total_entry_size = total_entry_size + ? WHERE entry_id = ?`, schema.DirectoryEntries),
			size, dirEntryID,
		); err != nil {
			return fmt.Errorf("aggregate: propagate to %s: %w", ancestor, err)
		}
	}
	return nil
}

func parentOf(name string) string {
	clean := strings.TrimRight(name, "/")
	if clean == "" {
		return ""
	}
	dir := path.Dir(clean)
	if dir == "." || dir == "/" || dir == clean {
		return ""
	}
	return dir
}

// findDirectoryEntryID looks the ancestor up through tx, so the lookup
// shares the caller's connection instead of waiting for a second one.
func findDirectoryEntryID(ctx context.Context, tx *dbkit.Tx, storageID idtag.ID, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		"SELECT e.id FROM "+schema.Entries+" e JOIN "+schema.DirectoryEntries+" d ON d.entry_id = e.id WHERE e.name = ? AND d.storage_id = ? AND e.deleted = 0 LIMIT 1",
		name, storageID.Raw(),
	).Scan(&id)
	if err != nil {
		return 0, dbkit.WrapDBError("find_id", err)
	}
	return id, nil
}

// kindTotals is the per-kind SUM/COUNT result from one recompute pass.
type kindTotals struct {
	fileCount, fileSize           int64
	imageCount, imageSize         int64
	directoryCount                int64
	linkCount                     int64
	hardlinkCount, hardlinkSize   int64
	specialCount                  int64
}

func (k kindTotals) asAggregates() model.Aggregates {
	return model.Aggregates{
		FileCount: k.fileCount, FileSize: k.fileSize,
		ImageCount: k.imageCount, ImageSize: k.imageSize,
		DirectoryCount: k.directoryCount,
		LinkCount:      k.linkCount,
		HardlinkCount:  k.hardlinkCount, HardlinkSize: k.hardlinkSize,
		SpecialCount: k.specialCount,
		TotalCount:   k.fileCount + k.imageCount + k.directoryCount + k.linkCount + k.hardlinkCount + k.specialCount,
		TotalSize:    k.fileSize + k.imageSize + k.hardlinkSize,
	}
}

// RecomputeStorageAggregates issues the authoritative SUM/COUNT queries
// against storageID's live entries (and, separately, its newest rows),
// writes the result into the storage row, then triggers
// RecomputeEntityAggregates for its parent entity (spec.md §4.6).
func (m *Maintainer) RecomputeStorageAggregates(ctx context.Context, storageID idtag.ID) error {
	start := time.Now()
	defer func() { m.recomputeTimer.Record(ctx, float64(time.Since(start).Milliseconds())) }()
	all, err := m.sumByKind(ctx, storageID, false)
	if err != nil {
		return err
	}
	newest, err := m.sumByKind(ctx, storageID, true)
	if err != nil {
		return err
	}
	if err := m.writeAggregates(ctx, schema.Storages, storageID, all.asAggregates(), newest.asAggregates()); err != nil {
		return err
	}

	var parentEntity int64
	if err := m.db.QueryScalar(ctx, &parentEntity, "SELECT entity_id FROM "+schema.Storages+" WHERE id = ?", storageID.Raw()); err != nil {
		return fmt.Errorf("aggregate: find parent entity: %w", err)
	}
	if parentEntity == 0 {
		return nil
	}
	return m.RecomputeEntityAggregates(ctx, idtag.New(idtag.KindEntity, parentEntity))
}

// RecomputeEntityAggregates sums totals over entityID's non-deleted
// storages and writes them, then recomputes the parent UUID.
func (m *Maintainer) RecomputeEntityAggregates(ctx context.Context, entityID idtag.ID) error {
	all, newest, err := m.sumStorageRows(ctx, entityID)
	if err != nil {
		return err
	}
	if err := m.writeAggregates(ctx, schema.Entities, entityID, all, newest); err != nil {
		return err
	}

	var uuidID int64
	if err := m.db.QueryScalar(ctx, &uuidID, "SELECT uuid_id FROM "+schema.Entities+" WHERE id = ?", entityID.Raw()); err != nil {
		return fmt.Errorf("aggregate: find parent uuid: %w", err)
	}
	return m.RecomputeUUIDAggregates(ctx, idtag.New(idtag.KindUUID, uuidID))
}

// RecomputeUUIDAggregates sums totals over uuidID's non-deleted
// entities and writes them.
func (m *Maintainer) RecomputeUUIDAggregates(ctx context.Context, uuidID idtag.ID) error {
	var all, newest model.Aggregates
	err := m.db.QueryScalars(ctx,
		`SELECT
			COALESCE(SUM(file_count),0), COALESCE(SUM(file_size),0),
			COALESCE(SUM(image_count),0), COALESCE(SUM(image_size),0),
			COALESCE(SUM(directory_count),0),
			COALESCE(SUM(link_count),0),
			COALESCE(SUM(hardlink_count),0), COALESCE(SUM(hardlink_size),0),
			COALESCE(SUM(special_count),0),
			COALESCE(SUM(total_count),0), COALESCE(SUM(total_size),0),
			COALESCE(SUM(newest_file_count),0), COALESCE(SUM(newest_file_size),0),
			COALESCE(SUM(newest_image_count),0), COALESCE(SUM(newest_image_size),0),
			COALESCE(SUM(newest_directory_count),0),
			COALESCE(SUM(newest_link_count),0),
			COALESCE(SUM(newest_hardlink_count),0), COALESCE(SUM(newest_hardlink_size),0),
			COALESCE(SUM(newest_special_count),0),
			COALESCE(SUM(newest_total_count),0), COALESCE(SUM(newest_total_size),0)
		FROM `+schema.Entities+` WHERE uuid_id = ? AND deleted = 0`,
		[]any{uuidID.Raw()},
		&all.FileCount, &all.FileSize, &all.ImageCount, &all.ImageSize, &all.DirectoryCount,
		&all.LinkCount, &all.HardlinkCount, &all.HardlinkSize, &all.SpecialCount,
		&all.TotalCount, &all.TotalSize,
		&newest.FileCount, &newest.FileSize, &newest.ImageCount, &newest.ImageSize, &newest.DirectoryCount,
		&newest.LinkCount, &newest.HardlinkCount, &newest.HardlinkSize, &newest.SpecialCount,
		&newest.TotalCount, &newest.TotalSize,
	)
	if err != nil {
		return fmt.Errorf("aggregate: sum uuid: %w", err)
	}
	return m.writeAggregates(ctx, schema.Uuids, uuidID, all, newest)
}

func (m *Maintainer) sumStorageRows(ctx context.Context, entityID idtag.ID) (all, newest model.Aggregates, err error) {
	err = m.db.QueryScalars(ctx,
		`SELECT
			COALESCE(SUM(file_count),0), COALESCE(SUM(file_size),0),
			COALESCE(SUM(image_count),0), COALESCE(SUM(image_size),0),
			COALESCE(SUM(directory_count),0),
			COALESCE(SUM(link_count),0),
			COALESCE(SUM(hardlink_count),0), COALESCE(SUM(hardlink_size),0),
			COALESCE(SUM(special_count),0),
			COALESCE(SUM(total_count),0), COALESCE(SUM(total_size),0),
			COALESCE(SUM(newest_file_count),0), COALESCE(SUM(newest_file_size),0),
			COALESCE(SUM(newest_image_count),0), COALESCE(SUM(newest_image_size),0),
			COALESCE(SUM(newest_directory_count),0),
			COALESCE(SUM(newest_link_count),0),
			COALESCE(SUM(newest_hardlink_count),0), COALESCE(SUM(newest_hardlink_size),0),
			COALESCE(SUM(newest_special_count),0),
			COALESCE(SUM(newest_total_count),0), COALESCE(SUM(newest_total_size),0)
		FROM `+schema.Storages+` WHERE entity_id = ? AND deleted = 0`,
		[]any{entityID.Raw()},
		&all.FileCount, &all.FileSize, &all.ImageCount, &all.ImageSize, &all.DirectoryCount,
		&all.LinkCount, &all.HardlinkCount, &all.HardlinkSize, &all.SpecialCount,
		&all.TotalCount, &all.TotalSize,
		&newest.FileCount, &newest.FileSize, &newest.ImageCount, &newest.ImageSize, &newest.DirectoryCount,
		&newest.LinkCount, &newest.HardlinkCount, &newest.HardlinkSize, &newest.SpecialCount,
		&newest.TotalCount, &newest.TotalSize,
	)
	return all, newest, err
}

// sumByKind computes the COUNT/SUM pair for every entry kind scoped to
// storageID, joining through whichever table actually carries that
// kind's storage_id: entry_fragments for file/image/hardlink,
// the kind's own sub-entry table for directory/link/special (per
// schema.go, those three never have fragment rows). newestOnly swaps
// the source from entries to entries_newest, which has no storage_id
// of its own, so the storage scoping still goes through the same
// owner-table join on its entry_id.
func (m *Maintainer) sumByKind(ctx context.Context, storageID idtag.ID, newestOnly bool) (kindTotals, error) {
	var t kindTotals

	sumOne := func(entryType int, ownerTable string, sumSize bool) (count int64, size int64, err error) {
		var q string
		if !newestOnly {
			sizeExpr := "0"
			if sumSize {
				sizeExpr = "f.size"
			}
			q = fmt.Sprintf(`SELECT COUNT(DISTINCT e.id), COALESCE(SUM(%s),0)
				FROM %s e JOIN %s f ON f.entry_id = e.id AND f.storage_id = ?
				WHERE e.type = ? AND e.deleted = 0`, sizeExpr, schema.Entries, ownerTable)
		} else {
			sizeExpr := "0"
			if sumSize {
				sizeExpr = "en.size"
			}
			q = fmt.Sprintf(`SELECT COUNT(DISTINCT en.entry_id), COALESCE(SUM(%s),0)
				FROM %s en JOIN %s f ON f.entry_id = en.entry_id AND f.storage_id = ?
				WHERE en.type = ?`, sizeExpr, schema.EntriesNewest, ownerTable)
		}
		err = m.db.QueryScalars(ctx, q, []any{storageID.Raw(), entryType}, &count, &size)
		return
	}

	var err error
	t.fileCount, t.fileSize, err = sumOne(int(model.EntryTypeFile), schema.EntryFragments, true)
	if err != nil {
		return t, err
	}
	t.imageCount, t.imageSize, err = sumOne(int(model.EntryTypeImage), schema.EntryFragments, true)
	if err != nil {
		return t, err
	}
	t.directoryCount, _, err = sumOne(int(model.EntryTypeDirectory), schema.DirectoryEntries, false)
	if err != nil {
		return t, err
	}
	t.linkCount, _, err = sumOne(int(model.EntryTypeLink), schema.LinkEntries, false)
	if err != nil {
		return t, err
	}
	t.hardlinkCount, t.hardlinkSize, err = sumOne(int(model.EntryTypeHardlink), schema.EntryFragments, true)
	if err != nil {
		return t, err
	}
	t.specialCount, _, err = sumOne(int(model.EntryTypeSpecial), schema.SpecialEntries, false)
	if err != nil {
		return t, err
	}
	return t, nil
}

func (m *Maintainer) writeAggregates(ctx context.Context, table string, id idtag.ID, all, newest model.Aggregates) error {
	_, err := m.db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET
		file_count=?, file_size=?, image_count=?, image_size=?, directory_count=?,
		link_count=?, hardlink_count=?, hardlink_size=?, special_count=?,
		total_count=?, total_size=?,
		newest_file_count=?, newest_file_size=?, newest_image_count=?, newest_image_size=?, newest_directory_count=?,
		newest_link_count=?, newest_hardlink_count=?, newest_hardlink_size=?, newest_special_count=?,
		newest_total_count=?, newest_total_size=?
		WHERE id = ?`, table),
		all.FileCount, all.FileSize, all.ImageCount, all.ImageSize, all.DirectoryCount,
		all.LinkCount, all.HardlinkCount, all.HardlinkSize, all.SpecialCount,
		all.TotalCount, all.TotalSize,
		newest.FileCount, newest.FileSize, newest.ImageCount, newest.ImageSize, newest.DirectoryCount,
		newest.LinkCount, newest.HardlinkCount, newest.HardlinkSize, newest.SpecialCount,
		newest.TotalCount, newest.TotalSize,
		id.Raw(),
	)
	return err
}
