// Package query implements spec.md §6's read surface: find/list/count
// operations over uuids, entities, storages, and entries, built on
// internal/filter's parameterized clause builder and internal/dbkit's
// Cursor.
//
// Grounded on the teacher's internal/storage/sqlite/queries.go and
// search.go: hand-built SELECT statements composed from a filter
// struct, a fixed sort-column allowlist, and a Cursor-style row walk,
// generalized from "search issues" to "list storages/entries with the
// filter set spec.md §6 names". The full-text join pattern (shadow
// table joined by rowid) is grounded on
// untoldecay-BeadsLog/internal/queries/search.go's
// "JOIN sessions_fts ON sessions_fts.rowid = s.rowid".
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/filter"
	"github.com/duskvault/bxindex/internal/fts"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/schema"
)

// Query runs read operations against one backend.
type Query struct {
	db  *dbkit.DB
	fts fts.Shim
}

// New builds a Query.
func New(db *dbkit.DB) *Query {
	return &Query{db: db, fts: fts.New(db.Dialect)}
}

var storageSortColumns = filter.SortColumns{
	"name":    "name",
	"size":    "size",
	"created": "created_at",
	"state":   "state",
}

var entrySortColumns = filter.SortColumns{
	"name":    "name",
	"size":    "size",
	"created": "time_last_changed",
}

// StorageFilter is spec.md §6's "list storages" filter set. A zero-
// value idtag.ID field (idtag.Any or idtag.None) means unrestricted.
type StorageFilter struct {
	UUID         idtag.ID
	Entity       idtag.ID
	JobUUID      string
	ScheduleUUID string
	States       []model.StorageState
	Modes        []model.StorageMode
	Host         string
	User         string
	NamePattern  string

	Sort      model.SortKey
	Direction filter.Direction
	Limit     int
	Offset    int
}

// EntryFilter is spec.md §6's "list entries" filter set.
type EntryFilter struct {
	Entity      idtag.ID
	Storage     idtag.ID // when set, restricts to entries with a fragment or a directory/link/special sub-entry on this storage
	Types       []model.EntryType
	NamePattern string

	Sort      model.SortKey
	Direction filter.Direction
	Limit     int
	Offset    int
}

func sortKeyName(k model.SortKey) string {
	switch k {
	case model.SortName:
		return "name"
	case model.SortSize:
		return "size"
	case model.SortCreated:
		return "created"
	case model.SortState:
		return "state"
	default:
		return ""
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

const storageColumns = `id, entity_id, uuid_id, host_name, user_name, name, created_at, size, state, mode,
	last_checked, error_message, deleted,
	file_count, file_size, image_count, image_size, directory_count, link_count, hardlink_count, hardlink_size, special_count, total_count, total_size,
	newest_file_count, newest_file_size, newest_image_count, newest_image_size, newest_directory_count, newest_link_count,
	newest_hardlink_count, newest_hardlink_size, newest_special_count, newest_total_count, newest_total_size`

func scanStorage(c *dbkit.Cursor) (model.Storage, error) {
	var s model.Storage
	var id, entityID, uuidID int64
	var createdAt, lastChecked int64
	var state, mode int
	var deleted int
	err := c.Scan(&id, &entityID, &uuidID, &s.HostName, &s.UserName, &s.Name, &createdAt, &s.Size, &state, &mode,
		&lastChecked, &s.ErrorMessage, &deleted,
		&s.All.FileCount, &s.All.FileSize, &s.All.ImageCount, &s.All.ImageSize, &s.All.DirectoryCount,
		&s.All.LinkCount, &s.All.HardlinkCount, &s.All.HardlinkSize, &s.All.SpecialCount, &s.All.TotalCount, &s.All.TotalSize,
		&s.Newest.FileCount, &s.Newest.FileSize, &s.Newest.ImageCount, &s.Newest.ImageSize, &s.Newest.DirectoryCount,
		&s.Newest.LinkCount, &s.Newest.HardlinkCount, &s.Newest.HardlinkSize, &s.Newest.SpecialCount, &s.Newest.TotalCount, &s.Newest.TotalSize,
	)
	if err != nil {
		return model.Storage{}, err
	}
	s.ID = idtag.New(idtag.KindStorage, id)
	s.EntityID = idtag.New(idtag.KindEntity, entityID)
	s.UUIDID = idtag.New(idtag.KindUUID, uuidID)
	s.CreatedAt = unixTime(createdAt)
	s.LastChecked = unixTime(lastChecked)
	s.State = model.StorageState(state)
	s.Mode = model.StorageMode(mode)
	s.Deleted = deleted != 0
	return s, nil
}

func shadowTable(kind fts.ObjectKind) string {
	if kind == fts.Storages {
		return schema.FTSStorages
	}
	return schema.FTSEntries
}

// fullTextJoin returns the extra FROM-clause fragment needed to bring
// kind's shadow table into scope for sqlite (FTS5 virtual table) and
// dolt (pre-tokenized shadow table), joined by row id against base.
// MySQL's FULLTEXT index lives on the base table itself, so it needs
// no join.
func (q *Query) fullTextJoin(kind fts.ObjectKind, base string) string {
	switch q.db.Dialect {
	case "sqlite":
		return " JOIN " + shadowTable(kind) + " ON " + shadowTable(kind) + ".rowid = " + base + ".id"
	case "dolt":
		return " JOIN " + shadowTable(kind) + " ON " + shadowTable(kind) + ".row_id = " + base + ".id"
	default:
		return ""
	}
}

// ListStorages implements spec.md §6's "list storages (with filters:
// uuid, entity, job, schedule, type-set, state-set, mode-set, host,
// user, name-pattern; sort; ordering; offset; limit)".
func (q *Query) ListStorages(ctx context.Context, f StorageFilter) ([]model.Storage, error) {
	b := filter.And()
	b.Add(!f.UUID.IsAny() && !f.UUID.IsNone(), "uuid_id = ?", f.UUID.Raw())
	b.Add(!f.Entity.IsAny() && !f.Entity.IsNone(), "entity_id = ?", f.Entity.Raw())
	b.Add(f.JobUUID != "", "entity_id IN (SELECT id FROM "+schema.Entities+" WHERE job_uuid = ?)", f.JobUUID)
	b.Add(f.ScheduleUUID != "", "entity_id IN (SELECT id FROM "+schema.Entities+" WHERE schedule_uuid = ?)", f.ScheduleUUID)
	b.Add(f.Host != "", "host_name = ?", f.Host)
	b.Add(f.User != "", "user_name = ?", f.User)
	b.Add(true, "deleted = 0")

	states := make([]any, len(f.States))
	for i, s := range f.States {
		states[i] = int(s)
	}
	b.AddIn("state", states)
	modes := make([]any, len(f.Modes))
	for i, m := range f.Modes {
		modes[i] = int(m)
	}
	b.AddIn("mode", modes)

	if f.NamePattern != "" {
		clause, matchArgs := q.fts.MatchClause(fts.Storages, "name", f.NamePattern)
		b.Add(true, clause, matchArgs...)
	}

	where, args := b.WhereClause()
	order := filter.Order(storageSortColumns, sortKeyName(f.Sort), f.Direction)
	page, pageArgs := filter.Page(f.Limit, f.Offset)
	args = append(args, pageArgs...)

	from := schema.Storages
	if f.NamePattern != "" {
		from += q.fullTextJoin(fts.Storages, schema.Storages)
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s %s %s %s", storageColumns, from, where, order, page)
	cur, err := q.db.Select(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: list storages: %w", err)
	}
	defer cur.Close()
	var out []model.Storage
	for cur.Next() {
		s, err := scanStorage(cur)
		if err != nil {
			return nil, fmt.Errorf("query: scan storage: %w", err)
		}
		out = append(out, s)
	}
	return out, cur.Err()
}

// FindStorageByID implements "find storage by id".
func (q *Query) FindStorageByID(ctx context.Context, id idtag.ID) (model.Storage, error) {
	return q.findStorage(ctx, "id = ?", id.Raw())
}

// FindStorageByName implements "find storage by name".
func (q *Query) FindStorageByName(ctx context.Context, name string) (model.Storage, error) {
	return q.findStorage(ctx, "name = ? AND deleted = 0", name)
}

func (q *Query) findStorage(ctx context.Context, whereClause string, args ...any) (model.Storage, error) {
	cur, err := q.db.Select(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", storageColumns, schema.Storages, whereClause), args...)
	if err != nil {
		return model.Storage{}, fmt.Errorf("query: find storage: %w", err)
	}
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return model.Storage{}, err
		}
		return model.Storage{}, dbkit.ErrNotFound
	}
	return scanStorage(cur)
}

// FindStoragesByState implements "find storage by state".
func (q *Query) FindStoragesByState(ctx context.Context, state model.StorageState) ([]model.Storage, error) {
	return q.ListStorages(ctx, StorageFilter{UUID: idtag.Any, Entity: idtag.Any, States: []model.StorageState{state}})
}

// GetStorageState implements "get state of a storage".
func (q *Query) GetStorageState(ctx context.Context, id idtag.ID) (model.StorageState, error) {
	var state int
	if err := q.db.QueryScalar(ctx, &state, "SELECT state FROM "+schema.Storages+" WHERE id = ?", id.Raw()); err != nil {
		return 0, err
	}
	return model.StorageState(state), nil
}

// FindDirectorySubEntry reads the rollup totals internal/aggregate's
// PropagateAncestry maintains on a directory entry's storage-specific
// row (spec.md §4.6, §8 scenario 6's directory-rollup property).
func (q *Query) FindDirectorySubEntry(ctx context.Context, entryID, storageID idtag.ID) (model.DirectorySubEntry, error) {
	var d model.DirectorySubEntry
	err := q.db.QueryScalars(ctx,
		"SELECT total_entry_count, total_entry_size FROM "+schema.DirectoryEntries+" WHERE entry_id = ? AND storage_id = ?",
		[]any{entryID.Raw(), storageID.Raw()}, &d.TotalEntryCount, &d.TotalEntrySize)
	if err != nil {
		return model.DirectorySubEntry{}, err
	}
	d.EntryID = entryID
	d.StorageID = storageID
	return d, nil
}

// FindNewestByName reads the internal/newest projection row for name
// (spec.md §4.8): the live entry with the greatest time_last_changed
// across all non-deleted storages sharing that name.
func (q *Query) FindNewestByName(ctx context.Context, name string) (model.NewestEntry, error) {
	cur, err := q.db.Select(ctx, `SELECT name, entry_id, uuid_id, entity_id, type,
			file_user, file_group, permission, size, time_last_changed
		FROM `+schema.EntriesNewest+` WHERE name = ? LIMIT 1`, name)
	if err != nil {
		return model.NewestEntry{}, fmt.Errorf("query: find newest: %w", err)
	}
	defer cur.Close()
	if !cur.Next() {
		if err := cur.Err(); err != nil {
			return model.NewestEntry{}, err
		}
		return model.NewestEntry{}, dbkit.ErrNotFound
	}
	var n model.NewestEntry
	var entryID, uuidID, entityID int64
	var entryType int
	var permission int64
	var timeLastChanged int64
	if err := cur.Scan(&n.Name, &entryID, &uuidID, &entityID, &entryType,
		&n.Stat.User, &n.Stat.Group, &permission, &n.Size, &timeLastChanged); err != nil {
		return model.NewestEntry{}, fmt.Errorf("query: scan newest: %w", err)
	}
	n.EntryID = idtag.New(idKindOf(model.EntryType(entryType)), entryID)
	n.UUIDID = idtag.New(idtag.KindUUID, uuidID)
	n.EntityID = idtag.New(idtag.KindEntity, entityID)
	n.Type = model.EntryType(entryType)
	n.Stat.Permission = uint32(permission)
	n.TimeLastChanged = unixTime(timeLastChanged)
	return n, nil
}

const entryColumns = `id, uuid_id, entity_id, type, name, time_last_access, time_modified, time_last_changed,
	file_user, file_group, permission, size, deleted`

func scanEntry(c *dbkit.Cursor) (model.Entry, error) {
	var e model.Entry
	var id, uuidID, entityID int64
	var entryType int
	var timeLastAccess, timeModified, timeLastChanged int64
	var permission int64
	var deleted int
	err := c.Scan(&id, &uuidID, &entityID, &entryType, &e.Name, &timeLastAccess, &timeModified, &timeLastChanged,
		&e.Stat.User, &e.Stat.Group, &permission, &e.Size, &deleted)
	if err != nil {
		return model.Entry{}, err
	}
	e.Type = model.EntryType(entryType)
	e.ID = idtag.New(idKindOf(e.Type), id)
	e.UUIDID = idtag.New(idtag.KindUUID, uuidID)
	e.EntityID = idtag.New(idtag.KindEntity, entityID)
	e.Stat.TimeLastAccess = unixTime(timeLastAccess)
	e.Stat.TimeModified = unixTime(timeModified)
	e.Stat.TimeLastChanged = unixTime(timeLastChanged)
	e.Stat.Permission = uint32(permission)
	e.Deleted = deleted != 0
	return e, nil
}

func idKindOf(t model.EntryType) idtag.Kind {
	switch t {
	case model.EntryTypeFile:
		return idtag.KindFile
	case model.EntryTypeImage:
		return idtag.KindImage
	case model.EntryTypeDirectory:
		return idtag.KindDirectory
	case model.EntryTypeLink:
		return idtag.KindLink
	case model.EntryTypeHardlink:
		return idtag.KindHardlink
	case model.EntryTypeSpecial:
		return idtag.KindSpecial
	default:
		return idtag.KindNone
	}
}

// ListEntries implements spec.md §6's "list entries", the analogous
// filter set to ListStorages. The entries table is never aliased so
// the mysql full-text shim (which references the base table by its
// real name) composes with the storage-fragment join without
// ambiguity.
func (q *Query) ListEntries(ctx context.Context, f EntryFilter) ([]model.Entry, error) {
	b := filter.And()
	b.Add(!f.Entity.IsAny() && !f.Entity.IsNone(), "entries.entity_id = ?", f.Entity.Raw())
	b.Add(true, "entries.deleted = 0")
	types := make([]any, len(f.Types))
	for i, t := range f.Types {
		types[i] = int(t)
	}
	b.AddIn("entries.type", types)
	if !f.Storage.IsAny() && !f.Storage.IsNone() {
		// An entry is "on" a storage either through a fragment
		// (file/image/hardlink) or through its sub-entry's own
		// storage_id column (directory/link/special) — spec.md §3.1.
		b.Add(true, `entries.id IN (
			SELECT entry_id FROM `+schema.EntryFragments+` WHERE storage_id = ?
			UNION SELECT entry_id FROM `+schema.DirectoryEntries+` WHERE storage_id = ?
			UNION SELECT entry_id FROM `+schema.LinkEntries+` WHERE storage_id = ?
			UNION SELECT entry_id FROM `+schema.SpecialEntries+` WHERE storage_id = ?
		)`, f.Storage.Raw(), f.Storage.Raw(), f.Storage.Raw(), f.Storage.Raw())
	}
	if f.NamePattern != "" {
		clause, matchArgs := q.fts.MatchClause(fts.Entries, "name", f.NamePattern)
		b.Add(true, clause, matchArgs...)
	}

	from := schema.Entries
	if f.NamePattern != "" {
		from += q.fullTextJoin(fts.Entries, schema.Entries)
	}

	where, args := b.WhereClause()

	order := filter.Order(entrySortColumns, sortKeyName(f.Sort), f.Direction)
	page, pageArgs := filter.Page(f.Limit, f.Offset)
	args = append(args, pageArgs...)

	stmt := fmt.Sprintf("SELECT DISTINCT %s FROM %s %s %s %s", entryColumns, from, where, order, page)
	cur, err := q.db.Select(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: list entries: %w", err)
	}
	defer cur.Close()
	var out []model.Entry
	for cur.Next() {
		e, err := scanEntry(cur)
		if err != nil {
			return nil, fmt.Errorf("query: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

// ListEntriesByType implements "list per-kind entries (files/images/
// directories/links/hardlinks/specials)".
func (q *Query) ListEntriesByType(ctx context.Context, storageID idtag.ID, t model.EntryType) ([]model.Entry, error) {
	return q.ListEntries(ctx, EntryFilter{Storage: storageID, Types: []model.EntryType{t}})
}

// ListFragments implements "list entry fragments for an entry".
func (q *Query) ListFragments(ctx context.Context, entryID idtag.ID) ([]model.Fragment, error) {
	cur, err := q.db.Select(ctx,
		"SELECT entry_id, storage_id, offset_bytes, size FROM "+schema.EntryFragments+" WHERE entry_id = ? ORDER BY offset_bytes",
		entryID.Raw())
	if err != nil {
		return nil, fmt.Errorf("query: list fragments: %w", err)
	}
	defer cur.Close()
	var out []model.Fragment
	for cur.Next() {
		var f model.Fragment
		var eID, sID int64
		if err := cur.Scan(&eID, &sID, &f.Offset, &f.Size); err != nil {
			return nil, err
		}
		f.EntryID = idtag.New(entryID.Kind(), eID)
		f.StorageID = idtag.New(idtag.KindStorage, sID)
		out = append(out, f)
	}
	return out, cur.Err()
}

// CountEntries implements the count case of "count/sum-aggregates
// across any filter".
func (q *Query) CountEntries(ctx context.Context, f EntryFilter) (int64, error) {
	entries, err := q.ListEntries(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

// SumStorageAggregates implements the sum case for storages: it
// accumulates the cached per-storage counters rather than re-summing
// raw rows, matching spec.md §4.6's "aggregates are cached, not
// computed per read".
func (q *Query) SumStorageAggregates(ctx context.Context, f StorageFilter) (all, newest model.Aggregates, err error) {
	storages, err := q.ListStorages(ctx, f)
	if err != nil {
		return model.Aggregates{}, model.Aggregates{}, err
	}
	for _, s := range storages {
		all.Add(s.All)
		newest.Add(s.Newest)
	}
	return all, newest, nil
}
