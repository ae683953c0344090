// Package bxindex wires internal/backend, internal/dbkit,
// internal/concgate, internal/txrun, internal/aggregate,
// internal/entrywriter, internal/newest, internal/purge,
// internal/startupcleanup, and internal/query into the single
// top-level handle spec.md §6 calls "the index": one open connection
// to one backend, the public read/write operation set, and the
// dedicated maintenance goroutine of spec.md §5.
//
// Grounded on the teacher's cmd/bd/main.go wiring of a storage plus a
// signal-aware root context plus a background daemon loop behind one
// process — generalized from "open one sqlite/dolt store and run bd's
// background flush goroutine" to "open one backend and run bxindex's
// periodic prune cycle".
package bxindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/duskvault/bxindex/internal/aggregate"
	"github.com/duskvault/bxindex/internal/backend"
	"github.com/duskvault/bxindex/internal/bxconfig"
	"github.com/duskvault/bxindex/internal/concgate"
	"github.com/duskvault/bxindex/internal/dbkit"
	"github.com/duskvault/bxindex/internal/entrywriter"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/newest"
	"github.com/duskvault/bxindex/internal/purge"
	"github.com/duskvault/bxindex/internal/query"
	"github.com/duskvault/bxindex/internal/schema"
	"github.com/duskvault/bxindex/internal/startupcleanup"
	"github.com/duskvault/bxindex/internal/txrun"
)

// Index is the process-wide handle a caller opens once per backend.
type Index struct {
	db     *dbkit.DB
	closer func()
	log    *slog.Logger
	cfg    *bxconfig.Config

	gate    *concgate.Gate
	aggs    *aggregate.Maintainer
	writer  *entrywriter.Writer
	newestP *newest.Projector
	purger  *purge.Purger
	cleaner *startupcleanup.Cleaner
	q       *query.Query

	meterProvider *sdkmetric.MeterProvider

	maintCancel context.CancelFunc
	maintDone   chan struct{}
	closeOnce   sync.Once
}

// Open constructs every layer for one backend and applies the schema
// DDL (spec.md §1 Non-goals excludes migration/versioning, not "has a
// schema to begin with" — see SPEC_FULL.md §6).
func Open(ctx context.Context, cfg *bxconfig.Config, backendOpts backend.Options, log *slog.Logger) (*Index, error) {
	db, closer, err := backend.Open(ctx, backendOpts)
	if err != nil {
		return nil, fmt.Errorf("bxindex: open backend: %w", err)
	}
	return OpenWithDB(ctx, cfg, db, closer, log)
}

// OpenWithDB builds an Index around an already-open db, applying the
// same schema-DDL-then-wiring sequence as Open. closer releases
// whatever backend.Open-level resource (a Dolt lock, an embedded
// server handle) db depends on; Close calls it alongside db.Close.
//
// Exported so internal/dbkit/dbkittest's cross-backend harness can run
// spec.md §8's scenarios against every registered engine without going
// through backend.Options, the same split the teacher draws between
// constructing a store from a DSN and constructing one from a
// caller-supplied *sql.DB.
func OpenWithDB(ctx context.Context, cfg *bxconfig.Config, db *dbkit.DB, closer func(), log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	if closer == nil {
		closer = func() {}
	}

	for _, stmt := range schema.Statements(schema.Dialect(db.Dialect)) {
		if _, err := db.Exec(ctx, stmt.SQL); err != nil {
			closer()
			_ = db.Close()
			return nil, fmt.Errorf("bxindex: apply schema %s: %w", stmt.Name, err)
		}
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		closer()
		_ = db.Close()
		return nil, fmt.Errorf("bxindex: stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.CleanupInterval))),
	)
	meter := mp.Meter("github.com/duskvault/bxindex")

	aggs, err := aggregate.New(db, meter)
	if err != nil {
		closer()
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		db:      db,
		closer:  closer,
		log:     log.With("component", "bxindex"),
		cfg:     cfg,
		gate:    concgate.NewGateWithMeter(meter),
		aggs:    aggs,
		writer:  entrywriter.New(db, aggs),
		newestP: newest.New(db.Dialect),
		purger:  purge.New(db, aggs, cfg.SleepTimePurge),
		q:       query.New(db),

		meterProvider: mp,
		maintDone:     make(chan struct{}),
	}
	idx.cleaner = startupcleanup.New(db, idx.purger, log)

	if cfg.InitialCleanup {
		if err := idx.cleaner.Run(ctx); err != nil {
			idx.log.Error("startup clean-up reported errors", "error", err)
		}
	}

	maintCtx, cancel := context.WithCancel(context.Background())
	idx.maintCancel = cancel
	go idx.maintain(maintCtx)

	return idx, nil
}

// Close stops the maintenance goroutine and releases the backend
// connection. Safe to call more than once.
func (idx *Index) Close() error {
	var err error
	idx.closeOnce.Do(func() {
		idx.gate.Shutdown()
		idx.maintCancel()
		<-idx.maintDone
		idx.closer()
		err = idx.db.Close()
	})
	return err
}

// maintain runs spec.md §5's single dedicated maintenance thread: a
// periodic prune sweep every cfg.CleanupInterval, woken early by
// nothing (pruning is opportunistic, not latency-critical) but always
// interruptable at a transaction boundary via internal/txrun, and
// yielding entirely to any non-maintenance caller via internal/concgate
// before each sweep starts.
func (idx *Index) maintain(ctx context.Context) {
	defer close(idx.maintDone)
	ticker := time.NewTicker(idx.cfg.CleanupInterval)
	defer ticker.Stop()

	tok := concgate.New()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if idx.gate.Quitting() {
			return
		}
		if err := idx.gate.WaitNotInUse(ctx, tok, idx.cfg.SleepTimePurge); err != nil {
			continue
		}
		idx.gate.Enter(tok)
		if err := idx.runPruneSweep(ctx); err != nil {
			idx.log.Error("maintenance sweep failed", "error", err)
		}
		idx.gate.Leave(tok)
	}
}

// pruneSweepConcurrency bounds how many storages runPruneSweep prunes
// at once; each PruneStorage call is independent (keyed on its own
// storage row) so the sweep doesn't need to serialize them, but an
// unbounded fan-out would open one dbkit query per ok-state storage at
// the same instant.
const pruneSweepConcurrency = 4

// runPruneSweep implements spec.md §4.10's "called ... by a periodic
// maintenance loop": every storage in the ok state gets a PruneStorage
// attempt, which is a no-op unless that storage has gone empty.
func (idx *Index) runPruneSweep(ctx context.Context) error {
	storages, err := idx.q.FindStoragesByState(ctx, model.StorageStateOK)
	if err != nil {
		return fmt.Errorf("bxindex: list ok storages: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pruneSweepConcurrency)
	for _, s := range storages {
		g.Go(func() error {
			if err := idx.purger.PruneStorage(gctx, s.ID); err != nil {
				return fmt.Errorf("bxindex: prune storage %s: %w", s.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (idx *Index) enter(ctx context.Context) concgate.Token {
	tok := concgate.TokenFromContext(ctx)
	idx.gate.EnterNonMaintenance(tok)
	return tok
}

func (idx *Index) leave(tok concgate.Token) {
	idx.gate.Leave(tok)
}

// NewStorageInput bundles the parameters spec.md §6's "new storage"
// operation lists: the owning job's identifiers, the entity's
// execution metadata, and the storage's own initial attributes.
type NewStorageInput struct {
	JobUUID      string
	ScheduleUUID string
	HostName     string
	UserName     string
	ArchiveType  model.ArchiveType
	EntityCreatedAt time.Time

	Name          string
	CreatedAt     time.Time
	InitialState  model.StorageState
	InitialMode   model.StorageMode
}

// NewStorage implements spec.md §6's "new storage": get-or-insert the
// UUID row for JobUUID, get-or-insert the Entity row for
// (uuid, jobUUID, scheduleUUID), then insert a fresh Storage row under
// that entity, returning its handle.
func (idx *Index) NewStorage(ctx context.Context, in NewStorageInput) (idtag.ID, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)

	uuidID, err := idx.getOrInsertUUID(ctx, in.JobUUID)
	if err != nil {
		return idtag.None, err
	}
	entityID, err := idx.getOrInsertEntity(ctx, uuidID, in)
	if err != nil {
		return idtag.None, err
	}

	res, err := idx.db.Exec(ctx,
		`INSERT INTO `+schema.Storages+`
			(entity_id, uuid_id, host_name, user_name, name, created_at, size, state, mode, last_checked, error_message, deleted)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, 0, '', 0)`,
		entityID.Raw(), uuidID.Raw(), in.HostName, in.UserName, in.Name, in.CreatedAt.Unix(),
		int(in.InitialState), int(in.InitialMode))
	if err != nil {
		return idtag.None, fmt.Errorf("bxindex: insert storage: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return idtag.None, fmt.Errorf("bxindex: storage insert id: %w", err)
	}
	return idtag.New(idtag.KindStorage, newID), nil
}

func (idx *Index) getOrInsertUUID(ctx context.Context, jobUUID string) (idtag.ID, error) {
	id, err := idx.db.FindID(ctx, schema.Uuids, "job_uuid = ?", jobUUID)
	if err == nil {
		return idtag.New(idtag.KindUUID, id), nil
	}
	if !dbkit.IsNotFound(err) {
		return idtag.None, err
	}
	res, err := idx.db.Exec(ctx, "INSERT INTO "+schema.Uuids+" (job_uuid, deleted) VALUES (?, 0)", jobUUID)
	if err != nil {
		return idtag.None, fmt.Errorf("bxindex: insert uuid: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return idtag.None, err
	}
	return idtag.New(idtag.KindUUID, newID), nil
}

func (idx *Index) getOrInsertEntity(ctx context.Context, uuidID idtag.ID, in NewStorageInput) (idtag.ID, error) {
	id, err := idx.db.FindID(ctx, schema.Entities,
		"uuid_id = ? AND job_uuid = ? AND schedule_uuid = ? AND deleted = 0",
		uuidID.Raw(), in.JobUUID, in.ScheduleUUID)
	if err == nil {
		return idtag.New(idtag.KindEntity, id), nil
	}
	if !dbkit.IsNotFound(err) {
		return idtag.None, err
	}
	res, err := idx.db.Exec(ctx,
		`INSERT INTO `+schema.Entities+`
			(uuid_id, job_uuid, schedule_uuid, host_name, user_name, archive_type, created_at, locked_count, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		uuidID.Raw(), in.JobUUID, in.ScheduleUUID, in.HostName, in.UserName, int(in.ArchiveType), in.EntityCreatedAt.Unix())
	if err != nil {
		return idtag.None, fmt.Errorf("bxindex: insert entity: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return idtag.None, err
	}
	return idtag.New(idtag.KindEntity, newID), nil
}

// StorageUpdate carries spec.md §6's "update storage (any subset of:
// host, user, name, created, size, comment, update-newest)". A nil
// pointer field leaves that column untouched.
type StorageUpdate struct {
	HostName     *string
	UserName     *string
	Name         *string
	CreatedAt    *time.Time
	Size         *int64
	ErrorMessage *string
	UpdateNewest bool
}

// UpdateStorage applies upd's set fields to storageID and, if
// UpdateNewest is set, runs internal/newest's Add pass for it inside
// the same interruptable run.
func (idx *Index) UpdateStorage(ctx context.Context, storageID idtag.ID, upd StorageUpdate) error {
	tok := idx.enter(ctx)
	defer idx.leave(tok)

	run, err := txrun.Begin(ctx, idx.db, dbkit.IsolationDefault)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			run.End(err)
		}
	}()

	set, args := buildStorageUpdateSet(upd)
	if len(set) > 0 {
		args = append(args, storageID.Raw())
		if _, err = run.Tx().Exec(ctx, "UPDATE "+schema.Storages+" SET "+joinSetClauses(set)+" WHERE id = ?", args...); err != nil {
			err = fmt.Errorf("bxindex: update storage: %w", err)
			return err
		}
	}

	if upd.UpdateNewest {
		if err = idx.newestP.Add(ctx, run, storageID, idx.cfg.SleepTimePurge); err != nil {
			return err
		}
	}

	if err = run.End(nil); err != nil {
		return err
	}
	committed = true
	return nil
}

func buildStorageUpdateSet(upd StorageUpdate) ([]string, []any) {
	var set []string
	var args []any
	if upd.HostName != nil {
		set = append(set, "host_name = ?")
		args = append(args, *upd.HostName)
	}
	if upd.UserName != nil {
		set = append(set, "user_name = ?")
		args = append(args, *upd.UserName)
	}
	if upd.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.CreatedAt != nil {
		set = append(set, "created_at = ?")
		args = append(args, upd.CreatedAt.Unix())
	}
	if upd.Size != nil {
		set = append(set, "size = ?")
		args = append(args, *upd.Size)
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	return set, args
}

func joinSetClauses(set []string) string {
	out := set[0]
	for _, s := range set[1:] {
		out += ", " + s
	}
	return out
}

// AddEntry implements spec.md §6's "add file/image/directory/link/
// hardlink/special entry", a thin pass-through to internal/entrywriter
// behind the concurrency gate.
func (idx *Index) AddEntry(ctx context.Context, in entrywriter.Input) (idtag.ID, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.writer.Write(ctx, in)
}

// AddSkippedEntry implements spec.md §6's "add skipped entry (type +
// name, no sub-row)".
func (idx *Index) AddSkippedEntry(ctx context.Context, entityID idtag.ID, t model.EntryType, name string) error {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	_, err := idx.db.Exec(ctx,
		"INSERT INTO "+schema.SkippedEntries+" (entity_id, type, name) VALUES (?, ?, ?)",
		entityID.Raw(), int(t), name)
	if err != nil {
		return fmt.Errorf("bxindex: add skipped entry: %w", err)
	}
	return nil
}

// ClearStorage implements spec.md §6's "clear storage".
func (idx *Index) ClearStorage(ctx context.Context, storageID idtag.ID) error {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.purger.ClearStorage(ctx, storageID)
}

// PurgeStorage implements spec.md §6's "purge storage".
func (idx *Index) PurgeStorage(ctx context.Context, storageID idtag.ID) error {
	if !idx.cfg.SupportDelete {
		return fmt.Errorf("bxindex: purge storage: physical purge disabled (INDEX_SUPPORT_DELETE=false)")
	}
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.purger.PurgeStorage(ctx, storageID)
}

// PurgeAllByID implements spec.md §6's "purge-all by id": purge every
// live storage under uuidID except keepID, then prune the UUID.
func (idx *Index) PurgeAllByID(ctx context.Context, uuidID, keepID idtag.ID) error {
	if !idx.cfg.SupportDelete {
		return fmt.Errorf("bxindex: purge all by id: physical purge disabled (INDEX_SUPPORT_DELETE=false)")
	}
	tok := idx.enter(ctx)
	defer idx.leave(tok)

	rows, err := idx.db.Select(ctx,
		"SELECT s.id FROM "+schema.Storages+" s JOIN "+schema.Entities+" e ON e.id = s.entity_id WHERE e.uuid_id = ? AND s.deleted = 0 AND s.id != ?",
		uuidID.Raw(), keepID.Raw())
	if err != nil {
		return fmt.Errorf("bxindex: list uuid storages: %w", err)
	}
	var targets []idtag.ID
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return err
		}
		targets = append(targets, idtag.New(idtag.KindStorage, sid))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, sid := range targets {
		if err := idx.purger.PurgeStorage(ctx, sid); err != nil {
			return err
		}
	}
	return idx.purger.PruneUUID(ctx, uuidID)
}

// PurgeAllByName implements spec.md §6's "purge-all by name".
func (idx *Index) PurgeAllByName(ctx context.Context, specifier, archiveName string, keepID idtag.ID) error {
	if !idx.cfg.SupportDelete {
		return fmt.Errorf("bxindex: purge all by name: physical purge disabled (INDEX_SUPPORT_DELETE=false)")
	}
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.purger.PurgeAllByName(ctx, specifier, archiveName, keepID)
}

// SetStorageState implements spec.md §6's "set storage state (state,
// lastCheckedDateTime, optional formatted error)" — the sole user-
// visible failure surface per spec.md §7.
func (idx *Index) SetStorageState(ctx context.Context, storageID idtag.ID, state model.StorageState, lastChecked time.Time, errorMessage string) error {
	if !state.Valid() {
		return fmt.Errorf("bxindex: set storage state: invalid state %d", state)
	}
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	_, err := idx.db.Exec(ctx,
		"UPDATE "+schema.Storages+" SET state = ?, last_checked = ?, error_message = ? WHERE id = ?",
		int(state), lastChecked.Unix(), errorMessage, storageID.Raw())
	if err != nil {
		return fmt.Errorf("bxindex: set storage state: %w", err)
	}
	return nil
}

// GetStorageState implements spec.md §6's "get state of a storage".
func (idx *Index) GetStorageState(ctx context.Context, storageID idtag.ID) (model.StorageState, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.GetStorageState(ctx, storageID)
}

// FindStorageByID implements spec.md §6's "find storage by id".
func (idx *Index) FindStorageByID(ctx context.Context, id idtag.ID) (model.Storage, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.FindStorageByID(ctx, id)
}

// FindStorageByName implements spec.md §6's "find storage by name".
func (idx *Index) FindStorageByName(ctx context.Context, name string) (model.Storage, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.FindStorageByName(ctx, name)
}

// FindStoragesByState implements spec.md §6's "find storage by state".
func (idx *Index) FindStoragesByState(ctx context.Context, state model.StorageState) ([]model.Storage, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.FindStoragesByState(ctx, state)
}

// ListStorages implements spec.md §6's "list storages".
func (idx *Index) ListStorages(ctx context.Context, f query.StorageFilter) ([]model.Storage, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.ListStorages(ctx, f)
}

// ListEntries implements spec.md §6's "list entries".
func (idx *Index) ListEntries(ctx context.Context, f query.EntryFilter) ([]model.Entry, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.ListEntries(ctx, f)
}

// ListEntriesByType implements spec.md §6's "list per-kind entries".
func (idx *Index) ListEntriesByType(ctx context.Context, storageID idtag.ID, t model.EntryType) ([]model.Entry, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.ListEntriesByType(ctx, storageID, t)
}

// ListFragments implements spec.md §6's "list entry fragments for an entry".
func (idx *Index) ListFragments(ctx context.Context, entryID idtag.ID) ([]model.Fragment, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.ListFragments(ctx, entryID)
}

// CountEntries implements the "count" half of spec.md §6's
// "count/sum-aggregates across any filter".
func (idx *Index) CountEntries(ctx context.Context, f query.EntryFilter) (int64, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.CountEntries(ctx, f)
}

// SumStorageAggregates implements the "sum" half of spec.md §6's
// "count/sum-aggregates across any filter".
func (idx *Index) SumStorageAggregates(ctx context.Context, f query.StorageFilter) (all, newest model.Aggregates, err error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.SumStorageAggregates(ctx, f)
}

// FindDirectorySubEntry reads a directory entry's per-storage rollup
// totals (spec.md §4.6, §8 scenario 6).
func (idx *Index) FindDirectorySubEntry(ctx context.Context, entryID, storageID idtag.ID) (model.DirectorySubEntry, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.FindDirectorySubEntry(ctx, entryID, storageID)
}

// FindNewestByName reads spec.md §4.8's newest-entry projection for
// name: the live entry with the greatest last-changed time across all
// non-deleted storages sharing that name.
func (idx *Index) FindNewestByName(ctx context.Context, name string) (model.NewestEntry, error) {
	tok := idx.enter(ctx)
	defer idx.leave(tok)
	return idx.q.FindNewestByName(ctx, name)
}
