package bxindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/duskvault/bxindex/internal/bxconfig"
	"github.com/duskvault/bxindex/internal/bxindex"
	"github.com/duskvault/bxindex/internal/dbkit/dbkittest"
	"github.com/duskvault/bxindex/internal/entrywriter"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/query"
)

// scenarioConfig matches openTestIndex's defaults; scenario tests never
// exercise the maintenance goroutine so CleanupInterval only needs to
// outlast the test.
func scenarioConfig() *bxconfig.Config {
	return &bxconfig.Config{
		InitialCleanup:  true,
		SupportDelete:   true,
		SleepTimePurge:  10 * time.Millisecond,
		SingleStepLimit: 4096,
		CleanupInterval: time.Hour,
		Backends:        map[string]bxconfig.BackendDSN{},
	}
}

// forEachBackend runs fn once per registered internal/dbkit/dbkittest
// backend, opening a fresh Index through bxindex.OpenWithDB so spec.md
// §8's scenarios hold across every engine, not just sqlite.
func forEachBackend(t *testing.T, fn func(t *testing.T, idx *bxindex.Index)) {
	t.Helper()
	backends := dbkittest.All()
	if len(backends) == 0 {
		t.Fatal("dbkittest: no backends registered")
	}
	for _, b := range backends {
		b := b
		t.Run(b.Name, func(t *testing.T) {
			db := b.Open(t)
			idx, err := bxindex.OpenWithDB(context.Background(), scenarioConfig(), db, nil, nil)
			if err != nil {
				t.Fatalf("OpenWithDB(%s): %v", b.Name, err)
			}
			t.Cleanup(func() {
				if err := idx.Close(); err != nil {
					t.Errorf("Close(%s): %v", b.Name, err)
				}
			})
			fn(t, idx)
		})
	}
}

// newScenarioStorage opens a fresh storage under its own job/schedule,
// returning both the storage id and its row so callers can add entries
// without repeating the NewStorage/FindStorageByID dance.
func newScenarioStorage(t *testing.T, idx *bxindex.Index, jobUUID, scheduleUUID, name string) (storageID idtag.ID, storage model.Storage) {
	t.Helper()
	ctx := context.Background()
	id, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      jobUUID,
		ScheduleUUID: scheduleUUID,
		Name:         name,
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	})
	if err != nil {
		t.Fatalf("NewStorage(%s): %v", name, err)
	}
	s, err := idx.FindStorageByID(ctx, id)
	if err != nil {
		t.Fatalf("FindStorageByID(%s): %v", name, err)
	}
	return id, s
}

// TestScenarioTwoFragmentFile is spec.md §8 scenario 1: a file split
// across two storages is one entry row with two fragment rows, and
// each storage's own aggregate reflects only the bytes it carries.
func TestScenarioTwoFragmentFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		s1, storage1 := newScenarioStorage(t, idx, "job-scn1", "sched-scn1", "s1.bar")
		s2, storage2 := newScenarioStorage(t, idx, "job-scn1", "sched-scn1", "s2.bar")
		if !storage1.EntityID.Equal(storage2.EntityID) {
			t.Fatalf("expected S1/S2 to share an entity under one job+schedule")
		}
		entityID := storage1.EntityID

		in := entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: entityID, Type: model.EntryTypeFile, Name: "/big.dat", Size: 1000,
		}
		in.Storage, in.FragmentOffset, in.FragmentSize = s1, 0, 600
		entryID, err := idx.AddEntry(ctx, in)
		if err != nil {
			t.Fatalf("AddEntry s1: %v", err)
		}
		in.Storage, in.FragmentOffset, in.FragmentSize = s2, 600, 400
		entryID2, err := idx.AddEntry(ctx, in)
		if err != nil {
			t.Fatalf("AddEntry s2: %v", err)
		}
		if !entryID.Equal(entryID2) {
			t.Fatalf("expected one entry row, got %v and %v", entryID, entryID2)
		}

		fragments, err := idx.ListFragments(ctx, entryID)
		if err != nil {
			t.Fatalf("ListFragments: %v", err)
		}
		if len(fragments) != 2 {
			t.Fatalf("len(fragments) = %d, want 2", len(fragments))
		}

		entCount, err := idx.CountEntries(ctx, query.EntryFilter{Entity: entityID})
		if err != nil {
			t.Fatalf("CountEntries: %v", err)
		}
		if entCount != 1 {
			t.Fatalf("entry count = %d, want 1", entCount)
		}

		allE, _, err := idx.SumStorageAggregates(ctx, query.StorageFilter{Entity: entityID})
		if err != nil {
			t.Fatalf("SumStorageAggregates(entity): %v", err)
		}
		if allE.FileSize != 1000 || allE.FileCount != 1 {
			t.Fatalf("entity aggregates = %+v, want FileSize=1000 FileCount=1", allE)
		}

		got1, err := idx.FindStorageByID(ctx, s1)
		if err != nil {
			t.Fatalf("FindStorageByID s1: %v", err)
		}
		if got1.All.FileSize != 600 {
			t.Fatalf("S1.All.FileSize = %d, want 600", got1.All.FileSize)
		}
		got2, err := idx.FindStorageByID(ctx, s2)
		if err != nil {
			t.Fatalf("FindStorageByID s2: %v", err)
		}
		if got2.All.FileSize != 400 {
			t.Fatalf("S2.All.FileSize = %d, want 400", got2.All.FileSize)
		}
	})
}

// TestScenarioClearReclaimsHalf is spec.md §8 scenario 2: clearing one
// of the two storages from scenario 1 leaves the entry alive with only
// the surviving fragment, and the cleared storage's own aggregates
// zero out while the entity's total shrinks by exactly what S1 carried.
func TestScenarioClearReclaimsHalf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		s1, storage1 := newScenarioStorage(t, idx, "job-scn2", "sched-scn2", "s1.bar")
		s2, _ := newScenarioStorage(t, idx, "job-scn2", "sched-scn2", "s2.bar")
		entityID := storage1.EntityID

		in := entrywriter.Input{UUIDID: storage1.UUIDID, EntityID: entityID, Type: model.EntryTypeFile, Name: "/big.dat", Size: 1000}
		in.Storage, in.FragmentOffset, in.FragmentSize = s1, 0, 600
		entryID, err := idx.AddEntry(ctx, in)
		if err != nil {
			t.Fatalf("AddEntry s1: %v", err)
		}
		in.Storage, in.FragmentOffset, in.FragmentSize = s2, 600, 400
		if _, err := idx.AddEntry(ctx, in); err != nil {
			t.Fatalf("AddEntry s2: %v", err)
		}

		if err := idx.ClearStorage(ctx, s1); err != nil {
			t.Fatalf("ClearStorage(s1): %v", err)
		}

		entCount, err := idx.CountEntries(ctx, query.EntryFilter{Entity: entityID})
		if err != nil {
			t.Fatalf("CountEntries: %v", err)
		}
		if entCount != 1 {
			t.Fatalf("entry count after clear = %d, want 1 (F still exists)", entCount)
		}

		fragments, err := idx.ListFragments(ctx, entryID)
		if err != nil {
			t.Fatalf("ListFragments: %v", err)
		}
		if len(fragments) != 1 || fragments[0].Offset != 600 || fragments[0].Size != 400 {
			t.Fatalf("fragments after clear = %+v, want one (600,400)", fragments)
		}

		allE, _, err := idx.SumStorageAggregates(ctx, query.StorageFilter{Entity: entityID})
		if err != nil {
			t.Fatalf("SumStorageAggregates(entity): %v", err)
		}
		if allE.FileSize != 400 {
			t.Fatalf("entity FileSize after clear = %d, want 400", allE.FileSize)
		}

		got1, err := idx.FindStorageByID(ctx, s1)
		if err != nil {
			t.Fatalf("FindStorageByID s1: %v", err)
		}
		if got1.All.FileSize != 0 || got1.All.TotalCount != 0 {
			t.Fatalf("S1 aggregates after clear = %+v, want zero", got1.All)
		}
	})
}

// TestScenarioNewestAcrossStorages is spec.md §8 scenario 3: the newest
// projection for a name follows whichever live entry has the greatest
// last-changed time, and re-derives the next-best entry once the
// storage that owned the current winner is cleared.
func TestScenarioNewestAcrossStorages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		s1, storage1 := newScenarioStorage(t, idx, "job-scn3a", "sched-scn3a", "s1.bar")
		s2, storage2 := newScenarioStorage(t, idx, "job-scn3b", "sched-scn3b", "s2.bar")

		older := time.Unix(100, 0)
		newer := time.Unix(200, 0)

		in1 := entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: storage1.EntityID, Storage: s1,
			Type: model.EntryTypeFile, Name: "/a", Size: 10,
			Stat:           model.FileStat{TimeLastChanged: older, TimeModified: older, TimeLastAccess: older},
			FragmentOffset: 0, FragmentSize: 10,
		}
		if _, err := idx.AddEntry(ctx, in1); err != nil {
			t.Fatalf("AddEntry to s1: %v", err)
		}
		if err := idx.UpdateStorage(ctx, s1, bxindex.StorageUpdate{UpdateNewest: true}); err != nil {
			t.Fatalf("UpdateStorage(s1, newest): %v", err)
		}

		in2 := entrywriter.Input{
			UUIDID: storage2.UUIDID, EntityID: storage2.EntityID, Storage: s2,
			Type: model.EntryTypeFile, Name: "/a", Size: 20,
			Stat:           model.FileStat{TimeLastChanged: newer, TimeModified: newer, TimeLastAccess: newer},
			FragmentOffset: 0, FragmentSize: 20,
		}
		entryID2, err := idx.AddEntry(ctx, in2)
		if err != nil {
			t.Fatalf("AddEntry to s2: %v", err)
		}
		if err := idx.UpdateStorage(ctx, s2, bxindex.StorageUpdate{UpdateNewest: true}); err != nil {
			t.Fatalf("UpdateStorage(s2, newest): %v", err)
		}

		newest, err := idx.FindNewestByName(ctx, "/a")
		if err != nil {
			t.Fatalf("FindNewestByName: %v", err)
		}
		if !newest.EntryID.Equal(entryID2) {
			t.Fatalf("newest[/a] = %v, want S2's entry %v", newest.EntryID, entryID2)
		}

		if err := idx.ClearStorage(ctx, s2); err != nil {
			t.Fatalf("ClearStorage(s2): %v", err)
		}

		newest, err = idx.FindNewestByName(ctx, "/a")
		if err != nil {
			t.Fatalf("FindNewestByName after clear: %v", err)
		}
		if newest.TimeLastChanged.Unix() != older.Unix() {
			t.Fatalf("newest[/a].TimeLastChanged = %v, want %v (S1's entry)", newest.TimeLastChanged, older)
		}
	})
}

// TestScenarioPurgeAllByName is spec.md §8 scenario 4: purge-all-by-name
// removes every matching storage except the kept one, while the parent
// entity and UUID — still anchored by the kept storage — survive.
func TestScenarioPurgeAllByName(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		const specifier = "nightly"
		const archiveName = "backup.bar"
		fullName := specifier + "/" + archiveName

		var ids [3]idtag.ID
		var entityID idtag.ID
		for i := 0; i < 3; i++ {
			id, s := newScenarioStorage(t, idx, "job-scn4", "sched-scn4", fullName)
			ids[i] = id
			entityID = s.EntityID
		}

		if err := idx.PurgeAllByName(ctx, specifier, archiveName, ids[1]); err != nil {
			t.Fatalf("PurgeAllByName: %v", err)
		}

		if _, err := idx.FindStorageByID(ctx, ids[0]); err == nil {
			t.Fatalf("S1 should be purged")
		}
		if _, err := idx.FindStorageByID(ctx, ids[2]); err == nil {
			t.Fatalf("S3 should be purged")
		}
		kept, err := idx.FindStorageByID(ctx, ids[1])
		if err != nil {
			t.Fatalf("S2 (kept) should survive: %v", err)
		}
		if !kept.EntityID.Equal(entityID) {
			t.Fatalf("kept storage's entity changed: %v != %v", kept.EntityID, entityID)
		}

		storages, err := idx.ListStorages(ctx, query.StorageFilter{Entity: entityID})
		if err != nil {
			t.Fatalf("ListStorages(entity): %v", err)
		}
		if len(storages) != 1 || !storages[0].ID.Equal(ids[1]) {
			t.Fatalf("entity's surviving storages = %+v, want only S2", storages)
		}
	})
}

// TestScenarioInterruptResume is spec.md §8 scenario 5, adapted to a
// single process: a clear_storage of a storage holding 50 single-
// fragment entries runs to completion, leaving no entries for the
// entity and zero aggregates on the cleared storage. 50 rows stay below
// txrun.SingleStepPurgeLimit, so no batch-boundary yield happens here.
func TestScenarioInterruptResume(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		s1, storage1 := newScenarioStorage(t, idx, "job-scn5", "sched-scn5", "s1.bar")
		entityID := storage1.EntityID

		const fragmentCount = 50
		for i := 0; i < fragmentCount; i++ {
			in := entrywriter.Input{
				UUIDID: storage1.UUIDID, EntityID: entityID, Storage: s1,
				Type: model.EntryTypeFile, Name: entryName(i), Size: 10,
				FragmentOffset: 0, FragmentSize: 10,
			}
			if _, err := idx.AddEntry(ctx, in); err != nil {
				t.Fatalf("AddEntry %d: %v", i, err)
			}
		}

		if err := idx.ClearStorage(ctx, s1); err != nil {
			t.Fatalf("ClearStorage(s1): %v", err)
		}

		entCount, err := idx.CountEntries(ctx, query.EntryFilter{Entity: entityID, Storage: idtag.Any})
		if err != nil {
			t.Fatalf("CountEntries: %v", err)
		}
		if entCount != 0 {
			t.Fatalf("entries remaining after clear = %d, want 0 (S1 was their only storage)", entCount)
		}

		got1, err := idx.FindStorageByID(ctx, s1)
		if err != nil {
			t.Fatalf("FindStorageByID s1: %v", err)
		}
		if got1.All.TotalCount != 0 || got1.All.TotalSize != 0 {
			t.Fatalf("S1 aggregates after clear = %+v, want zero", got1.All)
		}
	})
}

func entryName(i int) string {
	return "/many/file-" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".dat"
}

// TestScenarioDirectoryRollup is spec.md §8 scenario 6: a directory's
// rollup totals accumulate from every descendant insert, regardless of
// how many levels down the descendant sits.
func TestScenarioDirectoryRollup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx *bxindex.Index) {
		ctx := context.Background()

		s1, storage1 := newScenarioStorage(t, idx, "job-scn6", "sched-scn6", "s1.bar")

		dirD, err := idx.AddEntry(ctx, entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: storage1.EntityID, Storage: s1,
			Type: model.EntryTypeDirectory, Name: "/d",
		})
		if err != nil {
			t.Fatalf("AddEntry /d: %v", err)
		}
		dirDE, err := idx.AddEntry(ctx, entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: storage1.EntityID, Storage: s1,
			Type: model.EntryTypeDirectory, Name: "/d/e",
		})
		if err != nil {
			t.Fatalf("AddEntry /d/e: %v", err)
		}

		if _, err := idx.AddEntry(ctx, entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: storage1.EntityID, Storage: s1,
			Type: model.EntryTypeFile, Name: "/d/f1", Size: 10, FragmentOffset: 0, FragmentSize: 10,
		}); err != nil {
			t.Fatalf("AddEntry /d/f1: %v", err)
		}
		if _, err := idx.AddEntry(ctx, entrywriter.Input{
			UUIDID: storage1.UUIDID, EntityID: storage1.EntityID, Storage: s1,
			Type: model.EntryTypeFile, Name: "/d/e/f2", Size: 5, FragmentOffset: 0, FragmentSize: 5,
		}); err != nil {
			t.Fatalf("AddEntry /d/e/f2: %v", err)
		}

		rollupD, err := idx.FindDirectorySubEntry(ctx, dirD, s1)
		if err != nil {
			t.Fatalf("FindDirectorySubEntry(/d): %v", err)
		}
		if rollupD.TotalEntrySize != 15 || rollupD.TotalEntryCount != 2 {
			t.Fatalf("/d rollup = %+v, want size=15 count=2", rollupD)
		}

		rollupDE, err := idx.FindDirectorySubEntry(ctx, dirDE, s1)
		if err != nil {
			t.Fatalf("FindDirectorySubEntry(/d/e): %v", err)
		}
		if rollupDE.TotalEntrySize != 5 || rollupDE.TotalEntryCount != 1 {
			t.Fatalf("/d/e rollup = %+v, want size=5 count=1", rollupDE)
		}
	})
}
