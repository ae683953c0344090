package bxindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/duskvault/bxindex/internal/backend"
	"github.com/duskvault/bxindex/internal/bxconfig"
	"github.com/duskvault/bxindex/internal/bxindex"
	"github.com/duskvault/bxindex/internal/entrywriter"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/query"
)

func openTestIndex(t *testing.T) *bxindex.Index {
	t.Helper()
	cfg := &bxconfig.Config{
		InitialCleanup:  true,
		SupportDelete:   true,
		SleepTimePurge:  10 * time.Millisecond,
		SingleStepLimit: 4096,
		CleanupInterval: time.Hour, // long enough that the maintenance tick never fires mid-test
		Backends:        map[string]bxconfig.BackendDSN{},
	}
	idx, err := bxindex.Open(context.Background(), cfg, backend.Options{Kind: backend.KindSQLite, SQLitePath: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return idx
}

func TestNewStorageAndFindRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	id, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:         "job-1",
		ScheduleUUID:    "sched-1",
		HostName:        "host-a",
		UserName:        "alice",
		EntityCreatedAt: time.Unix(1000, 0),
		Name:            "backup.bar",
		CreatedAt:       time.Unix(1000, 0),
		InitialState:    model.StorageStateOK,
		InitialMode:     model.StorageMode(0),
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if id.IsNone() {
		t.Fatalf("NewStorage returned none id")
	}

	got, err := idx.FindStorageByID(ctx, id)
	if err != nil {
		t.Fatalf("FindStorageByID: %v", err)
	}
	if got.Name != "backup.bar" || got.HostName != "host-a" {
		t.Fatalf("found storage = %+v", got)
	}

	byName, err := idx.FindStorageByName(ctx, "backup.bar")
	if err != nil {
		t.Fatalf("FindStorageByName: %v", err)
	}
	if !byName.ID.Equal(id) {
		t.Fatalf("FindStorageByName id = %v, want %v", byName.ID, id)
	}
}

func TestNewStorageReusesUUIDAndEntity(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	in := bxindex.NewStorageInput{
		JobUUID:      "job-shared",
		ScheduleUUID: "sched-shared",
		Name:         "first.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	}
	id1, err := idx.NewStorage(ctx, in)
	if err != nil {
		t.Fatalf("NewStorage 1: %v", err)
	}
	in.Name = "second.bar"
	id2, err := idx.NewStorage(ctx, in)
	if err != nil {
		t.Fatalf("NewStorage 2: %v", err)
	}

	s1, err := idx.FindStorageByID(ctx, id1)
	if err != nil {
		t.Fatalf("find 1: %v", err)
	}
	s2, err := idx.FindStorageByID(ctx, id2)
	if err != nil {
		t.Fatalf("find 2: %v", err)
	}
	if !s1.EntityID.Equal(s2.EntityID) {
		t.Fatalf("expected shared entity, got %v and %v", s1.EntityID, s2.EntityID)
	}
	if !s1.UUIDID.Equal(s2.UUIDID) {
		t.Fatalf("expected shared uuid, got %v and %v", s1.UUIDID, s2.UUIDID)
	}
}

func TestAddEntryAndListByType(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	storageID, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      "job-2",
		ScheduleUUID: "sched-2",
		Name:         "data.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	storage, err := idx.FindStorageByID(ctx, storageID)
	if err != nil {
		t.Fatalf("FindStorageByID: %v", err)
	}

	entryID, err := idx.AddEntry(ctx, entrywriter.Input{
		UUIDID:         storage.UUIDID,
		EntityID:       storage.EntityID,
		Storage:        storageID,
		Type:           model.EntryTypeFile,
		Name:           "/big.dat",
		Size:           1000,
		FragmentOffset: 0,
		FragmentSize:   1000,
	})
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if entryID.IsNone() {
		t.Fatalf("AddEntry returned none id")
	}

	entries, err := idx.ListEntriesByType(ctx, storageID, model.EntryTypeFile)
	if err != nil {
		t.Fatalf("ListEntriesByType: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "/big.dat" {
		t.Fatalf("entries = %+v", entries)
	}

	fragments, err := idx.ListFragments(ctx, entryID)
	if err != nil {
		t.Fatalf("ListFragments: %v", err)
	}
	if len(fragments) != 1 || fragments[0].Size != 1000 {
		t.Fatalf("fragments = %+v", fragments)
	}
}

func TestUpdateStorageSetsFields(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	storageID, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      "job-3",
		ScheduleUUID: "sched-3",
		Name:         "original.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	newName := "renamed.bar"
	var newSize int64 = 4096
	if err := idx.UpdateStorage(ctx, storageID, bxindex.StorageUpdate{Name: &newName, Size: &newSize}); err != nil {
		t.Fatalf("UpdateStorage: %v", err)
	}

	got, err := idx.FindStorageByID(ctx, storageID)
	if err != nil {
		t.Fatalf("FindStorageByID: %v", err)
	}
	if got.Name != "renamed.bar" || got.Size != 4096 {
		t.Fatalf("after update: %+v", got)
	}
}

func TestSetAndGetStorageState(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	storageID, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      "job-4",
		ScheduleUUID: "sched-4",
		Name:         "state.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateNone,
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	if err := idx.SetStorageState(ctx, storageID, model.StorageStateError, time.Unix(500, 0), "disk full"); err != nil {
		t.Fatalf("SetStorageState: %v", err)
	}
	state, err := idx.GetStorageState(ctx, storageID)
	if err != nil {
		t.Fatalf("GetStorageState: %v", err)
	}
	if state != model.StorageStateError {
		t.Fatalf("state = %v, want error", state)
	}
}

func TestAddSkippedEntry(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	storageID, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      "job-5",
		ScheduleUUID: "sched-5",
		Name:         "skip.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	storage, err := idx.FindStorageByID(ctx, storageID)
	if err != nil {
		t.Fatalf("FindStorageByID: %v", err)
	}
	if err := idx.AddSkippedEntry(ctx, storage.EntityID, model.EntryTypeFile, "/proc/weird"); err != nil {
		t.Fatalf("AddSkippedEntry: %v", err)
	}
}

func TestClearAndPurgeStorage(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	storageID, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
		JobUUID:      "job-6",
		ScheduleUUID: "sched-6",
		Name:         "transient.bar",
		CreatedAt:    time.Unix(1, 0),
		InitialState: model.StorageStateOK,
	})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	storage, err := idx.FindStorageByID(ctx, storageID)
	if err != nil {
		t.Fatalf("FindStorageByID: %v", err)
	}

	if _, err := idx.AddEntry(ctx, entrywriter.Input{
		UUIDID: storage.UUIDID, EntityID: storage.EntityID, Storage: storageID,
		Type: model.EntryTypeFile, Name: "/only.dat", Size: 10, FragmentOffset: 0, FragmentSize: 10,
	}); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	if err := idx.ClearStorage(ctx, storageID); err != nil {
		t.Fatalf("ClearStorage: %v", err)
	}
	entries, err := idx.ListEntriesByType(ctx, storageID, model.EntryTypeFile)
	if err != nil {
		t.Fatalf("ListEntriesByType: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after clear = %+v, want none", entries)
	}

	if err := idx.PurgeStorage(ctx, storageID); err != nil {
		t.Fatalf("PurgeStorage: %v", err)
	}
	if _, err := idx.FindStorageByID(ctx, storageID); err == nil {
		t.Fatalf("expected storage to be gone after purge")
	}
}

func TestPurgeAllByName(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	var ids [3]idtag.ID
	for i, name := range []string{"spec/backup.bar", "spec/backup.bar", "spec/backup.bar"} {
		id, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
			JobUUID:      "job-purge-all",
			ScheduleUUID: "sched-purge-all",
			Name:         name,
			CreatedAt:    time.Unix(int64(i), 0),
			InitialState: model.StorageStateOK,
		})
		if err != nil {
			t.Fatalf("NewStorage %d: %v", i, err)
		}
		ids[i] = id
	}

	if err := idx.PurgeAllByName(ctx, "spec", "backup.bar", ids[1]); err != nil {
		t.Fatalf("PurgeAllByName: %v", err)
	}

	if _, err := idx.FindStorageByID(ctx, ids[0]); err == nil {
		t.Fatalf("expected storage 0 purged")
	}
	if _, err := idx.FindStorageByID(ctx, ids[2]); err == nil {
		t.Fatalf("expected storage 2 purged")
	}
	if _, err := idx.FindStorageByID(ctx, ids[1]); err != nil {
		t.Fatalf("expected storage 1 (kept) to survive: %v", err)
	}
}

func TestListStoragesAndSumAggregates(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	for _, name := range []string{"alpha.bar", "beta.bar"} {
		if _, err := idx.NewStorage(ctx, bxindex.NewStorageInput{
			JobUUID:      "job-list",
			ScheduleUUID: "sched-list",
			Name:         name,
			CreatedAt:    time.Unix(1, 0),
			InitialState: model.StorageStateOK,
		}); err != nil {
			t.Fatalf("NewStorage %s: %v", name, err)
		}
	}

	storages, err := idx.ListStorages(ctx, query.StorageFilter{Sort: model.SortName})
	if err != nil {
		t.Fatalf("ListStorages: %v", err)
	}
	if len(storages) != 2 {
		t.Fatalf("len(storages) = %d, want 2", len(storages))
	}

	all, newest, err := idx.SumStorageAggregates(ctx, query.StorageFilter{})
	if err != nil {
		t.Fatalf("SumStorageAggregates: %v", err)
	}
	if all.TotalCount != 0 || newest.TotalCount != 0 {
		t.Fatalf("fresh storages should have zero aggregates, got all=%+v newest=%+v", all, newest)
	}
}
