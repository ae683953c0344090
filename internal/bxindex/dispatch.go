package bxindex

import (
	"context"
	"fmt"
	"time"

	"github.com/duskvault/bxindex/internal/entrywriter"
	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
	"github.com/duskvault/bxindex/internal/query"
	"github.com/duskvault/bxindex/internal/rpccmd"
)

// Dispatch executes one forwarded command against idx, the in-process
// side of the split spec.md §6 describes: "each [operation] has a
// direct in-process form and a forwarded form issued as a text command
// to a master-process I/O channel when the caller holds a slave
// handle." The actual master/slave transport is out of scope (spec.md
// §2's "Out of scope" list names it explicitly); Dispatch is the part
// that is in scope — turning one decoded rpccmd.Command into the same
// Index call a direct caller would make, and its result back into the
// key/value map the wire grammar returns.
//
// The four list operations (list_storages, list_entries,
// list_entries_by_type, list_fragments) summarize their result as a
// row count rather than enumerating rows: the grammar's return channel
// is a single flat key/value map, not a repeated structure, so a list
// command reports how many rows matched and a direct caller uses the
// in-process list method when it needs the rows themselves.
func (idx *Index) Dispatch(ctx context.Context, cmd rpccmd.Command) (map[string]rpccmd.Value, error) {
	switch cmd.Op {
	case rpccmd.OpFindStorageByID:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		s, err := idx.FindStorageByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return storageResult(s), nil

	case rpccmd.OpFindStorageByName:
		name, err := reqString(cmd, "name")
		if err != nil {
			return nil, err
		}
		s, err := idx.FindStorageByName(ctx, name)
		if err != nil {
			return nil, err
		}
		return storageResult(s), nil

	case rpccmd.OpFindStorageByState:
		state, err := reqState(cmd, "state")
		if err != nil {
			return nil, err
		}
		storages, err := idx.FindStoragesByState(ctx, state)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(int64(len(storages)))}, nil

	case rpccmd.OpListStorages:
		storages, err := idx.ListStorages(ctx, query.StorageFilter{})
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(int64(len(storages)))}, nil

	case rpccmd.OpListEntries:
		f := query.EntryFilter{Storage: optID(cmd, "storage")}
		entries, err := idx.ListEntries(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(int64(len(entries)))}, nil

	case rpccmd.OpListEntriesByType:
		storageID, err := reqID(cmd, "storage")
		if err != nil {
			return nil, err
		}
		t, err := reqEntryType(cmd, "type")
		if err != nil {
			return nil, err
		}
		entries, err := idx.ListEntriesByType(ctx, storageID, t)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(int64(len(entries)))}, nil

	case rpccmd.OpListFragments:
		entryID, err := reqID(cmd, "entry")
		if err != nil {
			return nil, err
		}
		frags, err := idx.ListFragments(ctx, entryID)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(int64(len(frags)))}, nil

	case rpccmd.OpCountAggregates:
		n, err := idx.CountEntries(ctx, query.EntryFilter{Storage: optID(cmd, "storage")})
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"count": rpccmd.IntValue(n)}, nil

	case rpccmd.OpSumAggregates:
		all, newest, err := idx.SumStorageAggregates(ctx, query.StorageFilter{})
		if err != nil {
			return nil, err
		}
		return aggregatesResult(all, newest), nil

	case rpccmd.OpGetStorageState:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		state, err := idx.GetStorageState(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"state": rpccmd.StringValue(state.String())}, nil

	case rpccmd.OpSetStorageState:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		state, err := reqState(cmd, "state")
		if err != nil {
			return nil, err
		}
		errMsg := optString(cmd, "error_message")
		if err := idx.SetStorageState(ctx, id, state, time.Now(), errMsg); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpNewStorage:
		in := NewStorageInput{
			JobUUID:      optString(cmd, "job_uuid"),
			ScheduleUUID: optString(cmd, "schedule_uuid"),
			HostName:     optString(cmd, "host_name"),
			UserName:     optString(cmd, "user_name"),
			Name:         optString(cmd, "name"),
			CreatedAt:    time.Now(),
		}
		id, err := idx.NewStorage(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"id": rpccmd.IDValue(id)}, nil

	case rpccmd.OpUpdateStorage:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		upd := StorageUpdate{UpdateNewest: optBool(cmd, "update_newest")}
		if v, ok := cmd.Args["host_name"]; ok {
			s := v.String()
			upd.HostName = &s
		}
		if v, ok := cmd.Args["user_name"]; ok {
			s := v.String()
			upd.UserName = &s
		}
		if v, ok := cmd.Args["name"]; ok {
			s := v.String()
			upd.Name = &s
		}
		if v, ok := cmd.Args["size"]; ok {
			n := v.Int()
			upd.Size = &n
		}
		if v, ok := cmd.Args["error_message"]; ok {
			s := v.String()
			upd.ErrorMessage = &s
		}
		if err := idx.UpdateStorage(ctx, id, upd); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpAddEntry:
		storageID, err := reqID(cmd, "storage")
		if err != nil {
			return nil, err
		}
		t, err := reqEntryType(cmd, "type")
		if err != nil {
			return nil, err
		}
		in := entrywriter.Input{
			UUIDID:         optID(cmd, "uuid"),
			EntityID:       optID(cmd, "entity"),
			Storage:        storageID,
			Type:           t,
			Name:           optString(cmd, "name"),
			Size:           optInt(cmd, "size"),
			FragmentOffset: optInt(cmd, "fragment_offset"),
			FragmentSize:   optInt(cmd, "fragment_size"),
			Destination:    optString(cmd, "destination"),
			FileSystem:     optString(cmd, "filesystem"),
			BlockSize:      optInt(cmd, "block_size"),
			ImageSize:      optInt(cmd, "image_size"),
			Stat: model.FileStat{
				User:  optString(cmd, "user"),
				Group: optString(cmd, "group"),
			},
		}
		id, err := idx.AddEntry(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{"id": rpccmd.IDValue(id)}, nil

	case rpccmd.OpAddSkippedEntry:
		entityID, err := reqID(cmd, "entity")
		if err != nil {
			return nil, err
		}
		t, err := reqEntryType(cmd, "type")
		if err != nil {
			return nil, err
		}
		name, err := reqString(cmd, "name")
		if err != nil {
			return nil, err
		}
		if err := idx.AddSkippedEntry(ctx, entityID, t, name); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpClearStorage:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		if err := idx.ClearStorage(ctx, id); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpPurgeStorage:
		id, err := reqID(cmd, "id")
		if err != nil {
			return nil, err
		}
		if err := idx.PurgeStorage(ctx, id); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpPurgeAllByID:
		uuidID, err := reqID(cmd, "uuid")
		if err != nil {
			return nil, err
		}
		keepID, err := reqID(cmd, "keep")
		if err != nil {
			return nil, err
		}
		if err := idx.PurgeAllByID(ctx, uuidID, keepID); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	case rpccmd.OpPurgeAllByName:
		specifier, err := reqString(cmd, "specifier")
		if err != nil {
			return nil, err
		}
		archiveName, err := reqString(cmd, "archive_name")
		if err != nil {
			return nil, err
		}
		keepID, err := reqID(cmd, "keep")
		if err != nil {
			return nil, err
		}
		if err := idx.PurgeAllByName(ctx, specifier, archiveName, keepID); err != nil {
			return nil, err
		}
		return map[string]rpccmd.Value{}, nil

	default:
		return nil, fmt.Errorf("bxindex: dispatch: unknown operation %q", cmd.Op)
	}
}

func storageResult(s model.Storage) map[string]rpccmd.Value {
	return map[string]rpccmd.Value{
		"id":        rpccmd.IDValue(s.ID),
		"entity":    rpccmd.IDValue(s.EntityID),
		"uuid":      rpccmd.IDValue(s.UUIDID),
		"host_name": rpccmd.StringValue(s.HostName),
		"user_name": rpccmd.StringValue(s.UserName),
		"name":      rpccmd.StringValue(s.Name),
		"size":      rpccmd.IntValue(s.Size),
		"state":     rpccmd.StringValue(s.State.String()),
		"mode":      rpccmd.StringValue(s.Mode.String()),
		"deleted":   rpccmd.BoolValue(s.Deleted),
	}
}

func aggregatesResult(all, newest model.Aggregates) map[string]rpccmd.Value {
	return map[string]rpccmd.Value{
		"all_file_count":       rpccmd.IntValue(all.FileCount),
		"all_file_size":        rpccmd.IntValue(all.FileSize),
		"all_total_count":      rpccmd.IntValue(all.TotalCount),
		"all_total_size":       rpccmd.IntValue(all.TotalSize),
		"newest_file_count":    rpccmd.IntValue(newest.FileCount),
		"newest_file_size":     rpccmd.IntValue(newest.FileSize),
		"newest_total_count":   rpccmd.IntValue(newest.TotalCount),
		"newest_total_size":    rpccmd.IntValue(newest.TotalSize),
	}
}

func reqString(cmd rpccmd.Command, key string) (string, error) {
	v, ok := cmd.Args[key]
	if !ok {
		return "", fmt.Errorf("bxindex: dispatch: %s: missing required argument %q", cmd.Op, key)
	}
	return v.String(), nil
}

func optString(cmd rpccmd.Command, key string) string {
	if v, ok := cmd.Args[key]; ok {
		return v.String()
	}
	return ""
}

func optInt(cmd rpccmd.Command, key string) int64 {
	if v, ok := cmd.Args[key]; ok {
		return v.Int()
	}
	return 0
}

func optBool(cmd rpccmd.Command, key string) bool {
	if v, ok := cmd.Args[key]; ok {
		return v.Bool()
	}
	return false
}

func reqID(cmd rpccmd.Command, key string) (idtag.ID, error) {
	v, ok := cmd.Args[key]
	if !ok {
		return idtag.None, fmt.Errorf("bxindex: dispatch: %s: missing required argument %q", cmd.Op, key)
	}
	return v.ID(), nil
}

func optID(cmd rpccmd.Command, key string) idtag.ID {
	if v, ok := cmd.Args[key]; ok {
		return v.ID()
	}
	return idtag.Any
}

func reqEntryType(cmd rpccmd.Command, key string) (model.EntryType, error) {
	s, err := reqString(cmd, key)
	if err != nil {
		return model.EntryTypeNone, err
	}
	for _, t := range model.AllEntryTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return model.EntryTypeNone, fmt.Errorf("bxindex: dispatch: unknown entry type %q", s)
}

func reqState(cmd rpccmd.Command, key string) (model.StorageState, error) {
	s, err := reqString(cmd, key)
	if err != nil {
		return model.StorageStateNone, err
	}
	switch s {
	case "create":
		return model.StorageStateCreate, nil
	case "update_requested":
		return model.StorageStateUpdateRequested, nil
	case "update":
		return model.StorageStateUpdate, nil
	case "ok":
		return model.StorageStateOK, nil
	case "error":
		return model.StorageStateError, nil
	default:
		return model.StorageStateNone, fmt.Errorf("bxindex: dispatch: unknown storage state %q", s)
	}
}
