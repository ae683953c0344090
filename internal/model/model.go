// Package model defines the row types of the backup index's data model
// (spec.md §3): UUID, Entity, Storage, Entry, Fragment, the six
// sub-entry kinds, and the NewestEntry projection.
package model

import (
	"time"

	"github.com/duskvault/bxindex/internal/idtag"
)

// Aggregates is the set of cached counters/sizes carried on UUID,
// Entity, and Storage rows (spec.md §3.1, invariant #2). Two instances
// are kept per row: "all" (every live entry) and "newest" (entries
// reachable through the newestEntries projection).
type Aggregates struct {
	FileCount      int64
	FileSize       int64
	ImageCount     int64
	ImageSize      int64
	DirectoryCount int64
	LinkCount      int64
	HardlinkCount  int64
	HardlinkSize   int64
	SpecialCount   int64
	TotalCount     int64
	TotalSize      int64
}

// Add accumulates o's counters into a, used by internal/query when
// summing the cached aggregates of the storages a filter selects.
func (a *Aggregates) Add(o Aggregates) {
	a.FileCount += o.FileCount
	a.FileSize += o.FileSize
	a.ImageCount += o.ImageCount
	a.ImageSize += o.ImageSize
	a.DirectoryCount += o.DirectoryCount
	a.LinkCount += o.LinkCount
	a.HardlinkCount += o.HardlinkCount
	a.HardlinkSize += o.HardlinkSize
	a.SpecialCount += o.SpecialCount
	a.TotalCount += o.TotalCount
	a.TotalSize += o.TotalSize
}

// Sub subtracts o's counters from a.
func (a *Aggregates) Sub(o Aggregates) {
	a.FileCount -= o.FileCount
	a.FileSize -= o.FileSize
	a.ImageCount -= o.ImageCount
	a.ImageSize -= o.ImageSize
	a.DirectoryCount -= o.DirectoryCount
	a.LinkCount -= o.LinkCount
	a.HardlinkCount -= o.HardlinkCount
	a.HardlinkSize -= o.HardlinkSize
	a.SpecialCount -= o.SpecialCount
	a.TotalCount -= o.TotalCount
	a.TotalSize -= o.TotalSize
}

// UUID identifies a logical backup job (spec.md §3.1).
type UUID struct {
	ID        idtag.ID
	JobUUID   string
	Deleted   bool
	All       Aggregates
	Newest    Aggregates
}

// Entity is one execution (or scheduled instance) of a job.
type Entity struct {
	ID           idtag.ID
	UUIDID       idtag.ID
	JobUUID      string
	ScheduleUUID string
	HostName     string
	UserName     string
	ArchiveType  ArchiveType
	CreatedAt    time.Time
	LockedCount  int
	Deleted      bool
	All          Aggregates
	Newest       Aggregates
}

// Storage is one archive artifact.
type Storage struct {
	ID           idtag.ID
	EntityID     idtag.ID
	UUIDID       idtag.ID
	HostName     string
	UserName     string
	Name         string
	CreatedAt    time.Time
	Size         int64
	State        StorageState
	Mode         StorageMode
	LastChecked  time.Time
	ErrorMessage string
	Deleted      bool
	All          Aggregates
	Newest       Aggregates
}

// FileStat is the owner/group/permission triple shared by every entry
// kind, plus its three POSIX timestamps.
type FileStat struct {
	User             string
	Group            string
	Permission       uint32
	TimeLastAccess   time.Time
	TimeModified     time.Time
	TimeLastChanged  time.Time
}

// Entry is one file-system object captured in a storage (spec.md §3.1).
type Entry struct {
	ID       idtag.ID
	UUIDID   idtag.ID
	EntityID idtag.ID
	Type     EntryType
	Name     string
	Stat     FileStat
	Size     int64
	Deleted  bool
}

// DirectorySubEntry carries a directory entry's storage and rollup totals.
type DirectorySubEntry struct {
	EntryID          idtag.ID
	StorageID        idtag.ID
	TotalEntryCount  int64
	TotalEntrySize   int64
}

// LinkSubEntry carries a symlink's storage and destination path.
type LinkSubEntry struct {
	EntryID     idtag.ID
	StorageID   idtag.ID
	Destination string
}

// SpecialSubEntry carries a device/FIFO/socket's storage and device numbers.
type SpecialSubEntry struct {
	EntryID     idtag.ID
	StorageID   idtag.ID
	SpecialType SpecialType
	Major       int32
	Minor       int32
}

// FileSubEntry carries a plain file's declared size (fragments carry
// the storage; spec.md §3.1).
type FileSubEntry struct {
	EntryID idtag.ID
	Size    int64
}

// ImageSubEntry carries a disk-image entry's file-system metadata.
type ImageSubEntry struct {
	EntryID       idtag.ID
	FileSystem    string
	BlockSize     int64
	ImageSize     int64
}

// HardlinkSubEntry carries a hardlink's declared size (fragments carry
// the storage, same as file/image).
type HardlinkSubEntry struct {
	EntryID idtag.ID
	Size    int64
}

// Fragment records that part of an entry's bytes live in a particular
// storage (spec.md §3.1).
type Fragment struct {
	EntryID   idtag.ID
	StorageID idtag.ID
	Offset    int64
	Size      int64
}

// Complete reports whether offset+size spans the entry's declared size
// (spec.md §8: "A fragment whose offset+size equals entry.size marks
// the entry complete for purge-time aggregation").
func (f Fragment) Complete(entrySize int64) bool {
	return f.Offset+f.Size == entrySize
}

// NewestEntry is the projection row keyed by name pointing at the
// entry with the greatest TimeLastChanged across live storages
// (spec.md §3.1, §4.8).
type NewestEntry struct {
	Name            string
	EntryID         idtag.ID
	UUIDID          idtag.ID
	EntityID        idtag.ID
	Type            EntryType
	Stat            FileStat
	Size            int64
	TimeLastChanged time.Time
}
