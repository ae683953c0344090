// Package schema declares the table/column set spec.md §6 names
// ("persisted layout") and the per-dialect CREATE TABLE statements
// needed to stand up that layout. The actual migration/versioning
// tooling is out of scope per spec.md §1's Non-goals; this package only
// has to agree with the struct field names the rest of the index core
// relies on, the same role the teacher's migrations/NNN_*.go files play
// for their own schema, minus the version history bookkeeping.
package schema

// Table name constants, shared across every package that builds SQL by
// hand (internal/entrywriter, internal/query, internal/purge, ...) so a
// rename only has to happen here.
const (
	Uuids             = "uuids"
	Entities          = "entities"
	Storages          = "storages"
	Entries           = "entries"
	EntriesNewest     = "entries_newest"
	EntryFragments    = "entry_fragments"
	FileEntries       = "file_entries"
	ImageEntries      = "image_entries"
	DirectoryEntries  = "directory_entries"
	LinkEntries       = "link_entries"
	HardlinkEntries   = "hardlink_entries"
	SpecialEntries    = "special_entries"
	SkippedEntries    = "skipped_entries"
	FTSStorages       = "fts_storages"
	FTSEntries        = "fts_entries"
)

// Statement is one named, idempotent DDL statement, the same
// slice-of-struct shape the teacher uses in
// internal/storage/sqlite/migrations/026_additional_indexes.go.
type Statement struct {
	Name string
	SQL  string
}

// Dialect distinguishes the three backend SQL flavors the DDL differs
// across: integer autoincrement syntax, boolean representation, and
// whether FTS shadow tables are created at all (spec.md §4.5 — MySQL's
// native FULLTEXT index needs no shadow table).
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectDolt   Dialect = "dolt"
	DialectMySQL  Dialect = "mysql"
)

// Statements returns every CREATE TABLE/INDEX statement needed to bring
// up an empty database of dialect d, in dependency order (parents
// before children, so foreign keys validate as each table is created).
func Statements(d Dialect) []Statement {
	pk := autoIncrementPK(d)
	boolT := boolType(d)

	stmts := []Statement{
		{"uuids", `CREATE TABLE IF NOT EXISTS ` + Uuids + ` (
			id ` + pk + `,
			job_uuid TEXT NOT NULL UNIQUE,
			deleted ` + boolT + ` NOT NULL DEFAULT 0,
			file_count BIGINT NOT NULL DEFAULT 0, file_size BIGINT NOT NULL DEFAULT 0,
			image_count BIGINT NOT NULL DEFAULT 0, image_size BIGINT NOT NULL DEFAULT 0,
			directory_count BIGINT NOT NULL DEFAULT 0,
			link_count BIGINT NOT NULL DEFAULT 0,
			hardlink_count BIGINT NOT NULL DEFAULT 0, hardlink_size BIGINT NOT NULL DEFAULT 0,
			special_count BIGINT NOT NULL DEFAULT 0,
			total_count BIGINT NOT NULL DEFAULT 0, total_size BIGINT NOT NULL DEFAULT 0,
			newest_file_count BIGINT NOT NULL DEFAULT 0, newest_file_size BIGINT NOT NULL DEFAULT 0,
			newest_image_count BIGINT NOT NULL DEFAULT 0, newest_image_size BIGINT NOT NULL DEFAULT 0,
			newest_directory_count BIGINT NOT NULL DEFAULT 0,
			newest_link_count BIGINT NOT NULL DEFAULT 0,
			newest_hardlink_count BIGINT NOT NULL DEFAULT 0, newest_hardlink_size BIGINT NOT NULL DEFAULT 0,
			newest_special_count BIGINT NOT NULL DEFAULT 0,
			newest_total_count BIGINT NOT NULL DEFAULT 0, newest_total_size BIGINT NOT NULL DEFAULT 0
		)`},
		{"entities", `CREATE TABLE IF NOT EXISTS ` + Entities + ` (
			id ` + pk + `,
			uuid_id BIGINT NOT NULL REFERENCES ` + Uuids + `(id),
			job_uuid TEXT NOT NULL,
			schedule_uuid TEXT NOT NULL DEFAULT '',
			host_name TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			archive_type INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL DEFAULT 0,
			locked_count INTEGER NOT NULL DEFAULT 0,
			deleted ` + boolT + ` NOT NULL DEFAULT 0,
			file_count BIGINT NOT NULL DEFAULT 0, file_size BIGINT NOT NULL DEFAULT 0,
			image_count BIGINT NOT NULL DEFAULT 0, image_size BIGINT NOT NULL DEFAULT 0,
			directory_count BIGINT NOT NULL DEFAULT 0,
			link_count BIGINT NOT NULL DEFAULT 0,
			hardlink_count BIGINT NOT NULL DEFAULT 0, hardlink_size BIGINT NOT NULL DEFAULT 0,
			special_count BIGINT NOT NULL DEFAULT 0,
			total_count BIGINT NOT NULL DEFAULT 0, total_size BIGINT NOT NULL DEFAULT 0,
			newest_file_count BIGINT NOT NULL DEFAULT 0, newest_file_size BIGINT NOT NULL DEFAULT 0,
			newest_image_count BIGINT NOT NULL DEFAULT 0, newest_image_size BIGINT NOT NULL DEFAULT 0,
			newest_directory_count BIGINT NOT NULL DEFAULT 0,
			newest_link_count BIGINT NOT NULL DEFAULT 0,
			newest_hardlink_count BIGINT NOT NULL DEFAULT 0, newest_hardlink_size BIGINT NOT NULL DEFAULT 0,
			newest_special_count BIGINT NOT NULL DEFAULT 0,
			newest_total_count BIGINT NOT NULL DEFAULT 0, newest_total_size BIGINT NOT NULL DEFAULT 0
		)`},
		{"entities_uuid_idx", `CREATE INDEX IF NOT EXISTS entities_uuid_idx ON ` + Entities + `(uuid_id)`},
		{"storages", `CREATE TABLE IF NOT EXISTS ` + Storages + ` (
			id ` + pk + `,
			entity_id BIGINT REFERENCES ` + Entities + `(id),
			uuid_id BIGINT NOT NULL REFERENCES ` + Uuids + `(id),
			host_name TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL DEFAULT 0,
			size BIGINT NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			mode INTEGER NOT NULL DEFAULT 0,
			last_checked BIGINT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			deleted ` + boolT + ` NOT NULL DEFAULT 0,
			file_count BIGINT NOT NULL DEFAULT 0, file_size BIGINT NOT NULL DEFAULT 0,
			image_count BIGINT NOT NULL DEFAULT 0, image_size BIGINT NOT NULL DEFAULT 0,
			directory_count BIGINT NOT NULL DEFAULT 0,
			link_count BIGINT NOT NULL DEFAULT 0,
			hardlink_count BIGINT NOT NULL DEFAULT 0, hardlink_size BIGINT NOT NULL DEFAULT 0,
			special_count BIGINT NOT NULL DEFAULT 0,
			total_count BIGINT NOT NULL DEFAULT 0, total_size BIGINT NOT NULL DEFAULT 0,
			newest_file_count BIGINT NOT NULL DEFAULT 0, newest_file_size BIGINT NOT NULL DEFAULT 0,
			newest_image_count BIGINT NOT NULL DEFAULT 0, newest_image_size BIGINT NOT NULL DEFAULT 0,
			newest_directory_count BIGINT NOT NULL DEFAULT 0,
			newest_link_count BIGINT NOT NULL DEFAULT 0,
			newest_hardlink_count BIGINT NOT NULL DEFAULT 0, newest_hardlink_size BIGINT NOT NULL DEFAULT 0,
			newest_special_count BIGINT NOT NULL DEFAULT 0,
			newest_total_count BIGINT NOT NULL DEFAULT 0, newest_total_size BIGINT NOT NULL DEFAULT 0
		)`},
		{"storages_entity_idx", `CREATE INDEX IF NOT EXISTS storages_entity_idx ON ` + Storages + `(entity_id)`},
		{"storages_name_idx", `CREATE INDEX IF NOT EXISTS storages_name_idx ON ` + Storages + `(name)`},
		{"entries", `CREATE TABLE IF NOT EXISTS ` + Entries + ` (
			id ` + pk + `,
			uuid_id BIGINT NOT NULL REFERENCES ` + Uuids + `(id),
			entity_id BIGINT NOT NULL REFERENCES ` + Entities + `(id),
			type INTEGER NOT NULL,
			name TEXT NOT NULL,
			time_last_access BIGINT NOT NULL DEFAULT 0,
			time_modified BIGINT NOT NULL DEFAULT 0,
			time_last_changed BIGINT NOT NULL DEFAULT 0,
			file_user TEXT NOT NULL DEFAULT '',
			file_group TEXT NOT NULL DEFAULT '',
			permission INTEGER NOT NULL DEFAULT 0,
			size BIGINT NOT NULL DEFAULT 0,
			deleted ` + boolT + ` NOT NULL DEFAULT 0
		)`},
		naturalKeyIndex(d),
		{"entries_name_idx", `CREATE INDEX IF NOT EXISTS entries_name_idx ON ` + Entries + `(name)`},
		{"file_entries", `CREATE TABLE IF NOT EXISTS ` + FileEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			size BIGINT NOT NULL DEFAULT 0
		)`},
		{"image_entries", `CREATE TABLE IF NOT EXISTS ` + ImageEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			file_system TEXT NOT NULL DEFAULT '',
			block_size BIGINT NOT NULL DEFAULT 0,
			image_size BIGINT NOT NULL DEFAULT 0
		)`},
		{"directory_entries", `CREATE TABLE IF NOT EXISTS ` + DirectoryEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			storage_id BIGINT NOT NULL REFERENCES ` + Storages + `(id),
			total_entry_count BIGINT NOT NULL DEFAULT 0,
			total_entry_size BIGINT NOT NULL DEFAULT 0
		)`},
		{"link_entries", `CREATE TABLE IF NOT EXISTS ` + LinkEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			storage_id BIGINT NOT NULL REFERENCES ` + Storages + `(id),
			destination TEXT NOT NULL DEFAULT ''
		)`},
		{"hardlink_entries", `CREATE TABLE IF NOT EXISTS ` + HardlinkEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			size BIGINT NOT NULL DEFAULT 0
		)`},
		{"special_entries", `CREATE TABLE IF NOT EXISTS ` + SpecialEntries + ` (
			entry_id BIGINT PRIMARY KEY REFERENCES ` + Entries + `(id),
			storage_id BIGINT NOT NULL REFERENCES ` + Storages + `(id),
			special_type INTEGER NOT NULL DEFAULT 0,
			major INTEGER NOT NULL DEFAULT 0,
			minor INTEGER NOT NULL DEFAULT 0
		)`},
		{"entry_fragments", `CREATE TABLE IF NOT EXISTS ` + EntryFragments + ` (
			entry_id BIGINT NOT NULL REFERENCES ` + Entries + `(id),
			storage_id BIGINT NOT NULL REFERENCES ` + Storages + `(id),
			offset_bytes BIGINT NOT NULL,
			size BIGINT NOT NULL,
			PRIMARY KEY (storage_id, entry_id, offset_bytes)
		)`},
		{"entry_fragments_entry_idx", `CREATE INDEX IF NOT EXISTS entry_fragments_entry_idx ON ` + EntryFragments + `(entry_id)`},
		{"entries_newest", `CREATE TABLE IF NOT EXISTS ` + EntriesNewest + ` (
			name TEXT PRIMARY KEY,
			entry_id BIGINT NOT NULL REFERENCES ` + Entries + `(id),
			uuid_id BIGINT NOT NULL,
			entity_id BIGINT NOT NULL,
			type INTEGER NOT NULL,
			file_user TEXT NOT NULL DEFAULT '',
			file_group TEXT NOT NULL DEFAULT '',
			permission INTEGER NOT NULL DEFAULT 0,
			size BIGINT NOT NULL DEFAULT 0,
			time_last_changed BIGINT NOT NULL DEFAULT 0
		)`},
		{"skipped_entries", `CREATE TABLE IF NOT EXISTS ` + SkippedEntries + ` (
			id ` + pk + `,
			entity_id BIGINT NOT NULL REFERENCES ` + Entities + `(id),
			type INTEGER NOT NULL,
			name TEXT NOT NULL
		)`},
	}

	stmts = append(stmts, ftsStatements(d)...)
	return stmts
}

// naturalKeyIndex enforces spec.md §3.1 invariant #4 ((entityId, type,
// name) unique on live entries) at the database level where the
// dialect supports a partial/filtered unique index. SQLite's WHERE
// clause on an index gives an exact match; MySQL and Dolt have no
// partial-index equivalent, so there the uniqueness check instead
// relies on internal/entrywriter's serialized get-or-insert (spec.md
// §4.7: the natural-key lookup runs under a read-write lock), with a
// plain non-unique index here only to make that lookup fast.
func naturalKeyIndex(d Dialect) Statement {
	switch d {
	case DialectSQLite:
		return Statement{"entries_natural_key_idx", `CREATE UNIQUE INDEX IF NOT EXISTS entries_natural_key_idx
			ON ` + Entries + `(entity_id, type, name) WHERE deleted = 0`}
	default:
		return Statement{"entries_natural_key_idx", `CREATE INDEX IF NOT EXISTS entries_natural_key_idx
			ON ` + Entries + `(entity_id, type, name, deleted)`}
	}
}

func autoIncrementPK(d Dialect) string {
	switch d {
	case DialectSQLite:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case DialectMySQL, DialectDolt:
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
}

func boolType(d Dialect) string {
	switch d {
	case DialectSQLite:
		return "INTEGER"
	default:
		return "TINYINT"
	}
}

// ftsStatements returns the FTS shadow table DDL for d, per spec.md
// §4.5's three-way backing split: sqlite gets a dedicated virtual
// table, mysql has no shadow table at all (its FULLTEXT index lives
// directly on the base table's column, added here as an ALTER), and
// dolt gets a plain shadow table holding the pre-tokenized vector
// (internal/fts populates it host-side).
func ftsStatements(d Dialect) []Statement {
	switch d {
	case DialectSQLite:
		return []Statement{
			{"fts_storages", `CREATE VIRTUAL TABLE IF NOT EXISTS ` + FTSStorages + ` USING fts5(name, content='')`},
			{"fts_entries", `CREATE VIRTUAL TABLE IF NOT EXISTS ` + FTSEntries + ` USING fts5(name, content='')`},
		}
	case DialectDolt:
		return []Statement{
			{"fts_storages", `CREATE TABLE IF NOT EXISTS ` + FTSStorages + ` (
				row_id BIGINT PRIMARY KEY,
				tokens TEXT NOT NULL DEFAULT ''
			)`},
			{"fts_entries", `CREATE TABLE IF NOT EXISTS ` + FTSEntries + ` (
				row_id BIGINT PRIMARY KEY,
				tokens TEXT NOT NULL DEFAULT ''
			)`},
			{"fts_storages_tokens_idx", `CREATE INDEX IF NOT EXISTS fts_storages_tokens_idx ON ` + FTSStorages + `(tokens)`},
			{"fts_entries_tokens_idx", `CREATE INDEX IF NOT EXISTS fts_entries_tokens_idx ON ` + FTSEntries + `(tokens)`},
		}
	case DialectMySQL:
		return []Statement{
			{"storages_name_fulltext", `ALTER TABLE ` + Storages + ` ADD FULLTEXT INDEX storages_name_fulltext (name)`},
			{"entries_name_fulltext", `ALTER TABLE ` + Entries + ` ADD FULLTEXT INDEX entries_name_fulltext (name)`},
		}
	default:
		return nil
	}
}
