package catalog

import (
	"context"
	"strings"
)

const createFileList = `
CREATE TABLE IF NOT EXISTS file_list (
	id               BIGSERIAL PRIMARY KEY,
	account          TEXT NOT NULL,
	org              TEXT NOT NULL,
	stream           TEXT NOT NULL,
	date             TEXT NOT NULL,
	file             TEXT NOT NULL,
	min_ts           BIGINT NOT NULL,
	max_ts           BIGINT NOT NULL,
	records          BIGINT NOT NULL,
	original_size    BIGINT NOT NULL,
	compressed_size  BIGINT NOT NULL,
	index_size       BIGINT NOT NULL,
	flattened        BOOLEAN NOT NULL DEFAULT false,
	deleted          BOOLEAN NOT NULL DEFAULT false,
	created_at       BIGINT NOT NULL,
	updated_at       BIGINT NOT NULL
)`

const createFileListHistory = `
CREATE TABLE IF NOT EXISTS file_list_history (
	id               BIGSERIAL PRIMARY KEY,
	account          TEXT NOT NULL,
	org              TEXT NOT NULL,
	stream           TEXT NOT NULL,
	date             TEXT NOT NULL,
	file             TEXT NOT NULL,
	min_ts           BIGINT NOT NULL,
	max_ts           BIGINT NOT NULL,
	records          BIGINT NOT NULL,
	original_size    BIGINT NOT NULL,
	compressed_size  BIGINT NOT NULL,
	index_size       BIGINT NOT NULL,
	flattened        BOOLEAN NOT NULL DEFAULT false,
	deleted          BOOLEAN NOT NULL DEFAULT false,
	created_at       BIGINT NOT NULL,
	updated_at       BIGINT NOT NULL
)`

const createFileListDeleted = `
CREATE TABLE IF NOT EXISTS file_list_deleted (
	id          BIGSERIAL PRIMARY KEY,
	account     TEXT NOT NULL,
	org         TEXT NOT NULL,
	stream      TEXT NOT NULL,
	date        TEXT NOT NULL,
	file        TEXT NOT NULL,
	index_file  TEXT NOT NULL,
	flattened   BOOLEAN NOT NULL DEFAULT false,
	created_at  BIGINT NOT NULL
)`

const createFileListJobs = `
CREATE TABLE IF NOT EXISTS file_list_jobs (
	id          BIGSERIAL PRIMARY KEY,
	org         TEXT NOT NULL,
	stream_type TEXT NOT NULL,
	stream      TEXT NOT NULL,
	offsets     BIGINT NOT NULL,
	status      SMALLINT NOT NULL,
	node        TEXT NOT NULL DEFAULT '',
	started_at  BIGINT NOT NULL DEFAULT 0,
	updated_at  BIGINT NOT NULL DEFAULT 0,
	dumped      BOOLEAN NOT NULL DEFAULT false
)`

const createStreamStats = `
CREATE TABLE IF NOT EXISTS stream_stats (
	org             TEXT NOT NULL,
	stream          TEXT NOT NULL,
	file_num        BIGINT NOT NULL DEFAULT 0,
	min_ts          BIGINT NOT NULL DEFAULT 0,
	max_ts          BIGINT NOT NULL DEFAULT 0,
	records         BIGINT NOT NULL DEFAULT 0,
	original_size   BIGINT NOT NULL DEFAULT 0,
	compressed_size BIGINT NOT NULL DEFAULT 0,
	index_size      BIGINT NOT NULL DEFAULT 0
)`

var createTables = []string{
	createFileList, createFileListHistory, createFileListDeleted,
	createFileListJobs, createStreamStats,
}

// idempotent index creation, spec §4.3: "created at startup".
var createIndices = []struct {
	name, table, ddl string
}{
	{"file_list_org_idx", "file_list", "CREATE INDEX IF NOT EXISTS file_list_org_idx ON file_list (org)"},
	{"file_list_stream_ts_idx", "file_list", "CREATE INDEX IF NOT EXISTS file_list_stream_ts_idx ON file_list (stream, max_ts, min_ts)"},
	{"file_list_stream_date_idx", "file_list", "CREATE INDEX IF NOT EXISTS file_list_stream_date_idx ON file_list (stream, date)"},
	{"file_list_updated_deleted_idx", "file_list", "CREATE INDEX IF NOT EXISTS file_list_updated_deleted_idx ON file_list (updated_at, deleted)"},

	{"file_list_history_org_idx", "file_list_history", "CREATE INDEX IF NOT EXISTS file_list_history_org_idx ON file_list_history (org)"},
	{"file_list_history_stream_ts_idx", "file_list_history", "CREATE INDEX IF NOT EXISTS file_list_history_stream_ts_idx ON file_list_history (stream, max_ts, min_ts)"},
	{"file_list_history_stream_date_idx", "file_list_history", "CREATE INDEX IF NOT EXISTS file_list_history_stream_date_idx ON file_list_history (stream, date)"},
	{"file_list_history_updated_deleted_idx", "file_list_history", "CREATE INDEX IF NOT EXISTS file_list_history_updated_deleted_idx ON file_list_history (updated_at, deleted)"},

	{"file_list_deleted_org_created_idx", "file_list_deleted", "CREATE INDEX IF NOT EXISTS file_list_deleted_org_created_idx ON file_list_deleted (org, created_at)"},
	{"file_list_deleted_sdf_idx", "file_list_deleted", "CREATE INDEX IF NOT EXISTS file_list_deleted_sdf_idx ON file_list_deleted (stream, date, file)"},

	{"file_list_jobs_status_stream_idx", "file_list_jobs", "CREATE INDEX IF NOT EXISTS file_list_jobs_status_stream_idx ON file_list_jobs (status, stream)"},
	{"file_list_jobs_stream_offsets_uidx", "file_list_jobs", "CREATE UNIQUE INDEX IF NOT EXISTS file_list_jobs_stream_offsets_uidx ON file_list_jobs (stream, offsets)"},

	{"stream_stats_org_idx", "stream_stats", "CREATE INDEX IF NOT EXISTS stream_stats_org_idx ON stream_stats (org)"},
	{"stream_stats_stream_uidx", "stream_stats", "CREATE UNIQUE INDEX IF NOT EXISTS stream_stats_stream_uidx ON stream_stats (stream)"},
}

const fileListUniqueIdxName = "file_list_stream_date_file_uidx"
const fileListHistoryUniqueIdxName = "file_list_history_stream_date_file_uidx"

// EnsureSchema creates tables and indices idempotently, matching spec
// §4.3's startup sequence, including the legacy-duplicate recovery path
// for the (stream, date, file) unique index: if creation fails because of
// existing duplicates, the smallest-id row per group is kept, duplicates
// are deleted, and creation is retried once.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range createTables {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	for _, idx := range createIndices {
		if _, err := s.db.Exec(ctx, idx.ddl); err != nil {
			return err
		}
	}
	if err := s.ensureUniqueIndex(ctx, fileListUniqueIdxName, "file_list"); err != nil {
		return err
	}
	if err := s.ensureUniqueIndex(ctx, fileListHistoryUniqueIdxName, "file_list_history"); err != nil {
		return err
	}
	return nil
}

func (s *Store) ensureUniqueIndex(ctx context.Context, name, table string) error {
	ddl := "CREATE UNIQUE INDEX IF NOT EXISTS " + name + " ON " + table + " (stream, date, file)"
	_, err := s.db.Exec(ctx, ddl)
	if err == nil {
		return nil
	}
	// Legacy duplicates block the unique index: keep the smallest id per
	// (stream, date, file) group, delete the rest, retry once.
	dedupe := "DELETE FROM " + table + " t1 USING " + table + " t2 " +
		"WHERE t1.stream = t2.stream AND t1.date = t2.date AND t1.file = t2.file AND t1.id > t2.id"
	if _, derr := s.db.Exec(ctx, dedupe); derr != nil {
		return derr
	}
	_, err = s.db.Exec(ctx, ddl)
	return err
}

// AddColumn is the migration helper from spec §4.3: checks
// information_schema before ALTER TABLE ADD COLUMN IF NOT EXISTS, and
// swallows "duplicate column" errors.
func (s *Store) AddColumn(ctx context.Context, table, column, coltype string) error {
	var exists bool
	row := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2)`,
		table, column)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err := s.db.Exec(ctx, "ALTER TABLE "+table+" ADD COLUMN IF NOT EXISTS "+column+" "+coltype)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return nil
	}
	return err
}

// fileDate derives the unique-index "date" component from a storage key of
// shape files/{org}/{stream_type}/{stream}/{YYYY}/{MM}/{DD}/{HH}/{rand}.parquet.
func fileDate(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) < 8 {
		return ""
	}
	// parts: ["files", org, stream_type, stream, YYYY, MM, DD, HH, rand.parquet]
	return strings.Join(parts[4:8], "/")
}
