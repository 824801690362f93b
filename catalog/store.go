package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/openobserve-go/clustercore/cmn"
)

// Store is the relational file-list catalog (spec §4.3, component C3) and
// merge-job queue (spec §4.4, component C4) — they share one transactional
// substrate, so one Store backs both.
type Store struct {
	db  DB
	cfg cmn.CatalogConf

	// keyLocks serializes query_deleted's per-key advisory section so two
	// goroutines inside the same process don't race on the same org's
	// visibility-timeout refresh; cross-process serialization is still the
	// database transaction's job.
	keyLocks sync.Map // string -> *sync.Mutex
}

func NewStore(db DB, cfg cmn.CatalogConf) *Store {
	return &Store{db: db, cfg: cfg}
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Add inserts (account, key, meta) and returns the new id, or 0 if the row
// already existed (spec §4.3: "insert-or-noop on unique conflict").
func (s *Store) Add(ctx context.Context, org string, fk FileKey) (int64, error) {
	date := fileDate(fk.Key)
	now := nowMicros()
	row := s.db.QueryRow(ctx, `
		INSERT INTO file_list
			(account, org, stream, date, file, min_ts, max_ts, records,
			 original_size, compressed_size, index_size, flattened, deleted,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,$13,$13)
		ON CONFLICT (stream, date, file) DO NOTHING
		RETURNING id`,
		fk.Account, org, streamOf(fk.Key), date, fk.Key,
		fk.Meta.MinTS, fk.Meta.MaxTS, fk.Meta.Records,
		fk.Meta.OriginalSize, fk.Meta.CompressedSize, fk.Meta.IndexSize,
		fk.Meta.Flattened, now)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil // conflict: row already existed (spec §7 kind 2)
		}
		return 0, err
	}
	return id, nil
}

// streamOf extracts the stream name from a storage key
// (files/{org}/{stream_type}/{stream}/...).
func streamOf(key string) string {
	parts := splitN(key, "/", 5)
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

func splitN(s, sep string, n int) []string {
	out := make([]string, 0, n)
	for len(out) < n-1 {
		idx := indexOf(s, sep)
		if idx < 0 {
			break
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
	}
	out = append(out, s)
	return out
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// BatchAdd upserts files in chunks of <=100, one transaction per chunk
// (spec §4.3). Files marked Deleted=true flip the tombstone bit on
// existing rows; others are upserted.
func (s *Store) BatchAdd(ctx context.Context, org string, files []FileKey) error {
	return s.batchAddInto(ctx, org, files, "file_list")
}

func (s *Store) BatchAddHistory(ctx context.Context, org string, files []FileKey) error {
	return s.batchAddInto(ctx, org, files, "file_list_history")
}

func (s *Store) batchAddInto(ctx context.Context, org string, files []FileKey, table string) error {
	for _, batch := range chunk(files, 100) {
		if err := s.batchAddChunk(ctx, org, batch, table); err != nil {
			return fmt.Errorf("batch_add into %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) batchAddChunk(ctx context.Context, org string, files []FileKey, table string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := nowMicros()
	for _, fk := range files {
		date := fileDate(fk.Key)
		if fk.Deleted {
			if _, err := tx.Exec(ctx,
				"UPDATE "+table+" SET deleted=true, updated_at=$1 WHERE stream=$2 AND date=$3 AND file=$4",
				now, streamOf(fk.Key), date, fk.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO `+table+`
				(account, org, stream, date, file, min_ts, max_ts, records,
				 original_size, compressed_size, index_size, flattened, deleted,
				 created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,$13,$13)
			ON CONFLICT (stream, date, file) DO UPDATE SET
				min_ts=EXCLUDED.min_ts, max_ts=EXCLUDED.max_ts,
				records=EXCLUDED.records, original_size=EXCLUDED.original_size,
				compressed_size=EXCLUDED.compressed_size, index_size=EXCLUDED.index_size,
				flattened=EXCLUDED.flattened, deleted=false, updated_at=EXCLUDED.updated_at`,
			fk.Account, org, streamOf(fk.Key), date, fk.Key,
			fk.Meta.MinTS, fk.Meta.MaxTS, fk.Meta.Records,
			fk.Meta.OriginalSize, fk.Meta.CompressedSize, fk.Meta.IndexSize,
			fk.Meta.Flattened, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// BatchAddDeleted bulk-appends tombstones, chunk size 100, per-chunk
// transaction (spec §4.3).
func (s *Store) BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []DeletedFile) error {
	for _, batch := range chunk(files, 100) {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return err
		}
		for _, f := range batch {
			stream := streamOf(f.File)
			if _, err := tx.Exec(ctx, `
				INSERT INTO file_list_deleted (account, org, stream, date, file, index_file, flattened, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				f.Account, org, stream, fileDate(f.File), f.File, f.IndexFile, f.Flattened, createdAt); err != nil {
				tx.Rollback(ctx) //nolint:errcheck
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Remove soft-deletes a file: sets deleted=true. Physical deletion is
// deferred to SetStreamStats's window-bounded hard delete (spec §4.3).
func (s *Store) Remove(ctx context.Context, file string) error {
	_, err := s.db.Exec(ctx, "UPDATE file_list SET deleted=true, updated_at=$1 WHERE file=$2", nowMicros(), file)
	return err
}

// QueryOpts narrows a Query call.
type QueryOpts struct {
	Range     TimeRange
	Flattened *bool
	MaxRetention time.Duration // extends time_end to bound the max_ts upper edge
}

// Query returns non-tombstoned rows whose [min_ts,max_ts] intersects the
// requested range (spec §4.3). An empty TimeRange short-circuits to
// nothing (spec §8). Ranges over 1 day and <=30 days fan out per-day in
// parallel; longer or shorter ranges run as one query.
func (s *Store) Query(ctx context.Context, org, streamType, name string, opts QueryOpts) ([]FileKey, error) {
	if opts.Range.IsEmpty() {
		return nil, nil
	}
	day := 24 * time.Hour
	span := time.Duration(opts.Range.Max-opts.Range.Min) * time.Microsecond
	if span > day && span <= 30*day {
		return s.queryShardedByDay(ctx, org, name, opts)
	}
	return s.queryOne(ctx, org, name, opts)
}

func (s *Store) queryShardedByDay(ctx context.Context, org, name string, opts QueryOpts) ([]FileKey, error) {
	day := int64(24 * time.Hour / time.Microsecond)
	type result struct {
		files []FileKey
		err   error
	}
	var starts []int64
	for t := opts.Range.Min; t < opts.Range.Max; t += day {
		starts = append(starts, t)
	}
	results := make([]result, len(starts))
	var wg sync.WaitGroup
	for i, start := range starts {
		end := start + day
		if end > opts.Range.Max {
			end = opts.Range.Max
		}
		wg.Add(1)
		go func(i int, start, end int64) {
			defer wg.Done()
			sub := opts
			sub.Range = TimeRange{Min: start, Max: end}
			files, err := s.queryOne(ctx, org, name, sub)
			results[i] = result{files: files, err: err}
		}(i, start, end)
	}
	wg.Wait()
	var out []FileKey
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, r.files...)
	}
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, org, name string, opts QueryOpts) ([]FileKey, error) {
	maxTSUpperBound := opts.Range.Max
	if opts.MaxRetention > 0 {
		maxTSUpperBound += int64(opts.MaxRetention / time.Microsecond)
	}
	sqlStr := `
		SELECT id, account, file, min_ts, max_ts, records, original_size,
		       compressed_size, index_size, flattened, deleted
		FROM file_list
		WHERE org=$1 AND stream=$2 AND deleted=false
		  AND max_ts >= $3 AND min_ts <= $4 AND max_ts <= $5`
	args := []interface{}{org, name, opts.Range.Min, opts.Range.Max, maxTSUpperBound}
	if opts.Flattened != nil {
		sqlStr += " AND flattened=$6"
		args = append(args, *opts.Flattened)
	}
	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFileKeys(rows)
}

// QueryByIDs chunk-selects rows by id.
func (s *Store) QueryByIDs(ctx context.Context, ids []int64) ([]FileKey, error) {
	var out []FileKey
	for _, batch := range chunk(ids, 100) {
		rows, err := s.db.Query(ctx, `
			SELECT id, account, file, min_ts, max_ts, records, original_size,
			       compressed_size, index_size, flattened, deleted
			FROM file_list WHERE id = ANY($1)`, batch)
		if err != nil {
			return nil, err
		}
		fks, err := scanFileKeys(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, fks...)
	}
	return out, nil
}

func scanFileKeys(rows pgx.Rows) ([]FileKey, error) {
	var out []FileKey
	for rows.Next() {
		var fk FileKey
		if err := rows.Scan(&fk.ID, &fk.Account, &fk.Key, &fk.Meta.MinTS, &fk.Meta.MaxTS,
			&fk.Meta.Records, &fk.Meta.OriginalSize, &fk.Meta.CompressedSize, &fk.Meta.IndexSize,
			&fk.Meta.Flattened, &fk.Deleted); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// QueryDeleted selects up to limit tombstones older than timeMax, refreshes
// their created_at as a visibility timeout, and commits — all inside one
// transaction. If the UPDATE doesn't affect exactly the expected number of
// rows, the whole thing rolls back and an empty list is returned (spec
// §4.3).
func (s *Store) QueryDeleted(ctx context.Context, org string, timeMax int64, limit int) ([]DeletedFile, error) {
	lock := s.lockFor("query_deleted:" + org)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT id, account, file, index_file, flattened, created_at
		FROM file_list_deleted
		WHERE org=$1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE`, org, timeMax, limit)
	if err != nil {
		return nil, err
	}
	var (
		out []DeletedFile
		ids []int64
	)
	for rows.Next() {
		var d DeletedFile
		if err := rows.Scan(&d.ID, &d.Account, &d.File, &d.IndexFile, &d.Flattened, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
		ids = append(ids, d.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, tx.Commit(ctx)
	}

	now := nowMicros()
	tag, err := tx.Exec(ctx, "UPDATE file_list_deleted SET created_at=$1 WHERE id = ANY($2)", now, ids)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return nil, nil // rollback via defer; spec: "empty list returned"
	}
	for i := range out {
		out[i].CreatedAt = now
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMinTS returns the smallest min_ts among non-tombstoned rows for stream.
func (s *Store) GetMinTS(ctx context.Context, org, stream string) (int64, error) {
	row := s.db.QueryRow(ctx, "SELECT COALESCE(MIN(min_ts),0) FROM file_list WHERE org=$1 AND stream=$2 AND deleted=false", org, stream)
	var ts int64
	err := row.Scan(&ts)
	return ts, err
}
