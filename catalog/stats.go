package catalog

import "context"

// Stats computes per-stream deltas over (range.Min, range.Max]: +meta for
// live rows, -meta for tombstoned rows created at or before range.Min,
// counting only rows whose updated_at falls in the window (spec §4.3).
func (s *Store) Stats(ctx context.Context, r TimeRange) ([]StreamStatsDelta, error) {
	rows, err := s.db.Query(ctx, `
		SELECT org, stream,
		       COUNT(*) FILTER (WHERE deleted=false) -
		         COUNT(*) FILTER (WHERE deleted=true AND created_at <= $1) AS file_num_delta,
		       COALESCE(SUM(records) FILTER (WHERE deleted=false),0) -
		         COALESCE(SUM(records) FILTER (WHERE deleted=true AND created_at <= $1),0) AS records_delta,
		       COALESCE(SUM(original_size) FILTER (WHERE deleted=false),0) -
		         COALESCE(SUM(original_size) FILTER (WHERE deleted=true AND created_at <= $1),0) AS original_delta,
		       COALESCE(SUM(compressed_size) FILTER (WHERE deleted=false),0) -
		         COALESCE(SUM(compressed_size) FILTER (WHERE deleted=true AND created_at <= $1),0) AS compressed_delta,
		       COALESCE(SUM(index_size) FILTER (WHERE deleted=false),0) -
		         COALESCE(SUM(index_size) FILTER (WHERE deleted=true AND created_at <= $1),0) AS index_delta,
		       COALESCE(MIN(min_ts) FILTER (WHERE deleted=false),0) AS min_ts,
		       COALESCE(MAX(max_ts) FILTER (WHERE deleted=false),0) AS max_ts
		FROM file_list
		WHERE updated_at > $1 AND updated_at <= $2
		GROUP BY org, stream`, r.Min, r.Max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StreamStatsDelta
	for rows.Next() {
		var d StreamStatsDelta
		if err := rows.Scan(&d.Org, &d.Stream, &d.FileNumDelta, &d.RecordsDelta,
			&d.OriginalDelta, &d.CompressedDelta, &d.IndexDelta, &d.MinTS, &d.MaxTS); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetStreamStats upserts the accumulated stats row per delta (min_ts/max_ts
// take monotonic max/min with 0-as-unset semantics), then hard-deletes the
// file_list tombstones the window covers, in chunked transactions (spec
// §4.3: "Deletion may iterate because the database may impose per-statement
// row limits").
func (s *Store) SetStreamStats(ctx context.Context, deltas []StreamStatsDelta, r TimeRange) error {
	for _, d := range deltas {
		if err := s.upsertStreamStats(ctx, d); err != nil {
			return err
		}
	}
	return s.deleteTombstonesInWindow(ctx, r)
}

func (s *Store) upsertStreamStats(ctx context.Context, d StreamStatsDelta) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stream_stats
			(org, stream, file_num, min_ts, max_ts, records, original_size, compressed_size, index_size)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (stream) DO UPDATE SET
			file_num = stream_stats.file_num + EXCLUDED.file_num,
			records = stream_stats.records + EXCLUDED.records,
			original_size = stream_stats.original_size + EXCLUDED.original_size,
			compressed_size = stream_stats.compressed_size + EXCLUDED.compressed_size,
			index_size = stream_stats.index_size + EXCLUDED.index_size,
			min_ts = CASE
				WHEN stream_stats.min_ts = 0 THEN EXCLUDED.min_ts
				WHEN EXCLUDED.min_ts = 0 THEN stream_stats.min_ts
				ELSE LEAST(stream_stats.min_ts, EXCLUDED.min_ts)
			END,
			max_ts = GREATEST(stream_stats.max_ts, EXCLUDED.max_ts)`,
		d.Org, d.Stream, d.FileNumDelta, d.MinTS, d.MaxTS,
		d.RecordsDelta, d.OriginalDelta, d.CompressedDelta, d.IndexDelta)
	return err
}

// ResetStreamStats zeroes every stream_stats row in place (spec §4.3's
// reset_stream_stats). Unlike SetStreamStats this is not a delta: every
// aggregate column is forced back to its unset value, for the rare recompute
// path where the rollup is rebuilt from scratch rather than advanced.
func (s *Store) ResetStreamStats(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		UPDATE stream_stats SET
			file_num = 0, min_ts = 0, max_ts = 0, records = 0,
			original_size = 0, compressed_size = 0, index_size = 0`)
	return err
}

// ResetStreamStatsMinTS forces stream's min_ts to minTS (spec §4.3's
// reset_stream_stats_min_ts), then pulls max_ts up to match if the reset
// pushed min_ts past the existing max_ts.
func (s *Store) ResetStreamStatsMinTS(ctx context.Context, stream string, minTS int64) error {
	if _, err := s.db.Exec(ctx, `UPDATE stream_stats SET min_ts = $1 WHERE stream = $2`, minTS, stream); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `UPDATE stream_stats SET max_ts = min_ts WHERE stream = $1 AND max_ts < min_ts`, stream)
	return err
}

const tombstoneDeleteBatch = 1000

// deleteTombstonesInWindow hard-deletes file_list rows with deleted=true
// AND updated_at IN (min,max], iterating because the database may cap rows
// affected per statement.
func (s *Store) deleteTombstonesInWindow(ctx context.Context, r TimeRange) error {
	for {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM file_list WHERE id IN (
				SELECT id FROM file_list
				WHERE deleted=true AND updated_at > $1 AND updated_at <= $2
				LIMIT $3
			)`, r.Min, r.Max, tombstoneDeleteBatch)
		if err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		if tag.RowsAffected() < tombstoneDeleteBatch {
			return nil
		}
	}
}
