package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openobserve-go/clustercore/cmn"
)

// jobsLockKey names the advisory lock serializing get_pending_jobs claims
// across every compactor process (spec §4.4). Postgres's own hashtext()
// reduces it to the int64 pg_advisory_xact_lock wants — no client-side
// hashing needed, unlike the MySQL GET_LOCK() string-keyed variant
// original_source/infra/file_list/mysql.rs uses for the same purpose.
const jobsLockKey = "file_list_jobs:get_pending_jobs"

// AddJob upserts into file_list_jobs unique on (stream, offsets). If a row
// already exists and is Done, it is flipped back to Pending and its id
// returned — an idempotent retry re-queue (spec §4.4).
func (s *Store) AddJob(ctx context.Context, org, streamType, stream string, offset int64) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, "SELECT id, status FROM file_list_jobs WHERE stream=$1 AND offsets=$2 FOR UPDATE", stream, offset)
	var (
		id     int64
		status JobStatus
	)
	err = row.Scan(&id, &status)
	switch {
	case err == nil:
		if status == JobDone {
			if _, err := tx.Exec(ctx, "UPDATE file_list_jobs SET status=$1, updated_at=$2 WHERE id=$3", JobPending, nowMicros(), id); err != nil {
				return 0, err
			}
		}
		return id, tx.Commit(ctx)
	case isNoRows(err):
		now := nowMicros()
		insertRow := tx.QueryRow(ctx, `
			INSERT INTO file_list_jobs (org, stream_type, stream, offsets, status, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			org, streamType, stream, offset, JobPending, now)
		if err := insertRow.Scan(&id); err != nil {
			return 0, err
		}
		return id, tx.Commit(ctx)
	default:
		return 0, err
	}
}

// GetPendingJobs claims up to limit pending jobs for node, serialized by a
// named advisory lock (spec §4.4 steps 1-5). Any failure between steps 2-4
// rolls back the claim; the lock releases on every path.
func (s *Store) GetPendingJobs(ctx context.Context, node string, limit int) ([]MergeJob, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if t := s.cfg.TransactionLockTimeout; t > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", t.Milliseconds())); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", jobsLockKey); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "55P03" { // lock_not_available
			return nil, &cmn.ErrLockTimeout{Lock: jobsLockKey, Timeout: s.cfg.TransactionLockTimeout.String()}
		}
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT stream, MAX(id) AS id, COUNT(*) AS num
		FROM file_list_jobs
		WHERE status=$1
		GROUP BY stream
		ORDER BY num DESC
		LIMIT $2`, JobPending, limit)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var (
			stream string
			id     int64
			num    int64
		)
		if err := rows.Scan(&stream, &id, &num); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	now := nowMicros()
	if _, err := tx.Exec(ctx, `
		UPDATE file_list_jobs SET status=$1, node=$2, started_at=$3, updated_at=$3
		WHERE id = ANY($4)`, JobRunning, node, now, ids); err != nil {
		return nil, err
	}

	jobRows, err := tx.Query(ctx, `
		SELECT id, org, stream_type, stream, offsets, status, node, started_at, updated_at, dumped
		FROM file_list_jobs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(jobRows)
	jobRows.Close()
	if err != nil {
		return nil, err
	}
	return jobs, tx.Commit(ctx)
}

func scanJobs(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]MergeJob, error) {
	var out []MergeJob
	for rows.Next() {
		var j MergeJob
		if err := rows.Scan(&j.ID, &j.Org, &j.StreamType, &j.Stream, &j.Offsets,
			&j.Status, &j.Node, &j.StartedAt, &j.UpdatedAt, &j.Dumped); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetJobDone marks ids Done; dumped is false iff dumping is enabled (so a
// later dump pass can still pick the row up).
func (s *Store) SetJobDone(ctx context.Context, ids []int64) error {
	dumped := !s.cfg.DumpEnabled
	_, err := s.db.Exec(ctx, "UPDATE file_list_jobs SET status=$1, updated_at=$2, dumped=$3 WHERE id = ANY($4)",
		JobDone, nowMicros(), dumped, ids)
	return err
}

// SetJobPending resets ids back to Pending (used by the idempotence law:
// set_job_done([id]); set_job_pending([id]); get_pending_jobs returns it).
func (s *Store) SetJobPending(ctx context.Context, ids []int64) error {
	_, err := s.db.Exec(ctx, "UPDATE file_list_jobs SET status=$1, updated_at=$2 WHERE id = ANY($3)",
		JobPending, nowMicros(), ids)
	return err
}

// CheckRunningJobs resurrects jobs whose owner died: Running rows not
// updated since before are reset to Pending.
func (s *Store) CheckRunningJobs(ctx context.Context, before int64) error {
	_, err := s.db.Exec(ctx, "UPDATE file_list_jobs SET status=$1 WHERE status=$2 AND updated_at < $3",
		JobPending, JobRunning, before)
	return err
}

// UpdateRunningJobs refreshes updated_at for jobs a still-alive node owns,
// so CheckRunningJobs doesn't treat them as abandoned.
func (s *Store) UpdateRunningJobs(ctx context.Context, node string) error {
	_, err := s.db.Exec(ctx, "UPDATE file_list_jobs SET updated_at=$1 WHERE status=$2 AND node=$3",
		nowMicros(), JobRunning, node)
	return err
}

// CleanDoneJobs deletes Done+dumped rows older than before.
func (s *Store) CleanDoneJobs(ctx context.Context, before int64) error {
	_, err := s.db.Exec(ctx, "DELETE FROM file_list_jobs WHERE status=$1 AND updated_at < $2 AND dumped=true",
		JobDone, before)
	return err
}

// GetPendingDumpJobs selects finalized-but-undumped jobs (SPEC_FULL
// supplement #4, from original_source/job/files/parquet_manager.rs): the
// spec names the `dumped` bit but not this query.
func (s *Store) GetPendingDumpJobs(ctx context.Context, limit int) ([]MergeJob, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, org, stream_type, stream, offsets, status, node, started_at, updated_at, dumped
		FROM file_list_jobs WHERE status=$1 AND dumped=false LIMIT $2`, JobDone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) SetJobDumpedStatus(ctx context.Context, ids []int64, dumped bool) error {
	_, err := s.db.Exec(ctx, "UPDATE file_list_jobs SET dumped=$1 WHERE id = ANY($2)", dumped, ids)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
