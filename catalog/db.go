package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool / pgx.Tx this package needs. Kept
// narrow so tests can exercise the pure chunking/aggregation logic against
// a stub without standing up Postgres, and so Store itself doesn't care
// whether it's driving a Pool or a Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DB additionally supports starting a transaction, as required by
// query_deleted, batch_add's chunked commits, and the C4 job-claim step.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// chunk splits xs into groups of at most size, per spec §4.3's "chunks of
// <=100" rule used by batch_add/batch_add_history/batch_add_deleted and
// the chunked tombstone-deletion/id-list scans.
func chunk[T any](xs []T, size int) [][]T {
	if size <= 0 {
		size = len(xs)
	}
	var out [][]T
	for len(xs) > 0 {
		n := size
		if n > len(xs) {
			n = len(xs)
		}
		out = append(out, xs[:n])
		xs = xs[n:]
	}
	return out
}
