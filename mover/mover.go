// Package mover is the WAL-to-storage mover (C5): a single long-running
// task per ingester node that scans the local WAL directory, merges small
// parquet files into larger ones, uploads them, publishes the result to the
// catalog, and hands consumed WAL files to the deletion coordinator (spec
// §4.5).
//
// Workers run as an errgroup of long-lived goroutines fed through a
// channel, one worker per unit of parallelism rather than one goroutine
// per task; the dispatch channel's buffer size of 1 gives natural
// back-pressure on a per-partition basis.
package mover

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openobserve-go/clustercore/catalog"
	"github.com/openobserve-go/clustercore/cmn"
	"github.com/openobserve-go/clustercore/gc"
	"github.com/openobserve-go/clustercore/objstore"
)

// ParquetReader loads per-file metadata and schema. This interface is named
// rather than backed by a concrete parquet/Arrow codec here: the concrete
// implementation is out of this core's scope (spec §1 Non-goals:
// "parquet/Arrow internals").
type ParquetReader interface {
	ReadMeta(path string) (catalog.FileMeta, error)
	Schema(path string) ([]string, error)
}

// Merger produces one sorted-by-time output file from a set of inputs under
// the schema the mover has already unioned (spec §4.5 merge_files steps 3-4). A single output is
// required; multiple outputs are a caller-side programming error.
type Merger interface {
	Merge(ctx context.Context, files []string, schema []string) (data []byte, meta catalog.FileMeta, err error)
}

// IndexBuilder builds a Tantivy-style inverted index over a merged file
// when InvertedIndexEnable is set and relevant fields exist (spec §4.5 step
// 5). Returns the index's byte size for FileMeta.IndexSize.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, data []byte, schema []string) (indexSize int64, err error)
}

// StreamState answers the two per-stream questions move_files needs before
// merging: is the stream being retention-dropped, and what is its current
// field schema (spec §4.5: "If the stream is currently being
// retention-dropped ... Load latest schema; if zero fields ... same
// treatment").
type StreamState interface {
	IsRetentionDropping(org, streamType, stream string) bool
	Schema(org, streamType, stream string) ([]string, error)
}

type Config struct {
	cmn.MoverConf
	WALDir string
}

// Publisher is the catalog.Store surface move_files needs to publish a
// merged file (spec §4.5 step 6, "db::file_list::set"). Narrowed to just
// what this consumer needs so tests run against a fake rather than a live
// Postgres.
type Publisher interface {
	Add(ctx context.Context, org string, fk catalog.FileKey) (int64, error)
}

var _ Publisher = (*catalog.Store)(nil)

// Mover owns the process-wide processing_files set (spec §4.5: "C5 owns
// the set of files-currently-being-processed"), the pending-delete sweep,
// and the discovery→prepare→dispatch pipeline feeding move_files workers.
type Mover struct {
	cfg      Config
	catalog  Publisher
	objects  objstore.Client
	gcCoord  *gc.Coordinator
	reader   ParquetReader
	merger   Merger
	index    IndexBuilder // nil disables inverted indexing regardless of config
	streams  StreamState
	fs       FileSystem

	mu         sync.Mutex
	processing map[string]struct{}
}

// FileSystem is the local-disk surface move_files needs: stat for creation
// time, unlink for consumed WAL files, and (when cache_latest_files is
// enabled) writing the warm-cache copy of a freshly merged file. Narrowed
// to an interface so tests run against an in-memory stand-in rather than a
// real WAL directory.
type FileSystem interface {
	Stat(path string) (createdAt time.Time, size int64, err error)
	Remove(path string) error
	ListParquet(root string) ([]string, error)
	WriteCache(path string, data []byte) error
}

func New(cfg Config, store Publisher, objects objstore.Client, coord *gc.Coordinator,
	reader ParquetReader, merger Merger, index IndexBuilder, streams StreamState, fsys FileSystem) *Mover {
	return &Mover{
		cfg:        cfg,
		catalog:    store,
		objects:    objects,
		gcCoord:    coord,
		reader:     reader,
		merger:     merger,
		index:      index,
		streams:    streams,
		fs:         fsys,
		processing: make(map[string]struct{}),
	}
}

func (m *Mover) markProcessing(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processing[path]; ok {
		return false
	}
	m.processing[path] = struct{}{}
	return true
}

func (m *Mover) unmarkProcessing(path string) {
	m.mu.Lock()
	delete(m.processing, path)
	m.mu.Unlock()
}

func (m *Mover) isProcessing(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processing[path]
	return ok
}

// Run drives one scan cycle per PushInterval until ctx is cancelled: sweep,
// discover, prepare, dispatch (spec §4.5 pipeline steps 1-4). Each
// partition's move_files executes on a pool of MoveThreadNum workers fed
// through a buffer-1 channel, mirroring JoggerGroup's errgroup-of-workers
// shape.
func (m *Mover) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.runCycle(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func (m *Mover) runCycle(ctx context.Context) error {
	m.sweepPendingDelete(ctx)

	batches, err := m.discoverAndPrepare(ctx)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	dispatch := make(chan partitionBatch, 1)

	workers := m.cfg.MoveThreadNum
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case batch, ok := <-dispatch:
					if !ok {
						return nil
					}
					m.moveFiles(gctx, batch)
				}
			}
		})
	}

	for _, b := range batches {
		select {
		case dispatch <- b:
		case <-gctx.Done():
			close(dispatch)
			return g.Wait()
		}
	}
	close(dispatch)
	return g.Wait()
}

// sweepPendingDelete is spec §4.5 step 1: for each pending-delete entry, if
// no reader lock exists, unlink, drop from processing_files, dequeue. The
// mover keeps no parquet-metadata cache, so there is none to drop.
func (m *Mover) sweepPendingDelete(_ context.Context) {
	for _, pf := range m.gcCoord.ListPendingDelete() {
		if m.gcCoord.IsLocked(pf.File) {
			continue
		}
		if !m.gcCoord.StartRemoving(pf.File) {
			continue
		}
		if err := m.fs.Remove(pf.File); err != nil {
			_ = m.gcCoord.AbortRemoving(pf.Org, pf.Account, pf.File)
			continue
		}
		m.unmarkProcessing(pf.File)
		_ = m.gcCoord.DequeueFromDeletion(pf.File)
		m.gcCoord.CompleteRemoval(pf.File)
	}
}
