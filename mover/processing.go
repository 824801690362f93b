package mover

import (
	"context"

	"github.com/openobserve-go/clustercore/catalog"
)

// preparedFile is a WALFile that survived the prepare step: not already
// processing, non-empty metadata loaded, marked in processing_files.
type preparedFile struct {
	WALFile
	Meta      catalog.FileMeta
	Account   string
	CreatedAt int64 // unix seconds, for the retention-time comparison
}

// discoverAndPrepare is spec §4.5 steps 2-4: walk the WAL dir, group by
// partition, and for each file skip-if-processing / load-meta /
// delete-if-empty / mark-processing, producing the batches ready to
// dispatch. Limited to PushLimit files per cycle.
func (m *Mover) discoverAndPrepare(ctx context.Context) ([]partitionBatch, error) {
	paths, err := m.fs.ListParquet(m.cfg.WALDir)
	if err != nil {
		return nil, err
	}
	if limit := m.cfg.PushLimit; limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	groups := groupByPartition(paths)
	var batches []partitionBatch
	for _, partition := range sortedPartitions(groups) {
		files := groups[partition]
		prepared := m.prepareFiles(ctx, files)
		if len(prepared) == 0 {
			continue
		}
		batches = append(batches, partitionBatch{
			partition:  partition,
			org:        files[0].Org,
			streamType: files[0].StreamType,
			stream:     files[0].Stream,
			files:      prepared,
		})
	}
	return batches, nil
}

func (m *Mover) prepareFiles(_ context.Context, files []WALFile) []preparedFile {
	out := make([]preparedFile, 0, len(files))
	for _, wf := range files {
		if m.isProcessing(wf.Path) {
			continue
		}
		meta, err := m.reader.ReadMeta(wf.Path)
		if err != nil {
			continue // transient read error: retried next cycle
		}
		if meta.IsEmpty() {
			_ = m.fs.Remove(wf.Path)
			continue
		}
		if !m.markProcessing(wf.Path) {
			continue // lost a race with a concurrent prepare pass
		}
		createdAt, _, err := m.fs.Stat(wf.Path)
		if err != nil {
			m.unmarkProcessing(wf.Path)
			continue
		}
		out = append(out, preparedFile{
			WALFile:   wf,
			Meta:      meta,
			Account:   wf.Account,
			CreatedAt: createdAt.Unix(),
		})
	}
	return out
}
