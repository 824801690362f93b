package mover

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openobserve-go/clustercore/catalog"
	"github.com/openobserve-go/clustercore/cmn"
)

var logger = cmn.NewLogger("mover")

// moveFiles is the per-partition worker (spec §4.5 "move_files"). Each
// call owns one partition's prepared files end to end: retention check,
// schema check, threshold check, then merge_files until nothing remains.
func (m *Mover) moveFiles(ctx context.Context, b partitionBatch) {
	releaseAll := func() {
		for _, f := range b.files {
			m.unmarkProcessing(f.Path)
		}
	}

	if m.streams.IsRetentionDropping(b.org, b.streamType, b.stream) {
		m.deleteWALFilesDirectly(b.files)
		return
	}

	schema, err := m.streams.Schema(b.org, b.streamType, b.stream)
	if err != nil {
		logger.Error().Err(err).Str("partition", b.partition).Msg("load schema")
		releaseAll()
		return
	}
	if len(schema) == 0 {
		// Stream deleted: same treatment as retention-dropping.
		m.deleteWALFilesDirectly(b.files)
		return
	}

	files := append([]preparedFile(nil), b.files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Meta.MinTS < files[j].Meta.MinTS })

	if !m.crossesMergeThreshold(files) {
		releaseAll()
		return
	}

	for len(files) > 0 {
		var n int
		n, err = m.mergeFiles(ctx, b.org, b.streamType, b.stream, files, schema)
		if err != nil {
			logger.Error().Err(err).Str("partition", b.partition).Msg("merge_files")
			// Fatal: leave the remainder in processing_files for retry
			// (spec §4.5: "Errors in step 5 propagate as fatal").
			return
		}
		if n == 0 {
			return
		}
		files = files[n:]
	}
}

// crossesMergeThreshold is the abort check before the merge_files loop
// starts: proceed only if the partition is big enough, wide enough, or old
// enough to be worth merging now (spec §4.5).
func (m *Mover) crossesMergeThreshold(files []preparedFile) bool {
	var (
		totalSize   int64
		oldestFile  bool
		retentionAt = time.Now().Add(-m.cfg.MaxRetention)
		paths       = make([]string, len(files))
	)
	for i, f := range files {
		totalSize += f.Meta.OriginalSize
		paths[i] = f.Path
		if time.Unix(f.CreatedAt, 0).Before(retentionAt) {
			oldestFile = true
		}
	}
	fieldCount := len(unionSchema(nil, m.readSchemas(paths)))
	return totalSize >= mergeThreshold(m.cfg) || fieldCount >= m.cfg.FieldsLimit || oldestFile
}

func mergeThreshold(cfg Config) int64 {
	if cfg.MaxFileSizeOnDisk < cfg.CompactMaxFileSize {
		return cfg.MaxFileSizeOnDisk
	}
	return cfg.CompactMaxFileSize
}

// mergeFiles takes a size/field-limited prefix of files, merges them into
// one output, publishes it, and resolves each input's fate (spec §4.5
// merge_files steps 1-7). Returns how many leading files it consumed.
func (m *Mover) mergeFiles(ctx context.Context, org, streamType, stream string, files []preparedFile, baseSchema []string) (int, error) {
	n := m.takePrefix(files)
	batch := files[:n]

	var minTS, maxTS, records, originalSize int64
	minTS = batch[0].Meta.MinTS
	paths := make([]string, len(batch))
	for i, f := range batch {
		paths[i] = f.Path
		records += f.Meta.Records
		originalSize += f.Meta.OriginalSize
		if f.Meta.MinTS < minTS {
			minTS = f.Meta.MinTS
		}
		if f.Meta.MaxTS > maxTS {
			maxTS = f.Meta.MaxTS
		}
	}
	if records == 0 {
		return 0, errFatal("mover: merge produced zero records")
	}

	schema := unionSchema(baseSchema, m.readSchemas(paths))

	data, meta, err := m.merger.Merge(ctx, paths, schema)
	if err != nil {
		return 0, err
	}
	meta.MinTS, meta.MaxTS, meta.Records, meta.OriginalSize = minTS, maxTS, records, originalSize

	account := batch[0].Account
	if account == "" {
		account = org
	}
	key := generateStorageFileName(org, streamType, stream, minTS)

	if err := m.objects.Put(ctx, account, key, data); err != nil {
		return 0, err
	}

	if m.cfg.CacheLatestFiles {
		if err := m.fs.WriteCache(key, data); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("warm on-disk cache")
		}
	}

	if m.index != nil && m.cfg.InvertedIndexEnable && len(schema) > 0 {
		idxSize, err := m.index.BuildIndex(ctx, data, schema)
		if err != nil {
			return 0, err
		}
		meta.IndexSize = idxSize
	}

	fk := catalog.FileKey{Account: account, Key: key, Meta: meta}
	if _, err := m.catalog.Add(ctx, org, fk); err != nil {
		return 0, err
	}

	for _, f := range batch {
		m.resolveConsumed(org, account, f.Path)
	}
	return n, nil
}

// takePrefix returns how many leading files respect both size limits:
// summed OriginalSize within MaxFileSizeOnDisk and summed CompressedSize
// within CompactMaxFileSize (spec §4.5 merge_files step 1). Field counts are
// not checked here. At least one file is always taken so the loop makes
// progress.
func (m *Mover) takePrefix(files []preparedFile) int {
	var originalSize, compressedSize int64
	n := 0
	for _, f := range files {
		nextOriginal := originalSize + f.Meta.OriginalSize
		nextCompressed := compressedSize + f.Meta.CompressedSize
		if n > 0 && (nextOriginal > m.cfg.MaxFileSizeOnDisk || nextCompressed > m.cfg.CompactMaxFileSize) {
			break
		}
		originalSize, compressedSize = nextOriginal, nextCompressed
		n++
	}
	return n
}

func (m *Mover) readSchemas(paths []string) [][]string {
	schemas := make([][]string, 0, len(paths))
	for _, p := range paths {
		s, err := m.reader.Schema(p)
		if err != nil {
			continue
		}
		schemas = append(schemas, s)
	}
	return schemas
}

// unionSchema dedups field names by sorted order across the stream's
// current schema and every input file's schema (spec §4.5 step 3).
func unionSchema(base []string, others [][]string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, f := range base {
		seen[f] = struct{}{}
	}
	for _, fields := range others {
		for _, f := range fields {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// generateStorageFileName mirrors original_source's generate_storage_file_name:
// a partition-scoped key with a random suffix so concurrent movers never
// collide on the same object-store key.
func generateStorageFileName(org, streamType, stream string, minTS int64) string {
	t := time.UnixMicro(minTS).UTC()
	return "files/" + org + "/" + streamType + "/" + stream + "/" +
		t.Format("2006/01/02/15") + "/" + uuid.NewString() + ".parquet"
}

// resolveConsumed is spec §4.5 step 7: consult the reader-lock table, and
// either queue for deletion or remove the input file directly.
func (m *Mover) resolveConsumed(org, account, path string) {
	if queued, _ := m.gcCoord.Resolve(org, account, path); queued {
		return
	}
	if !m.gcCoord.StartRemoving(path) {
		return
	}
	if err := m.fs.Remove(path); err != nil {
		_ = m.gcCoord.AbortRemoving(org, account, path)
		return
	}
	m.unmarkProcessing(path)
	m.gcCoord.CompleteRemoval(path)
}

func (m *Mover) deleteWALFilesDirectly(files []preparedFile) {
	for _, f := range files {
		_ = m.fs.Remove(f.Path)
		m.unmarkProcessing(f.Path)
	}
}

type errFatal string

func (e errFatal) Error() string { return string(e) }
