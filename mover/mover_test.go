package mover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openobserve-go/clustercore/catalog"
	"github.com/openobserve-go/clustercore/cmn"
	"github.com/openobserve-go/clustercore/gc"
	"github.com/openobserve-go/clustercore/objstore"
)

type fakeReader struct {
	meta   map[string]catalog.FileMeta
	schema map[string][]string
}

func (r *fakeReader) ReadMeta(path string) (catalog.FileMeta, error) { return r.meta[path], nil }
func (r *fakeReader) Schema(path string) ([]string, error)           { return r.schema[path], nil }

type fakeMerger struct{ calls int }

func (f *fakeMerger) Merge(_ context.Context, files []string, schema []string) ([]byte, catalog.FileMeta, error) {
	f.calls++
	return []byte("merged"), catalog.FileMeta{}, nil
}

type fakeStreams struct {
	dropping bool
	schema   []string
}

func (s *fakeStreams) IsRetentionDropping(_, _, _ string) bool { return s.dropping }
func (s *fakeStreams) Schema(_, _, _ string) ([]string, error) { return s.schema, nil }

type fakePublisher struct {
	added []catalog.FileKey
}

func (p *fakePublisher) Add(_ context.Context, _ string, fk catalog.FileKey) (int64, error) {
	p.added = append(p.added, fk)
	return int64(len(p.added)), nil
}

func walPath(org, stream, hour, thread, name string) string {
	return "files/" + org + "/logs/" + stream + "/" + hour + "/" + thread + "/" + name
}

func TestPartitionKey_ElidesThreadSegment(t *testing.T) {
	wf, ok := partitionKey(walPath("org1", "stream1", "2024/01/01/00", "thread-0", "a.parquet"))
	require.True(t, ok)
	require.Equal(t, "files/org1/logs/stream1/2024/01/01/00", wf.Partition)
	require.Equal(t, "org1", wf.Org)
	require.Equal(t, "stream1", wf.Stream)
}

func TestPartitionKey_RejectsMalformedPath(t *testing.T) {
	_, ok := partitionKey("not/a/wal/path.parquet")
	require.False(t, ok)
}

func TestPrepareFiles_SkipsProcessingAndEmpty(t *testing.T) {
	p1 := walPath("org1", "s1", "2024/01/01/00", "thread-0", "a.parquet")
	p2 := walPath("org1", "s1", "2024/01/01/00", "thread-0", "b.parquet")

	reader := &fakeReader{meta: map[string]catalog.FileMeta{
		p1: {Records: 10, OriginalSize: 100},
		p2: {}, // empty -> deleted, not prepared
	}}
	fsys := newFakeFS()
	fsys.put(p1, time.Now(), 100)
	fsys.put(p2, time.Now(), 0)

	m := New(Config{MoverConf: cmn.MoverConf{MoveThreadNum: 1}}, &fakePublisher{}, objstore.NewFakeClient(),
		gc.NewCoordinator(gc.NewMemQueue()), reader, &fakeMerger{}, nil, &fakeStreams{}, fsys)

	wf1, _ := partitionKey(p1)
	wf2, _ := partitionKey(p2)
	prepared := m.prepareFiles(context.Background(), []WALFile{wf1, wf2})

	require.Len(t, prepared, 1)
	require.Equal(t, p1, prepared[0].Path)
	require.True(t, m.isProcessing(p1))
	require.False(t, m.isProcessing(p2))

	// A second pass skips p1: it is already in processing_files.
	require.Empty(t, m.prepareFiles(context.Background(), []WALFile{wf1}))

	if _, _, err := fsys.Stat(p2); err == nil {
		t.Fatal("empty file should have been removed")
	}
}

func TestMoveFiles_RetentionDroppingDeletesDirectly(t *testing.T) {
	p1 := walPath("org1", "s1", "2024/01/01/00", "thread-0", "a.parquet")
	fsys := newFakeFS()
	fsys.put(p1, time.Now(), 100)

	publisher := &fakePublisher{}
	m := New(Config{MoverConf: cmn.MoverConf{MoveThreadNum: 1}}, publisher, objstore.NewFakeClient(),
		gc.NewCoordinator(gc.NewMemQueue()), &fakeReader{}, &fakeMerger{}, nil,
		&fakeStreams{dropping: true}, fsys)

	m.markProcessing(p1)
	m.moveFiles(context.Background(), partitionBatch{
		partition: "files/org1/logs/s1/2024/01/01/00", org: "org1", streamType: "logs", stream: "s1",
		files: []preparedFile{{WALFile: WALFile{Path: p1}, Meta: catalog.FileMeta{Records: 1}}},
	})

	require.False(t, m.isProcessing(p1))
	require.Empty(t, publisher.added)
	_, _, err := fsys.Stat(p1)
	require.Error(t, err)
}

func TestMoveFiles_MergesAndPublishesAboveThreshold(t *testing.T) {
	org, stream, hour := "org1", "s1", "2024/01/01/00"
	p1 := walPath(org, stream, hour, "thread-0", "a.parquet")
	p2 := walPath(org, stream, hour, "thread-1", "b.parquet")

	fsys := newFakeFS()
	old := time.Now().Add(-time.Hour)
	fsys.put(p1, old, 100)
	fsys.put(p2, old, 100)

	publisher := &fakePublisher{}
	merger := &fakeMerger{}
	m := New(Config{MoverConf: cmn.MoverConf{
		MoveThreadNum:      1,
		MaxFileSizeOnDisk:  1 << 20,
		CompactMaxFileSize: 1 << 20,
		MaxRetention:       time.Minute, // both files are older than this -> forces merge
	}}, publisher, objstore.NewFakeClient(), gc.NewCoordinator(gc.NewMemQueue()),
		&fakeReader{schema: map[string][]string{p1: {"a"}, p2: {"a", "b"}}}, merger, nil,
		&fakeStreams{schema: []string{"a"}}, fsys)

	batch := partitionBatch{
		partition: "files/" + org + "/logs/" + stream + "/" + hour, org: org, streamType: "logs", stream: stream,
		files: []preparedFile{
			{WALFile: WALFile{Path: p1}, Meta: catalog.FileMeta{Records: 10, MinTS: 1}, CreatedAt: old.Unix()},
			{WALFile: WALFile{Path: p2}, Meta: catalog.FileMeta{Records: 20, MinTS: 2}, CreatedAt: old.Unix()},
		},
	}
	m.markProcessing(p1)
	m.markProcessing(p2)
	m.moveFiles(context.Background(), batch)

	require.Equal(t, 1, merger.calls)
	require.Len(t, publisher.added, 1)
	require.Equal(t, int64(30), publisher.added[0].Meta.Records)
	require.False(t, m.isProcessing(p1))
	require.False(t, m.isProcessing(p2))
}

func TestMoveFiles_WarmsCacheWhenEnabled(t *testing.T) {
	org, stream, hour := "org1", "s1", "2024/01/01/00"
	p1 := walPath(org, stream, hour, "thread-0", "a.parquet")

	fsys := newFakeFS()
	old := time.Now().Add(-time.Hour)
	fsys.put(p1, old, 100)

	m := New(Config{MoverConf: cmn.MoverConf{
		MoveThreadNum:      1,
		MaxFileSizeOnDisk:  1,
		CompactMaxFileSize: 1,
		MaxRetention:       time.Minute,
		CacheLatestFiles:   true,
	}}, &fakePublisher{}, objstore.NewFakeClient(), gc.NewCoordinator(gc.NewMemQueue()),
		&fakeReader{schema: map[string][]string{p1: {"a"}}}, &fakeMerger{}, nil,
		&fakeStreams{schema: []string{"a"}}, fsys)

	batch := partitionBatch{
		partition: "files/" + org + "/logs/" + stream + "/" + hour, org: org, streamType: "logs", stream: stream,
		files: []preparedFile{
			{WALFile: WALFile{Path: p1}, Meta: catalog.FileMeta{Records: 10, MinTS: 1}, CreatedAt: old.Unix()},
		},
	}
	m.markProcessing(p1)
	m.moveFiles(context.Background(), batch)

	require.Len(t, fsys.cached, 1)
	require.Equal(t, []byte("merged"), fsys.cached[0].data)
}

func TestCrossesMergeThreshold_BelowLimitsAborts(t *testing.T) {
	fsys := newFakeFS()
	m := New(Config{MoverConf: cmn.MoverConf{MaxFileSizeOnDisk: 1 << 30, CompactMaxFileSize: 1 << 30, MaxRetention: 24 * time.Hour, FieldsLimit: 100}},
		&fakePublisher{}, objstore.NewFakeClient(), gc.NewCoordinator(gc.NewMemQueue()),
		&fakeReader{schema: map[string][]string{}}, &fakeMerger{}, nil, &fakeStreams{}, fsys)

	files := []preparedFile{{WALFile: WALFile{Path: "p"}, Meta: catalog.FileMeta{OriginalSize: 10}, CreatedAt: time.Now().Unix()}}
	require.False(t, m.crossesMergeThreshold(files))
}
