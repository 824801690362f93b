package mover

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// WALFile is a discovered, un-prepared WAL parquet path carrying the
// routing fields parsed out of it.
type WALFile struct {
	Path       string
	Account    string
	Org        string
	StreamType string
	Stream     string
	Partition  string // files/{org}/{stream_type}/{stream}/{YYYY/MM/DD/HH}
}

// partitionBatch is what discovery hands to the dispatch channel: a
// partition prefix plus the prepared FileKeys attributed to it (spec §4.5
// step 4).
type partitionBatch struct {
	partition string
	org       string
	streamType string
	stream    string
	files     []preparedFile
}

var threadSegment = regexp.MustCompile(`^thread-\d+$`)

// partitionKey elides a WAL path's thread-N path component so files
// written by every ingest thread for the same hour land in one partition
// group (spec §4.5 step 2, SUPPLEMENTED FEATURES #5: "WAL thread-id
// elision" per original_source's parquet_manager.rs).
//
// Expected shape: files/{org}/{stream_type}/{stream}/{YYYY}/{MM}/{DD}/{HH}/[thread-N/]{name}.parquet
// Leading directories in front of files/ (the WAL root) are skipped.
func partitionKey(walFile string) (WALFile, bool) {
	clean := strings.TrimPrefix(walFile, "/")
	parts := strings.Split(path.Dir(clean), "/")
	for len(parts) > 8 && parts[0] != "files" {
		parts = parts[1:]
	}
	// Drop a trailing thread-N segment if present.
	if n := len(parts); n > 0 && threadSegment.MatchString(parts[n-1]) {
		parts = parts[:n-1]
	}
	// parts now: files, org, stream_type, stream, YYYY, MM, DD, HH
	if len(parts) < 8 || parts[0] != "files" {
		return WALFile{}, false
	}
	org, streamType, stream := parts[1], parts[2], parts[3]
	hourPrefix := strings.Join(parts[4:8], "/")
	partition := strings.Join([]string{"files", org, streamType, stream, hourPrefix}, "/")
	return WALFile{
		Path:       walFile,
		Org:        org,
		StreamType: streamType,
		Stream:     stream,
		Partition:  partition,
	}, true
}

// groupByPartition buckets raw WAL paths by partition, skipping any path
// that doesn't match the expected layout. The returned map has no order;
// sortedPartitions supplies the deterministic one.
func groupByPartition(walPaths []string) map[string][]WALFile {
	groups := make(map[string][]WALFile)
	for _, p := range walPaths {
		wf, ok := partitionKey(p)
		if !ok {
			continue
		}
		groups[wf.Partition] = append(groups[wf.Partition], wf)
	}
	return groups
}

// sortedPartitions returns group keys in a stable order, for deterministic
// dispatch ordering in tests.
func sortedPartitions(groups map[string][]WALFile) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
