// Package catalog is the relational file-list index over immutable
// columnar segments, and the durable merge-job queue that shares its
// transactional substrate (spec §4.3, §4.4, components C3+C4).
//
// Tables are driven through pgx with advisory-lock-style single-writer
// coordination (a `FOR UPDATE` mark-and-claim step plus a conditional
// insert) rather than an ORM; the table shapes and transaction boundaries
// follow spec §4.3/§4.4 directly.
package catalog

import "time"

// JobStatus is MergeJob.status (spec §3).
type JobStatus int

const (
	JobPending JobStatus = iota
	JobRunning
	JobDone
	JobCancelling
)

// FileMeta mirrors spec §3: immutable once published, only Flattened and
// CompressedSize have explicit mutators (for follow-up index work).
type FileMeta struct {
	MinTS          int64 // microseconds
	MaxTS          int64
	Records        int64
	OriginalSize   int64
	CompressedSize int64
	IndexSize      int64
	Flattened      bool
}

// IsEmpty reports FileMeta::default() per spec §8 boundary behavior: files
// with zero records and zero sizes are deleted by the mover, never published.
func (m FileMeta) IsEmpty() bool {
	return m.Records == 0 && m.OriginalSize == 0 && m.CompressedSize == 0
}

// SetFlattened and SetCompressedSize are the only post-publish mutators
// spec §3 allows on FileMeta.
func (m *FileMeta) SetFlattened(v bool)        { m.Flattened = v }
func (m *FileMeta) SetCompressedSize(sz int64) { m.CompressedSize = sz }

// FileKey mirrors spec §3's FileKey: the canonical object-store path plus
// its metadata and catalog id.
type FileKey struct {
	ID      int64
	Account string
	Key     string // files/{org}/{stream_type}/{stream}/{YYYY/MM/DD/HH}/{rand}.parquet
	Meta    FileMeta
	Deleted bool
}

// DeletedFile is a file_list_deleted tombstone row (spec §3).
type DeletedFile struct {
	ID          int64
	Account     string
	File        string
	IndexFile   string
	Flattened   bool
	CreatedAt   int64 // microseconds; refreshed on each poll as a visibility timeout
}

// MergeJob mirrors spec §3's MergeJob, unique on (Stream, Offsets).
type MergeJob struct {
	ID         int64
	Org        string
	StreamType string
	Stream     string
	Offsets    int64
	Status     JobStatus
	Node       string
	StartedAt  int64
	UpdatedAt  int64
	Dumped     bool
}

// StreamStats is the stream_stats aggregate rollup row (spec §3), unique
// on Stream.
type StreamStats struct {
	Org            string
	Stream         string
	FileNum        int64
	MinTS          int64
	MaxTS          int64
	Records        int64
	OriginalSize   int64
	CompressedSize int64
	IndexSize      int64
}

// StreamStatsDelta is the per-stream accumulator produced by Stats() and
// consumed by SetStreamStats() (spec §4.3).
type StreamStatsDelta struct {
	Org             string
	Stream          string
	FileNumDelta    int64
	MinTS           int64 // 0 means "unset" per spec's 0-as-unset monotonic semantics
	MaxTS           int64
	RecordsDelta    int64
	OriginalDelta   int64
	CompressedDelta int64
	IndexDelta      int64
}

// TimeRange is a (min, max] microsecond window. A zero TimeRange{0,0}
// short-circuits scans to empty per spec §8 boundary behavior.
type TimeRange struct {
	Min int64
	Max int64
}

func (t TimeRange) IsEmpty() bool { return t.Min == 0 && t.Max == 0 }

func nowMicros() int64 { return time.Now().UnixMicro() }
