package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileMeta_IsEmpty(t *testing.T) {
	require.True(t, FileMeta{}.IsEmpty())
	require.False(t, FileMeta{Records: 1}.IsEmpty())
	require.False(t, FileMeta{OriginalSize: 1}.IsEmpty())
}

func TestFileDate(t *testing.T) {
	key := "files/org1/logs/stream1/2024/01/02/03/abc123.parquet"
	require.Equal(t, "2024/01/02/03", fileDate(key))
}

func TestStreamOf(t *testing.T) {
	key := "files/org1/logs/stream1/2024/01/02/03/abc123.parquet"
	require.Equal(t, "stream1", streamOf(key))
}

func TestTimeRange_EmptyShortCircuits(t *testing.T) {
	require.True(t, TimeRange{}.IsEmpty())
	require.False(t, TimeRange{Min: 1}.IsEmpty())
}

func TestChunk(t *testing.T) {
	xs := make([]int, 250)
	for i := range xs {
		xs[i] = i
	}
	chunks := chunk(xs, 100)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 100)
	require.Len(t, chunks[1], 100)
	require.Len(t, chunks[2], 50)
}

func TestChunk_Empty(t *testing.T) {
	require.Empty(t, chunk([]int{}, 100))
}
