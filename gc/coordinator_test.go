package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_LockedGoesToPendingDelete(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	c.Lock("files/o/logs/s/2024/01/01/00/a.parquet")

	queued, err := c.Resolve("o", "acct", "files/o/logs/s/2024/01/01/00/a.parquet")
	require.NoError(t, err)
	require.True(t, queued)
	require.Len(t, c.ListPendingDelete(), 1)
}

func TestResolve_UnlockedSkipsPendingDelete(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	queued, err := c.Resolve("o", "acct", "files/o/logs/s/2024/01/01/00/a.parquet")
	require.NoError(t, err)
	require.False(t, queued)
	require.Empty(t, c.ListPendingDelete())
}

func TestStartRemoving_RejectsDoubleRemoval(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	require.True(t, c.StartRemoving("f"))
	require.False(t, c.StartRemoving("f"))
	c.CompleteRemoval("f")
	require.True(t, c.StartRemoving("f"))
}

func TestAbortRemoving_RequeuesForRetry(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	require.True(t, c.StartRemoving("f"))
	require.NoError(t, c.AbortRemoving("o", "acct", "f"))
	require.Len(t, c.ListPendingDelete(), 1)
	require.True(t, c.StartRemoving("f")) // no longer marked removing, free to retry
}

func TestDequeueFromDeletion(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	require.NoError(t, c.QueueForDeletion("o", "acct", "f"))
	require.Len(t, c.ListPendingDelete(), 1)
	require.NoError(t, c.DequeueFromDeletion("f"))
	require.Empty(t, c.ListPendingDelete())
}

func TestLockUnlock_RefCounts(t *testing.T) {
	c := NewCoordinator(NewMemQueue())
	c.Lock("f")
	c.Lock("f")
	require.True(t, c.IsLocked("f"))
	c.Unlock("f")
	require.True(t, c.IsLocked("f"))
	c.Unlock("f")
	require.False(t, c.IsLocked("f"))
}
