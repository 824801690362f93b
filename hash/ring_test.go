package hash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func tenQueriers(t *testing.T) *Ring {
	t.Helper()
	r := New()
	for i := 0; i < 10; i++ {
		r.Insert(fmt.Sprintf("node-q-%d", i))
	}
	return r
}

func TestRing_DeterministicAcrossProcesses(t *testing.T) {
	r1 := tenQueriers(t)
	r2 := tenQueriers(t)

	n1, ok1 := r1.Get("test")
	n2, ok2 := r2.Get("test")
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, n1, n2, "identical ring contents must yield identical placement for identical key")
}

func TestRing_EmptyReturnsNotOK(t *testing.T) {
	r := New()
	_, ok := r.Get("anything")
	require.False(t, ok)
}

func TestRing_RemoveChangesPlacementButStaysInRemainingSet(t *testing.T) {
	r := tenQueriers(t)
	before, ok := r.Get("test")
	require.True(t, ok)

	r.Remove(before)
	after, ok := r.Get("test")
	require.True(t, ok)
	require.NotEqual(t, before, after)

	remaining := r.Nodes()
	require.Contains(t, remaining, after)
	require.NotContains(t, remaining, before)
}

func TestRing_InsertIsIdempotent(t *testing.T) {
	r := New()
	r.Insert("node-a")
	r.Insert("node-a")
	require.Equal(t, VirtualNodes, ringLen(r))
}

func TestRing_StableKeyRouting(t *testing.T) {
	r := tenQueriers(t)
	n1, _ := r.Get("trace-123")
	n2, _ := r.Get("trace-123")
	require.Equal(t, n1, n2)
}

func ringLen(r *Ring) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
