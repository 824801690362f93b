package wsworker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_StartIsFirstWriterWins(t *testing.T) {
	r := NewRegistry()
	s1 := r.Start("t1")
	s2 := r.Start("t1")
	require.Same(t, s1, s2)
}

func TestRegistry_CancelIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := r.Start("t1")
	require.True(t, r.Cancel("t1"))
	require.True(t, r.Cancel("t1")) // second cancel must not panic (sync.Once)

	select {
	case <-s.Done():
	default:
		t.Fatal("expected cancel channel to be closed")
	}
}

func TestRegistry_CancelUnknownTraceReturnsFalse(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Cancel("missing"))
}

func TestRegistry_FinishRemovesState(t *testing.T) {
	r := NewRegistry()
	r.Start("t1")
	r.Finish("t1")
	require.False(t, r.Cancel("t1"))
}
