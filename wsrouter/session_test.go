package wsrouter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_BindUnbindTrace(t *testing.T) {
	s := newSession("c1", "o1", nil, time.Time{}, 8)
	s.bindTrace("t1", "querier-a")

	q, ok := s.querierFor("t1")
	require.True(t, ok)
	require.Equal(t, "querier-a", q)
	require.Equal(t, 1, s.activeTraceCount())

	s.unbindTrace("t1")
	_, ok = s.querierFor("t1")
	require.False(t, ok)
	require.Equal(t, 0, s.activeTraceCount())
}

func TestSession_InvalidateQuerier_OnlyAffectsBoundTraces(t *testing.T) {
	s := newSession("c1", "o1", nil, time.Time{}, 8)
	s.bindTrace("t1", "querier-a")
	s.bindTrace("t2", "querier-b")

	s.invalidateQuerier("querier-a")

	_, ok := s.querierFor("t1")
	require.False(t, ok)
	q2, ok := s.querierFor("t2")
	require.True(t, ok)
	require.Equal(t, "querier-b", q2)
}

func TestSessionManager_InvalidateQuerier_Broadcasts(t *testing.T) {
	sm := NewSessionManager(8)
	s1 := sm.Open("c1", "o1", nil, time.Time{})
	s2 := sm.Open("c2", "o1", nil, time.Time{})
	s1.bindTrace("t1", "querier-a")
	s2.bindTrace("t2", "querier-a")

	sm.InvalidateQuerier("querier-a")

	_, ok := s1.querierFor("t1")
	require.False(t, ok)
	_, ok = s2.querierFor("t2")
	require.False(t, ok)
}

func TestSession_DrainMode(t *testing.T) {
	s := newSession("c1", "o1", nil, time.Time{}, 8)
	require.False(t, s.isDraining())
	s.enterDrain(0)
	require.True(t, s.isDraining())
}
