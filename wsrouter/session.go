package wsrouter

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openobserve-go/clustercore/cmn"
)

// NodeResolver is the C1+C2 surface the router needs: picking a querier
// for a trace (spec §6 downstream API). Narrowed
// from *cluster.Registry so the router can be tested against a fake.
type NodeResolver interface {
	GetNodeFromConsistentHashGroup(key string, role cmn.Role, group string) (uuid string, ok bool)
}

// WsSession is one browser client's connection state (spec §4.7 "Session
// manager owns client_id → WsSession").
type WsSession struct {
	ClientID string
	OrgID    string
	Conn     *websocket.Conn

	ExpiresAt time.Time // zero means no absolute expiry (auth scheme didn't supply one)
	CreatedAt time.Time

	mu       sync.Mutex
	traces   map[string]string // trace_id -> querier name
	lastSeen time.Time

	outbound chan ServerEvent
	draining bool
	drainBy  time.Time
}

func newSession(clientID, orgID string, conn *websocket.Conn, expiresAt time.Time, bufSize int) *WsSession {
	now := time.Now()
	return &WsSession{
		ClientID:  clientID,
		OrgID:     orgID,
		Conn:      conn,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		traces:    make(map[string]string),
		lastSeen:  now,
		outbound:  make(chan ServerEvent, bufSize),
	}
}

// touch refreshes lastSeen on inbound client activity, for the idle half of
// the idle/lifetime reaper.
func (s *WsSession) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *WsSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *WsSession) bindTrace(traceID, querier string) {
	s.mu.Lock()
	s.traces[traceID] = querier
	s.mu.Unlock()
}

func (s *WsSession) querierFor(traceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.traces[traceID]
	return q, ok
}

// unbindTrace removes trace_id on terminal events and refreshes activity
// (spec §4.7 outbound task).
func (s *WsSession) unbindTrace(traceID string) {
	s.mu.Lock()
	delete(s.traces, traceID)
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *WsSession) activeTraceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

// invalidateQuerier forces re-selection on retry for every trace bound to
// a dead querier connection (spec §4.7: "the session manager is notified
// and invalidates all bindings to that querier").
func (s *WsSession) invalidateQuerier(querier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for trace, q := range s.traces {
		if q == querier {
			delete(s.traces, trace)
		}
	}
}

// enterDrain marks the session draining, bounded by timeout (spec §4.7:
// "Drain mode bounded by session_idle_timeout").
func (s *WsSession) enterDrain(timeout time.Duration) {
	s.mu.Lock()
	s.draining = true
	s.drainBy = time.Now().Add(timeout)
	s.mu.Unlock()
}

func (s *WsSession) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *WsSession) drainDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainBy
}

// SessionManager owns every live WsSession (spec §4.7).
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*WsSession // client_id -> session

	bufSize int
}

func NewSessionManager(channelBufferSize int) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*WsSession),
		bufSize:  channelBufferSize,
	}
}

func (sm *SessionManager) Open(clientID, orgID string, conn *websocket.Conn, expiresAt time.Time) *WsSession {
	s := newSession(clientID, orgID, conn, expiresAt, sm.bufSize)
	sm.mu.Lock()
	sm.sessions[clientID] = s
	sm.mu.Unlock()
	return s
}

func (sm *SessionManager) Close(clientID string) {
	sm.mu.Lock()
	delete(sm.sessions, clientID)
	sm.mu.Unlock()
}

func (sm *SessionManager) Get(clientID string) (*WsSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[clientID]
	return s, ok
}

// InvalidateQuerier broadcasts a dead-querier signal to every open session
// (spec §4.7 connection-pool eviction rule).
func (sm *SessionManager) InvalidateQuerier(querier string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.sessions {
		s.invalidateQuerier(querier)
	}
}

// ClientIDs snapshots the currently open sessions, for the idle/lifetime
// reaper to scan without holding the manager lock across EnterDrain calls.
func (sm *SessionManager) ClientIDs() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		out = append(out, id)
	}
	return out
}
