package wsrouter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openobserve-go/clustercore/cmn"
)

// RateLimiter is the optional per-trace admission hook (spec §4.7:
// "Rate-limiting hook (if enabled) runs before forwarding; if it denies,
// emit an error frame for that trace only"). A nil RateLimiter disables
// the check entirely.
type RateLimiter interface {
	Allow(orgID, traceID string) bool
}

// AddrResolver maps a querier node uuid to a dialable address; Registry's
// cached node records carry this, kept as a narrow function type so the
// router doesn't need the full Node type.
type AddrResolver func(uuid string) (addr string, ok bool)

const maxSelectRetries = 3

// Router ties the session manager, connection pool, and consistent-hash
// resolver together (spec §4.7).
type Router struct {
	upgrader websocket.Upgrader
	sessions *SessionManager
	pool     *Pool
	resolver NodeResolver
	addrOf   AddrResolver
	limiter  RateLimiter

	cfg cmn.SessionConf
}

// New builds a Router. limiter may be nil to disable rate limiting.
func New(cfg cmn.SessionConf, resolver NodeResolver, addrOf AddrResolver, dial Dialer, limiter RateLimiter) *Router {
	r := &Router{
		sessions: NewSessionManager(cfg.MaxChannelBuffer),
		resolver: resolver,
		addrOf:   addrOf,
		limiter:  limiter,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  int(cfg.MaxFrameSize),
			WriteBufferSize: int(cfg.MaxFrameSize),
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	r.pool = NewPool(dial, r.sessions.InvalidateQuerier)
	return r
}

// ServeHTTP upgrades GET /ws/v2/{org}/{client_id} and runs the inbound and
// outbound tasks for the session's lifetime (spec §4.7).
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request, orgID, clientID string) {
	conn, err := rt.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	expiresAt := cookieExpiry(req)
	session := rt.sessions.Open(clientID, orgID, conn, expiresAt)
	defer rt.sessions.Close(clientID)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		rt.outboundTask(ctx, session)
		close(done)
	}()
	rt.inboundTask(ctx, session)
	cancel()
	<-done
}

func cookieExpiry(req *http.Request) time.Time {
	c, err := req.Cookie("session_expiry")
	if err != nil {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// inboundTask reads client frames and forwards them to the resolved
// querier (spec §4.7 "Inbound task").
func (rt *Router) inboundTask(ctx context.Context, s *WsSession) {
	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()

		// The authorising cookie can expire mid-session; catch it on the next
		// client frame rather than running a dedicated timer per session.
		if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) && !s.isDraining() {
			rt.EnterDrain(s.ClientID)
		}

		ev, err := DecodeClientEvent(data)
		if err != nil {
			rt.sendError(s, "", 400, "malformed frame")
			continue
		}
		switch ev.Type {
		case ClientPing:
			s.outbound <- ServerEvent{Type: ServerPong}
		case ClientCancel:
			rt.handleCancel(s, ev)
		case ClientSearch, ClientValues:
			if s.isDraining() {
				rt.sendError(s, ev.TraceID, 503, "session draining")
				continue
			}
			if rt.limiter != nil && !rt.limiter.Allow(s.OrgID, ev.TraceID) {
				rt.sendError(s, ev.TraceID, 429, "rate limited")
				continue
			}
			rt.route(ctx, s, ev)
		}
	}
}

// route resolves trace_id to a querier (or reuses the session's existing
// binding) and forwards the frame, retrying with a suffixed trace_id up to
// maxSelectRetries times if the chosen worker's connection can't be
// established (spec §4.7).
func (rt *Router) route(ctx context.Context, s *WsSession, ev ClientEvent) {
	group := roleGroupFor(ev)

	if querier, ok := s.querierFor(ev.TraceID); ok {
		if addr, ok := rt.addrOf(querier); ok {
			if qc, err := rt.pool.Get(ctx, querier, addr); err == nil {
				rt.forward(s, qc, ev)
				return
			}
		}
	}

	for attempt := 0; attempt < maxSelectRetries; attempt++ {
		key := ev.TraceID
		if attempt > 0 {
			key = ev.TraceID + "#" + strconv.Itoa(attempt)
		}
		uuid, ok := rt.resolver.GetNodeFromConsistentHashGroup(key, cmn.RoleQuerier, string(group))
		if !ok {
			continue
		}
		addr, ok := rt.addrOf(uuid)
		if !ok {
			continue
		}
		qc, err := rt.pool.Get(ctx, uuid, addr)
		if err != nil {
			continue
		}
		s.bindTrace(ev.TraceID, uuid)
		rt.forward(s, qc, ev)
		return
	}
	rt.sendError(s, ev.TraceID, 503, "no querier available")
}

func (rt *Router) forward(s *WsSession, qc *QuerierConn, ev ClientEvent) {
	qc.bind(ev.TraceID, s.outbound)
	if err := qc.send(ev); err != nil {
		rt.sendError(s, ev.TraceID, 502, "querier send failed")
	}
}

// handleCancel signals the trace's cancellation and replies with a
// terminal CancelResponse without closing the socket (spec §4.7).
func (rt *Router) handleCancel(s *WsSession, ev ClientEvent) {
	if querier, ok := s.querierFor(ev.TraceID); ok {
		if addr, ok := rt.addrOf(querier); ok {
			if qc, err := rt.pool.Get(context.Background(), querier, addr); err == nil {
				_ = qc.send(ev)
			}
		}
	}
	s.outbound <- ServerEvent{Type: ServerCancelResponse, TraceID: ev.TraceID}
}

func (rt *Router) sendError(s *WsSession, traceID string, code int, msg string) {
	s.outbound <- ServerEvent{Type: ServerError, TraceID: traceID, ErrorCode: code, Message: msg}
}

// roleGroupFor derives the role-group from the request (SUPPLEMENTED
// FEATURES #2). Payload-specific parsing is out of scope; defaults to
// "other" the way original_source's ws/handler.rs does for unrecognized
// search types.
func roleGroupFor(ev ClientEvent) RoleGroup {
	return RoleGroupOther
}

// outboundTask drains the session's server-event channel to the client
// socket, removing completed traces, and closes the socket once a draining
// session has no traces left or its drain deadline has passed (spec §4.7
// "Outbound task"). The deadline is checked every second and after each
// forwarded event.
func (rt *Router) outboundTask(ctx context.Context, s *WsSession) {
	drainCheck := time.NewTicker(time.Second)
	defer drainCheck.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-drainCheck.C:
			if s.isDraining() && time.Now().After(s.drainDeadline()) {
				_ = s.Conn.Close()
				return
			}
		case ev, ok := <-s.outbound:
			if !ok {
				return
			}
			if ev.TerminatesTrace() {
				s.unbindTrace(ev.TraceID)
			}
			data, err := EncodeServerEvent(ev)
			if err == nil {
				_ = s.Conn.WriteMessage(websocket.TextMessage, data)
			}
			if s.isDraining() && (s.activeTraceCount() == 0 || time.Now().After(s.drainDeadline())) {
				_ = s.Conn.Close()
				return
			}
		}
	}
}

// EnterDrain puts a session into drain mode: keep forwarding terminal
// events for in-flight traces, admit nothing new, then close once they
// clear or session_idle_timeout elapses (spec §4.7 Unauthorized path).
func (rt *Router) EnterDrain(clientID string) {
	s, ok := rt.sessions.Get(clientID)
	if !ok {
		return
	}
	s.enterDrain(rt.cfg.IdleTimeout)
	if s.activeTraceCount() == 0 {
		_ = s.Conn.Close()
	}
}

const reapInterval = 30 * time.Second

// ReapSessions drains any session that has gone idle past session_idle_timeout
// or outlived session_max_lifetime (spec §3 WsSession destruction rule),
// polling on a fixed interval until ctx is cancelled.
func (rt *Router) ReapSessions(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rt.reapOnce()
		}
	}
}

func (rt *Router) reapOnce() {
	now := time.Now()
	for _, clientID := range rt.sessions.ClientIDs() {
		s, ok := rt.sessions.Get(clientID)
		if !ok || s.isDraining() {
			continue
		}
		idleExpired := rt.cfg.IdleTimeout > 0 && now.Sub(s.idleSince()) > rt.cfg.IdleTimeout
		lifetimeExpired := rt.cfg.MaxLifetime > 0 && now.Sub(s.CreatedAt) > rt.cfg.MaxLifetime
		if idleExpired || lifetimeExpired {
			rt.EnterDrain(clientID)
		}
	}
}
