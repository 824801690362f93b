package wsrouter

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// QuerierConn is a single WebSocket to one querier's /ws endpoint, shared
// across every client trace currently routed there (spec §4.7: "pooled
// socket per back-end worker, reused across clients").
type QuerierConn struct {
	Name string
	conn *websocket.Conn

	mu       sync.Mutex
	pending  map[string]chan<- ServerEvent // trace_id -> response channel
	closed   bool
}

func (qc *QuerierConn) bind(traceID string, ch chan<- ServerEvent) {
	qc.mu.Lock()
	qc.pending[traceID] = ch
	qc.mu.Unlock()
}

func (qc *QuerierConn) unbind(traceID string) {
	qc.mu.Lock()
	delete(qc.pending, traceID)
	qc.mu.Unlock()
}

func (qc *QuerierConn) send(ev ClientEvent) error {
	qc.mu.Lock()
	closed := qc.closed
	qc.mu.Unlock()
	if closed {
		return errors.New("wsrouter: querier connection closed")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return qc.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop dispatches inbound frames from the querier back into the
// originating session's channel via the trace_id carried on each frame
// (spec §4.7: "a background reader that dispatches inbound frames back
// into the originating session's channel via the trace_id").
func (qc *QuerierConn) readLoop(onDead func()) {
	defer onDead()
	for {
		_, data, err := qc.conn.ReadMessage()
		if err != nil {
			qc.mu.Lock()
			qc.closed = true
			qc.mu.Unlock()
			return
		}
		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		qc.mu.Lock()
		ch, ok := qc.pending[ev.TraceID]
		qc.mu.Unlock()
		if ok {
			ch <- ev
		}
	}
}

// Dialer opens the raw WebSocket to a querier's endpoint; abstracted so
// tests can dial a loopback httptest.Server instead of a querier address.
type Dialer func(ctx context.Context, addr string) (*websocket.Conn, error)

// DefaultDialer dials a querier's /ws endpoint over ws:// using
// gorilla/websocket's default dialer.
func DefaultDialer(ctx context.Context, addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// Pool is the querier connection pool, keyed by querier name (spec §4.7).
type Pool struct {
	mu    sync.Mutex
	conns map[string]*QuerierConn
	dial  Dialer

	onDead func(querier string) // notifies the session manager on connection loss
}

func NewPool(dial Dialer, onDead func(querier string)) *Pool {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Pool{
		conns:  make(map[string]*QuerierConn),
		dial:   dial,
		onDead: onDead,
	}
}

// Get returns the pooled connection for querier, dialing a new one if none
// exists or the previous one died.
func (p *Pool) Get(ctx context.Context, querier, addr string) (*QuerierConn, error) {
	p.mu.Lock()
	if qc, ok := p.conns[querier]; ok {
		qc.mu.Lock()
		dead := qc.closed
		qc.mu.Unlock()
		if !dead {
			p.mu.Unlock()
			return qc, nil
		}
		delete(p.conns, querier)
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "wsrouter: dial querier %s", querier)
	}
	qc := &QuerierConn{Name: querier, conn: conn, pending: make(map[string]chan<- ServerEvent)}

	p.mu.Lock()
	p.conns[querier] = qc
	p.mu.Unlock()

	go qc.readLoop(func() {
		p.mu.Lock()
		delete(p.conns, querier)
		p.mu.Unlock()
		if p.onDead != nil {
			p.onDead(querier)
		}
	})
	return qc, nil
}

// Remove drops querier from the pool without dialing, for tests and for
// explicit eviction paths.
func (p *Pool) Remove(querier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, querier)
}
