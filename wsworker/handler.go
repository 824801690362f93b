package wsworker

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openobserve-go/clustercore/wsrouter"
)

// QueryEngine is the streaming search/values executor C8 dispatches to.
// Named rather than grounded in-pack — spec §1 Non-goals excludes the
// query-planner internals, so the engine itself is always a
// caller-supplied adapter; this core only owns the cancellation plumbing
// around it.
type QueryEngine interface {
	// Run streams partial results via emit until the query completes or
	// done is closed; emit is called from the engine's own goroutine and
	// must not be retained past Run's return.
	Run(ctx context.Context, traceID, orgID string, payload []byte, done <-chan struct{}, emit func(wsrouter.ServerEvent)) error
}

// Handler accepts one router connection and fans its frames out to the
// query engine (spec §4.8).
type Handler struct {
	upgrader websocket.Upgrader
	registry *Registry
	engine   QueryEngine
}

func New(engine QueryEngine) *Handler {
	return &Handler{
		registry: NewRegistry(),
		engine:   engine,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades the router's connection and runs its inbound task for
// the connection's lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var wg sync.WaitGroup
	var writeMu sync.Mutex
	send := func(ev wsrouter.ServerEvent) {
		data, err := wsrouter.EncodeServerEvent(ev)
		if err != nil {
			return
		}
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
		writeMu.Unlock()
	}

	ctx := req.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		ev, err := wsrouter.DecodeClientEvent(data)
		if err != nil {
			send(wsrouter.ServerEvent{Type: wsrouter.ServerError, ErrorCode: 400, Message: "malformed frame"})
			continue
		}
		switch ev.Type {
		case wsrouter.ClientPing:
			send(wsrouter.ServerEvent{Type: wsrouter.ServerPong})
		case wsrouter.ClientCancel:
			h.registry.Cancel(ev.TraceID)
			send(wsrouter.ServerEvent{Type: wsrouter.ServerCancelResponse, TraceID: ev.TraceID})
		case wsrouter.ClientSearch, wsrouter.ClientValues:
			wg.Add(1)
			go func(ev wsrouter.ClientEvent) {
				defer wg.Done()
				h.runQuery(ctx, ev, send)
			}(ev)
		}
	}
	wg.Wait()
}

// runQuery spawns one task per Search/Values request, tracks it in
// SEARCH_REGISTRY, and emits a terminal End or Error when the engine
// returns (spec §4.8).
func (h *Handler) runQuery(ctx context.Context, ev wsrouter.ClientEvent, send func(wsrouter.ServerEvent)) {
	state := h.registry.Start(ev.TraceID)
	defer h.registry.Finish(ev.TraceID)

	err := h.engine.Run(ctx, ev.TraceID, ev.OrgID, ev.Payload, state.Done(), send)
	select {
	case <-state.Done():
		send(wsrouter.ServerEvent{Type: wsrouter.ServerCancelResponse, TraceID: ev.TraceID})
		return
	default:
	}
	if err != nil {
		send(wsrouter.ServerEvent{Type: wsrouter.ServerError, TraceID: ev.TraceID, ErrorCode: 500, Message: err.Error()})
		return
	}
	send(wsrouter.ServerEvent{Type: wsrouter.ServerEnd, TraceID: ev.TraceID})
}
