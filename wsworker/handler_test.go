package wsworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openobserve-go/clustercore/wsrouter"
)

type fakeEngine struct {
	cancelled chan string
}

func (e *fakeEngine) Run(_ context.Context, traceID, _ string, _ []byte, done <-chan struct{}, emit func(wsrouter.ServerEvent)) error {
	emit(wsrouter.ServerEvent{Type: wsrouter.ServerSearchResponse, TraceID: traceID})
	select {
	case <-done:
		if e.cancelled != nil {
			e.cancelled <- traceID
		}
		return nil
	case <-time.After(2 * time.Second):
		return nil
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	return conn
}

func TestHandler_SearchStreamsThenCancelEndsTask(t *testing.T) {
	engine := &fakeEngine{cancelled: make(chan string, 1)}
	h := New(engine)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"search","trace_id":"t1","org_id":"org1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"searchResponse"`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"cancel","trace_id":"t1","org_id":"org1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"cancelResponse"`)

	select {
	case got := <-engine.cancelled:
		require.Equal(t, "t1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never observed cancellation")
	}
}

func TestHandler_PingRepliesPong(t *testing.T) {
	h := New(&fakeEngine{})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"pong"`)
}
