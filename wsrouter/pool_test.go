package wsrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request and echoes back any frame it receives
// with the same trace_id, simulating a querier's /ws endpoint closely
// enough to exercise Pool's dial/read/dispatch path end to end.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
}

func testDialer(srv *httptest.Server) Dialer {
	addr := strings.TrimPrefix(srv.URL, "http://")
	return func(ctx context.Context, _ string) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/ws", nil)
		return conn, err
	}
}

func TestPool_GetReusesConnection(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	p := NewPool(testDialer(srv), nil)
	ctx := context.Background()

	qc1, err := p.Get(ctx, "querier-a", "ignored")
	require.NoError(t, err)
	qc2, err := p.Get(ctx, "querier-a", "ignored")
	require.NoError(t, err)
	require.Same(t, qc1, qc2)
}

func TestPool_DeadConnectionNotifiesAndRedials(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var dead string
	p := NewPool(testDialer(srv), func(q string) { dead = q })
	ctx := context.Background()

	qc, err := p.Get(ctx, "querier-a", "ignored")
	require.NoError(t, err)
	require.NoError(t, qc.conn.Close())

	require.Eventually(t, func() bool { return dead == "querier-a" }, time.Second, 5*time.Millisecond)

	qc2, err := p.Get(ctx, "querier-a", "ignored")
	require.NoError(t, err)
	require.NotSame(t, qc, qc2)
}

func TestQuerierConn_SendAndDispatch(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	p := NewPool(testDialer(srv), nil)
	qc, err := p.Get(context.Background(), "querier-a", "ignored")
	require.NoError(t, err)

	ch := make(chan ServerEvent, 1)
	qc.bind("t1", ch)
	require.NoError(t, qc.send(ClientEvent{Type: ClientSearch, TraceID: "t1"}))

	select {
	case ev := <-ch:
		require.Equal(t, "t1", ev.TraceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}
