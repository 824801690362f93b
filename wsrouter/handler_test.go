package wsrouter

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/openobserve-go/clustercore/cmn"
)

type fakeResolver struct{ uuid string }

func (r *fakeResolver) GetNodeFromConsistentHashGroup(_ string, _ cmn.Role, _ string) (string, bool) {
	if r.uuid == "" {
		return "", false
	}
	return r.uuid, true
}

func newTestRouter(t *testing.T, querierSrv *httptest.Server, resolver NodeResolver) (*Router, *httptest.Server) {
	rt := New(cmn.SessionConf{MaxChannelBuffer: 8, IdleTimeout: 50 * time.Millisecond}, resolver,
		func(uuid string) (string, bool) { return uuid, uuid != "" }, testDialer(querierSrv), nil)

	clientSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rt.ServeHTTP(w, req, "org1", "client1")
	}))
	return rt, clientSrv
}

func dialClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	return conn
}

func TestRouter_RouteForwardsToQuerierAndEchoesResponse(t *testing.T) {
	querierSrv := echoServer(t)
	defer querierSrv.Close()

	_, clientSrv := newTestRouter(t, querierSrv, &fakeResolver{uuid: "querier-a"})
	defer clientSrv.Close()

	conn := dialClient(t, clientSrv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"search","trace_id":"t1","org_id":"org1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"t1"`))
}

func TestRouter_NoQuerierAvailableSendsError(t *testing.T) {
	querierSrv := echoServer(t)
	defer querierSrv.Close()

	_, clientSrv := newTestRouter(t, querierSrv, &fakeResolver{})
	defer clientSrv.Close()

	conn := dialClient(t, clientSrv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"search","trace_id":"t1","org_id":"org1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"error"`)
	require.Contains(t, string(data), "503")
}

func TestRouter_CancelRepliesWithoutClosing(t *testing.T) {
	querierSrv := echoServer(t)
	defer querierSrv.Close()

	_, clientSrv := newTestRouter(t, querierSrv, &fakeResolver{uuid: "querier-a"})
	defer clientSrv.Close()

	conn := dialClient(t, clientSrv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"cancel","trace_id":"t1","org_id":"org1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"cancelResponse"`)

	// Socket stays open: a ping still round-trips.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"pong"`)
}

func TestRouter_ExpiredCookieEntersDrainOnNextFrame(t *testing.T) {
	querierSrv := echoServer(t)
	defer querierSrv.Close()

	rt, clientSrv := newTestRouter(t, querierSrv, &fakeResolver{uuid: "querier-a"})
	defer clientSrv.Close()

	u, err := url.Parse(clientSrv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("session_expiry=%d", time.Now().Add(-time.Minute).Unix()))
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	require.NoError(t, err)
	defer conn.Close()

	var s *WsSession
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = rt.sessions.Get("client1")
		return ok
	}, time.Second, 10*time.Millisecond)

	// No trace is in flight, so entering drain closes the socket at once and
	// the ping gets no reply.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	require.True(t, s.isDraining())
}

func TestRouter_ReapOnce_DrainsIdleSessionsOnly(t *testing.T) {
	rt := &Router{
		sessions: NewSessionManager(8),
		cfg:      cmn.SessionConf{IdleTimeout: time.Millisecond, MaxLifetime: time.Hour},
	}
	idle := rt.sessions.Open("idle-client", "org1", nil, time.Time{})
	idle.bindTrace("t1", "q") // keep an active trace so EnterDrain skips Conn.Close
	time.Sleep(5 * time.Millisecond)

	fresh := rt.sessions.Open("fresh-client", "org1", nil, time.Time{})
	fresh.bindTrace("t2", "q")

	rt.reapOnce()

	require.True(t, idle.isDraining())
	require.False(t, fresh.isDraining())
}

func TestRouter_ReapOnce_DrainsExpiredLifetimeSession(t *testing.T) {
	rt := &Router{
		sessions: NewSessionManager(8),
		cfg:      cmn.SessionConf{IdleTimeout: time.Hour, MaxLifetime: time.Millisecond},
	}
	s := rt.sessions.Open("c1", "org1", nil, time.Time{})
	s.bindTrace("t1", "q")
	s.CreatedAt = time.Now().Add(-time.Hour)

	rt.reapOnce()

	require.True(t, s.isDraining())
}
