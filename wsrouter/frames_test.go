package wsrouter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerEvent_TerminatesTrace(t *testing.T) {
	require.True(t, ServerEvent{Type: ServerEnd}.TerminatesTrace())
	require.True(t, ServerEvent{Type: ServerCancelResponse}.TerminatesTrace())
	require.True(t, ServerEvent{Type: ServerError, ErrorCode: 500}.TerminatesTrace())
	require.False(t, ServerEvent{Type: ServerError, ErrorCode: 429}.TerminatesTrace())
	require.False(t, ServerEvent{Type: ServerSearchResponse}.TerminatesTrace())
	require.False(t, ServerEvent{Type: ServerPing}.TerminatesTrace())
}

func TestDecodeEncodeClientEvent_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"search","trace_id":"t1","org_id":"o1","payload":{"q":1}}`)
	ev, err := DecodeClientEvent(raw)
	require.NoError(t, err)
	require.Equal(t, ClientSearch, ev.Type)
	require.Equal(t, "t1", ev.TraceID)
	require.Equal(t, "o1", ev.OrgID)
}

func TestEncodeServerEvent(t *testing.T) {
	data, err := EncodeServerEvent(ServerEvent{Type: ServerCancelResponse, TraceID: "t1"})
	require.NoError(t, err)
	require.Contains(t, string(data), `"cancelResponse"`)
	require.Contains(t, string(data), `"t1"`)
}
