// Package wsrouter is the WebSocket query-router fabric (C7): one inbound
// socket per browser client, pooled outbound sockets per back-end querier,
// bound together per trace_id through the consistent-hash ring.
//
// Each connection runs a read goroutine paired with a write goroutine
// rather than one goroutine doing both, generalized here from HTTP
// long-poll streams to explicit WebSocket frames over gorilla/websocket.
package wsrouter

import jsoniter "github.com/json-iterator/go"

// ClientEventType is the tagged-union discriminant for frames arriving
// from a browser client (spec §6 "WebSocket client event").
type ClientEventType string

const (
	ClientSearch ClientEventType = "search"
	ClientValues ClientEventType = "values"
	ClientCancel ClientEventType = "cancel"
	ClientPing   ClientEventType = "ping"
)

// ClientEvent is the inbound frame shape; Payload is left as raw JSON
// since its structure is search-type-specific and out of this core's scope
// (spec §1 Non-goals: "DTOs").
type ClientEvent struct {
	Type    ClientEventType `json:"type"`
	TraceID string          `json:"trace_id,omitempty"`
	OrgID   string          `json:"org_id,omitempty"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// ServerEventType is the tagged-union discriminant for frames leaving
// toward a browser client (spec §6 "WebSocket server event").
type ServerEventType string

const (
	ServerSearchResponse ServerEventType = "searchResponse"
	ServerEnd            ServerEventType = "end"
	ServerCancelResponse ServerEventType = "cancelResponse"
	ServerError          ServerEventType = "error"
	ServerPing           ServerEventType = "ping"
	ServerPong           ServerEventType = "pong"
)

// ServerEvent is the outbound frame shape. ErrorCode mirrors an HTTP
// status for propagation (spec §6).
type ServerEvent struct {
	Type      ServerEventType     `json:"type"`
	TraceID   string              `json:"trace_id,omitempty"`
	Payload   jsoniter.RawMessage `json:"payload,omitempty"`
	ErrorCode int                 `json:"code,omitempty"`
	Message   string              `json:"message,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// TerminatesTrace reports whether this event removes trace_id from the
// session (spec §4.7 outbound task: "End, CancelResponse, or hard Error").
func (e ServerEvent) TerminatesTrace() bool {
	switch e.Type {
	case ServerEnd, ServerCancelResponse:
		return true
	case ServerError:
		return e.ErrorCode >= 500 || e.ErrorCode == 0
	default:
		return false
	}
}

// RoleGroup names the buckets a client request can be placed in
// (SUPPLEMENTED FEATURES #2, from original_source's ws/handler.rs), used
// to steer consistent-hash placement alongside the Querier role.
// roleGroupFor does not read the request's search_type field and always
// returns RoleGroupOther.
type RoleGroup string

const (
	RoleGroupDashboards RoleGroup = "dashboards"
	RoleGroupReports    RoleGroup = "reports"
	RoleGroupAlerts     RoleGroup = "alerts"
	RoleGroupOther      RoleGroup = "other"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}

func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}
