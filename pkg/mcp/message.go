package mcp

import (
	"encoding/json"
	"time"

	"github.com/mcprt/mcprt/internal/domain/session"
	"github.com/mcprt/mcprt/pkg/jsonrpc"
)

// Direction indicates which way a message is flowing through a transport
// or proxy: from the MCP client towards the server, or the reverse
// (server-initiated sampling/elicitation/roots requests).
type Direction int

const (
	// ClientToServer indicates a message flowing from client to server.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from server to client.
	ServerToClient
)

// String returns the display form of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with the metadata the router and
// proxy need to move it around without re-parsing it repeatedly.
type Message struct {
	// Raw holds the original wire bytes, for passthrough forwarding.
	Raw jsonrpc.Bytes

	// Direction records which way this message is flowing.
	Direction Direction

	// Decoded is the parsed JSON-RPC envelope: *jsonrpc.Request,
	// *jsonrpc.Notification, or *jsonrpc.Response. Nil if parsing failed
	// but passthrough of Raw is still desired.
	Decoded jsonrpc.Message

	// Timestamp records when this Message was wrapped, for audit records and
	// policy evaluation context.
	Timestamp time.Time

	// Session is populated by the auth interceptor once a client-to-server
	// request has been authenticated; nil until then (or for unauthenticated
	// traffic). Downstream interceptors (rate limiting, policy, audit) read
	// it but never set it themselves.
	Session *session.Session

	// parsedParams caches the request params decoded to a generic map, so
	// repeated lookups (e.g. RBAC then tool dispatch) don't re-unmarshal.
	parsedParams map[string]any
}

// Wrap decodes raw wire bytes and wraps them in a Message.
func Wrap(raw []byte, dir Direction) (*Message, error) {
	decoded, err := jsonrpc.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Message{Raw: jsonrpc.NewBytes(raw), Direction: dir, Decoded: decoded, Timestamp: time.Now()}, nil
}

// DecodeMessage parses raw wire bytes into a jsonrpc.Message without
// wrapping it, for callers that build the Message envelope themselves
// (e.g. a caller that's already captured Raw and Timestamp before
// attempting the decode, to keep passthrough working on a parse failure).
func DecodeMessage(raw []byte) (jsonrpc.Message, error) {
	return jsonrpc.Parse(raw)
}

// IsRequest reports whether the wrapped message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsNotification reports whether the wrapped message is a notification.
func (m *Message) IsNotification() bool {
	_, ok := m.Decoded.(*jsonrpc.Notification)
	return ok
}

// IsResponse reports whether the wrapped message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the method name for a request or notification, "" for a
// response.
func (m *Message) Method() string {
	switch v := m.Decoded.(type) {
	case *jsonrpc.Request:
		return v.Method
	case *jsonrpc.Notification:
		return v.Method
	default:
		return ""
	}
}

// IsToolCall reports whether this message is a tools/call request, the
// primary case that needs argument validation and RBAC evaluation.
func (m *Message) IsToolCall() bool { return m.Method() == MethodToolsCall }

// Request returns the underlying *jsonrpc.Request, or nil.
func (m *Message) Request() *jsonrpc.Request {
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying *jsonrpc.Response, or nil.
func (m *Message) Response() *jsonrpc.Response {
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Params returns the request's params decoded into a generic map. Safe to
// call repeatedly; the result is memoized after the first successful
// parse. Returns nil if this isn't a request or the params aren't a JSON
// object.
func (m *Message) Params() map[string]any {
	if m.parsedParams != nil {
		return m.parsedParams
	}
	req := m.Request()
	if req == nil || len(req.Params) == 0 {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.parsedParams = params
	return params
}

// ParseParams is an alias for Params, named to match the verb callers use
// when the parse is incidental to some other action (dispatch, audit).
func (m *Message) ParseParams() map[string]any { return m.Params() }

// RawID returns the request's id re-marshaled to its wire JSON form (a
// JSON string, number, or null), suitable for embedding verbatim in a
// synthesized error response so the reply's id always matches what the
// client sent, even when that id's exact representation wouldn't survive a
// round trip through Go's interface{}-typed JSON decoding.
func (m *Message) RawID() json.RawMessage {
	req := m.Request()
	if req == nil {
		return json.RawMessage("null")
	}
	raw, err := req.ID.MarshalJSON()
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
