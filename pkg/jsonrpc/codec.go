package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError is returned by Parse for malformed input: non-UTF-8, empty,
// or JSON that isn't a JSON-RPC 2.0 object.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "jsonrpc: parse error: " + e.Reason }

// ProtocolError is returned for input that is valid JSON but violates
// JSON-RPC 2.0 shape (wrong version, missing method, etc).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "jsonrpc: protocol error: " + e.Reason }

// Parse decodes a single JSON-RPC message. The returned Message is one of
// *Request (has a method and an id), *Notification (has a method, no id),
// or *Response (has neither, but one of result/error).
func Parse(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ProtocolError{Reason: "Empty message"}
	}
	if !json.Valid(trimmed) {
		return nil, &ParseError{Reason: "invalid JSON"}
	}

	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if env.JSONRPC != "" && env.JSONRPC != Version {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unsupported jsonrpc version %q", env.JSONRPC)}
	}

	switch {
	case env.Method != nil && len(env.ID) == 0:
		return &Notification{JSONRPC: Version, Method: *env.Method, Params: env.Params}, nil
	case env.Method != nil:
		var id ID
		if err := id.UnmarshalJSON(env.ID); err != nil {
			return nil, &ProtocolError{Reason: "invalid id: " + err.Error()}
		}
		return &Request{JSONRPC: Version, ID: id, Method: *env.Method, Params: env.Params}, nil
	case env.Result != nil || env.Error != nil:
		var id ID
		if len(env.ID) > 0 {
			if err := id.UnmarshalJSON(env.ID); err != nil {
				return nil, &ProtocolError{Reason: "invalid id: " + err.Error()}
			}
		}
		return &Response{JSONRPC: Version, ID: id, Result: env.Result, Err: env.Error}, nil
	default:
		return nil, &ProtocolError{Reason: "message is neither a request, notification, nor response"}
	}
}

// Serialize encodes a Message back to wire bytes.
func Serialize(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: serialize: %w", err)
	}
	return data, nil
}

// ErrEmbeddedNewline is returned by SerializeStdio when the message's wire
// form contains a literal newline or carriage-return byte, which would
// corrupt the stdio line-framing.
type ProtocolNewlineError struct{}

func (ProtocolNewlineError) Error() string {
	return "jsonrpc: Message contains embedded newlines and cannot be sent over stdio"
}

// SerializeStdio encodes msg and verifies the result contains no literal
// 0x0A or 0x0D byte, since those are the stdio transport's line delimiter.
// Escaped newline sequences inside JSON strings (the two bytes `\` `n`) are
// unaffected — encoding/json always escapes control characters inside
// strings, so this check only ever trips on a codec bug upstream, not on
// legitimate payload content.
func SerializeStdio(msg Message) ([]byte, error) {
	data, err := Serialize(msg)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, '\n') >= 0 || bytes.IndexByte(data, '\r') >= 0 {
		return nil, ProtocolNewlineError{}
	}
	return data, nil
}

// HasLiteralNewline reports whether raw wire bytes contain an unescaped
// line terminator, used by the stdio reader to validate frames before
// handing them to Parse.
func HasLiteralNewline(data []byte) bool {
	return bytes.IndexByte(data, '\n') >= 0 || bytes.IndexByte(data, '\r') >= 0
}

// TrimLine removes a trailing newline (and, if present, a preceding
// carriage return) from a line read by a stdio framer.
func TrimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
