package jsonrpc

import "encoding/json"

// header is the minimal set of fields read eagerly by ZeroCopyMessage so a
// router can dispatch on method/id without decoding params or result.
type header struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ZeroCopyMessage stores a raw payload plus a cheaply-parsed header,
// deferring full typed deserialization until a caller actually needs the
// params or result. This lets a router pick a handler by method name
// while touching only a few dozen bytes of a potentially large message.
type ZeroCopyMessage struct {
	raw Bytes
	hdr header
	// parsed caches the fully-typed Message once Decode has been called.
	parsed Message
}

// ParseZeroCopy reads just enough of data to populate the header; it does
// not allocate a typed Request/Response/Notification until Decode is
// called.
func ParseZeroCopy(data []byte) (*ZeroCopyMessage, error) {
	trimmed := data
	if len(trimmed) == 0 {
		return nil, &ProtocolError{Reason: "Empty message"}
	}
	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	return &ZeroCopyMessage{raw: NewBytes(data), hdr: h}, nil
}

// Method returns the method name without decoding params, or "" for a
// response.
func (z *ZeroCopyMessage) Method() string { return z.hdr.Method }

// IsNotification reports whether the header has a method and no id.
func (z *ZeroCopyMessage) IsNotification() bool {
	return z.hdr.Method != "" && len(z.hdr.ID) == 0
}

// IsRequest reports whether the header has both a method and an id.
func (z *ZeroCopyMessage) IsRequest() bool {
	return z.hdr.Method != "" && len(z.hdr.ID) > 0
}

// IsResponse reports whether the header has no method (a Response never
// carries one).
func (z *ZeroCopyMessage) IsResponse() bool { return z.hdr.Method == "" }

// RawPayload returns the zero-copy byte view backing this message.
func (z *ZeroCopyMessage) RawPayload() Bytes { return z.raw }

// Decode performs the full typed parse, memoizing the result so repeated
// calls are free.
func (z *ZeroCopyMessage) Decode() (Message, error) {
	if z.parsed != nil {
		return z.parsed, nil
	}
	msg, err := Parse(z.raw.Data())
	if err != nil {
		return nil, err
	}
	z.parsed = msg
	return msg, nil
}
