package streamhttp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ReservedEventEndpoint is the event name used for the one-time endpoint
// discovery event on a freshly opened GET stream (§4.2.2).
const ReservedEventEndpoint = "endpoint"

// ReservedEventMessage is the event name for a JSON-RPC message delivered
// over SSE; an event with no name is also treated as "message".
const ReservedEventMessage = "message"

// Frame is one decoded SSE event: a name, the concatenated data lines, and
// an id used for Last-Event-ID resumability.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// IsKeepAlive reports whether this frame is an empty-data keep-alive that
// the reader should skip rather than deliver.
func (f Frame) IsKeepAlive() bool { return f.Data == "" }

// Encode renders a Frame in the wire format: `field:value` lines
// terminated by a blank line (the `\n\n` event delimiter).
func Encode(f Frame) []byte {
	var b strings.Builder
	if f.Event != "" {
		fmt.Fprintf(&b, "event:%s\n", f.Event)
	}
	if f.ID != "" {
		fmt.Fprintf(&b, "id:%s\n", f.ID)
	}
	for _, line := range strings.Split(f.Data, "\n") {
		fmt.Fprintf(&b, "data:%s\n", line)
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// EncodeEndpointEvent builds the required first event of a new stream,
// advertising the message endpoint URI clients should POST to.
func EncodeEndpointEvent(uri string) []byte {
	data, _ := json.Marshal(struct {
		URI string `json:"uri"`
	}{URI: uri})
	return Encode(Frame{Event: ReservedEventEndpoint, Data: string(data)})
}

// ParseEndpointData accepts either a bare URI string or {"uri": "..."}
// (§4.2.2: "Parsing must accept both forms").
func ParseEndpointData(data string) (string, error) {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return "", fmt.Errorf("streamhttp: invalid endpoint event data: %w", err)
		}
		return obj.URI, nil
	}
	return trimmed, nil
}

// Reader incrementally decodes an SSE byte stream into Frames, tracking
// the last-seen id for resumability.
type Reader struct {
	br          *bufio.Reader
	lastEventID string
}

// NewReader wraps r as an SSE decoder.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// LastEventID returns the most recently observed `id:` field value.
func (d *Reader) LastEventID() string { return d.lastEventID }

// Next reads and decodes the next frame, returning io.EOF when the stream
// ends. Unknown fields are ignored per §4.2.2.
func (d *Reader) Next() (Frame, error) {
	var f Frame
	var dataLines []string
	sawAny := false

	for {
		line, err := d.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && sawAny {
				break
			}
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if sawAny {
				break
			}
			continue
		}
		sawAny = true

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			f.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			f.ID = value
			d.lastEventID = value
		default:
			// unrecognized field, ignored
		}
	}

	f.Data = strings.Join(dataLines, "\n")
	if f.Event == "" {
		f.Event = ReservedEventMessage
	}
	return f, nil
}
