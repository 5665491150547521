package jsonrpc

import "fmt"

// slice records where one message's bytes live within a MessageBatch's
// contiguous buffer.
type slice struct {
	offset int
	length int
}

// MessageBatch holds many serialized messages in one contiguous buffer,
// indexed by (offset, length) pairs, so callers can route or forward
// individual messages without copying each one out separately.
type MessageBatch struct {
	buf    []byte
	slices []slice
	ids    []ID
}

// NewMessageBatch creates an empty batch with capacity reserved for the
// expected total byte size.
func NewMessageBatch(capacity int) *MessageBatch {
	return &MessageBatch{buf: make([]byte, 0, capacity)}
}

// Add appends a message's id and wire bytes to the batch, recording a
// zero-copy slice over the shared buffer.
func (b *MessageBatch) Add(id ID, data []byte) {
	offset := len(b.buf)
	b.buf = append(b.buf, data...)
	b.slices = append(b.slices, slice{offset: offset, length: len(data)})
	b.ids = append(b.ids, id)
}

// Len reports how many messages are in the batch.
func (b *MessageBatch) Len() int { return len(b.slices) }

// Get returns a zero-copy view of the i'th message's raw bytes.
func (b *MessageBatch) Get(i int) ([]byte, error) {
	if i < 0 || i >= len(b.slices) {
		return nil, fmt.Errorf("jsonrpc: batch index %d out of range [0,%d)", i, len(b.slices))
	}
	s := b.slices[i]
	return b.buf[s.offset : s.offset+s.length], nil
}

// Pair is one (id, payload) entry yielded while iterating a MessageBatch.
type Pair struct {
	ID      ID
	Payload []byte
}

// All iterates the batch without copying any message payload, stopping
// early if the callback returns false.
func (b *MessageBatch) All(yield func(Pair) bool) {
	for i, s := range b.slices {
		if !yield(Pair{ID: b.ids[i], Payload: b.buf[s.offset : s.offset+s.length]}) {
			return
		}
	}
}
