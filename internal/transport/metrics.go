package transport

import "sync/atomic"

// Metrics holds lock-free atomic counters for a single transport instance.
// Updates use relaxed ordering (plain atomic add, no fences) because the
// counters are monitoring data, not synchronization state; Snapshot reads
// them independently, so it is "consistent enough" rather than a single
// atomic transaction, matching §4.2's stated guarantee.
type Metrics struct {
	messagesSent      atomic.Uint64
	messagesReceived  atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	connections       atomic.Uint64
	failedConnections atomic.Uint64
}

// Snapshot is an immutable point-in-time copy of Metrics, safe to hand to
// a reporter or Prometheus collector.
type Snapshot struct {
	MessagesSent      uint64
	MessagesReceived  uint64
	BytesSent         uint64
	BytesReceived     uint64
	Connections       uint64
	FailedConnections uint64
}

func (m *Metrics) RecordSent(bytes int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(uint64(bytes))
}

func (m *Metrics) RecordReceived(bytes int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(uint64(bytes))
}

func (m *Metrics) RecordConnection()       { m.connections.Add(1) }
func (m *Metrics) RecordFailedConnection() { m.failedConnections.Add(1) }

// Snapshot returns a consistent-enough view of all counters for reporting.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		BytesSent:         m.bytesSent.Load(),
		BytesReceived:     m.bytesReceived.Load(),
		Connections:       m.connections.Load(),
		FailedConnections: m.failedConnections.Load(),
	}
}
