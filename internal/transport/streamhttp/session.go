package streamhttp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Streamable HTTP session (§3).
// The only allowed transitions are Pending->Active and ->Terminated from
// either Pending or Active.
type SessionState int

const (
	SessionPending SessionState = iota
	SessionActive
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// storedEvent is one (event_id, data) pair retained for GET-stream replay.
type storedEvent struct {
	id   string
	data []byte
}

// Session tracks one Streamable HTTP session's lifecycle and its
// append-only log of SSE events, for Last-Event-ID resumability.
type Session struct {
	mu sync.Mutex

	ID         string
	state      SessionState
	CreatedAt  time.Time
	LastSeen   time.Time
	storedEvts []storedEvent
}

// NewSession creates a Pending session with a fresh random ID.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{ID: uuid.NewString(), state: SessionPending, CreatedAt: now, LastSeen: now}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// errInvalidSessionTransition mirrors the transport state machine's
// invalid-transition error, scoped to sessions.
type errInvalidSessionTransition struct {
	From, To SessionState
}

func (e *errInvalidSessionTransition) Error() string {
	return "streamhttp: invalid session transition " + e.From.String() + " -> " + e.To.String()
}

// Activate transitions Pending -> Active.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPending {
		return &errInvalidSessionTransition{From: s.state, To: SessionActive}
	}
	s.state = SessionActive
	return nil
}

// Terminate transitions Pending|Active -> Terminated.
func (s *Session) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionTerminated {
		return nil
	}
	s.state = SessionTerminated
	return nil
}

// Touch updates LastSeen to now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastSeen = time.Now().UTC()
	s.mu.Unlock()
}

// AppendEvent appends one stored event, keyed by the given id. The log is
// append-only until the session is destroyed.
func (s *Session) AppendEvent(id string, data []byte) {
	s.mu.Lock()
	s.storedEvts = append(s.storedEvts, storedEvent{id: id, data: data})
	s.mu.Unlock()
}

// ReplayAfter returns every stored event after the one identified by
// lastEventID, in insertion order. If lastEventID is empty, or isn't
// found in the stored log, every stored event is replayed — the lenient
// behavior flagged as an open question in §9 (preserved deliberately; see
// DESIGN.md).
func (s *Session) ReplayAfter(lastEventID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lastEventID == "" {
		return s.allData()
	}
	for i, ev := range s.storedEvts {
		if ev.id == lastEventID {
			return s.dataFrom(i + 1)
		}
	}
	// lastEventID unknown: replay everything.
	return s.allData()
}

func (s *Session) allData() [][]byte {
	out := make([][]byte, len(s.storedEvts))
	for i, ev := range s.storedEvts {
		out[i] = ev.data
	}
	return out
}

func (s *Session) dataFrom(idx int) [][]byte {
	if idx >= len(s.storedEvts) {
		return nil
	}
	out := make([][]byte, len(s.storedEvts)-idx)
	for i, ev := range s.storedEvts[idx:] {
		out[i] = ev.data
	}
	return out
}

// Store is the server-side session registry, owned by the HTTP handler
// (the router only ever sees session ids, per the ownership rules in §3).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty in-memory session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers and returns a new Pending session.
func (s *Store) Create() *Session {
	sess := NewSession()
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session for id, or nil if unknown.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// Delete removes a session from the store (e.g. after DELETE /mcp).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
