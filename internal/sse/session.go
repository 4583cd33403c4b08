// Package sse implements the SSE (Server-Sent Events) session manager that
// bridges a client's long-lived event stream to the router's otherwise
// stateless JSON-RPC request handling.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/jsonrpc"
)

// KeepaliveInterval is how long a session's event stream waits for a real
// event before emitting an SSE comment line to keep the connection alive.
const KeepaliveInterval = 30 * time.Second

// queueSize bounds how many undelivered events a session will buffer
// before Send starts blocking the producer.
const queueSize = 64

// Session represents one client's SSE connection. A session has exactly
// one producer (whatever routes responses to it) and one consumer (the
// HTTP handler streaming the response body), matching the MCP SSE
// transport's single-reader expectation.
type Session struct {
	ID        string
	CreatedAt time.Time

	queue     chan string
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	active    bool
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		queue:     make(chan string, queueSize),
		closed:    make(chan struct{}),
		active:    true,
	}
}

// Send queues a raw SSE event. It is a no-op once the session has been
// closed. The session's queue is never closed (only this done channel is),
// so a Send racing a concurrent close can never panic on a closed channel -
// it either lands in the queue or is abandoned once closed fires.
func (s *Session) Send(event string, data any) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			payload = fmt.Sprintf("%v", v)
		} else {
			payload = string(b)
		}
	}

	select {
	case s.queue <- fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload):
	case <-s.closed:
	}
}

// SendJSONRPC queues a JSON-RPC response as a "message" event.
func (s *Session) SendJSONRPC(resp *jsonrpc.Response) {
	s.Send("message", resp)
}

// Next blocks until the next queued event, a keepalive interval elapses, or
// ctx is canceled. The bool return is false once the stream should end.
func (s *Session) Next(ctx context.Context) (string, bool) {
	select {
	case msg := <-s.queue:
		return msg, true
	case <-time.After(KeepaliveInterval):
		return ": keepalive\n\n", true
	case <-s.closed:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// IsActive reports whether the session has not yet been closed.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// QueueLen reports the number of events currently buffered.
func (s *Session) QueueLen() int {
	return len(s.queue)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.closeOnce.Do(func() { close(s.closed) })
}

// Info is a JSON-serializable summary of a session, for the sessions
// listing endpoint.
type Info struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	QueueSize int    `json:"queue_size"`
}

// Manager tracks every live SSE session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logrus.Entry
}

// NewManager returns an empty session manager.
func NewManager(log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log.WithField("component", "sse"),
	}
}

// Connect creates and registers a new session.
func (m *Manager) Connect() *Session {
	s := newSession(uuid.NewString())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Infof("new SSE session: %s", s.ID)
	return s
}

// Get returns the session for id, if it exists and is still active.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || !s.IsActive() {
		return nil, false
	}
	return s, true
}

// Disconnect closes and removes a session, reporting whether it existed.
func (m *Manager) Disconnect(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.close()
	m.log.Infof("SSE session closed: %s", id)
	return true
}

// Cleanup removes a session from the registry without requiring the caller
// to already hold a reference, used by the stream handler's deferred
// teardown once the client disconnects.
func (m *Manager) Cleanup(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// List returns a snapshot of every tracked session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			SessionID: s.ID,
			Active:    s.IsActive(),
			QueueSize: s.QueueLen(),
		})
	}
	return out
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
