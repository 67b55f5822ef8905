package engine

import (
	"sync"

	"github.com/ggoodman/mcp-users/sessions"
)

var _ sessions.Session = (*SessionHandle)(nil)

// SessionHandle is the engine's view of one connected client: the session
// identity, the writer used for notifications and the handshake state.
type SessionHandle struct {
	*sessions.LocalSession
	writer MessageWriter

	mu          sync.Mutex
	initialized bool // initialize answered
	ready       bool // notifications/initialized received
}

// NewSessionHandle binds a session to the writer used for its notifications.
// A nil writer drops notifications.
func NewSessionHandle(sess *sessions.LocalSession, w MessageWriter) *SessionHandle {
	return &SessionHandle{LocalSession: sess, writer: w}
}

// Initialized reports whether the initialize request has been answered.
func (s *SessionHandle) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Ready reports whether the client confirmed the handshake.
func (s *SessionHandle) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *SessionHandle) markInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

func (s *SessionHandle) markReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}
