package sessions

import "sync"

var _ Session = (*LocalSession)(nil)

// LocalSession is the single session of a stdio connection. The transport
// creates it before the handshake and records the negotiated values once
// initialize succeeds.
type LocalSession struct {
	id     string
	userID string

	mu              sync.RWMutex
	protocolVersion string
	clientInfo      ClientInfo
}

// NewLocalSession creates a session for the given identifiers.
func NewLocalSession(id, userID string) *LocalSession {
	return &LocalSession{id: id, userID: userID}
}

func (s *LocalSession) SessionID() string {
	return s.id
}

func (s *LocalSession) UserID() string {
	return s.userID
}

func (s *LocalSession) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *LocalSession) ClientInfo() ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// SetNegotiated records the outcome of the initialize handshake.
func (s *LocalSession) SetNegotiated(protocolVersion string, info ClientInfo) {
	s.mu.Lock()
	s.protocolVersion = protocolVersion
	s.clientInfo = info
	s.mu.Unlock()
}
