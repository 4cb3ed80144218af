package chat

import (
	"context"
	"sync"

	"tradechat/internal/models"
)

// Manager owns the live sessions, one per conversation. Opening the same
// conversation twice returns the existing session.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for the conversation between selfID and peerID,
// creating and subscribing it on first use.
func (m *Manager) Open(ctx context.Context, selfID, peerID string) (*Session, error) {
	convID := models.ConversationID(selfID, peerID)

	m.mu.Lock()
	if s, ok := m.sessions[convID]; ok && convID != "" {
		m.mu.Unlock()
		return s, nil
	}
	s := NewSession(m.cfg, selfID, peerID)
	if convID != "" {
		m.sessions[convID] = s
	}
	m.mu.Unlock()

	if err := s.Open(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, convID)
		m.mu.Unlock()
		s.Close()
		return nil, err
	}
	return s, nil
}

// Get looks up a session by conversation id.
func (m *Manager) Get(conversationID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	m.mu.Unlock()
	return s, ok
}

// Close tears down and forgets one session.
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
