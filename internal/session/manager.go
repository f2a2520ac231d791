package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MarkAustinGrow/Coral-server/internal/streaming"
	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// Manager is the process-wide registry of sessions. It is explicitly
// constructed and injected rather than a package global so tests and
// embedders control its lifetime. Sessions accumulate for the process
// lifetime; there is no eviction policy.
type Manager struct {
	logger *slog.Logger
	hub    streaming.EventHub

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager. The hub is optional and is handed to
// every session it creates.
func NewManager(hub streaming.EventHub, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		hub:      hub,
		sessions: make(map[string]*Session),
	}
}

// CreateSession creates and stores a session with a fresh random id.
func (m *Manager) CreateSession(applicationID, privacyKey string) *Session {
	return m.CreateSessionWithID(uuid.NewString(), applicationID, privacyKey)
}

// CreateSessionWithID creates and stores a session under the given id.
// An existing session with the same id is replaced (last-write-wins; callers
// supplying their own ids own the collision risk).
func (m *Manager) CreateSessionWithID(id, applicationID, privacyKey string) *Session {
	s := New(id, applicationID, privacyKey, m.hub, m.logger)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		slog.String("session_id", id), slog.String("application_id", applicationID))
	s.emit(schema.EventSessionCreated, "", "", s.Info())
	return s
}

// GetSession returns the session with the given id, if present.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreateSession returns the existing session with the given id, or
// creates one. An existing session is returned unchanged even if
// applicationID or privacyKey differ from its stored values: the first
// writer wins and mismatched credentials on later calls are ignored.
func (m *Manager) GetOrCreateSession(id, applicationID, privacyKey string) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s
	}
	s := New(id, applicationID, privacyKey, m.hub, m.logger)
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		slog.String("session_id", id), slog.String("application_id", applicationID))
	s.emit(schema.EventSessionCreated, "", "", s.Info())
	return s
}

// GetAllSessions returns a point-in-time copy of all sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Clear removes every session. Test/reset facility.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}
