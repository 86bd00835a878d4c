package server

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/framegrace/turbosheet/grid"
)

// Manager tracks the sessions of live connections.
type Manager struct {
	mu       sync.RWMutex
	sessions map[[16]byte]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[[16]byte]*Session)}
}

// NewSession issues a fresh random session id bound to the given sheet.
func (m *Manager) NewSession(name string, src grid.Source) (*Session, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, err
	}
	session := &Session{id: id, name: name, src: src, started: time.Now()}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = session
	return session, nil
}

func (m *Manager) Close(id [16]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
