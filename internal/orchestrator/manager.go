package orchestrator

import (
	"sync"
)

// Manager hands out one Orchestrator per authenticated user.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	users map[string]*Orchestrator
}

// NewManager creates a manager that builds orchestrators with the given
// shared configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		users: make(map[string]*Orchestrator),
	}
}

// ForUser returns the user's orchestrator, creating it on first use.
func (m *Manager) ForUser(userID string) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.users[userID]; ok {
		return o
	}
	o := New(userID, m.cfg)
	m.users[userID] = o
	return o
}

// Drop forgets a user's orchestrator, e.g. on logout. The user's cache entry
// is cleared separately by the caller.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	delete(m.users, userID)
	m.mu.Unlock()
}
