package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[Key]Session
	byUser   map[string]map[string]struct{}
	byToken  map[string]Key
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[Key]Session),
		byUser:   make(map[string]map[string]struct{}),
		byToken:  make(map[string]Key),
	}
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	key := s.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[key]; ok {
		delete(m.byToken, old.RefreshToken)
	}

	m.sessions[key] = *s
	m.byToken[s.RefreshToken] = key

	devices, ok := m.byUser[key.Username]
	if !ok {
		devices = make(map[string]struct{})
		m.byUser[key.Username] = devices
	}
	devices[key.DeviceID] = struct{}{}

	return nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := m.byUser[username]
	out := make([]Session, 0, len(devices))
	for device := range devices {
		out = append(out, m.sessions[Key{Username: username, DeviceID: device}])
	}
	return out, nil
}

func (m *MemoryStore) FindByToken(_ context.Context, refreshToken string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byToken[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	s := m.sessions[key]
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key), nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, key Key, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; !ok || !s.ExpiresAt.Before(ts) {
		return false, nil
	}
	return m.deleteLocked(key), nil
}

func (m *MemoryStore) deleteLocked(key Key) bool {
	s, ok := m.sessions[key]
	if !ok {
		return false
	}

	delete(m.sessions, key)
	delete(m.byToken, s.RefreshToken)
	if devices, ok := m.byUser[key.Username]; ok {
		delete(devices, key.DeviceID)
		if len(devices) == 0 {
			delete(m.byUser, key.Username)
		}
	}
	return true
}

func (m *MemoryStore) DeleteAll(_ context.Context, username string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for device := range m.byUser[username] {
		if m.deleteLocked(Key{Username: username, DeviceID: device}) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) FindExpiredBefore(_ context.Context, ts time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.ExpiresAt.Before(ts) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Len returns the number of stored sessions, expired or not
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
