package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/Anvoria/sessionkeeper/internal/clock"
)

// Memory is a process-local Blacklist
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	clock   clock.Clock
}

// NewMemory creates an empty in-memory blacklist
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		clock:   clk,
	}
}

func (m *Memory) Add(_ context.Context, token string, expiry time.Time) error {
	m.mu.Lock()
	m.entries[token] = expiry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Contains(_ context.Context, token string) (bool, error) {
	m.mu.RLock()
	expiry, ok := m.entries[token]
	m.mu.RUnlock()

	return ok && !m.clock.Now().After(expiry), nil
}

func (m *Memory) Sweep(_ context.Context) (int, error) {
	now := m.clock.Now()

	// snapshot under the read lock, delete under the write lock
	m.mu.RLock()
	var stale []string
	for token, expiry := range m.entries {
		if !expiry.After(now) {
			stale = append(stale, token)
		}
	}
	m.mu.RUnlock()

	if len(stale) == 0 {
		return 0, nil
	}

	removed := 0
	m.mu.Lock()
	for _, token := range stale {
		if expiry, ok := m.entries[token]; ok && !expiry.After(now) {
			delete(m.entries, token)
			removed++
		}
	}
	m.mu.Unlock()

	return removed, nil
}

// Len returns the number of stored entries, live or not
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
