package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a process-local map.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]FlowSession
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]FlowSession),
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemoryStore) Save(_ context.Context, s *FlowSession) error {
	id := normalizeID(s.ID)
	if id == "" {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = *s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*FlowSession, error) {
	id = normalizeID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(m.now()) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Take(_ context.Context, id string) (*FlowSession, error) {
	id = normalizeID(id)
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, id)
	if s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, normalizeID(id))
	return nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }
