package session

import (
	"context"
	"sync"

	"flowbot/internal/model"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[model.SessionKey]*model.Session
	byID     map[string]model.SessionKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[model.SessionKey]*model.Session),
		byID:     make(map[string]model.SessionKey),
	}
}

func (m *MemoryStore) Load(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, notFound("session.Load", "no session for %s", key)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *model.Session) error {
	if err := ctx.Err(); err != nil {
		return storeError("session.Save", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Key()
	var current int64
	prev, ok := m.sessions[key]
	if ok {
		current = prev.Revision
	}
	if current != s.Revision {
		return conflict("session.Save", key, s.Revision, current)
	}

	stored := s.Clone()
	stored.Revision++
	if ok && prev.ID != stored.ID {
		delete(m.byID, prev.ID)
	}
	m.sessions[key] = stored
	m.byID[stored.ID] = key
	s.Revision = stored.Revision
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key model.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		delete(m.byID, s.ID)
		delete(m.sessions, key)
	}
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byID[sessionID]
	if !ok {
		return nil, notFound("session.FindByID", "no session %s", sessionID)
	}
	return m.sessions[key].Clone(), nil
}
