// Package session owns conversation state: one session per
// (channel user, workflow) key, persisted with optimistic revisions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowbot/internal/model"

	"github.com/oklog/ulid/v2"
)

// Store persists sessions. Save is a compare-and-swap on Session.Revision:
// it fails with model.ErrConflict when the stored revision differs, and on
// success increments s.Revision to the stored value.
type Store interface {
	Load(ctx context.Context, key model.SessionKey) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, key model.SessionKey) error
	FindByID(ctx context.Context, sessionID string) (*model.Session, error)
}

// Manager implements session lifecycle on top of a Store. Sessions handed
// out by GetOrCreate are not persisted until Save or End.
type Manager struct {
	store        Store
	historyLimit int
	now          func() time.Time
}

// NewManager creates a Manager; a historyLimit of 0 uses the default.
func NewManager(store Store, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = model.DefaultHistoryLimit
	}
	return &Manager{store: store, historyLimit: historyLimit, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) HistoryLimit() int {
	return m.historyLimit
}

// GetOrCreate returns the active session for key. When there is none, or
// the stored one has ended, a fresh session positioned on startNodeID is
// returned with created set. The fresh session inherits the stored revision
// so that saving it replaces the old one.
func (m *Manager) GetOrCreate(ctx context.Context, key model.SessionKey, version int, startNodeID string) (*model.Session, bool, error) {
	existing, err := m.store.Load(ctx, key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}
	if existing != nil && existing.IsActive() {
		return existing, false, nil
	}

	now := m.now()
	s := &model.Session{
		ID:              ulid.Make().String(),
		ChannelUserID:   key.ChannelUserID,
		WorkflowID:      key.WorkflowID,
		WorkflowVersion: version,
		Status:          model.SessionStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		s.Revision = existing.Revision
	}
	s.Enter(startNodeID, now, m.historyLimit)
	return s, true, nil
}

// Save persists s.
func (m *Manager) Save(ctx context.Context, s *model.Session) error {
	return m.store.Save(ctx, s)
}

// End marks s ended and persists it.
func (m *Manager) End(ctx context.Context, s *model.Session) error {
	ended := s.Clone()
	ended.End(m.now())
	if err := m.store.Save(ctx, ended); err != nil {
		return err
	}
	*s = *ended
	return nil
}

// Reset deletes the state of key so the next event starts over.
func (m *Manager) Reset(ctx context.Context, key model.SessionKey) error {
	return m.store.Delete(ctx, key)
}

func (m *Manager) Load(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	return m.store.Load(ctx, key)
}

func (m *Manager) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	return m.store.FindByID(ctx, sessionID)
}

// storeError classifies an infrastructure error.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrConflict):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return model.E(op, model.ErrTimeout, err)
	default:
		return model.E(op, model.ErrStoreUnavailable, err)
	}
}

func notFound(op string, format string, args ...interface{}) error {
	return model.E(op, model.ErrNotFound, fmt.Errorf(format, args...))
}

func conflict(op string, key model.SessionKey, expected, actual int64) error {
	return model.E(op, model.ErrConflict, fmt.Errorf("session %s at revision %d, expected %d", key, actual, expected))
}
