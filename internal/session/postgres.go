package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"flowbot/internal/db"
	"flowbot/internal/model"

	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps sessions in the sessions table.
type PostgresStore struct {
	queries *db.Queries
}

func NewPostgresStore(queries *db.Queries) *PostgresStore {
	return &PostgresStore{queries: queries}
}

func (p *PostgresStore) Load(ctx context.Context, key model.SessionKey) (*model.Session, error) {
	row, err := p.queries.GetSession(ctx, key.WorkflowID, key.ChannelUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("session.Load", "no session for %s", key)
	}
	if err != nil {
		return nil, storeError("session.Load", err)
	}
	return fromRow(row)
}

func (p *PostgresStore) Save(ctx context.Context, s *model.Session) error {
	stored := s.Clone()
	stored.Revision++
	row, err := toRow(stored)
	if err != nil {
		return err
	}

	if s.Revision == 0 {
		err = p.queries.InsertSession(ctx, row)
	} else {
		err = p.queries.UpdateSession(ctx, row, s.Revision)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.E("session.Save", model.ErrConflict, fmt.Errorf("session %s is no longer at revision %d", s.Key(), s.Revision))
	}
	if err != nil {
		return storeError("session.Save", err)
	}
	s.Revision = stored.Revision
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key model.SessionKey) error {
	return storeError("session.Delete", p.queries.DeleteSession(ctx, key.WorkflowID, key.ChannelUserID))
}

func (p *PostgresStore) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	row, err := p.queries.GetSessionByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("session.FindByID", "no session %s", sessionID)
	}
	if err != nil {
		return nil, storeError("session.FindByID", err)
	}
	return fromRow(row)
}

func toRow(s *model.Session) (db.Session, error) {
	history, err := json.Marshal(s.History)
	if err != nil {
		return db.Session{}, fmt.Errorf("failed to encode history: %w", err)
	}
	if s.History == nil {
		history = []byte("[]")
	}
	row := db.Session{
		ID:              s.ID,
		ChannelUserID:   s.ChannelUserID,
		WorkflowID:      s.WorkflowID,
		WorkflowVersion: s.WorkflowVersion,
		History:         history,
		Status:          string(s.Status),
		Revision:        s.Revision,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.CurrentNodeID != "" {
		node := s.CurrentNodeID
		row.CurrentNodeID = &node
	}
	return row, nil
}

func fromRow(row db.Session) (*model.Session, error) {
	s := &model.Session{
		ID:              row.ID,
		ChannelUserID:   row.ChannelUserID,
		WorkflowID:      row.WorkflowID,
		WorkflowVersion: row.WorkflowVersion,
		Status:          model.SessionStatus(row.Status),
		Revision:        row.Revision,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.CurrentNodeID != nil {
		s.CurrentNodeID = *row.CurrentNodeID
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &s.History); err != nil {
			return nil, storeError("session.Load", fmt.Errorf("failed to decode history: %w", err))
		}
	}
	if len(s.History) == 0 {
		s.History = nil
	}
	return s, nil
}
