package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"flowbot/internal/db"
	"flowbot/internal/model"

	"github.com/oklog/ulid/v2"
)

// Transcript stores the messages exchanged in each turn.
type Transcript interface {
	Append(ctx context.Context, entries ...model.TranscriptEntry) error
	// ByUser returns the newest limit entries of a user, oldest first.
	ByUser(ctx context.Context, channelUserID string, limit int) ([]model.TranscriptEntry, error)
	BySession(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error)
}

// record appends the user's message and the bot's answer of a turn.
func (e *Engine) record(ctx context.Context, ev model.InboundEvent, s *model.Session, turn *Turn) error {
	now := e.now()
	msg := turn.Message
	entries := []model.TranscriptEntry{
		{
			ID:            ulid.Make().String(),
			SessionID:     s.ID,
			ChannelUserID: s.ChannelUserID,
			WorkflowID:    s.WorkflowID,
			Sender:        model.SenderUser,
			Text:          ev.DisplayText(),
			Payload:       ev.TriggerPayload,
			CreatedAt:     now,
		},
		{
			ID:            ulid.Make().String(),
			SessionID:     s.ID,
			ChannelUserID: s.ChannelUserID,
			WorkflowID:    s.WorkflowID,
			Sender:        model.SenderBot,
			Text:          msg.Text,
			NodeID:        msg.Metadata.NodeID,
			Message:       &msg,
			CreatedAt:     now,
		},
	}
	return e.transcript.Append(ctx, entries...)
}

// MemoryTranscript keeps transcripts in process memory.
type MemoryTranscript struct {
	mu      sync.RWMutex
	entries []model.TranscriptEntry
}

func NewMemoryTranscript() *MemoryTranscript {
	return &MemoryTranscript{}
}

func (m *MemoryTranscript) Append(ctx context.Context, entries ...model.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemoryTranscript) ByUser(ctx context.Context, channelUserID string, limit int) ([]model.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.TranscriptEntry
	for _, en := range m.entries {
		if en.ChannelUserID == channelUserID {
			out = append(out, en)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryTranscript) BySession(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.TranscriptEntry
	for _, en := range m.entries {
		if en.SessionID == sessionID {
			out = append(out, en)
		}
	}
	return out, nil
}

// PostgresTranscript keeps transcripts in the chat_messages table.
type PostgresTranscript struct {
	queries *db.Queries
}

func NewPostgresTranscript(queries *db.Queries) *PostgresTranscript {
	return &PostgresTranscript{queries: queries}
}

func (p *PostgresTranscript) Append(ctx context.Context, entries ...model.TranscriptEntry) error {
	rows := make([]db.ChatMessage, 0, len(entries))
	for _, en := range entries {
		row := db.ChatMessage{
			ID:            en.ID,
			SessionID:     en.SessionID,
			ChannelUserID: en.ChannelUserID,
			WorkflowID:    en.WorkflowID,
			Sender:        string(en.Sender),
			Text:          en.Text,
			CreatedAt:     en.CreatedAt,
		}
		if en.Payload != "" {
			payload := en.Payload
			row.Payload = &payload
		}
		if en.NodeID != "" {
			nodeID := en.NodeID
			row.NodeID = &nodeID
		}
		if en.Message != nil {
			data, err := json.Marshal(en.Message)
			if err != nil {
				return fmt.Errorf("failed to encode message: %w", err)
			}
			row.Message = data
		}
		rows = append(rows, row)
	}
	if err := p.queries.InsertChatMessages(ctx, rows); err != nil {
		return fmt.Errorf("failed to insert chat messages: %w", err)
	}
	return nil
}

func (p *PostgresTranscript) ByUser(ctx context.Context, channelUserID string, limit int) ([]model.TranscriptEntry, error) {
	rows, err := p.queries.ListChatMessagesByUser(ctx, channelUserID, limit)
	if err != nil {
		return nil, model.E("engine.History", model.ErrStoreUnavailable, err)
	}
	return fromChatMessages(rows)
}

func (p *PostgresTranscript) BySession(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error) {
	rows, err := p.queries.ListChatMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, model.E("engine.SessionHistory", model.ErrStoreUnavailable, err)
	}
	return fromChatMessages(rows)
}

func fromChatMessages(rows []db.ChatMessage) ([]model.TranscriptEntry, error) {
	out := make([]model.TranscriptEntry, 0, len(rows))
	for _, row := range rows {
		en := model.TranscriptEntry{
			ID:            row.ID,
			SessionID:     row.SessionID,
			ChannelUserID: row.ChannelUserID,
			WorkflowID:    row.WorkflowID,
			Sender:        model.Sender(row.Sender),
			Text:          row.Text,
			CreatedAt:     row.CreatedAt,
		}
		if row.Payload != nil {
			en.Payload = *row.Payload
		}
		if row.NodeID != nil {
			en.NodeID = *row.NodeID
		}
		if len(row.Message) > 0 {
			var msg model.OutboundMessage
			if err := json.Unmarshal(row.Message, &msg); err != nil {
				return nil, fmt.Errorf("failed to decode message %s: %w", row.ID, err)
			}
			en.Message = &msg
		}
		out = append(out, en)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
