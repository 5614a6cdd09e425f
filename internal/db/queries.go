package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

// Workflow represents a workflows row
type Workflow struct {
	ID            string
	Name          string
	ActiveVersion *int
	IsActive      bool
	UpdatedAt     time.Time
}

// Workflow queries
func (q *Queries) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var w Workflow
	err := q.Pool.QueryRow(ctx,
		"SELECT id, name, active_version, is_active, updated_at FROM workflows WHERE id = $1",
		id,
	).Scan(&w.ID, &w.Name, &w.ActiveVersion, &w.IsActive, &w.UpdatedAt)
	return w, err
}

// GetActiveWorkflow returns the workflow flagged as the default one.
func (q *Queries) GetActiveWorkflow(ctx context.Context) (Workflow, error) {
	var w Workflow
	err := q.Pool.QueryRow(ctx,
		`SELECT id, name, active_version, is_active, updated_at
		FROM workflows
		WHERE is_active AND active_version IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1`,
	).Scan(&w.ID, &w.Name, &w.ActiveVersion, &w.IsActive, &w.UpdatedAt)
	return w, err
}

func (q *Queries) GetWorkflowDocument(ctx context.Context, workflowID string, version int) ([]byte, error) {
	var doc []byte
	err := q.Pool.QueryRow(ctx,
		"SELECT document FROM workflow_versions WHERE workflow_id = $1 AND version = $2",
		workflowID, version,
	).Scan(&doc)
	return doc, err
}

// CreateWorkflowVersion stores a new immutable version, creating the
// workflow row when needed.
func (q *Queries) CreateWorkflowVersion(ctx context.Context, workflowID, name string, version int, document []byte) error {
	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO workflows (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`,
		workflowID, name,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO workflow_versions (workflow_id, version, document) VALUES ($1, $2, $3)",
		workflowID, version, document,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ActivateWorkflowVersion makes version live and the workflow the default one.
func (q *Queries) ActivateWorkflowVersion(ctx context.Context, workflowID string, version int) error {
	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "UPDATE workflows SET is_active = FALSE WHERE id <> $1 AND is_active", workflowID); err != nil {
		return err
	}
	result, err := tx.Exec(ctx,
		"UPDATE workflows SET active_version = $2, is_active = TRUE, updated_at = NOW() WHERE id = $1",
		workflowID, version,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

// Session represents a sessions row
type Session struct {
	ID              string
	ChannelUserID   string
	WorkflowID      string
	WorkflowVersion int
	CurrentNodeID   *string
	History         []byte
	Status          string
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const sessionColumns = `id, channel_user_id, workflow_id, workflow_version, current_node_id,
	history, status, revision, created_at, updated_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.ChannelUserID, &s.WorkflowID, &s.WorkflowVersion, &s.CurrentNodeID,
		&s.History, &s.Status, &s.Revision, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// Session queries
func (q *Queries) GetSession(ctx context.Context, workflowID, channelUserID string) (Session, error) {
	return scanSession(q.Pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE workflow_id = $1 AND channel_user_id = $2",
		workflowID, channelUserID,
	))
}

func (q *Queries) GetSessionByID(ctx context.Context, id string) (Session, error) {
	return scanSession(q.Pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1",
		id,
	))
}

// InsertSession creates the row for a key that has none. It returns
// pgx.ErrNoRows when the key is already taken.
func (q *Queries) InsertSession(ctx context.Context, s Session) error {
	result, err := q.Pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workflow_id, channel_user_id) DO NOTHING`,
		s.ID, s.ChannelUserID, s.WorkflowID, s.WorkflowVersion, s.CurrentNodeID,
		s.History, s.Status, s.Revision, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateSession overwrites the row for s's key if its revision still equals
// expected. It returns pgx.ErrNoRows when the revision moved.
func (q *Queries) UpdateSession(ctx context.Context, s Session, expected int64) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE sessions SET id = $3, workflow_version = $4, current_node_id = $5, history = $6,
			status = $7, revision = $8, created_at = $9, updated_at = $10
		WHERE workflow_id = $1 AND channel_user_id = $2 AND revision = $11`,
		s.WorkflowID, s.ChannelUserID, s.ID, s.WorkflowVersion, s.CurrentNodeID, s.History,
		s.Status, s.Revision, s.CreatedAt, s.UpdatedAt, expected,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (q *Queries) DeleteSession(ctx context.Context, workflowID, channelUserID string) error {
	_, err := q.Pool.Exec(ctx,
		"DELETE FROM sessions WHERE workflow_id = $1 AND channel_user_id = $2",
		workflowID, channelUserID,
	)
	return err
}

// ChatMessage represents a chat_messages row
type ChatMessage struct {
	ID            string
	SessionID     string
	ChannelUserID string
	WorkflowID    string
	Sender        string
	Text          string
	Payload       *string
	NodeID        *string
	Message       []byte
	CreatedAt     time.Time
}

// Chat message queries
func (q *Queries) InsertChatMessages(ctx context.Context, messages []ChatMessage) error {
	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(
			`INSERT INTO chat_messages (id, session_id, channel_user_id, workflow_id, sender, text, payload, node_id, message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			m.ID, m.SessionID, m.ChannelUserID, m.WorkflowID, m.Sender, m.Text, m.Payload, m.NodeID, m.Message, m.CreatedAt,
		)
	}
	return q.Pool.SendBatch(ctx, batch).Close()
}

// ListChatMessagesByUser returns the newest limit messages of a user, oldest first.
func (q *Queries) ListChatMessagesByUser(ctx context.Context, channelUserID string, limit int) ([]ChatMessage, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, session_id, channel_user_id, workflow_id, sender, text, payload, node_id, message, created_at
		FROM (
			SELECT * FROM chat_messages
			WHERE channel_user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id`,
		channelUserID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectChatMessages(rows)
}

func (q *Queries) ListChatMessagesBySession(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT id, session_id, channel_user_id, workflow_id, sender, text, payload, node_id, message, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	return collectChatMessages(rows)
}

func collectChatMessages(rows pgx.Rows) ([]ChatMessage, error) {
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		err := rows.Scan(
			&m.ID, &m.SessionID, &m.ChannelUserID, &m.WorkflowID, &m.Sender, &m.Text,
			&m.Payload, &m.NodeID, &m.Message, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
