package model

import "time"

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// DefaultHistoryLimit bounds Session.History.
const DefaultHistoryLimit = 50

// SessionKey identifies the single active session of a user in a workflow.
type SessionKey struct {
	ChannelUserID string `json:"channelUserId"`
	WorkflowID    string `json:"workflowId"`
}

func (k SessionKey) String() string {
	return k.WorkflowID + ":" + k.ChannelUserID
}

// HistoryEntry records a node the session entered.
type HistoryEntry struct {
	NodeID    string    `json:"nodeId"`
	EnteredAt time.Time `json:"enteredAt"`
}

// Session is the durable per-user pointer into a workflow graph.
type Session struct {
	ID              string         `json:"sessionId"`
	ChannelUserID   string         `json:"channelUserId"`
	WorkflowID      string         `json:"workflowId"`
	WorkflowVersion int            `json:"workflowVersion"`
	CurrentNodeID   string         `json:"currentNodeId,omitempty"`
	History         []HistoryEntry `json:"history,omitempty"`
	Status          SessionStatus  `json:"status"`
	// Revision is bumped by the store on every save; zero means never persisted.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the store key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{ChannelUserID: s.ChannelUserID, WorkflowID: s.WorkflowID}
}

// IsActive reports whether the session still accepts events.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Enter moves the session to nodeID and appends to the bounded history.
func (s *Session) Enter(nodeID string, at time.Time, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.CurrentNodeID = nodeID
	s.History = append(s.History, HistoryEntry{NodeID: nodeID, EnteredAt: at})
	if over := len(s.History) - limit; over > 0 {
		s.History = append([]HistoryEntry(nil), s.History[over:]...)
	}
}

// End marks the session ended. CurrentNodeID keeps the node the
// conversation ended on; an ended session never resumes from it.
func (s *Session) End(at time.Time) {
	s.Status = SessionStatusEnded
	s.UpdatedAt = at
}

// Clone returns a deep copy so a turn can mutate without touching the loaded state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.History != nil {
		c.History = append([]HistoryEntry(nil), s.History...)
	}
	return &c
}

// IdleCheck identifies the exact session state an idle-expiry job was
// scheduled for. The job only ends a session still in that state.
type IdleCheck struct {
	ChannelUserID string `json:"userId"`
	WorkflowID    string `json:"workflowId"`
	SessionID     string `json:"sessionId"`
	Revision      int64  `json:"revision"`
}

// Key returns the session key the check applies to.
func (c IdleCheck) Key() SessionKey {
	return SessionKey{ChannelUserID: c.ChannelUserID, WorkflowID: c.WorkflowID}
}
