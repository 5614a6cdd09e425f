package model

import "time"

// Sender tells who authored a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// TranscriptEntry is one message exchanged during a session.
type TranscriptEntry struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"sessionId"`
	ChannelUserID string           `json:"channelUserId"`
	WorkflowID    string           `json:"workflowId"`
	Sender        Sender           `json:"sender"`
	Text          string           `json:"text,omitempty"`
	Payload       string           `json:"payload,omitempty"`
	NodeID        string           `json:"nodeId,omitempty"`
	Message       *OutboundMessage `json:"message,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Transcript limits for history reads.
const (
	DefaultTranscriptLimit = 50
	MaxTranscriptLimit     = 200
)
