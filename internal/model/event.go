package model

// InboundEvent is one user interaction delivered by a channel adapter.
type InboundEvent struct {
	ChannelUserID string `json:"channelUserId" validate:"required"`
	// WorkflowID may be empty to address the active workflow.
	WorkflowID     string `json:"workflowId,omitempty"`
	Raw            string `json:"raw,omitempty"`
	TriggerPayload string `json:"triggerPayload,omitempty"`
	TriggerTitle   string `json:"triggerTitle,omitempty"`
}

// HasTrigger reports whether the event came from a button or quick reply.
// An empty payload counts as free text.
func (e InboundEvent) HasTrigger() bool {
	return e.TriggerPayload != ""
}

// DisplayText is what the user visibly sent.
func (e InboundEvent) DisplayText() string {
	if e.HasTrigger() && e.TriggerTitle != "" {
		return e.TriggerTitle
	}
	return e.Raw
}
