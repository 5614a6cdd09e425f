package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeDefinition_JSON(t *testing.T) {
	nodes := []NodeDefinition{
		{ID: "t", MessageType: MessageTypeText, IsStart: true, Content: TextContent{Text: "Hi"}},
		{ID: "q", Label: "Question", MessageType: MessageTypeQuickReplies, Content: QuickRepliesContent{
			Text: "Pick", QuickReplies: []QuickReplyOption{{Title: "A", Payload: "A"}},
		}},
		{ID: "v", MessageType: MessageTypeVideo, Content: VideoContent{Media: Media{URL: "https://v/1.mp4", IsReusable: true}}},
		{ID: "r", MessageType: MessageTypeReceiptTemplate, Content: ReceiptTemplateContent{
			RecipientName: "Ada", OrderNumber: "1", Currency: "EUR", PaymentMethod: "Card",
			Items:   []ReceiptItem{{Title: "Book", Quantity: 1, Price: 12.5}},
			Summary: ReceiptTotals{TotalCost: 12.5},
		}},
	}

	for _, n := range nodes {
		t.Run(n.ID, func(t *testing.T) {
			data, err := json.Marshal(n)
			require.NoError(t, err)

			var back NodeDefinition
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, n, back)
		})
	}
}

func TestNodeDefinition_UnknownTypeKeepsRaw(t *testing.T) {
	var n NodeDefinition
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c","messageType":"carousel","content":{"cards":[1,2]}}`), &n))

	c, ok := n.Content.(UnknownContent)
	require.True(t, ok)
	assert.Equal(t, MessageType("carousel"), c.Type())
	assert.JSONEq(t, `{"cards":[1,2]}`, string(c.Raw))

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c","messageType":"carousel","content":{"cards":[1,2]}}`, string(data))
}

func TestDecodeContent_Malformed(t *testing.T) {
	_, err := DecodeContent(MessageTypeText, json.RawMessage(`{"text": 5}`))
	assert.Error(t, err)

	c, err := DecodeContent(MessageTypeImage, nil)
	require.NoError(t, err)
	assert.Equal(t, ImageContent{}, c)
}

func TestSession_EnterIsBounded(t *testing.T) {
	s := &Session{Status: SessionStatusActive}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		s.Enter(fmt.Sprintf("n%d", i), at.Add(time.Duration(i)*time.Second), 5)
	}

	assert.Equal(t, "n7", s.CurrentNodeID)
	require.Len(t, s.History, 5)
	assert.Equal(t, "n3", s.History[0].NodeID)
	assert.Equal(t, "n7", s.History[4].NodeID)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{ID: "s", History: []HistoryEntry{{NodeID: "a"}}}
	c := s.Clone()
	c.History[0].NodeID = "changed"
	c.Enter("b", time.Now(), 10)

	assert.Equal(t, "a", s.History[0].NodeID)
	assert.Len(t, s.History, 1)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestSession_End(t *testing.T) {
	s := &Session{Status: SessionStatusActive, CurrentNodeID: "last"}
	at := time.Now()
	s.End(at)
	assert.False(t, s.IsActive())
	assert.Equal(t, "last", s.CurrentNodeID)
	assert.Equal(t, at, s.UpdatedAt)
}

func TestInboundEvent(t *testing.T) {
	assert.False(t, InboundEvent{Raw: "hi", TriggerTitle: "Hi"}.HasTrigger())
	assert.Equal(t, "hi", InboundEvent{Raw: "hi", TriggerTitle: "Hi"}.DisplayText())
	assert.Equal(t, "Yes", InboundEvent{TriggerPayload: "Y", TriggerTitle: "Yes"}.DisplayText())
	assert.Equal(t, "raw", InboundEvent{TriggerPayload: "Y", Raw: "raw"}.DisplayText())
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", E("session.Save", ErrStoreUnavailable, errors.New("dial tcp")))
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(E("engine.ProcessEvent", ErrInvalidInput, nil)))

	invalid := &GraphInvalidError{WorkflowID: "w", Version: 2, Violations: []Violation{{Code: "start_missing", Message: "no start"}}}
	assert.True(t, errors.Is(invalid, ErrGraphInvalid))
	assert.Contains(t, invalid.Error(), "w v2")
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{E("op", ErrInvalidInput, nil), "invalid_input"},
		{E("op", ErrNotFound, nil), "not_found"},
		{E("op", ErrConflict, nil), "conflict"},
		{&GraphInvalidError{WorkflowID: "w"}, "graph_invalid"},
		{E("op", ErrRender, nil), "render_failed"},
		{fmt.Errorf("x: %w", E("op", ErrStoreUnavailable, nil)), "store_unavailable"},
		{E("op", ErrTimeout, nil), "timeout"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}
