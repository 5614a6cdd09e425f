package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"flowbot/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, c model.Content) *model.NodeDefinition {
	return &model.NodeDefinition{ID: id, MessageType: c.Type(), Content: c}
}

func buttons(n int) []model.Button {
	out := make([]model.Button, n)
	for i := range out {
		out[i] = model.Button{Type: model.ButtonTypePostback, Title: fmt.Sprintf("B%d", i), Payload: fmt.Sprintf("P%d", i)}
	}
	return out
}

func elements(n int) []model.Element {
	out := make([]model.Element, n)
	for i := range out {
		out[i] = model.Element{Title: fmt.Sprintf("E%d", i), Subtitle: "sub", ImageURL: "https://img/x.png"}
	}
	return out
}

func allNodes() []*model.NodeDefinition {
	return []*model.NodeDefinition{
		node("text", model.TextContent{Text: "Hi"}),
		node("qr", model.QuickRepliesContent{Text: "Pick", QuickReplies: []model.QuickReplyOption{
			{Title: "Yes", Payload: "Y"},
			{Title: "No", Payload: "N", ImageURL: "https://img/no.png"},
		}}),
		node("buttons", model.ButtonTemplateContent{Text: "Choose", Buttons: []model.Button{
			{Type: model.ButtonTypePostback, Title: "Go", Payload: "GO"},
			{Type: model.ButtonTypeWebURL, Title: "Site", URL: "https://example.com"},
			{Type: model.ButtonTypePhoneNumber, Title: "Call", Payload: "+15550100"},
		}}),
		node("image", model.ImageContent{Media: model.Media{URL: "https://img/a.png", IsReusable: true}}),
		node("video", model.VideoContent{Media: model.Media{URL: "https://vid/a.mp4"}}),
		node("file", model.FileContent{Media: model.Media{URL: "https://files/a.pdf"}}),
		node("generic", model.GenericTemplateContent{Elements: []model.Element{
			{Title: "Card", Subtitle: "Sub", ImageURL: "https://img/c.png", DefaultActionURL: "https://example.com/c", Buttons: buttons(2)},
		}}),
		node("list", model.ListTemplateContent{Elements: elements(3), Buttons: buttons(1)}),
		node("receipt", model.ReceiptTemplateContent{
			RecipientName: "Ada",
			OrderNumber:   "42",
			Currency:      "USD",
			PaymentMethod: "Visa 1234",
			Items:         []model.ReceiptItem{{Title: "Tea", Quantity: 2, Price: 3.5, Currency: "USD"}},
			Summary:       model.ReceiptTotals{Subtotal: 7, ShippingCost: 1.25, TotalTax: 0.5, TotalCost: 8.75},
		}),
	}
}

func TestRender_Text(t *testing.T) {
	msg, warnings, err := Render(node("t", model.TextContent{Text: "Hi"}), Context{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, model.MessageTypeText, msg.MessageType)
	assert.Equal(t, "Hi", msg.Text)
	assert.Nil(t, msg.Attachment)
	assert.Equal(t, "t", msg.Metadata.NodeID)
}

func TestRender_QuickReplies(t *testing.T) {
	msg, _, err := Render(allNodes()[1], Context{TriggerPayload: "START", TriggerTitle: "Start"})
	require.NoError(t, err)
	require.Len(t, msg.QuickReplies, 2)
	assert.Equal(t, model.OutboundQuickReply{ContentType: "text", Title: "Yes", Payload: "Y"}, msg.QuickReplies[0])
	assert.Equal(t, "START", msg.Metadata.TriggeredByPayload)
	assert.Equal(t, "Start", msg.Metadata.TriggeredByTitle)
}

func TestRender_TemplateShapes(t *testing.T) {
	nodes := allNodes()

	msg, _, err := Render(nodes[2], Context{})
	require.NoError(t, err)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, model.AttachmentTypeTemplate, msg.Attachment.Type)
	assert.Equal(t, model.TemplateTypeButton, msg.Attachment.Payload.TemplateType)
	assert.Len(t, msg.Attachment.Payload.Buttons, 3)

	msg, _, err = Render(nodes[3], Context{})
	require.NoError(t, err)
	assert.Equal(t, model.AttachmentTypeImage, msg.Attachment.Type)
	assert.Equal(t, "https://img/a.png", msg.Attachment.Payload.URL)
	assert.True(t, msg.Attachment.Payload.IsReusable)

	msg, _, err = Render(nodes[6], Context{})
	require.NoError(t, err)
	require.Len(t, msg.Attachment.Payload.Elements, 1)
	assert.Equal(t, &model.DefaultAction{Type: "web_url", URL: "https://example.com/c"}, msg.Attachment.Payload.Elements[0].DefaultAction)

	msg, _, err = Render(nodes[8], Context{})
	require.NoError(t, err)
	assert.Equal(t, model.TemplateTypeReceipt, msg.Attachment.Payload.TemplateType)
	require.NotNil(t, msg.Attachment.Payload.Summary)
	assert.Equal(t, 8.75, msg.Attachment.Payload.Summary.TotalCost)
	assert.Equal(t, 2, msg.Attachment.Payload.Elements[0].Quantity)
}

func TestRender_ClampsWithWarnings(t *testing.T) {
	qrs := make([]model.QuickReplyOption, 15)
	for i := range qrs {
		qrs[i] = model.QuickReplyOption{Title: fmt.Sprintf("Q%d", i), Payload: fmt.Sprintf("P%d", i)}
	}

	tests := []struct {
		name  string
		node  *model.NodeDefinition
		check func(t *testing.T, msg model.OutboundMessage)
	}{
		{
			name: "quick replies",
			node: node("qr", model.QuickRepliesContent{Text: "Pick", QuickReplies: qrs}),
			check: func(t *testing.T, msg model.OutboundMessage) {
				assert.Len(t, msg.QuickReplies, model.MaxQuickReplies)
				assert.Equal(t, "Q0", msg.QuickReplies[0].Title)
			},
		},
		{
			name: "template buttons",
			node: node("bt", model.ButtonTemplateContent{Text: "Pick", Buttons: buttons(5)}),
			check: func(t *testing.T, msg model.OutboundMessage) {
				assert.Len(t, msg.Attachment.Payload.Buttons, model.MaxTemplateButtons)
			},
		},
		{
			name: "generic elements",
			node: node("gt", model.GenericTemplateContent{Elements: elements(12)}),
			check: func(t *testing.T, msg model.OutboundMessage) {
				assert.Len(t, msg.Attachment.Payload.Elements, model.MaxGenericElements)
			},
		},
		{
			name: "list elements",
			node: node("lt", model.ListTemplateContent{Elements: elements(6)}),
			check: func(t *testing.T, msg model.OutboundMessage) {
				assert.Len(t, msg.Attachment.Payload.Elements, model.MaxListElements)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, warnings, err := Render(tt.node, Context{})
			require.NoError(t, err)
			assert.Len(t, warnings, 1)
			tt.check(t, msg)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name string
		node *model.NodeDefinition
	}{
		{"nil node", nil},
		{"missing content", &model.NodeDefinition{ID: "x", MessageType: model.MessageTypeText}},
		{"unknown type", &model.NodeDefinition{ID: "x", MessageType: "carousel", Content: model.UnknownContent{MessageType: "carousel"}}},
		{"type mismatch", &model.NodeDefinition{ID: "x", MessageType: model.MessageTypeImage, Content: model.TextContent{Text: "Hi"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Render(tt.node, Context{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrRender))
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	for _, n := range allNodes() {
		a, _, err := Render(n, Context{TriggerPayload: "P"})
		require.NoError(t, err)
		b, _, err := Render(n, Context{TriggerPayload: "P"})
		require.NoError(t, err)
		assert.Equal(t, a, b, n.ID)
	}
}

func TestRender_RoundTrip(t *testing.T) {
	for _, n := range allNodes() {
		t.Run(n.ID, func(t *testing.T) {
			msg, _, err := Render(n, Context{TriggerPayload: "P", TriggerTitle: "T"})
			require.NoError(t, err)

			data, err := json.Marshal(msg)
			require.NoError(t, err)

			var back model.OutboundMessage
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, msg, back)
		})
	}
}
