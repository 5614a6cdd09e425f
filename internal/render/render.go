// Package render turns node definitions into channel-ready outbound messages.
package render

import (
	"fmt"

	"flowbot/internal/model"
)

// Context carries the event that caused a node to be rendered.
type Context struct {
	TriggerPayload string
	TriggerTitle   string
}

// Render resolves node into an OutboundMessage. It is pure: the same node
// and context always produce the same message. Content over the platform
// limits is clamped and reported in the returned warnings.
func Render(node *model.NodeDefinition, ctx Context) (model.OutboundMessage, []string, error) {
	if node == nil {
		return model.OutboundMessage{}, nil, model.E("render.Render", model.ErrRender, fmt.Errorf("node is nil"))
	}
	if node.Content == nil {
		return model.OutboundMessage{}, nil, renderErr(node, "node has no content")
	}
	if node.Content.Type() != node.MessageType {
		return model.OutboundMessage{}, nil, renderErr(node, "content is %q but message type is %q", node.Content.Type(), node.MessageType)
	}

	r := renderer{node: node}
	msg := model.OutboundMessage{
		MessageType: node.MessageType,
		Metadata: model.MessageMetadata{
			NodeID:             node.ID,
			NodeType:           node.MessageType,
			TriggeredByPayload: ctx.TriggerPayload,
			TriggeredByTitle:   ctx.TriggerTitle,
		},
	}

	switch c := node.Content.(type) {
	case model.TextContent:
		msg.Text = c.Text
	case model.QuickRepliesContent:
		msg.Text = c.Text
		msg.QuickReplies = r.quickReplies(c.QuickReplies)
	case model.ButtonTemplateContent:
		msg.Attachment = template(model.AttachmentPayload{
			TemplateType: model.TemplateTypeButton,
			Text:         c.Text,
			Buttons:      r.buttons("", c.Buttons),
		})
	case model.ImageContent:
		msg.Attachment = media(model.AttachmentTypeImage, c.Media)
	case model.VideoContent:
		msg.Attachment = media(model.AttachmentTypeVideo, c.Media)
	case model.FileContent:
		msg.Attachment = media(model.AttachmentTypeFile, c.Media)
	case model.GenericTemplateContent:
		msg.Attachment = template(model.AttachmentPayload{
			TemplateType: model.TemplateTypeGeneric,
			Elements:     r.elements(c.Elements, model.MaxGenericElements),
		})
	case model.ListTemplateContent:
		if len(c.Elements) < model.MinListElements {
			r.warnf("list has %d elements, at least %d expected", len(c.Elements), model.MinListElements)
		}
		msg.Attachment = template(model.AttachmentPayload{
			TemplateType: model.TemplateTypeList,
			Elements:     r.elements(c.Elements, model.MaxListElements),
			Buttons:      r.buttons("", c.Buttons),
		})
	case model.ReceiptTemplateContent:
		msg.Attachment = template(model.AttachmentPayload{
			TemplateType:  model.TemplateTypeReceipt,
			RecipientName: c.RecipientName,
			OrderNumber:   c.OrderNumber,
			Currency:      c.Currency,
			PaymentMethod: c.PaymentMethod,
			Elements:      receiptElements(c.Items),
			Summary: &model.ReceiptSummary{
				Subtotal:     c.Summary.Subtotal,
				ShippingCost: c.Summary.ShippingCost,
				TotalTax:     c.Summary.TotalTax,
				TotalCost:    c.Summary.TotalCost,
			},
		})
	case model.UnknownContent:
		return model.OutboundMessage{}, nil, renderErr(node, "unsupported message type %q", c.MessageType)
	default:
		return model.OutboundMessage{}, nil, renderErr(node, "unsupported content %T", c)
	}

	return msg, r.warnings, nil
}

func renderErr(node *model.NodeDefinition, format string, args ...interface{}) error {
	return model.E("render.Render", model.ErrRender, fmt.Errorf("node %q: "+format, append([]interface{}{node.ID}, args...)...))
}

type renderer struct {
	node     *model.NodeDefinition
	warnings []string
}

func (r *renderer) warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf("node %q: ", r.node.ID)+fmt.Sprintf(format, args...))
}

func (r *renderer) quickReplies(in []model.QuickReplyOption) []model.OutboundQuickReply {
	if len(in) > model.MaxQuickReplies {
		r.warnf("%d quick replies clamped to %d", len(in), model.MaxQuickReplies)
		in = in[:model.MaxQuickReplies]
	}
	if len(in) == 0 {
		return nil
	}
	out := make([]model.OutboundQuickReply, len(in))
	for i, qr := range in {
		out[i] = model.OutboundQuickReply{
			ContentType: "text",
			Title:       qr.Title,
			Payload:     qr.Payload,
			ImageURL:    qr.ImageURL,
		}
	}
	return out
}

func (r *renderer) buttons(where string, in []model.Button) []model.Button {
	if len(in) > model.MaxTemplateButtons {
		r.warnf("%s%d buttons clamped to %d", where, len(in), model.MaxTemplateButtons)
		in = in[:model.MaxTemplateButtons]
	}
	if len(in) == 0 {
		return nil
	}
	return append([]model.Button(nil), in...)
}

func (r *renderer) elements(in []model.Element, max int) []model.OutboundElement {
	if len(in) > max {
		r.warnf("%d elements clamped to %d", len(in), max)
		in = in[:max]
	}
	if len(in) == 0 {
		return nil
	}
	out := make([]model.OutboundElement, len(in))
	for i, el := range in {
		out[i] = model.OutboundElement{
			Title:    el.Title,
			Subtitle: el.Subtitle,
			ImageURL: el.ImageURL,
			Buttons:  r.buttons(fmt.Sprintf("element #%d: ", i), el.Buttons),
		}
		if el.DefaultActionURL != "" {
			out[i].DefaultAction = &model.DefaultAction{Type: string(model.ButtonTypeWebURL), URL: el.DefaultActionURL}
		}
	}
	return out
}

func receiptElements(items []model.ReceiptItem) []model.OutboundElement {
	if len(items) == 0 {
		return nil
	}
	out := make([]model.OutboundElement, len(items))
	for i, it := range items {
		out[i] = model.OutboundElement{
			Title:    it.Title,
			Subtitle: it.Subtitle,
			Quantity: it.Quantity,
			Price:    it.Price,
			Currency: it.Currency,
			ImageURL: it.ImageURL,
		}
	}
	return out
}

func template(p model.AttachmentPayload) *model.Attachment {
	return &model.Attachment{Type: model.AttachmentTypeTemplate, Payload: p}
}

func media(t model.AttachmentType, m model.Media) *model.Attachment {
	return &model.Attachment{Type: t, Payload: model.AttachmentPayload{URL: m.URL, IsReusable: m.IsReusable}}
}
