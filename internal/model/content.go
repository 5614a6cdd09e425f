package model

import (
	"encoding/json"
	"fmt"
)

// MessageType is the closed set of node message kinds.
type MessageType string

const (
	MessageTypeText            MessageType = "text"
	MessageTypeQuickReplies    MessageType = "quick_replies"
	MessageTypeButtonTemplate  MessageType = "button_template"
	MessageTypeImage           MessageType = "image"
	MessageTypeVideo           MessageType = "video"
	MessageTypeFile            MessageType = "file"
	MessageTypeGenericTemplate MessageType = "generic_template"
	MessageTypeListTemplate    MessageType = "list_template"
	MessageTypeReceiptTemplate MessageType = "receipt_template"
)

// Platform limits for structured content.
const (
	MaxQuickReplies    = 13
	MaxTemplateButtons = 3
	MaxGenericElements = 10
	MinListElements    = 2
	MaxListElements    = 4
)

// ButtonType is the action a button performs when selected.
type ButtonType string

const (
	ButtonTypePostback    ButtonType = "postback"
	ButtonTypeWebURL      ButtonType = "web_url"
	ButtonTypePhoneNumber ButtonType = "phone_number"
)

// Content is the type-specific payload of a node. The concrete types below
// are the only implementations.
type Content interface {
	Type() MessageType
	isContent()
}

// Button is a template button. Payload drives transitions for postback buttons.
type Button struct {
	Type    ButtonType `json:"type"`
	Title   string     `json:"title"`
	Payload string     `json:"payload,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// QuickReplyOption is an authored quick reply.
type QuickReplyOption struct {
	Title    string `json:"title"`
	Payload  string `json:"payload"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Element is a card of a generic or list template.
type Element struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle,omitempty"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	DefaultActionURL string   `json:"defaultActionUrl,omitempty"`
	Buttons          []Button `json:"buttons,omitempty"`
}

// ReceiptItem is one ordered line of a receipt.
type ReceiptItem struct {
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

// ReceiptTotals is the summary block of a receipt.
type ReceiptTotals struct {
	Subtotal     float64 `json:"subtotal,omitempty"`
	ShippingCost float64 `json:"shippingCost,omitempty"`
	TotalTax     float64 `json:"totalTax,omitempty"`
	TotalCost    float64 `json:"totalCost"`
}

type TextContent struct {
	Text string `json:"text"`
}

type QuickRepliesContent struct {
	Text         string             `json:"text"`
	QuickReplies []QuickReplyOption `json:"quickReplies"`
}

type ButtonTemplateContent struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons"`
}

// Media is shared by the attachment node types.
type Media struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"isReusable,omitempty"`
}

type ImageContent struct{ Media }

type VideoContent struct{ Media }

type FileContent struct{ Media }

type GenericTemplateContent struct {
	Elements []Element `json:"elements"`
}

type ListTemplateContent struct {
	Elements []Element `json:"elements"`
	Buttons  []Button  `json:"buttons,omitempty"`
}

type ReceiptTemplateContent struct {
	RecipientName string        `json:"recipientName"`
	OrderNumber   string        `json:"orderNumber"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"paymentMethod"`
	Items         []ReceiptItem `json:"items,omitempty"`
	Summary       ReceiptTotals `json:"summary"`
}

// UnknownContent keeps a node whose messageType is not recognized so that
// validation can report it and rendering can refuse it.
type UnknownContent struct {
	MessageType MessageType
	Raw         json.RawMessage
}

func (TextContent) Type() MessageType            { return MessageTypeText }
func (QuickRepliesContent) Type() MessageType    { return MessageTypeQuickReplies }
func (ButtonTemplateContent) Type() MessageType  { return MessageTypeButtonTemplate }
func (ImageContent) Type() MessageType           { return MessageTypeImage }
func (VideoContent) Type() MessageType           { return MessageTypeVideo }
func (FileContent) Type() MessageType            { return MessageTypeFile }
func (GenericTemplateContent) Type() MessageType { return MessageTypeGenericTemplate }
func (ListTemplateContent) Type() MessageType    { return MessageTypeListTemplate }
func (ReceiptTemplateContent) Type() MessageType { return MessageTypeReceiptTemplate }
func (c UnknownContent) Type() MessageType       { return c.MessageType }

func (TextContent) isContent()            {}
func (QuickRepliesContent) isContent()    {}
func (ButtonTemplateContent) isContent()  {}
func (ImageContent) isContent()           {}
func (VideoContent) isContent()           {}
func (FileContent) isContent()            {}
func (GenericTemplateContent) isContent() {}
func (ListTemplateContent) isContent()    {}
func (ReceiptTemplateContent) isContent() {}
func (UnknownContent) isContent()         {}

// DecodeContent decodes raw into the content variant selected by mt.
// Unrecognized message types decode to UnknownContent without error.
func DecodeContent(mt MessageType, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}

	var (
		c   Content
		err error
	)
	switch mt {
	case MessageTypeText:
		var v TextContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeQuickReplies:
		var v QuickRepliesContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeButtonTemplate:
		var v ButtonTemplateContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeImage:
		var v ImageContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeVideo:
		var v VideoContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeFile:
		var v FileContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeGenericTemplate:
		var v GenericTemplateContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeListTemplate:
		var v ListTemplateContent
		err = json.Unmarshal(raw, &v)
		c = v
	case MessageTypeReceiptTemplate:
		var v ReceiptTemplateContent
		err = json.Unmarshal(raw, &v)
		c = v
	default:
		return UnknownContent{MessageType: mt, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s content: %w", mt, err)
	}
	return c, nil
}

type nodeJSON struct {
	ID          string          `json:"id"`
	Label       string          `json:"label,omitempty"`
	MessageType MessageType     `json:"messageType"`
	IsStart     bool            `json:"isStart,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// UnmarshalJSON decodes the node and its content variant.
func (n *NodeDefinition) UnmarshalJSON(data []byte) error {
	var aux nodeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	content, err := DecodeContent(aux.MessageType, aux.Content)
	if err != nil {
		return fmt.Errorf("node %q: %w", aux.ID, err)
	}
	*n = NodeDefinition{
		ID:          aux.ID,
		Label:       aux.Label,
		MessageType: aux.MessageType,
		IsStart:     aux.IsStart,
		Content:     content,
	}
	return nil
}

// MarshalJSON encodes the node with its content under "content".
func (n NodeDefinition) MarshalJSON() ([]byte, error) {
	aux := nodeJSON{
		ID:          n.ID,
		Label:       n.Label,
		MessageType: n.MessageType,
		IsStart:     n.IsStart,
	}
	switch c := n.Content.(type) {
	case nil:
	case UnknownContent:
		aux.Content = c.Raw
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		aux.Content = raw
	}
	return json.Marshal(aux)
}
