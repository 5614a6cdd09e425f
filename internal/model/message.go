package model

// AttachmentType follows common messaging-platform attachment kinds.
type AttachmentType string

const (
	AttachmentTypeTemplate AttachmentType = "template"
	AttachmentTypeImage    AttachmentType = "image"
	AttachmentTypeVideo    AttachmentType = "video"
	AttachmentTypeFile     AttachmentType = "file"
)

// TemplateType selects the template layout of a template attachment.
type TemplateType string

const (
	TemplateTypeGeneric TemplateType = "generic"
	TemplateTypeButton  TemplateType = "button"
	TemplateTypeList    TemplateType = "list"
	TemplateTypeReceipt TemplateType = "receipt"
)

// OutboundMessage is a fully resolved bot message ready for a channel adapter.
type OutboundMessage struct {
	MessageType  MessageType          `json:"messageType"`
	Text         string               `json:"text,omitempty"`
	Attachment   *Attachment          `json:"attachment,omitempty"`
	QuickReplies []OutboundQuickReply `json:"quick_replies,omitempty"`
	Metadata     MessageMetadata      `json:"metadata"`
}

// MessageMetadata correlates a message with the node that produced it.
type MessageMetadata struct {
	NodeID             string      `json:"nodeId"`
	NodeType           MessageType `json:"nodeType"`
	TriggeredByPayload string      `json:"triggeredByPayload,omitempty"`
	TriggeredByTitle   string      `json:"triggeredByTitle,omitempty"`
}

type Attachment struct {
	Type    AttachmentType    `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload is the union of media and template payload shapes.
type AttachmentPayload struct {
	TemplateType  TemplateType      `json:"template_type,omitempty"`
	Text          string            `json:"text,omitempty"`
	Elements      []OutboundElement `json:"elements,omitempty"`
	Buttons       []Button          `json:"buttons,omitempty"`
	RecipientName string            `json:"recipient_name,omitempty"`
	OrderNumber   string            `json:"order_number,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Summary       *ReceiptSummary   `json:"summary,omitempty"`
	URL           string            `json:"url,omitempty"`
	IsReusable    bool              `json:"is_reusable,omitempty"`
}

type OutboundElement struct {
	Title         string         `json:"title,omitempty"`
	Subtitle      string         `json:"subtitle,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	DefaultAction *DefaultAction `json:"default_action,omitempty"`
	Buttons       []Button       `json:"buttons,omitempty"`
	Quantity      int            `json:"quantity,omitempty"`
	Price         float64        `json:"price,omitempty"`
	Currency      string         `json:"currency,omitempty"`
}

type DefaultAction struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type ReceiptSummary struct {
	Subtotal     float64 `json:"subtotal,omitempty"`
	ShippingCost float64 `json:"shipping_cost,omitempty"`
	TotalTax     float64 `json:"total_tax,omitempty"`
	TotalCost    float64 `json:"total_cost"`
}

type OutboundQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	Payload     string `json:"payload,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}
