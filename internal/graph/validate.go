package graph

import (
	"fmt"
	"strings"

	"flowbot/internal/model"
)

// Result enumerates every invariant violation found in a graph.
type Result struct {
	Violations []model.Violation `json:"violations"`
}

// Valid reports whether no violation was found.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Err returns a *model.GraphInvalidError for an invalid result, nil otherwise.
func (r Result) Err(workflowID string, version int) error {
	if r.Valid() {
		return nil
	}
	return &model.GraphInvalidError{
		WorkflowID: workflowID,
		Version:    version,
		Violations: append([]model.Violation(nil), r.Violations...),
	}
}

func (r *Result) add(v model.Violation) {
	r.Violations = append(r.Violations, v)
}

func (r *Result) merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
}

func (r *Result) nodef(nodeID, code, format string, args ...interface{}) {
	r.add(model.Violation{Code: code, NodeID: nodeID, Message: fmt.Sprintf("node %q: ", nodeID) + fmt.Sprintf(format, args...)})
}

func (r *Result) edgef(edgeID, code, format string, args ...interface{}) {
	r.add(model.Violation{Code: code, EdgeID: edgeID, Message: fmt.Sprintf("edge %q: ", edgeID) + fmt.Sprintf(format, args...)})
}

// Validate checks g against the graph invariants. It never mutates g.
func Validate(g *model.WorkflowGraph) Result {
	var res Result
	if g == nil {
		res.add(model.Violation{Code: "graph_missing", Message: "graph is nil"})
		return res
	}

	if len(g.Nodes) == 0 {
		res.add(model.Violation{Code: "empty_graph", Message: "workflow has no nodes"})
	}

	var starts []string
	for _, id := range sortedNodeIDs(g) {
		n := g.Nodes[id]
		if n.ID != id {
			res.nodef(id, "node_id_mismatch", "indexed under a different id %q", n.ID)
		}
		if n.IsStart {
			starts = append(starts, id)
		}
		validateContent(&res, n)
	}
	switch {
	case len(g.Nodes) > 0 && len(starts) == 0:
		res.add(model.Violation{Code: "start_missing", Message: "no node is flagged as start"})
	case len(starts) > 1:
		res.add(model.Violation{Code: "start_multiple", Message: "more than one start node: " + strings.Join(starts, ", ")})
	}

	validateEdges(&res, g)
	return res
}

func validateEdges(res *Result, g *model.WorkflowGraph) {
	edgeIDs := make(map[string]bool, len(g.Edges))
	defaults := make(map[string]string)
	conditions := make(map[string]map[string]string)

	for i, e := range g.Edges {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("#%d", i)
			res.edgef(id, "edge_id_missing", "edge has no id")
		} else if edgeIDs[id] {
			res.edgef(id, "duplicate_edge_id", "edge id is used more than once")
		}
		edgeIDs[id] = true

		if _, ok := g.Nodes[e.Source]; !ok {
			res.edgef(id, "edge_source_missing", "source %q does not exist", e.Source)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			res.edgef(id, "edge_target_missing", "target %q does not exist", e.Target)
		}

		if e.IsDefault() {
			if prev, ok := defaults[e.Source]; ok {
				res.edgef(id, "multiple_default_edges", "node %q already has default edge %q", e.Source, prev)
				continue
			}
			defaults[e.Source] = id
			continue
		}

		bySource := conditions[e.Source]
		if bySource == nil {
			bySource = make(map[string]string)
			conditions[e.Source] = bySource
		}
		if prev, ok := bySource[e.ConditionPayload]; ok {
			res.edgef(id, "duplicate_condition", "payload %q already routed by edge %q from node %q", e.ConditionPayload, prev, e.Source)
			continue
		}
		bySource[e.ConditionPayload] = id
	}
}

func validateContent(res *Result, n *model.NodeDefinition) {
	if n.Content == nil {
		res.nodef(n.ID, "content_missing", "no content for message type %q", n.MessageType)
		return
	}
	if n.Content.Type() != n.MessageType {
		res.nodef(n.ID, "content_type_mismatch", "content is %q but message type is %q", n.Content.Type(), n.MessageType)
	}

	switch c := n.Content.(type) {
	case model.TextContent:
		if strings.TrimSpace(c.Text) == "" {
			res.nodef(n.ID, "text_missing", "text message is empty")
		}
	case model.QuickRepliesContent:
		if strings.TrimSpace(c.Text) == "" {
			res.nodef(n.ID, "text_missing", "quick replies need a prompt text")
		}
		if len(c.QuickReplies) == 0 {
			res.nodef(n.ID, "quick_replies_missing", "no quick replies")
		}
		if len(c.QuickReplies) > model.MaxQuickReplies {
			res.nodef(n.ID, "too_many_quick_replies", "%d quick replies, at most %d allowed", len(c.QuickReplies), model.MaxQuickReplies)
		}
		for i, qr := range c.QuickReplies {
			if strings.TrimSpace(qr.Title) == "" {
				res.nodef(n.ID, "title_missing", "quick reply #%d has no title", i)
			}
		}
	case model.ButtonTemplateContent:
		if strings.TrimSpace(c.Text) == "" {
			res.nodef(n.ID, "text_missing", "button template needs a text")
		}
		if len(c.Buttons) == 0 {
			res.nodef(n.ID, "buttons_missing", "no buttons")
		}
		validateButtons(res, n.ID, "", c.Buttons)
	case model.ImageContent:
		validateMedia(res, n.ID, c.Media)
	case model.VideoContent:
		validateMedia(res, n.ID, c.Media)
	case model.FileContent:
		validateMedia(res, n.ID, c.Media)
	case model.GenericTemplateContent:
		if len(c.Elements) == 0 {
			res.nodef(n.ID, "elements_missing", "no elements")
		}
		if len(c.Elements) > model.MaxGenericElements {
			res.nodef(n.ID, "too_many_elements", "%d elements, at most %d allowed", len(c.Elements), model.MaxGenericElements)
		}
		validateElements(res, n.ID, c.Elements)
	case model.ListTemplateContent:
		if len(c.Elements) < model.MinListElements || len(c.Elements) > model.MaxListElements {
			res.nodef(n.ID, "list_elements_range", "%d elements, between %d and %d required", len(c.Elements), model.MinListElements, model.MaxListElements)
		}
		validateElements(res, n.ID, c.Elements)
		validateButtons(res, n.ID, "", c.Buttons)
	case model.ReceiptTemplateContent:
		fields := []struct{ name, value string }{
			{"recipientName", c.RecipientName},
			{"orderNumber", c.OrderNumber},
			{"currency", c.Currency},
			{"paymentMethod", c.PaymentMethod},
		}
		for _, f := range fields {
			if strings.TrimSpace(f.value) == "" {
				res.nodef(n.ID, "receipt_field_missing", "receipt %s is empty", f.name)
			}
		}
	case model.UnknownContent:
		res.nodef(n.ID, "unknown_message_type", "message type %q is not supported", c.MessageType)
	}
}

func validateMedia(res *Result, nodeID string, m model.Media) {
	if strings.TrimSpace(m.URL) == "" {
		res.nodef(nodeID, "url_missing", "attachment url is empty")
	}
}

func validateElements(res *Result, nodeID string, elements []model.Element) {
	for i, el := range elements {
		if strings.TrimSpace(el.Title) == "" {
			res.nodef(nodeID, "title_missing", "element #%d has no title", i)
		}
		validateButtons(res, nodeID, fmt.Sprintf("element #%d ", i), el.Buttons)
	}
}

func validateButtons(res *Result, nodeID, where string, buttons []model.Button) {
	if len(buttons) > model.MaxTemplateButtons {
		res.nodef(nodeID, "too_many_buttons", "%s%d buttons, at most %d allowed", where, len(buttons), model.MaxTemplateButtons)
	}
	for i, b := range buttons {
		if strings.TrimSpace(b.Title) == "" {
			res.nodef(nodeID, "title_missing", "%sbutton #%d has no title", where, i)
		}
		switch b.Type {
		case model.ButtonTypePostback:
		case model.ButtonTypeWebURL:
			if b.URL == "" {
				res.nodef(nodeID, "url_missing", "%sbutton #%d links nowhere", where, i)
			}
		case model.ButtonTypePhoneNumber:
			if b.Payload == "" {
				res.nodef(nodeID, "phone_missing", "%sbutton #%d has no phone number", where, i)
			}
		default:
			res.nodef(nodeID, "button_type_invalid", "%sbutton #%d has unsupported type %q", where, i, b.Type)
		}
	}
}
