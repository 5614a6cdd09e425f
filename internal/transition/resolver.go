// Package transition decides where a conversation goes next.
package transition

import (
	"fmt"

	"flowbot/internal/model"
)

// Resolution is the outcome of matching one event against the edges of the
// current node.
type Resolution struct {
	// NextNodeID is empty when the event is a no-match or terminal.
	NextNodeID string
	// EdgeID is the edge that was taken, if any.
	EdgeID string
	// Terminal means the conversation ends on the current node.
	Terminal bool
	// Matched is false for a no-match, which re-renders the current node.
	Matched bool
}

// Resolve matches ev against the outgoing edges of currentNodeID. Edges are
// tried in declaration order; the first conditioned edge whose payload
// equals the trigger payload wins, then the default edge.
func Resolve(g *model.WorkflowGraph, currentNodeID string, ev model.InboundEvent) (Resolution, error) {
	node, ok := g.Node(currentNodeID)
	if !ok {
		return Resolution{}, model.E("transition.Resolve", model.ErrNotFound, fmt.Errorf("node %q not in workflow %s v%d", currentNodeID, g.ID, g.Version))
	}

	edges := g.Outgoing(node.ID)
	if len(edges) == 0 {
		return Resolution{Terminal: true, Matched: true}, nil
	}

	def, hasDefault := defaultEdge(edges)

	if ev.HasTrigger() {
		for _, e := range edges {
			if !e.IsDefault() && e.ConditionPayload == ev.TriggerPayload {
				return taken(e), nil
			}
		}
		if hasDefault {
			return taken(def), nil
		}
		return Resolution{}, nil
	}

	if ExpectsChoice(node) {
		return Resolution{}, nil
	}
	if hasDefault {
		return taken(def), nil
	}
	return Resolution{Terminal: true, Matched: true}, nil
}

// ExpectsChoice reports whether free text cannot answer the node: its
// transitions are driven by a button or quick reply selection.
func ExpectsChoice(node *model.NodeDefinition) bool {
	switch c := node.Content.(type) {
	case model.QuickRepliesContent, model.ButtonTemplateContent:
		return true
	case model.ListTemplateContent:
		if hasPostback(c.Buttons) {
			return true
		}
		for _, el := range c.Elements {
			if hasPostback(el.Buttons) {
				return true
			}
		}
	}
	return false
}

// IsSink reports whether nodeID has no outgoing edges at all.
func IsSink(g *model.WorkflowGraph, nodeID string) bool {
	for _, e := range g.Edges {
		if e.Source == nodeID {
			return false
		}
	}
	return true
}

func defaultEdge(edges []model.EdgeDefinition) (model.EdgeDefinition, bool) {
	for _, e := range edges {
		if e.IsDefault() {
			return e, true
		}
	}
	return model.EdgeDefinition{}, false
}

func hasPostback(buttons []model.Button) bool {
	for _, b := range buttons {
		if b.Type == model.ButtonTypePostback {
			return true
		}
	}
	return false
}

func taken(e model.EdgeDefinition) Resolution {
	return Resolution{NextNodeID: e.Target, EdgeID: e.ID, Matched: true}
}
