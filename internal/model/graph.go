package model

// WorkflowGraph is one immutable published version of a conversation workflow.
type WorkflowGraph struct {
	ID      string
	Version int
	Name    string
	Nodes   map[string]*NodeDefinition
	// Edges keep declaration order; it is the tie-break for transition matching.
	Edges []EdgeDefinition
}

// NodeDefinition is one bot step of the conversation.
type NodeDefinition struct {
	ID          string      `json:"id"`
	Label       string      `json:"label,omitempty"`
	MessageType MessageType `json:"messageType"`
	IsStart     bool        `json:"isStart,omitempty"`
	Content     Content     `json:"-"`
}

// EdgeDefinition is a directed transition between two nodes. An empty
// ConditionPayload marks the default edge of its source node.
type EdgeDefinition struct {
	ID               string `json:"id"`
	Source           string `json:"source"`
	Target           string `json:"target"`
	ConditionPayload string `json:"conditionPayload,omitempty"`
}

// IsDefault reports whether the edge matches any event.
func (e EdgeDefinition) IsDefault() bool {
	return e.ConditionPayload == ""
}

// Node returns the node with the given id.
func (g *WorkflowGraph) Node(id string) (*NodeDefinition, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// StartNode returns the node flagged as start, or nil.
func (g *WorkflowGraph) StartNode() *NodeDefinition {
	for _, n := range g.Nodes {
		if n.IsStart {
			return n
		}
	}
	return nil
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (g *WorkflowGraph) Outgoing(nodeID string) []EdgeDefinition {
	var out []EdgeDefinition
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}
