package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"flowbot/internal/model"
	"flowbot/internal/schema"

	"gopkg.in/yaml.v3"
)

// Document is the wire form of a workflow version as stored by the
// authoring service. Nodes are a list so duplicate ids can be reported.
type Document struct {
	ID      string                 `json:"id"`
	Version int                    `json:"version"`
	Name    string                 `json:"name,omitempty"`
	Nodes   []model.NodeDefinition `json:"nodes"`
	Edges   []model.EdgeDefinition `json:"edges"`
}

// Decoder turns raw workflow documents into validated graphs.
type Decoder struct {
	schema *schema.Compiler
}

func NewDecoder(compiler *schema.Compiler) *Decoder {
	return &Decoder{schema: compiler}
}

// Check decodes data and reports every violation. The graph is returned
// whenever the document could be parsed, even if it is invalid.
func (d *Decoder) Check(ctx context.Context, data []byte) (*model.WorkflowGraph, Result, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Result{}, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	if d.schema != nil {
		if err := d.schema.ValidateWorkflow(ctx, raw); err != nil {
			var issues *schema.IssuesError
			if !errors.As(err, &issues) {
				return nil, Result{}, err
			}
			var res Result
			for _, is := range issues.Issues {
				res.add(model.Violation{Code: "schema", Message: is.Location + ": " + is.Message})
			}
			return nil, res, nil
		}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Result{Violations: []model.Violation{{Code: "malformed_content", Message: err.Error()}}}, nil
	}

	doc, res, malformed := env.document()
	g, built := Build(doc)
	res.merge(built)
	for _, v := range Validate(g).Violations {
		// Nodes whose content failed to decode are already reported.
		if v.Code == "content_missing" && malformed[v.NodeID] {
			continue
		}
		res.add(v)
	}
	return g, res, nil
}

// envelope defers node decoding so one malformed node does not hide the
// violations of the rest of the document.
type envelope struct {
	ID      string                 `json:"id"`
	Version int                    `json:"version"`
	Name    string                 `json:"name,omitempty"`
	Nodes   []json.RawMessage      `json:"nodes"`
	Edges   []model.EdgeDefinition `json:"edges"`
}

func (e envelope) document() (Document, Result, map[string]bool) {
	var res Result
	malformed := map[string]bool{}
	doc := Document{ID: e.ID, Version: e.Version, Name: e.Name, Edges: e.Edges}
	for i, raw := range e.Nodes {
		var n model.NodeDefinition
		err := json.Unmarshal(raw, &n)
		if err == nil {
			doc.Nodes = append(doc.Nodes, n)
			continue
		}

		var header struct {
			ID          string            `json:"id"`
			MessageType model.MessageType `json:"messageType"`
			IsStart     bool              `json:"isStart"`
		}
		if json.Unmarshal(raw, &header) != nil || header.ID == "" {
			res.add(model.Violation{Code: "malformed_content", Message: fmt.Sprintf("node #%d: %v", i, err)})
			continue
		}
		res.add(model.Violation{Code: "malformed_content", NodeID: header.ID, Message: err.Error()})
		malformed[header.ID] = true
		// Keep the node so edges pointing at it are not reported as dangling.
		doc.Nodes = append(doc.Nodes, model.NodeDefinition{ID: header.ID, MessageType: header.MessageType, IsStart: header.IsStart})
	}
	return doc, res, malformed
}

// Decode decodes and validates data, failing closed with
// *model.GraphInvalidError when any invariant is broken.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*model.WorkflowGraph, error) {
	g, res, err := d.Check(ctx, data)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		if g == nil {
			var header struct {
				ID      string `json:"id"`
				Version int    `json:"version"`
			}
			_ = json.Unmarshal(data, &header)
			return nil, res.Err(header.ID, header.Version)
		}
		return nil, res.Err(g.ID, g.Version)
	}
	return g, nil
}

// YAMLToJSON converts a YAML workflow document into its JSON form.
func YAMLToJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}

// Build indexes a document into a graph, reporting ids that cannot be indexed.
func Build(doc Document) (*model.WorkflowGraph, Result) {
	var res Result
	g := &model.WorkflowGraph{
		ID:      doc.ID,
		Version: doc.Version,
		Name:    doc.Name,
		Nodes:   make(map[string]*model.NodeDefinition, len(doc.Nodes)),
		Edges:   append([]model.EdgeDefinition(nil), doc.Edges...),
	}
	for i := range doc.Nodes {
		n := doc.Nodes[i]
		id := strings.TrimSpace(n.ID)
		if id == "" {
			res.add(model.Violation{Code: "node_id_missing", Message: fmt.Sprintf("node #%d has no id", i)})
			continue
		}
		if _, dup := g.Nodes[id]; dup {
			res.add(model.Violation{Code: "duplicate_node_id", NodeID: id, Message: fmt.Sprintf("node id %q is used more than once", id)})
			continue
		}
		g.Nodes[id] = &n
	}
	return g, res
}

// ToDocument is the inverse of Build; nodes are ordered by id.
func ToDocument(g *model.WorkflowGraph) Document {
	doc := Document{ID: g.ID, Version: g.Version, Name: g.Name, Edges: append([]model.EdgeDefinition(nil), g.Edges...)}
	for _, id := range sortedNodeIDs(g) {
		doc.Nodes = append(doc.Nodes, *g.Nodes[id])
	}
	return doc
}

func sortedNodeIDs(g *model.WorkflowGraph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
