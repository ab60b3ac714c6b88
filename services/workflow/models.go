package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Workflow represents a persisted workflow definition with its graph of nodes and edges.
type Workflow struct {
	ID         string    `json:"id"`
	StreamerID string    `json:"streamerId"`
	Name       string    `json:"name"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NodeKind discriminates trigger vertices from action vertices.
type NodeKind string

const (
	KindTrigger NodeKind = "trigger"
	KindAction  NodeKind = "action"
)

// Node represents a single vertex in a workflow graph.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Category Category `json:"category"`
	Position Position `json:"position"`
	Data     Payload  `json:"data"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Kind     NodeKind        `json:"kind"`
	Category Category        `json:"category"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes data into the payload type registered for the node's category.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	spec, ok := categories[raw.Category]
	if !ok {
		return nodeError(ErrInvalidCategory, raw.ID, "unknown category %q", raw.Category)
	}
	payload := spec.empty()
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		decoded, err := decodePayload(raw.Category, raw.Data)
		if err != nil {
			return nodeError(ErrMalformedPayload, raw.ID, "decode %s payload: %v", raw.Category, err)
		}
		payload = decoded
	}
	*n = Node{ID: raw.ID, Kind: raw.Kind, Category: raw.Category, Position: raw.Position, Data: payload}
	if n.Kind == "" {
		n.Kind = spec.kind
	}
	return nil
}

// Edge represents a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func edgeID(source, target string) string {
	return fmt.Sprintf("e-%s-%s", source, target)
}

// NewEdge builds the canonical edge between source and target.
func NewEdge(source, target string) Edge {
	return Edge{ID: edgeID(source, target), Source: source, Target: target}
}
