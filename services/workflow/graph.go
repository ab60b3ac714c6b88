package workflow

import (
	"strings"
)

// GraphOptions controls which edge shapes are legal.
type GraphOptions struct {
	// AllowChaining permits action -> action edges (sequential actions).
	AllowChaining bool
}

// DefaultGraphOptions enables action chaining.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{AllowChaining: true}
}

// ValidateNode checks that the node's category is known, matches its kind, and that
// its payload satisfies the category schema.
func ValidateNode(node Node) error {
	if strings.TrimSpace(node.ID) == "" {
		return nodeError(ErrMalformedPayload, node.ID, "node id is required")
	}
	kind, ok := KindOf(node.Category)
	if !ok {
		return nodeError(ErrInvalidCategory, node.ID, "unknown category %q", node.Category)
	}
	if node.Kind != kind {
		return nodeError(ErrInvalidCategory, node.ID, "category %q is a %s, not a %s", node.Category, kind, node.Kind)
	}
	if node.Data == nil {
		return nodeError(ErrMalformedPayload, node.ID, "payload is required")
	}
	if node.Data.Category() != node.Category {
		return nodeError(ErrMalformedPayload, node.ID, "payload of type %q does not match category %q", node.Data.Category(), node.Category)
	}
	if err := node.Data.validate(); err != nil {
		return nodeError(ErrMalformedPayload, node.ID, "%s", err.Error())
	}
	return nil
}

// ValidateEdge checks edge against the current node set and edge list. It reports
// DanglingReference, IllegalDirection or CycleDetected, in that order of precedence.
func ValidateEdge(edge Edge, nodes map[string]Node, edges []Edge, opts GraphOptions) error {
	source, ok := nodes[edge.Source]
	if !ok {
		return newError(ErrDanglingReference, "source node "+quote(edge.Source)+" does not exist", nil, edgeMeta(edge, edge.Source))
	}
	target, ok := nodes[edge.Target]
	if !ok {
		return newError(ErrDanglingReference, "target node "+quote(edge.Target)+" does not exist", nil, edgeMeta(edge, edge.Target))
	}
	if target.Kind == KindTrigger {
		return newError(ErrIllegalDirection, "triggers cannot have inbound connections", nil, edgeMeta(edge, edge.Target))
	}
	if source.Kind == KindAction && !opts.AllowChaining {
		return newError(ErrIllegalDirection, "action chaining is disabled for this workflow", nil, edgeMeta(edge, edge.Source))
	}
	if edge.Source == edge.Target || reachable(buildAdjacency(edges), edge.Target, edge.Source) {
		return newError(ErrCycleDetected, "connecting "+quote(edge.Source)+" to "+quote(edge.Target)+" would create a cycle", nil, edgeMeta(edge, edge.Source))
	}
	return nil
}

// ValidateGraph checks a complete node and edge set, as used before persistence and on RESET.
func ValidateGraph(nodes []Node, edges []Edge, opts GraphOptions) error {
	_, err := buildGraph(nodes, edges, opts)
	return err
}

type graphData struct {
	nodes map[string]Node
	order []string
	edges []Edge
}

// buildGraph inserts nodes then edges one at a time, so every accepted edge was valid
// against the graph built so far.
func buildGraph(nodes []Node, edges []Edge, opts GraphOptions) (*graphData, error) {
	g := &graphData{
		nodes: make(map[string]Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		edges: make([]Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		if err := ValidateNode(n); err != nil {
			return nil, err
		}
		if _, exists := g.nodes[n.ID]; exists {
			return nil, nodeError(ErrDuplicateNode, n.ID, "node id %q is used more than once", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for _, e := range edges {
		if hasEdge(g.edges, e.Source, e.Target) {
			continue
		}
		if err := ValidateEdge(e, g.nodes, g.edges, opts); err != nil {
			return nil, err
		}
		if e.ID == "" {
			e.ID = edgeID(e.Source, e.Target)
		}
		g.edges = append(g.edges, e)
	}
	return g, nil
}

// reachable reports whether to can be reached from from by following adj.
func reachable(adj map[string][]string, from, to string) bool {
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, adj[id]...)
	}
	return false
}

func hasEdge(edges []Edge, source, target string) bool {
	for _, e := range edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

func edgeMeta(e Edge, nodeID string) map[string]any {
	return map[string]any{"node_id": nodeID, "source": e.Source, "target": e.Target}
}

func quote(s string) string { return `"` + s + `"` }
