package workflow

import (
	"slices"
	"sync"
)

// Adjacency maps every node id with outgoing edges to its targets, in edge creation order.
func Adjacency(state EditorState) map[string][]string {
	return buildAdjacency(state.edges)
}

func buildAdjacency(edges []Edge) map[string][]string {
	adj := make(map[string][]string)
	for _, edge := range edges {
		adj[edge.Source] = append(adj[edge.Source], edge.Target)
	}
	return adj
}

// Roots returns the trigger node ids in node insertion order.
func Roots(state EditorState) []string {
	var roots []string
	for _, id := range state.order {
		if state.nodes[id].Kind == KindTrigger {
			roots = append(roots, id)
		}
	}
	return roots
}

// Incoming returns the source ids of edges pointing at id, in edge creation order.
func Incoming(state EditorState, id string) []string {
	var out []string
	for _, e := range state.edges {
		if e.Target == id {
			out = append(out, e.Source)
		}
	}
	return out
}

// CanConnect previews a CONNECT without applying it. A nil result means the
// connection would be accepted (or already exists).
func CanConnect(state EditorState, source, target string) error {
	if hasEdge(state.edges, source, target) {
		return nil
	}
	return ValidateEdge(NewEdge(source, target), state.nodes, state.edges, state.opts)
}

// ConnectionView memoizes the adjacency of the most recently seen state revision.
// It is safe for concurrent use.
type ConnectionView struct {
	mu       sync.Mutex
	revision uint64
	adj      map[string][]string
	roots    []string
}

// Adjacency returns the adjacency view for state, rebuilding it only when the
// revision changed. Callers must not mutate the returned slices.
func (v *ConnectionView) Adjacency(state EditorState) map[string][]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh(state)
	return v.adj
}

// Roots returns the trigger node ids of state in insertion order.
func (v *ConnectionView) Roots(state EditorState) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh(state)
	return slices.Clone(v.roots)
}

// Outgoing returns the targets of id in edge creation order.
func (v *ConnectionView) Outgoing(state EditorState, id string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refresh(state)
	return slices.Clone(v.adj[id])
}

func (v *ConnectionView) refresh(state EditorState) {
	if v.adj != nil && v.revision == state.revision {
		return
	}
	v.adj = Adjacency(state)
	v.roots = Roots(state)
	v.revision = state.revision
}
