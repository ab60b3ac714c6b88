package workflow

import (
	"encoding/json"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

var revisions atomic.Uint64

// EditorState is an immutable snapshot of an in-progress workflow graph.
// Every accepted transition produces a new snapshot with a fresh revision.
type EditorState struct {
	nodes    map[string]Node
	order    []string
	edges    []Edge
	selected string
	opts     GraphOptions
	revision uint64
}

// NewEditorState returns an empty graph.
func NewEditorState(opts GraphOptions) EditorState {
	return EditorState{
		nodes:    map[string]Node{},
		opts:     opts,
		revision: revisions.Add(1),
	}
}

// Node returns the node with the given id.
func (s EditorState) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (s EditorState) Nodes() []Node {
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id])
	}
	return out
}

// Edges returns a copy of the edge list in creation order.
func (s EditorState) Edges() []Edge {
	return slices.Clone(s.edges)
}

// SelectedNodeID returns the selected node, or "" when nothing is selected.
func (s EditorState) SelectedNodeID() string { return s.selected }

// Options returns the edge rules the snapshot was built with.
func (s EditorState) Options() GraphOptions { return s.opts }

// Revision identifies the snapshot; it changes on every accepted transition.
func (s EditorState) Revision() uint64 { return s.revision }

// Len returns the number of nodes.
func (s EditorState) Len() int { return len(s.order) }

// MarshalJSON encodes the snapshot with nodes in insertion order.
func (s EditorState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nodes          []Node `json:"nodes"`
		Edges          []Edge `json:"edges"`
		SelectedNodeID string `json:"selectedNodeId,omitempty"`
		Revision       uint64 `json:"revision"`
	}{s.Nodes(), s.Edges(), s.selected, s.revision})
}

// Intent is a closed set of editor messages; only the types in this file implement it.
type Intent interface {
	Type() string
	isIntent()
}

const (
	IntentAddNode        = "ADD_NODE"
	IntentRemoveNode     = "REMOVE_NODE"
	IntentUpdateNodeData = "UPDATE_NODE_DATA"
	IntentUpdateTrigger  = "UPDATE_TRIGGER"
	IntentSelectNode     = "SELECT_NODE"
	IntentConnect        = "CONNECT"
	IntentDisconnect     = "DISCONNECT"
	IntentReset          = "RESET"
)

// AddNode inserts a node with the default payload for Category. Kind may be left
// empty, in which case it is inferred from the category.
type AddNode struct {
	Kind     NodeKind `json:"kind"`
	Category Category `json:"category"`
	Position Position `json:"position"`
}

// RemoveNode deletes a node together with every edge touching it.
type RemoveNode struct {
	ID string `json:"id"`
}

// UpdateNodeData merges Data into the node's payload.
type UpdateNodeData struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// UpdateTrigger binds a trigger node to an external event source.
type UpdateTrigger struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
}

// SelectNode sets the selected node; an empty ID clears the selection.
type SelectNode struct {
	ID string `json:"id"`
}

// Connect adds the edge Source -> Target. Connecting an existing pair is a no-op.
type Connect struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Disconnect removes the edge Source -> Target if present.
type Disconnect struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Reset replaces the whole graph, as when hydrating from storage.
type Reset struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (AddNode) Type() string        { return IntentAddNode }
func (RemoveNode) Type() string     { return IntentRemoveNode }
func (UpdateNodeData) Type() string { return IntentUpdateNodeData }
func (UpdateTrigger) Type() string  { return IntentUpdateTrigger }
func (SelectNode) Type() string     { return IntentSelectNode }
func (Connect) Type() string        { return IntentConnect }
func (Disconnect) Type() string     { return IntentDisconnect }
func (Reset) Type() string          { return IntentReset }

func (AddNode) isIntent()        {}
func (RemoveNode) isIntent()     {}
func (UpdateNodeData) isIntent() {}
func (UpdateTrigger) isIntent()  {}
func (SelectNode) isIntent()     {}
func (Connect) isIntent()        {}
func (Disconnect) isIntent()     {}
func (Reset) isIntent()          {}

// Transition is the result of applying one intent. A rejected intent returns the
// prior state unchanged together with a Diagnostic.
type Transition struct {
	State      EditorState `json:"state"`
	Changed    bool        `json:"changed"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// Machine applies intents to editor states.
type Machine struct {
	newID func() string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithIDGenerator overrides how fresh node ids are assigned.
func WithIDGenerator(fn func() string) MachineOption {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewMachine creates a Machine that assigns uuid node ids unless overridden.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{newID: uuid.NewString}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultMachine = NewMachine()

// Apply applies intent to state using uuid node ids.
func Apply(state EditorState, intent Intent) Transition {
	return defaultMachine.Apply(state, intent)
}

// Apply computes the next state for intent. It never mutates state and never panics
// for a well-typed intent.
func (m *Machine) Apply(state EditorState, intent Intent) Transition {
	if state.nodes == nil {
		state = NewEditorState(state.opts)
	}

	var (
		next    EditorState
		changed bool
		err     error
	)
	switch in := intent.(type) {
	case AddNode:
		next, err = m.addNode(state, in)
		changed = err == nil
	case RemoveNode:
		next, err = removeNode(state, in)
		changed = err == nil
	case UpdateNodeData:
		next, err = updateNodeData(state, in.ID, in.Data)
		changed = err == nil
	case UpdateTrigger:
		next, err = updateTrigger(state, in)
		changed = err == nil
	case SelectNode:
		next, changed, err = selectNode(state, in)
	case Connect:
		next, changed, err = connect(state, in)
	case Disconnect:
		next, changed = disconnect(state, in)
	case Reset:
		next, err = reset(state, in)
		changed = err == nil
	default:
		err = newError(ErrUnknownIntent, "intent is not recognized", nil, nil)
	}

	if err != nil {
		d := diagnosticFrom(err)
		return Transition{State: state, Diagnostic: &d}
	}
	if !changed {
		return Transition{State: state}
	}
	next.revision = revisions.Add(1)
	return Transition{State: next, Changed: true}
}

// clone copies the node map and order so the result can be mutated freely.
func (s EditorState) clone() EditorState {
	return EditorState{
		nodes:    maps.Clone(s.nodes),
		order:    slices.Clone(s.order),
		edges:    slices.Clone(s.edges),
		selected: s.selected,
		opts:     s.opts,
	}
}

func (m *Machine) addNode(s EditorState, in AddNode) (EditorState, error) {
	kind, ok := KindOf(in.Category)
	if !ok {
		return s, newError(ErrInvalidCategory, "unknown category "+quote(string(in.Category)), nil, nil)
	}
	if in.Kind != "" && in.Kind != kind {
		return s, newError(ErrInvalidCategory, "category "+quote(string(in.Category))+" is not a "+string(in.Kind), nil, nil)
	}
	payload, _ := DefaultPayload(in.Category)

	id := m.newID()
	if _, taken := s.nodes[id]; taken || id == "" {
		id = uuid.NewString()
	}

	node := Node{ID: id, Kind: kind, Category: in.Category, Position: in.Position, Data: payload}
	if err := ValidateNode(node); err != nil {
		return s, err
	}

	next := s.clone()
	next.nodes[id] = node
	next.order = append(next.order, id)
	return next, nil
}

func removeNode(s EditorState, in RemoveNode) (EditorState, error) {
	if _, ok := s.nodes[in.ID]; !ok {
		return s, nodeError(ErrDanglingReference, in.ID, "node %q does not exist", in.ID)
	}
	next := s.clone()
	delete(next.nodes, in.ID)
	next.order = slices.DeleteFunc(next.order, func(id string) bool { return id == in.ID })
	next.edges = slices.DeleteFunc(next.edges, func(e Edge) bool {
		return e.Source == in.ID || e.Target == in.ID
	})
	if next.selected == in.ID {
		next.selected = ""
	}
	return next, nil
}

func updateNodeData(s EditorState, id string, partial map[string]any) (EditorState, error) {
	node, ok := s.nodes[id]
	if !ok {
		return s, nodeError(ErrDanglingReference, id, "node %q does not exist", id)
	}
	payload, err := mergePayload(node.Data, partial)
	if err != nil {
		return s, nodeError(ErrMalformedPayload, id, "%s", err.Error())
	}
	node.Data = payload
	if err := ValidateNode(node); err != nil {
		return s, err
	}
	next := s.clone()
	next.nodes[id] = node
	return next, nil
}

func updateTrigger(s EditorState, in UpdateTrigger) (EditorState, error) {
	node, ok := s.nodes[in.ID]
	if !ok {
		return s, nodeError(ErrDanglingReference, in.ID, "node %q does not exist", in.ID)
	}
	if node.Kind != KindTrigger {
		return s, nodeError(ErrInvalidCategory, in.ID, "node %q is not a trigger", in.ID)
	}
	return updateNodeData(s, in.ID, map[string]any{"event_id": in.EventID})
}

func selectNode(s EditorState, in SelectNode) (EditorState, bool, error) {
	if in.ID != "" {
		if _, ok := s.nodes[in.ID]; !ok {
			return s, false, nodeError(ErrDanglingReference, in.ID, "node %q does not exist", in.ID)
		}
	}
	if s.selected == in.ID {
		return s, false, nil
	}
	next := s.clone()
	next.selected = in.ID
	return next, true, nil
}

func connect(s EditorState, in Connect) (EditorState, bool, error) {
	if hasEdge(s.edges, in.Source, in.Target) {
		return s, false, nil
	}
	edge := NewEdge(in.Source, in.Target)
	if err := ValidateEdge(edge, s.nodes, s.edges, s.opts); err != nil {
		return s, false, err
	}
	next := s.clone()
	next.edges = append(next.edges, edge)
	return next, true, nil
}

func disconnect(s EditorState, in Disconnect) (EditorState, bool) {
	if !hasEdge(s.edges, in.Source, in.Target) {
		return s, false
	}
	next := s.clone()
	next.edges = slices.DeleteFunc(next.edges, func(e Edge) bool {
		return e.Source == in.Source && e.Target == in.Target
	})
	return next, true
}

func reset(s EditorState, in Reset) (EditorState, error) {
	g, err := buildGraph(in.Nodes, in.Edges, s.opts)
	if err != nil {
		return s, err
	}
	return EditorState{nodes: g.nodes, order: g.order, edges: g.edges, opts: s.opts}, nil
}
