package workflow

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Overlay is a streamer-owned overlay that trigger_overlay actions can target.
type Overlay struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Resolver looks up external entities referenced by action payloads at compile time.
type Resolver interface {
	MessageTemplate(id string) (string, bool)
	Overlay(id string) (Overlay, bool)
}

// StaticResolver is an in-memory Resolver.
type StaticResolver struct {
	Templates map[string]string  `json:"templates" yaml:"templates"`
	Overlays  map[string]Overlay `json:"overlays" yaml:"overlays"`
}

// MessageTemplate returns the body of template id.
func (r *StaticResolver) MessageTemplate(id string) (string, bool) {
	if r == nil {
		return "", false
	}
	body, ok := r.Templates[id]
	return body, ok
}

// Overlay returns the overlay registered under id.
func (r *StaticResolver) Overlay(id string) (Overlay, bool) {
	if r == nil {
		return Overlay{}, false
	}
	o, ok := r.Overlays[id]
	return o, ok
}

// TriggerKey identifies the external event a plan entry reacts to.
type TriggerKey struct {
	Category Category `json:"category"`
	EventID  string   `json:"eventId"`
}

// String renders the key as category:event_id, as used in logs.
func (k TriggerKey) String() string {
	return string(k.Category) + ":" + k.EventID
}

// Instruction is a fully resolved action ready to be sent to the bridge.
// MinBits is inherited from the cheer trigger that reached the action.
type Instruction struct {
	NodeID   string         `json:"nodeId"`
	Action   Category       `json:"action"`
	Metadata map[string]any `json:"metadata"`
	MinBits  int            `json:"minBits,omitempty"`
}

// PlanEntry is the ordered action sequence fired for one trigger key.
// MinBits is the lowest cheer threshold among the merged trigger nodes.
type PlanEntry struct {
	Key            TriggerKey    `json:"key"`
	TriggerNodeIDs []string      `json:"triggerNodeIds"`
	Schedule       string        `json:"schedule,omitempty"`
	MinBits        int           `json:"minBits,omitempty"`
	Actions        []Instruction `json:"actions"`
}

// ExecutionPlan is the compiled, read-only form of a workflow graph.
type ExecutionPlan struct {
	entries []PlanEntry
	index   map[TriggerKey]int
	orphans []string
}

// Lookup returns the action sequence for key.
func (p *ExecutionPlan) Lookup(key TriggerKey) ([]Instruction, bool) {
	if p == nil {
		return nil, false
	}
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	return cloneInstructions(p.entries[i].Actions), true
}

// Match returns the actions key fires for an event carrying data. Cheer entries
// only match when data["bits"] reaches the entry threshold, and actions behind a
// higher threshold are dropped.
func (p *ExecutionPlan) Match(key TriggerKey, data map[string]any) ([]Instruction, bool) {
	if p == nil {
		return nil, false
	}
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	entry := p.entries[i]
	bits := eventBits(data)
	if bits < entry.MinBits {
		return nil, false
	}
	out := make([]Instruction, 0, len(entry.Actions))
	for _, in := range entry.Actions {
		if bits >= in.MinBits {
			out = append(out, cloneInstruction(in))
		}
	}
	return out, true
}

// Entries returns plan entries in trigger insertion order.
func (p *ExecutionPlan) Entries() []PlanEntry {
	if p == nil {
		return nil
	}
	out := make([]PlanEntry, len(p.entries))
	for i, e := range p.entries {
		e.TriggerNodeIDs = slices.Clone(e.TriggerNodeIDs)
		e.Actions = cloneInstructions(e.Actions)
		out[i] = e
	}
	return out
}

// Orphans lists action nodes that no trigger can reach. They are still resolved,
// so a broken orphan fails compilation like any other action.
func (p *ExecutionPlan) Orphans() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.orphans)
}

// MarshalJSON encodes the plan as its trigger entries and orphan list.
func (p *ExecutionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Triggers []PlanEntry `json:"triggers"`
		Orphans  []string    `json:"orphans,omitempty"`
	}{p.entries, p.orphans})
}

// Compile turns a graph into an ExecutionPlan. For each trigger root it walks the
// adjacency depth-first in edge creation order and resolves every reached action.
// Actions no trigger reaches are resolved too. All unresolved references are
// reported together in a *CompileError.
func Compile(state EditorState, r Resolver) (*ExecutionPlan, error) {
	return compileWithView(state, r, nil)
}

// compileWithView compiles state reading adjacency through view. A nil view
// builds a throwaway one.
func compileWithView(state EditorState, r Resolver, view *ConnectionView) (*ExecutionPlan, error) {
	if r == nil {
		r = (*StaticResolver)(nil)
	}
	if view == nil {
		view = &ConnectionView{}
	}
	adj := view.Adjacency(state)

	plan := &ExecutionPlan{index: map[TriggerKey]int{}}
	resolved := map[string]Instruction{}
	failed := map[string]bool{}
	reached := map[string]bool{}
	var diags []Diagnostic

	report := func(nodeID, message string) {
		diags = append(diags, Diagnostic{NodeID: nodeID, Code: CodeUnresolvedReference, Message: message})
	}

	resolve := func(node Node) (Instruction, bool) {
		if in, ok := resolved[node.ID]; ok {
			return in, true
		}
		if failed[node.ID] {
			return Instruction{}, false
		}
		ap, ok := node.Data.(ActionPayload)
		if !ok {
			failed[node.ID] = true
			report(node.ID, "node is not an action")
			return Instruction{}, false
		}
		meta, err := ap.resolve(r)
		if err != nil {
			failed[node.ID] = true
			report(node.ID, err.Error())
			return Instruction{}, false
		}
		in := Instruction{NodeID: node.ID, Action: node.Category, Metadata: meta}
		resolved[node.ID] = in
		return in, true
	}

	for _, rootID := range view.Roots(state) {
		root := state.nodes[rootID]
		tp, ok := root.Data.(TriggerPayload)
		if !ok {
			report(rootID, "node is not a trigger")
			continue
		}
		key := TriggerKey{Category: root.Category, EventID: tp.TriggerEventID()}
		if tp.bindingRequired() && key.EventID == "" {
			report(rootID, "trigger is not bound to an event")
		}
		var schedule string
		var minBits int
		if cheer, ok := tp.(CheerTrigger); ok {
			minBits = cheer.MinBits
		}
		if timer, ok := tp.(TimerTrigger); ok {
			schedule = timer.Schedule
			if schedule == "" {
				report(rootID, "timer has no schedule")
			}
		}

		actions := []Instruction{}
		visited := map[string]bool{rootID: true}
		var walk func(id string)
		walk = func(id string) {
			for _, next := range adj[id] {
				if visited[next] {
					continue
				}
				visited[next] = true
				reached[next] = true
				if in, ok := resolve(state.nodes[next]); ok {
					in.MinBits = minBits
					actions = append(actions, in)
				}
				walk(next)
			}
		}
		walk(rootID)

		if i, exists := plan.index[key]; exists {
			e := &plan.entries[i]
			e.TriggerNodeIDs = append(e.TriggerNodeIDs, rootID)
			e.Actions = append(e.Actions, actions...)
			e.MinBits = min(e.MinBits, minBits)
			continue
		}
		plan.index[key] = len(plan.entries)
		plan.entries = append(plan.entries, PlanEntry{
			Key:            key,
			TriggerNodeIDs: []string{rootID},
			Schedule:       schedule,
			MinBits:        minBits,
			Actions:        actions,
		})
	}

	for _, id := range state.order {
		if state.nodes[id].Kind == KindAction && !reached[id] {
			resolve(state.nodes[id])
			plan.orphans = append(plan.orphans, id)
		}
	}

	if len(diags) > 0 {
		return nil, &CompileError{Diagnostics: diags}
	}
	return plan, nil
}

func cloneInstructions(in []Instruction) []Instruction {
	if in == nil {
		return nil
	}
	out := make([]Instruction, len(in))
	for i, instr := range in {
		out[i] = cloneInstruction(instr)
	}
	return out
}

func cloneInstruction(in Instruction) Instruction {
	in.Metadata = cloneMetadata(in.Metadata)
	return in
}

// cloneMetadata deep-copies the nested maps and slices of a JSON-shaped value.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// eventBits reads the cheer amount from event data. Missing or unreadable values count as 0.
func eventBits(data map[string]any) int {
	switch v := data["bits"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
