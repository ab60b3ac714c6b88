package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func triggerNode(id string, p TriggerPayload) Node {
	return Node{ID: id, Kind: KindTrigger, Category: p.Category(), Data: p}
}

func actionNode(id string, p ActionPayload) Node {
	return Node{ID: id, Kind: KindAction, Category: p.Category(), Data: p}
}

func reward(eventID string) TriggerPayload { return RewardRedemptionTrigger{EventID: eventID} }

func chat(message string) ActionPayload { return SendChatMessage{Message: message} }

func points(n int) ActionPayload { return AwardPoints{Amount: n} }

// sequentialIDs returns a generator yielding n1, n2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("n%d", n)
	}
}

// mustReset builds a state from nodes and edges or fails the test.
func mustReset(t *testing.T, nodes []Node, edges []Edge) EditorState {
	t.Helper()
	tr := Apply(NewEditorState(DefaultGraphOptions()), Reset{Nodes: nodes, Edges: edges})
	require.Nil(t, tr.Diagnostic, "reset rejected: %v", tr.Diagnostic)
	return tr.State
}

func sampleReferences() *StaticResolver {
	return &StaticResolver{
		Templates: map[string]string{sampleTemplateID: "Hydration check!"},
		Overlays: map[string]Overlay{
			sampleOverlayID: {ID: sampleOverlayID, Name: "Confetti", URL: "https://overlays.local/confetti"},
		},
	}
}

// fakeBridge records every request and fails the actions listed in failOn.
type fakeBridge struct {
	mu       sync.Mutex
	requests []BridgeRequest
	failOn   map[Category]error
	block    bool
}

func (b *fakeBridge) Send(ctx context.Context, req BridgeRequest) (*BridgeResponse, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	err := b.failOn[req.Action]
	b.mu.Unlock()

	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &BridgeResponse{StatusCode: 200, Result: map[string]any{"ok": true}}, nil
}

func (b *fakeBridge) calls() []BridgeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BridgeRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *fakeBridge) actions() []Category {
	var out []Category
	for _, r := range b.calls() {
		out = append(out, r.Action)
	}
	return out
}

var errBridgeDown = errors.New("bridge down")

// counterValue reads a counter from reg by name and label values.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
