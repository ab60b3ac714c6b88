package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectionsFixture(t *testing.T) EditorState {
	return mustReset(t, []Node{
		actionNode("a", points(1)),
		triggerNode("t1", reward("r1")),
		actionNode("b", points(1)),
		triggerNode("t2", FollowTrigger{}),
	}, []Edge{NewEdge("t1", "b"), NewEdge("t1", "a"), NewEdge("t2", "a"), NewEdge("a", "b")})
}

func TestAdjacency(t *testing.T) {
	state := connectionsFixture(t)

	adj := Adjacency(state)

	assert.Equal(t, []string{"b", "a"}, adj["t1"])
	assert.Equal(t, []string{"a"}, adj["t2"])
	assert.Equal(t, []string{"b"}, adj["a"])
	assert.Empty(t, adj["b"])
}

func TestRootsAndIncoming(t *testing.T) {
	state := connectionsFixture(t)

	assert.Equal(t, []string{"t1", "t2"}, Roots(state))
	assert.Equal(t, []string{"t1", "t2"}, Incoming(state, "a"))
	assert.Equal(t, []string{"t1", "a"}, Incoming(state, "b"))
	assert.Empty(t, Incoming(state, "t1"))
}

func TestCanConnect(t *testing.T) {
	state := connectionsFixture(t)

	assert.NoError(t, CanConnect(state, "t2", "b"))
	assert.NoError(t, CanConnect(state, "t1", "a"), "existing edge")
	assert.Equal(t, CodeCycleDetected, Code(CanConnect(state, "b", "a")))
	assert.Equal(t, CodeIllegalDirection, Code(CanConnect(state, "a", "t1")))
	assert.Len(t, state.Edges(), 4, "preview must not change the state")
}

func TestConnectionView_TracksRevision(t *testing.T) {
	var view ConnectionView
	state := connectionsFixture(t)

	assert.Equal(t, []string{"b", "a"}, view.Outgoing(state, "t1"))
	assert.Equal(t, []string{"t1", "t2"}, view.Roots(state))

	next := Apply(state, Disconnect{Source: "t1", Target: "b"}).State
	assert.Equal(t, []string{"a"}, view.Outgoing(next, "t1"))
	assert.Equal(t, []string{"b", "a"}, view.Outgoing(state, "t1"), "older snapshot rebuilds its own view")

	out := view.Outgoing(state, "t1")
	out[0] = "mutated"
	assert.Equal(t, []string{"b", "a"}, view.Adjacency(state)["t1"])
}

func TestCompileWithView_ReusesCachedAdjacency(t *testing.T) {
	state := connectionsFixture(t)
	view := &ConnectionView{}

	plan, err := compileWithView(state, nil, view)
	require.NoError(t, err)

	assert.Equal(t, state.Revision(), view.revision)
	actions, _ := plan.Lookup(TriggerKey{Category: CategoryRewardRedemption, EventID: "r1"})
	assert.Equal(t, []string{"b", "a"}, actionIDs(actions))
}
