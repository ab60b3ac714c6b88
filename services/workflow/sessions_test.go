package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	store := NewSessionStore()
	m := newTestMachine()

	sess, diag := store.Open(m, sampleWorkflow(), DefaultGraphOptions())

	require.Nil(t, diag)
	assert.Equal(t, sampleWorkflowID, sess.WorkflowID)
	assert.Equal(t, sampleStreamerID, sess.StreamerID)
	assert.Equal(t, 4, sess.State().Len())
	assert.Equal(t, 1, store.Len())

	tr := sess.Apply(m, AddNode{Category: CategoryCallBridge})
	require.Nil(t, tr.Diagnostic)
	assert.Equal(t, 5, sess.State().Len())

	rejected := sess.Apply(m, Connect{Source: "award", Target: "trigger-hydrate"})
	require.NotNil(t, rejected.Diagnostic)
	assert.Equal(t, tr.State.Revision(), sess.State().Revision())

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	assert.True(t, store.Close(sess.ID))
	assert.False(t, store.Close(sess.ID))
	_, ok = store.Get(sess.ID)
	assert.False(t, ok)
}

func TestSessionStore_OpenRejectsInvalidGraph(t *testing.T) {
	wf := sampleWorkflow()
	wf.Edges = append(wf.Edges, NewEdge("announce", "award"))

	sess, diag := NewSessionStore().Open(newTestMachine(), wf, DefaultGraphOptions())

	assert.Nil(t, sess)
	require.NotNil(t, diag)
	assert.Equal(t, CodeCycleDetected, diag.Code)
}

func TestSession_Connections(t *testing.T) {
	m := newTestMachine()
	sess, diag := NewSessionStore().Open(m, sampleWorkflow(), DefaultGraphOptions())
	require.Nil(t, diag)

	hint, ok := sess.Connections("award", "")
	require.True(t, ok)
	assert.Equal(t, []string{"announce"}, hint.Outgoing)
	assert.Equal(t, []string{"trigger-hydrate"}, hint.Incoming)
	assert.Nil(t, hint.CanConnect)

	hint, _ = sess.Connections("announce", "award")
	require.NotNil(t, hint.CanConnect)
	assert.False(t, *hint.CanConnect)
	require.NotNil(t, hint.Diagnostic)
	assert.Equal(t, CodeCycleDetected, hint.Diagnostic.Code)

	hint, _ = sess.Connections("confetti", "announce")
	assert.True(t, *hint.CanConnect)
	assert.Nil(t, hint.Diagnostic)

	sess.Apply(m, Connect{Source: "confetti", Target: "announce"})
	hint, _ = sess.Connections("confetti", "")
	assert.Equal(t, []string{"announce"}, hint.Outgoing, "view follows the new revision")

	hint, _ = sess.Connections("announce", "")
	assert.Equal(t, []string{}, hint.Outgoing)
	assert.Equal(t, []string{"award", "confetti"}, hint.Incoming)

	_, ok = sess.Connections("ghost", "")
	assert.False(t, ok)
}
