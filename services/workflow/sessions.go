package workflow

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one editing session over a workflow. Intents are applied one at a time.
type Session struct {
	ID         string
	WorkflowID string
	StreamerID string
	Name       string

	mu    sync.Mutex
	state EditorState
	view  ConnectionView
}

// State returns the latest snapshot.
func (s *Session) State() EditorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply runs intent through machine and stores the resulting snapshot.
func (s *Session) Apply(machine *Machine, intent Intent) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := machine.Apply(s.state, intent)
	s.state = tr.State
	return tr
}

// ConnectionHint describes a node's connections for the editor UI. CanConnect and
// Diagnostic are set only when a target was asked about.
type ConnectionHint struct {
	Source     string      `json:"source"`
	Outgoing   []string    `json:"outgoing"`
	Incoming   []string    `json:"incoming"`
	Target     string      `json:"target,omitempty"`
	CanConnect *bool       `json:"canConnect,omitempty"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// Connections reports the edges around source in the latest snapshot and, when
// target is not empty, whether source -> target would be accepted.
func (s *Session) Connections(source, target string) (ConnectionHint, bool) {
	state := s.State()
	if _, ok := state.Node(source); !ok {
		return ConnectionHint{}, false
	}
	hint := ConnectionHint{
		Source:   source,
		Outgoing: s.view.Outgoing(state, source),
		Incoming: Incoming(state, source),
	}
	if hint.Outgoing == nil {
		hint.Outgoing = []string{}
	}
	if hint.Incoming == nil {
		hint.Incoming = []string{}
	}
	if target != "" {
		hint.Target = target
		err := CanConnect(state, source, target)
		ok := err == nil
		hint.CanConnect = &ok
		if err != nil {
			d := diagnosticFrom(err)
			hint.Diagnostic = &d
		}
	}
	return hint, true
}

// SessionStore keeps open editing sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

// Open starts a session hydrated with wf's graph.
func (st *SessionStore) Open(machine *Machine, wf *Workflow, opts GraphOptions) (*Session, *Diagnostic) {
	sess := &Session{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		StreamerID: wf.StreamerID,
		Name:       wf.Name,
		state:      NewEditorState(opts),
	}
	if tr := sess.Apply(machine, Reset{Nodes: wf.Nodes, Edges: wf.Edges}); tr.Diagnostic != nil {
		return nil, tr.Diagnostic
	}

	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()
	return sess, nil
}

// Get returns the open session with the given id.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Close discards the session.
func (st *SessionStore) Close(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Len reports how many sessions are open.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
