package workflow

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"channel-automation/api/pkg/logging"
)

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	Save(ctx context.Context, wf *Workflow) error
	List(ctx context.Context) ([]Workflow, error)
	References(ctx context.Context, streamerID string) (*StaticResolver, error)
}

// Service wires together persistence, editor sessions and the runtime for the workflow domain.
type Service struct {
	repo      WorkflowRepo
	machine   *Machine
	sessions  *SessionStore
	runtime   *Runtime
	metrics   *Metrics
	logger    logging.Logger
	graphOpts GraphOptions
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for saves, sessions and hydration.
func WithServiceLogger(l logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithServiceMetrics records compile results on m.
func WithServiceMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithMachine replaces the intent machine, mainly to control node ids.
func WithMachine(m *Machine) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.machine = m
		}
	}
}

// WithGraphOptions sets the edge rules used for every workflow the service loads.
func WithGraphOptions(opts GraphOptions) ServiceOption {
	return func(s *Service) { s.graphOpts = opts }
}

// NewService creates a Service over repo that installs compiled plans into runtime.
func NewService(repo WorkflowRepo, runtime *Runtime, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		machine:   defaultMachine,
		sessions:  NewSessionStore(),
		runtime:   runtime,
		logger:    logging.Nop(),
		graphOpts: DefaultGraphOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveResult reports what happened when a workflow graph was saved.
type SaveResult struct {
	Workflow    *Workflow      `json:"workflow"`
	Executable  bool           `json:"executable"`
	Plan        *ExecutionPlan `json:"plan,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// StateFromWorkflow builds a validated editor state from a stored graph.
func (s *Service) StateFromWorkflow(wf *Workflow) (EditorState, error) {
	tr := s.machine.Apply(NewEditorState(s.graphOpts), Reset{Nodes: wf.Nodes, Edges: wf.Edges})
	if tr.Diagnostic != nil {
		return tr.State, *tr.Diagnostic
	}
	return tr.State, nil
}

// CompileWorkflow validates wf and compiles it against the streamer's references.
func (s *Service) CompileWorkflow(ctx context.Context, wf *Workflow) (*ExecutionPlan, error) {
	state, err := s.StateFromWorkflow(wf)
	if err != nil {
		return nil, err
	}
	return s.compileState(ctx, wf.StreamerID, state, nil)
}

// compileState compiles state against the streamer's references. view may be nil.
func (s *Service) compileState(ctx context.Context, streamerID string, state EditorState, view *ConnectionView) (*ExecutionPlan, error) {
	refs, err := s.repo.References(ctx, streamerID)
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}
	plan, err := compileWithView(state, refs, view)
	s.metrics.observeCompile(err)
	return plan, err
}

// SaveWorkflow persists a structurally valid graph. The workflow becomes executable
// only if it also compiles; otherwise any previously installed plan is withdrawn.
func (s *Service) SaveWorkflow(ctx context.Context, wf *Workflow) (*SaveResult, error) {
	state, err := s.StateFromWorkflow(wf)
	if err != nil {
		return nil, err
	}
	wf.Nodes = state.Nodes()
	wf.Edges = state.Edges()
	return s.saveState(ctx, wf, state, nil)
}

func (s *Service) saveState(ctx context.Context, wf *Workflow, state EditorState, view *ConnectionView) (*SaveResult, error) {
	plan, compileErr := s.compileState(ctx, wf.StreamerID, state, view)
	var ce *CompileError
	if compileErr != nil && !asCompileError(compileErr, &ce) {
		return nil, compileErr
	}

	if err := s.repo.Save(ctx, wf); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(map[string]any{"workflow_id": wf.ID, "streamer_id": wf.StreamerID})
	result := &SaveResult{Workflow: wf}
	if ce != nil {
		s.runtime.Remove(wf.ID)
		result.Diagnostics = ce.Diagnostics
		logger.Warn("workflow saved but not executable")
		return result, nil
	}

	if err := s.runtime.Install(wf.ID, wf.StreamerID, plan); err != nil {
		return nil, fmt.Errorf("install plan: %w", err)
	}
	result.Executable = true
	result.Plan = plan
	logger.Info("workflow saved")
	return result, nil
}

// Hydrate compiles every stored workflow and installs the ones that compile.
func (s *Service) Hydrate(ctx context.Context) error {
	workflows, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	installed := 0
	for i := range workflows {
		wf := &workflows[i]
		logger := s.logger.WithFields(map[string]any{"workflow_id": wf.ID})
		plan, err := s.CompileWorkflow(ctx, wf)
		if err != nil {
			logger.Warn("skipping workflow: " + err.Error())
			continue
		}
		if err := s.runtime.Install(wf.ID, wf.StreamerID, plan); err != nil {
			logger.Warn("skipping workflow: " + err.Error())
			continue
		}
		installed++
	}
	s.logger.WithFields(map[string]any{"installed": installed, "total": len(workflows)}).Info("runtime hydrated")
	return nil
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.Use(jsonMiddleware)

	workflows := parentRouter.PathPrefix("/workflows").Subrouter()
	workflows.StrictSlash(false)
	workflows.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	workflows.HandleFunc("/{id}", s.HandleSaveWorkflow).Methods("PUT")
	workflows.HandleFunc("/{id}/compile", s.HandleCompileWorkflow).Methods("POST")
	workflows.HandleFunc("/{id}/sessions", s.HandleOpenSession).Methods("POST")

	sessions := parentRouter.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("/{sid}", s.HandleGetSession).Methods("GET")
	sessions.HandleFunc("/{sid}", s.HandleCloseSession).Methods("DELETE")
	sessions.HandleFunc("/{sid}/connections", s.HandleSessionConnections).Methods("GET")
	sessions.HandleFunc("/{sid}/intents", s.HandleApplyIntent).Methods("POST")
	sessions.HandleFunc("/{sid}/save", s.HandleSaveSession).Methods("POST")

	parentRouter.HandleFunc("/events", s.HandleEvent).Methods("POST")
}
