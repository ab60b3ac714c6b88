package workflow

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// HandleGetWorkflow loads a workflow definition from the database and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// HandleSaveWorkflow validates and persists a complete graph, then installs its plan
// when it compiles.
func (s *Service) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var wf Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.writeDecodeError(w, err)
		return
	}
	wf.ID = id
	if wf.StreamerID == "" {
		writeError(w, http.StatusBadRequest, "streamerId is required")
		return
	}

	result, err := s.SaveWorkflow(r.Context(), &wf)
	if err != nil {
		s.writeWorkflowError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleCompileWorkflow compiles the stored workflow and returns its plan.
func (s *Service) HandleCompileWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	plan, err := s.CompileWorkflow(r.Context(), wf)
	if err != nil {
		s.writeWorkflowError(w, wf.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleOpenSession starts an editing session hydrated from the stored workflow.
func (s *Service) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	sess, diag := s.sessions.Open(s.machine, wf, s.graphOpts)
	if diag != nil {
		writeDiagnostics(w, http.StatusUnprocessableEntity, "stored workflow is invalid", []Diagnostic{*diag})
		return
	}
	s.logger.WithFields(map[string]any{"workflow_id": wf.ID, "session_id": sess.ID}).Debug("session opened")
	writeJSON(w, http.StatusCreated, sessionResponse(sess))
}

// HandleGetSession returns the session's latest snapshot.
func (s *Service) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// HandleSessionConnections reports a node's edges and, given ?target=, whether a
// connection to target would be accepted. The editor uses it to disable handles.
func (s *Service) HandleSessionConnections(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	source := query.Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	hint, ok := sess.Connections(source, query.Get("target"))
	if !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, hint)
}

// HandleApplyIntent applies one intent. Rejected intents still answer 200 with the
// unchanged state and a diagnostic.
func (s *Service) HandleApplyIntent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	intent, err := DecodeIntent(body)
	if err != nil {
		writeDiagnostics(w, http.StatusBadRequest, "invalid intent", []Diagnostic{diagnosticFrom(err)})
		return
	}
	tr := sess.Apply(s.machine, intent)
	if tr.Diagnostic != nil {
		s.logger.WithFields(map[string]any{
			"session_id": sess.ID,
			"intent":     intent.Type(),
			"code":       tr.Diagnostic.Code,
		}).Debug("intent rejected")
	}
	writeJSON(w, http.StatusOK, tr)
}

// HandleSaveSession persists the session's graph and ends the session.
func (s *Service) HandleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state := sess.State()
	wf := &Workflow{
		ID:         sess.WorkflowID,
		StreamerID: sess.StreamerID,
		Name:       sess.Name,
		Nodes:      state.Nodes(),
		Edges:      state.Edges(),
	}
	result, err := s.saveState(r.Context(), wf, state, &sess.view)
	if err != nil {
		s.writeWorkflowError(w, wf.ID, err)
		return
	}
	s.sessions.Close(sess.ID)
	writeJSON(w, http.StatusOK, result)
}

// HandleCloseSession discards a session without saving.
func (s *Service) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(mux.Vars(r)["sid"]) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvent receives a platform event and fires every matching workflow.
func (s *Service) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.StreamerID == "" {
		writeError(w, http.StatusBadRequest, "streamer_id is required")
		return
	}
	if kind, ok := KindOf(ev.Category); !ok || kind != KindTrigger {
		writeError(w, http.StatusBadRequest, "unknown trigger category")
		return
	}

	outcomes, err := s.runtime.Fire(r.Context(), ev)
	if err != nil {
		s.logger.WithFields(map[string]any{"trigger": ev.Key().String(), "streamer_id": ev.StreamerID}).
			Warn("event dispatch finished with failures")
	}
	if outcomes == nil {
		outcomes = []*Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (s *Service) loadWorkflow(w http.ResponseWriter, r *http.Request) (*Workflow, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return nil, false
	}
	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.logger.WithFields(map[string]any{"workflow_id": id}).Error("failed to get workflow: " + err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return nil, false
	}
	return wf, true
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(mux.Vars(r)["sid"])
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Service) writeWorkflowError(w http.ResponseWriter, id string, err error) {
	var d Diagnostic
	if errors.As(err, &d) {
		writeDiagnostics(w, http.StatusUnprocessableEntity, "workflow is invalid", []Diagnostic{d})
		return
	}
	var ce *CompileError
	if asCompileError(err, &ce) {
		writeDiagnostics(w, http.StatusUnprocessableEntity, "workflow does not compile", ce.Diagnostics)
		return
	}
	s.logger.WithFields(map[string]any{"workflow_id": id}).Error("workflow request failed: " + err.Error())
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Service) writeDecodeError(w http.ResponseWriter, err error) {
	if code := Code(err); code != "" {
		writeDiagnostics(w, http.StatusUnprocessableEntity, "workflow is invalid", []Diagnostic{diagnosticFrom(err)})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

type sessionBody struct {
	SessionID  string      `json:"sessionId"`
	WorkflowID string      `json:"workflowId"`
	State      EditorState `json:"state"`
}

func sessionResponse(sess *Session) sessionBody {
	return sessionBody{SessionID: sess.ID, WorkflowID: sess.WorkflowID, State: sess.State()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeDiagnostics(w http.ResponseWriter, status int, message string, diags []Diagnostic) {
	writeJSON(w, status, map[string]any{"message": message, "diagnostics": diags})
}
