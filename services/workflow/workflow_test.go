package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepo keeps workflows in memory for handler tests.
type stubRepo struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	refs      *StaticResolver
	err       error
}

func newStubRepo(wfs ...*Workflow) *stubRepo {
	r := &stubRepo{workflows: map[string]*Workflow{}, refs: sampleReferences()}
	for _, wf := range wfs {
		r.workflows[wf.ID] = wf
	}
	return r
}

func (r *stubRepo) Get(_ context.Context, id string) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	wf, ok := r.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *wf
	return &cp, nil
}

func (r *stubRepo) Save(_ context.Context, wf *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.workflows[wf.ID]; ok {
		wf.CreatedAt = existing.CreatedAt
	} else {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	cp := *wf
	r.workflows[wf.ID] = &cp
	return nil
}

func (r *stubRepo) List(context.Context) ([]Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Workflow
	for _, wf := range r.workflows {
		out = append(out, *wf)
	}
	return out, nil
}

func (r *stubRepo) References(context.Context, string) (*StaticResolver, error) {
	return r.refs, nil
}

func newTestService(repo *stubRepo, bridge *fakeBridge) *Service {
	runtime := NewRuntime(NewDispatcher(bridge))
	return NewService(repo, runtime, WithMachine(newTestMachine()))
}

func setupRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Message     string       `json:"message"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

const workflowPath = "/api/v1/workflows/" + sampleWorkflowID

func TestHandleGetWorkflow_Success(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(sampleWorkflow()), &fakeBridge{}))

	w := doRequest(router, "GET", workflowPath, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	result := decodeBody[Workflow](t, w)
	assert.Equal(t, sampleWorkflowID, result.ID)
	assert.Len(t, result.Nodes, 4)
	assert.Len(t, result.Edges, 3)
	assert.Equal(t, AwardPoints{Amount: 250}, result.Nodes[1].Data)
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(), &fakeBridge{}))

	w := doRequest(router, "GET", "/api/v1/workflows/00000000-0000-0000-0000-000000000000", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "workflow not found", decodeBody[errorBody](t, w).Message)
}

func TestHandleGetWorkflow_InvalidID(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(), &fakeBridge{}))

	w := doRequest(router, "GET", "/api/v1/workflows/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid workflow id", decodeBody[errorBody](t, w).Message)
}

func TestHandleSaveWorkflow_InstallsPlan(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, &fakeBridge{})
	router := setupRouter(svc)

	w := doRequest(router, "PUT", workflowPath, sampleWorkflow())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, result["executable"])
	assert.NotNil(t, result["plan"])

	_, ok := svc.runtime.Plan(sampleWorkflowID)
	assert.True(t, ok)
	stored, _ := repo.Get(context.Background(), sampleWorkflowID)
	require.NotNil(t, stored)
	assert.Len(t, stored.Nodes, 4)
}

func TestHandleSaveWorkflow_ChainingDisabled(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, NewRuntime(NewDispatcher(&fakeBridge{})),
		WithMachine(newTestMachine()),
		WithGraphOptions(GraphOptions{AllowChaining: false}),
	)
	router := setupRouter(svc)

	w := doRequest(router, "PUT", workflowPath, sampleWorkflow())

	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	body := decodeBody[errorBody](t, w)
	require.Len(t, body.Diagnostics, 1)
	assert.Equal(t, CodeIllegalDirection, body.Diagnostics[0].Code)
	assert.Equal(t, "award", body.Diagnostics[0].NodeID)
	stored, _ := repo.Get(context.Background(), sampleWorkflowID)
	assert.Nil(t, stored)
}

func TestHandleSaveWorkflow_StructuralErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{
			name: "cycle",
			body: func() *Workflow {
				wf := sampleWorkflow()
				wf.Edges = append(wf.Edges, NewEdge("announce", "award"))
				return wf
			}(),
			wantCode: CodeCycleDetected,
		},
		{
			name: "edge into trigger",
			body: func() *Workflow {
				wf := sampleWorkflow()
				wf.Edges = append(wf.Edges, NewEdge("confetti", "trigger-hydrate"))
				return wf
			}(),
			wantCode: CodeIllegalDirection,
		},
		{
			name:     "unknown category",
			body:     `{"streamerId":"s","nodes":[{"id":"x","category":"dance","data":{}}],"edges":[]}`,
			wantCode: CodeInvalidCategory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			router := setupRouter(newTestService(repo, &fakeBridge{}))

			w := doRequest(router, "PUT", workflowPath, tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decodeBody[errorBody](t, w)
			require.Len(t, body.Diagnostics, 1)
			assert.Equal(t, tt.wantCode, body.Diagnostics[0].Code)
			assert.Empty(t, repo.workflows, "invalid graphs are not persisted")
		})
	}
}

func TestHandleSaveWorkflow_UnresolvedIsSavedButNotExecutable(t *testing.T) {
	repo := newStubRepo()
	repo.refs = &StaticResolver{}
	svc := newTestService(repo, &fakeBridge{})
	router := setupRouter(svc)

	w := doRequest(router, "PUT", workflowPath, sampleWorkflow())

	require.Equal(t, http.StatusOK, w.Code)
	result := decodeBody[SaveResult](t, w)
	assert.False(t, result.Executable)
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, "announce", result.Diagnostics[0].NodeID)
	assert.Equal(t, "confetti", result.Diagnostics[1].NodeID)
	_, ok := svc.runtime.Plan(sampleWorkflowID)
	assert.False(t, ok)
	assert.Len(t, repo.workflows, 1)
}

func TestHandleSaveWorkflow_BadRequests(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(), &fakeBridge{}))

	w := doRequest(router, "PUT", workflowPath, "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "PUT", workflowPath, `{"nodes":[],"edges":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "streamerId is required", decodeBody[errorBody](t, w).Message)
}

func TestHandleCompileWorkflow(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(sampleWorkflow()), &fakeBridge{}))

	w := doRequest(router, "POST", workflowPath+"/compile", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var plan struct {
		Triggers []PlanEntry `json:"triggers"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plan))
	require.Len(t, plan.Triggers, 1)
	assert.Equal(t, sampleRewardID, plan.Triggers[0].Key.EventID)
	assert.Equal(t, []string{"award", "announce", "confetti"}, actionIDs(plan.Triggers[0].Actions))
}

func TestSessionHandlers(t *testing.T) {
	repo := newStubRepo(sampleWorkflow())
	svc := newTestService(repo, &fakeBridge{})
	router := setupRouter(svc)

	w := doRequest(router, "POST", workflowPath+"/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decodeBody[map[string]any](t, w)
	sid, _ := opened["sessionId"].(string)
	require.NotEmpty(t, sid)
	sessionPath := "/api/v1/sessions/" + sid

	w = doRequest(router, "POST", sessionPath+"/intents",
		`{"type":"ADD_NODE","payload":{"category":"call_bridge","position":{"x":600,"y":200}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	added := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, added["changed"])

	w = doRequest(router, "POST", sessionPath+"/intents",
		`{"type":"UPDATE_NODE_DATA","payload":{"id":"n1","data":{"action":"lights"}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "POST", sessionPath+"/intents", `{"type":"CONNECT","payload":{"source":"announce","target":"n1"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "POST", sessionPath+"/intents", `{"type":"CONNECT","payload":{"source":"n1","target":"award"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	rejected := decodeBody[map[string]any](t, w)
	assert.Equal(t, false, rejected["changed"])
	diag, _ := rejected["diagnostic"].(map[string]any)
	assert.Equal(t, CodeCycleDetected, diag["code"])

	w = doRequest(router, "POST", sessionPath+"/intents", `{"type":"EXPLODE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "GET", sessionPath, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "POST", sessionPath+"/save", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decodeBody[SaveResult](t, w)
	assert.True(t, saved.Executable)
	assert.Len(t, saved.Workflow.Nodes, 5)

	plan, ok := svc.runtime.Plan(sampleWorkflowID)
	require.True(t, ok)
	actions, _ := plan.Lookup(TriggerKey{Category: CategoryRewardRedemption, EventID: sampleRewardID})
	assert.Equal(t, []string{"award", "announce", "n1", "confetti"}, actionIDs(actions))

	w = doRequest(router, "GET", sessionPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSessionConnections(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(sampleWorkflow()), &fakeBridge{}))

	w := doRequest(router, "POST", workflowPath+"/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sessionPath := "/api/v1/sessions/" + decodeBody[map[string]any](t, w)["sessionId"].(string)

	w = doRequest(router, "GET", sessionPath+"/connections?source=trigger-hydrate&target=announce", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hint := decodeBody[ConnectionHint](t, w)
	assert.Equal(t, []string{"award", "confetti"}, hint.Outgoing)
	assert.Empty(t, hint.Incoming)
	require.NotNil(t, hint.CanConnect)
	assert.True(t, *hint.CanConnect)

	w = doRequest(router, "GET", sessionPath+"/connections?source=award&target=trigger-hydrate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hint = decodeBody[ConnectionHint](t, w)
	assert.False(t, *hint.CanConnect)
	assert.Equal(t, CodeIllegalDirection, hint.Diagnostic.Code)

	w = doRequest(router, "GET", sessionPath+"/connections", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(router, "GET", sessionPath+"/connections?source=ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(router, "GET", "/api/v1/sessions/missing/connections?source=award", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCloseSession(t *testing.T) {
	svc := newTestService(newStubRepo(sampleWorkflow()), &fakeBridge{})
	router := setupRouter(svc)

	w := doRequest(router, "POST", workflowPath+"/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	sid := decodeBody[map[string]any](t, w)["sessionId"].(string)

	w = doRequest(router, "DELETE", "/api/v1/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(router, "DELETE", "/api/v1/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleEvent(t *testing.T) {
	bridge := &fakeBridge{}
	svc := newTestService(newStubRepo(sampleWorkflow()), bridge)
	require.NoError(t, svc.Hydrate(context.Background()))
	router := setupRouter(svc)

	w := doRequest(router, "POST", "/api/v1/events", Event{
		Category:   CategoryRewardRedemption,
		EventID:    sampleRewardID,
		StreamerID: sampleStreamerID,
		Data:       map[string]any{"user_name": "alice"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Outcomes []Outcome `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, StatusCompleted, body.Outcomes[0].Status)
	assert.Equal(t, sampleWorkflowID, body.Outcomes[0].WorkflowID)
	assert.Equal(t, []Category{CategoryAwardPoints, CategorySendChatMessage, CategoryTriggerOverlay}, bridge.actions())
	assert.Equal(t, "alice", bridge.calls()[0].EventData["user_name"])
}

func TestHandleEvent_Validation(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(), &fakeBridge{}))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid request body"},
		{"missing streamer", `{"category":"channel.follow"}`, "streamer_id is required"},
		{"action category", `{"category":"award_points","streamer_id":"s"}`, "unknown trigger category"},
		{"unknown category", `{"category":"dance","streamer_id":"s"}`, "unknown trigger category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/api/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decodeBody[errorBody](t, w).Message)
		})
	}
}

func TestHandleEvent_NoMatchReturnsEmptyOutcomes(t *testing.T) {
	router := setupRouter(newTestService(newStubRepo(), &fakeBridge{}))

	w := doRequest(router, "POST", "/api/v1/events", `{"category":"channel.follow","streamer_id":"s"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outcomes":[]}`, w.Body.String())
}
