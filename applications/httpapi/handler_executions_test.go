package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inspectflow/orchestrator/applications/auth"
)

func createTestWorkflow(t *testing.T, router http.Handler, authManager *auth.Manager) string {
	t.Helper()
	req := authedRequest(http.MethodPost, "/workflows", validWorkflowBody(), authManager)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created workflow: %v", err)
	}
	return created["id"].(string)
}

func TestExecuteWorkflowStartsExecution(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)
	id := createTestWorkflow(t, router, authManager)

	req := authedRequest(http.MethodPost, "/workflows/"+id+"/execute", executeWorkflowRequest{InitialState: map[string]interface{}{}}, authManager)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["executionId"] == "" || out["executionId"] == nil {
		t.Fatal("expected a generated execution id")
	}
}

func TestExecuteWorkflowUnknownWorkflow(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)

	req := authedRequest(http.MethodPost, "/workflows/does-not-exist/execute", nil, authManager)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetExecutionAndSignalLifecycle(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)
	id := createTestWorkflow(t, router, authManager)

	startReq := authedRequest(http.MethodPost, "/workflows/"+id+"/execute", executeWorkflowRequest{InitialState: map[string]interface{}{}}, authManager)
	startRec := httptest.NewRecorder()
	router.ServeHTTP(startRec, startReq)
	var started map[string]interface{}
	json.Unmarshal(startRec.Body.Bytes(), &started)
	executionID := started["executionId"].(string)

	// Give the async engine loop a moment to persist the execution via the
	// in-memory store before observing it.
	time.Sleep(20 * time.Millisecond)

	getReq := authedRequest(http.MethodGet, "/executions/"+executionID, nil, authManager)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestSignalExecutionRejectsUnknownSignal(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)
	id := createTestWorkflow(t, router, authManager)

	startReq := authedRequest(http.MethodPost, "/workflows/"+id+"/execute", executeWorkflowRequest{InitialState: map[string]interface{}{}}, authManager)
	startRec := httptest.NewRecorder()
	router.ServeHTTP(startRec, startReq)
	var started map[string]interface{}
	json.Unmarshal(startRec.Body.Bytes(), &started)
	executionID := started["executionId"].(string)

	req := authedRequest(http.MethodPost, "/executions/"+executionID+"/signal", signalRequest{Signal: "not-a-real-signal"}, authManager)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListExecutionsForWorkflow(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)
	id := createTestWorkflow(t, router, authManager)

	startReq := authedRequest(http.MethodPost, "/workflows/"+id+"/execute", executeWorkflowRequest{InitialState: map[string]interface{}{}}, authManager)
	startRec := httptest.NewRecorder()
	router.ServeHTTP(startRec, startReq)
	if startRec.Code != http.StatusAccepted {
		t.Fatalf("setup: expected 202, got %d", startRec.Code)
	}

	time.Sleep(20 * time.Millisecond)

	listReq := authedRequest(http.MethodGet, "/workflows/"+id+"/executions", nil, authManager)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(listRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(out))
	}
}
