package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/domain/workflow"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

func executionToJSON(exec *workflow.Execution) map[string]interface{} {
	body := map[string]interface{}{
		"executionId":     exec.ExecutionID,
		"workflowId":      exec.WorkflowID,
		"workflowVersion": exec.WorkflowVersion,
		"status":          exec.Status,
		"state":           exec.State,
		"currentFrontier": exec.CurrentFrontier,
		"completedAgents": exec.CompletedAgents,
		"startedAt":       exec.StartedAt,
		"updatedAt":       exec.UpdatedAt,
	}
	if exec.EndedAt != nil {
		body["endedAt"] = exec.EndedAt
		body["durationMs"] = exec.DurationMs
	}
	if exec.Error != nil {
		body["error"] = exec.Error
	}
	return body
}

type executeWorkflowRequest struct {
	InitialState map[string]interface{} `json:"initialState"`
}

// executeWorkflow compiles the named workflow's current definition and
// starts a new execution, returning 202 Accepted since the engine runs it
// asynchronously.
func (h *handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	workflowID := mux.Vars(r)["workflowId"]

	def, err := h.d.Definitions.Get(r.Context(), tc.TenantID, workflowID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	graph, report := h.d.Compiler.Compile(*def)
	if report != nil {
		httpWriteError(w, errors.InvalidInput("workflow", report.Error()))
		return
	}

	var req executeWorkflowRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			httpWriteError(w, errors.InvalidFormat("body", "valid JSON execute request"))
			return
		}
	}

	exec, err := h.d.Engine.Start(r.Context(), graph, tc, req.InitialState)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, executionToJSON(exec))
}

func (h *handler) listExecutionsForWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	workflowID := mux.Vars(r)["workflowId"]

	execs, err := h.d.Executions.ListExecutions(r.Context(), tc.TenantID, workflowID, 100)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionToJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	executionID := mux.Vars(r)["executionId"]

	exec, err := h.d.Engine.Observe(r.Context(), tc.TenantID, executionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionToJSON(exec))
}

type signalRequest struct {
	Signal string `json:"signal"`
}

// signalExecution accepts pause, resume, and cancel — the three operator
// controls spec's execution lifecycle names.
func (h *handler) signalExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["executionId"]

	var req signalRequest
	if err := decodeJSON(r, &req); err != nil {
		httpWriteError(w, errors.InvalidFormat("body", "valid JSON signal request"))
		return
	}

	var sig workflow.Signal
	switch req.Signal {
	case string(workflow.SignalPause):
		sig = workflow.SignalPause
	case string(workflow.SignalResume):
		sig = workflow.SignalResume
	case string(workflow.SignalCancel):
		sig = workflow.SignalCancel
	default:
		httpWriteError(w, errors.InvalidFormat("signal", "one of pause, resume, cancel"))
		return
	}

	tc, _ := tenant.FromContext(r.Context())
	if _, err := h.d.Engine.Observe(r.Context(), tc.TenantID, executionID); err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.d.Engine.Signal(r.Context(), executionID, sig); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "signaled"})
}
