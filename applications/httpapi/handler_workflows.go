package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/domain/workflow"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

type createWorkflowRequest struct {
	Name        string               `json:"name"`
	Agents      []workflow.AgentSpec `json:"agents"`
	Connections []workflow.Edge      `json:"connections"`
	EntryPoints []string             `json:"entryPoints"`
	StateSchema map[string]string    `json:"stateSchema"`
}

func workflowToJSON(def *workflow.Definition) map[string]interface{} {
	return map[string]interface{}{
		"id":          def.ID,
		"name":        def.Name,
		"version":     def.Version,
		"status":      def.Status,
		"agents":      def.Agents,
		"connections": def.Connections,
		"entryPoints": def.EntryPoints,
		"stateSchema": def.StateSchema,
		"createdAt":   def.CreatedAt,
		"updatedAt":   def.UpdatedAt,
	}
}

func (h *handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())

	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		httpWriteError(w, errors.InvalidFormat("body", "valid JSON workflow definition"))
		return
	}
	if req.Name == "" {
		httpWriteError(w, errors.MissingParameter("name"))
		return
	}

	def := &workflow.Definition{
		ID:          uuid.NewString(),
		TenantID:    tc.TenantID,
		Name:        req.Name,
		Version:     1,
		Status:      workflow.DefinitionDraft,
		Agents:      req.Agents,
		Connections: req.Connections,
		EntryPoints: req.EntryPoints,
		StateSchema: req.StateSchema,
	}

	if _, report := h.d.Compiler.Compile(*def); report != nil {
		httpWriteError(w, errors.InvalidInput("workflow", report.Error()))
		return
	}

	if err := h.d.Definitions.Create(r.Context(), def); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workflowToJSON(def))
}

func (h *handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	defs, err := h.d.Definitions.List(r.Context(), tc.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		out = append(out, workflowToJSON(def))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	id := mux.Vars(r)["workflowId"]

	def, err := h.d.Definitions.Get(r.Context(), tc.TenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(def))
}

func (h *handler) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	id := mux.Vars(r)["workflowId"]

	existing, err := h.d.Definitions.Get(r.Context(), tc.TenantID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		httpWriteError(w, errors.InvalidFormat("body", "valid JSON workflow definition"))
		return
	}

	// Updating an existing definition stores it under the same ID with its
	// version incremented, replacing the stored definition; only the latest
	// version is kept. Executions already running keep the graph they were
	// compiled against.
	next := &workflow.Definition{
		ID:          existing.ID,
		TenantID:    tc.TenantID,
		Name:        req.Name,
		Version:     existing.Version + 1,
		Status:      workflow.DefinitionDraft,
		Agents:      req.Agents,
		Connections: req.Connections,
		EntryPoints: req.EntryPoints,
		StateSchema: req.StateSchema,
	}

	if _, report := h.d.Compiler.Compile(*next); report != nil {
		httpWriteError(w, errors.InvalidInput("workflow", report.Error()))
		return
	}

	if err := h.d.Definitions.Update(r.Context(), next); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToJSON(next))
}

func (h *handler) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())
	id := mux.Vars(r)["workflowId"]

	if err := h.d.Definitions.Delete(r.Context(), tc.TenantID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
