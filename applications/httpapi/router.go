// Package httpapi exposes the tenant-facing REST and WebSocket surface of
// the orchestration engine: workflow definitions, execution control, and
// audit history, all scoped to the caller's tenant.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/inspectflow/orchestrator/applications/auth"
	"github.com/inspectflow/orchestrator/domain/workflow"
	"github.com/inspectflow/orchestrator/infrastructure/logging"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
	slmiddleware "github.com/inspectflow/orchestrator/infrastructure/middleware"
)

// Deps are the dependencies the router wires into its handlers.
type Deps struct {
	AuthManager     *auth.Manager
	Users           auth.UserLookup
	Compiler        *workflow.Compiler
	Registry        *workflow.Registry
	Engine          *workflow.Engine
	Definitions     workflow.DefinitionStore
	Executions      workflow.Store
	Audit           AuditReader
	Logger          *logging.Logger
	Metrics         *metrics.Metrics
	RateLimiter     slmiddleware.Limiter
	RateLimitPerMin int
}

// NewRouter builds the tenant API's *mux.Router, mounting every route
// spec's external interface names and wiring the shared middleware chain
// in this order: logging, recovery, metrics (when Metrics is set), body
// limit, and rate limiting (when RateLimiter is set).
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(slmiddleware.LoggingMiddleware(d.Logger))
	r.Use(slmiddleware.NewRecoveryMiddleware(d.Logger).Handler)
	if d.Metrics != nil {
		r.Use(slmiddleware.MetricsMiddleware(d.Metrics))
	}
	r.Use(slmiddleware.NewBodyLimitMiddleware(0).Handler)
	if d.RateLimiter != nil {
		r.Use(slmiddleware.Handler(d.RateLimiter, d.RateLimitPerMin, time.Minute, d.Metrics, d.Logger))
	}

	h := &handler{d: d}

	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", d.AuthManager.RequireAuth(http.HandlerFunc(h.me)).ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc("/auth/switch-tenant", d.AuthManager.RequirePlatformAdmin(http.HandlerFunc(h.switchTenant)).ServeHTTP).Methods(http.MethodPost)

	wf := r.PathPrefix("/workflows").Subrouter()
	wf.Use(d.AuthManager.RequireAuth)
	wf.HandleFunc("", h.listWorkflows).Methods(http.MethodGet)
	wf.HandleFunc("", d.AuthManager.RequirePermission("workflow:write")(http.HandlerFunc(h.createWorkflow)).ServeHTTP).Methods(http.MethodPost)
	wf.HandleFunc("/{workflowId}", h.getWorkflow).Methods(http.MethodGet)
	wf.HandleFunc("/{workflowId}", d.AuthManager.RequirePermission("workflow:write")(http.HandlerFunc(h.updateWorkflow)).ServeHTTP).Methods(http.MethodPut)
	wf.HandleFunc("/{workflowId}", d.AuthManager.RequirePermission("workflow:write")(http.HandlerFunc(h.deleteWorkflow)).ServeHTTP).Methods(http.MethodDelete)
	wf.HandleFunc("/{workflowId}/execute", d.AuthManager.RequirePermission("workflow:execute")(http.HandlerFunc(h.executeWorkflow)).ServeHTTP).Methods(http.MethodPost)
	wf.HandleFunc("/{workflowId}/executions", h.listExecutionsForWorkflow).Methods(http.MethodGet)

	ex := r.PathPrefix("/executions").Subrouter()
	ex.Use(d.AuthManager.RequireAuth)
	ex.HandleFunc("/{executionId}", h.getExecution).Methods(http.MethodGet)
	ex.HandleFunc("/{executionId}/signal", h.signalExecution).Methods(http.MethodPost)
	ex.HandleFunc("/{executionId}/stream", h.streamExecution).Methods(http.MethodGet)

	r.HandleFunc("/audit-logs", d.AuthManager.RequireTenantAdmin(http.HandlerFunc(h.listAuditLogs)).ServeHTTP).Methods(http.MethodGet)

	return r
}
