package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

// handler groups every route's implementation so they share Deps without
// each accepting it as a parameter.
type handler struct {
	d Deps
}

// AuditReader is the read-side of the audit trail this API exposes.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]AuditEntry, error)
}

// AuditEntry is one row rendered by GET /audit-logs.
type AuditEntry struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	After      map[string]interface{} `json:"after,omitempty"`
	OccurredAt string                 `json:"occurredAt"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeServiceError(w http.ResponseWriter, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("unexpected error", err)
	}
	httpWriteError(w, se)
}

func httpWriteError(w http.ResponseWriter, se *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.HTTPStatus)
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    se.Code,
			"message": se.Message,
			"details": se.Details,
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
