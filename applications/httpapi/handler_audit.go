package httpapi

import (
	"net/http"
	"strconv"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

// listAuditLogs serves GET /audit-logs, restricted to tenant admins — the
// audit trail is the record of every tenant-scoped write, so only the
// tenant's own admins (or a platform admin) may read it.
func (h *handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if h.d.Audit == nil {
		httpWriteError(w, errors.Internal("audit log reader not configured", nil))
		return
	}

	entries, err := h.d.Audit.ListAuditLogs(r.Context(), tc.TenantID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
