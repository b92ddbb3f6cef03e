package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inspectflow/orchestrator/applications/auth"
)

func TestListAuditLogsRequiresTenantAdmin(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	d.Audit = memAuditReader{entries: []AuditEntry{{ID: "evt-1", Action: "workflow.create", Resource: "workflow:abc"}}}
	router := NewRouter(d)

	member := adminUser()
	member.Role = "member"
	req := authedRequestAs(http.MethodGet, "/audit-logs", nil, authManager, member)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestListAuditLogsReturnsEntries(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	d.Audit = memAuditReader{entries: []AuditEntry{{ID: "evt-1", Action: "workflow.create", Resource: "workflow:abc"}}}
	router := NewRouter(d)

	req := authedRequest(http.MethodGet, "/audit-logs", nil, authManager)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func authedRequestAs(method, target string, body interface{}, authManager *auth.Manager, u auth.User) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Authorization", "Bearer "+tokenFor(authManager, u))
	return r
}
