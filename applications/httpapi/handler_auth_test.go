package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginSuccess(t *testing.T) {
	d, _, _, _ := buildTestRouter()
	router := NewRouter(d)

	body, _ := json.Marshal(loginRequest{TenantID: testTenantID, Username: "alice", Password: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	d, _, _, _ := buildTestRouter()
	router := NewRouter(d)

	body, _ := json.Marshal(loginRequest{TenantID: testTenantID, Username: "alice", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	d, _, _, _ := buildTestRouter()
	router := NewRouter(d)

	body, _ := json.Marshal(loginRequest{TenantID: testTenantID})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMeRequiresAuth(t *testing.T) {
	d, _, _, _ := buildTestRouter()
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMeReturnsTenantContext(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(authManager, adminUser()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["tenantId"] != testTenantID {
		t.Fatalf("expected tenantId %q, got %v", testTenantID, body["tenantId"])
	}
}

func TestSwitchTenantRequiresPlatformAdmin(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)

	body, _ := json.Marshal(switchTenantRequest{TenantID: "tenant-2"})
	req := httptest.NewRequest(http.MethodPost, "/auth/switch-tenant", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokenFor(authManager, adminUser()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSwitchTenantAllowsPlatformAdmin(t *testing.T) {
	d, _, _, authManager := buildTestRouter()
	router := NewRouter(d)

	u := adminUser()
	u.PlatformAdmin = true

	body, _ := json.Marshal(switchTenantRequest{TenantID: "tenant-2"})
	req := httptest.NewRequest(http.MethodPost, "/auth/switch-tenant", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tokenFor(authManager, u))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
