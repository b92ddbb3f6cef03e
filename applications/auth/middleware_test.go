package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inspectflow/orchestrator/domain/tenant"
)

func issueTestToken(t *testing.T, m *Manager, u User) string {
	t.Helper()
	token, _, err := m.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

// issueTokenWithExpiry signs a token with an arbitrary exp claim, bypassing
// Manager.ttl, so grace-period behavior can be tested without sleeping.
func issueTokenWithExpiry(t *testing.T, m *Manager, u User, exp time.Time) string {
	t.Helper()
	claims := Claims{
		UserID:        u.UserID,
		TenantID:      u.TenantID,
		Role:          u.Role,
		Permissions:   u.Permissions,
		PlatformAdmin: u.PlatformAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Subject:   u.UserID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	m.RequireAuth(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsMalformedToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()

	m.RequireAuth(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTestToken(t, m, testUser())

	var observed tenant.Context
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed, _ = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequireAuth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if observed.TenantID != "tenant-1" {
		t.Fatalf("expected tenant context to be attached, got %+v", observed)
	}
}

func TestOptionalAuthPassesThroughWithoutToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := tenant.FromContext(r.Context()); ok {
			t.Fatal("expected no tenant context without a token")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	m.OptionalAuth(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be invoked")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequirePlatformAdminRejectsNonAdmin(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTestToken(t, m, testUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequirePlatformAdmin(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequirePlatformAdminAcceptsAdmin(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	u := testUser()
	u.PlatformAdmin = true
	token := issueTestToken(t, m, u)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequirePlatformAdmin(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireTenantAdminRejectsMemberRole(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	u := testUser()
	u.Role = "member"
	token := issueTestToken(t, m, u)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequireTenantAdmin(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireTenantAdminAcceptsPlatformAdminRegardlessOfRole(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	u := testUser()
	u.Role = "member"
	u.PlatformAdmin = true
	token := issueTestToken(t, m, u)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequireTenantAdmin(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequirePermissionRejectsMissingPermission(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTestToken(t, m, testUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequirePermission("audit:read")(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequirePermissionAcceptsGrantedPermission(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTestToken(t, m, testUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequirePermission("workflow:write")(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthenticateRequestAcceptsValidToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTestToken(t, m, testUser())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	tc, svcErr := m.AuthenticateRequest(req)
	if svcErr != nil {
		t.Fatalf("AuthenticateRequest: %v", svcErr)
	}
	if tc.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %q", tc.TenantID)
	}
}

func TestAuthenticateRequestAcceptsTokenWithinGracePeriod(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTokenWithExpiry(t, m, testUser(), time.Now().Add(-10*time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	tc, svcErr := m.AuthenticateRequest(req)
	if svcErr != nil {
		t.Fatalf("AuthenticateRequest: expected grace-period acceptance, got %v", svcErr)
	}
	if tc.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %q", tc.TenantID)
	}
}

func TestAuthenticateRequestRejectsTokenBeyondGracePeriod(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	token := issueTokenWithExpiry(t, m, testUser(), time.Now().Add(-90*time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, svcErr := m.AuthenticateRequest(req); svcErr == nil {
		t.Fatal("expected an error for a token expired beyond the grace period")
	}
}

func TestRequireAuthRejectsTokenWithinRefreshGraceWindow(t *testing.T) {
	// A token within AuthenticateRequest's grace window must still be
	// rejected by the strict path every other middleware variant uses.
	m := NewManager("test-secret", time.Hour)
	token := issueTokenWithExpiry(t, m, testUser(), time.Now().Add(-10*time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.RequireAuth(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticateRequestRejectsMissingToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)

	if _, svcErr := m.AuthenticateRequest(req); svcErr == nil {
		t.Fatal("expected an error for a missing bearer token")
	}
}
