package httpapi

import (
	"net/http"

	"github.com/inspectflow/orchestrator/applications/auth"
	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

type loginRequest struct {
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httpWriteError(w, errors.InvalidFormat("body", "valid JSON login request"))
		return
	}
	if req.Username == "" || req.Password == "" {
		httpWriteError(w, errors.MissingParameter("username/password"))
		return
	}

	u, err := auth.Authenticate(r.Context(), h.d.Users, req.TenantID, req.Username, req.Password)
	if err != nil {
		httpWriteError(w, errors.Unauthorized("invalid username or password"))
		return
	}

	token, exp, err := h.d.AuthManager.Issue(u)
	if err != nil {
		httpWriteError(w, errors.Internal("failed to issue token", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Format(timeRFC3339)})
}

// refresh re-issues a token for a bearer token that is either still valid or
// expired within the grace window AuthenticateRequest allows, extending the
// token's expiry without requiring the caller to resubmit a password.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	tc, svcErr := h.d.AuthManager.AuthenticateRequest(r)
	if svcErr != nil {
		httpWriteError(w, svcErr)
		return
	}

	token, exp, err := h.d.AuthManager.Issue(auth.User{
		UserID:        tc.UserID,
		TenantID:      tc.TenantID,
		Role:          tc.Role,
		Permissions:   tc.Permissions,
		PlatformAdmin: tc.PlatformAdmin,
	})
	if err != nil {
		httpWriteError(w, errors.Internal("failed to issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Format(timeRFC3339)})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		httpWriteError(w, errors.Unauthorized("missing tenant context"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":        tc.UserID,
		"tenantId":      tc.TenantID,
		"role":          tc.Role,
		"permissions":   tc.Permissions,
		"platformAdmin": tc.PlatformAdmin,
	})
}

type switchTenantRequest struct {
	TenantID string `json:"tenantId"`
}

// switchTenant lets a platform admin re-issue a token scoped to a different
// tenant without re-authenticating, per ResolveTenantOverride's contract.
func (h *handler) switchTenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		httpWriteError(w, errors.Unauthorized("missing tenant context"))
		return
	}

	var req switchTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		httpWriteError(w, errors.InvalidFormat("body", "valid JSON switch-tenant request"))
		return
	}
	target := auth.ResolveTenantOverride(r.Header.Get("X-Tenant-ID"), req.TenantID)
	if target == "" {
		httpWriteError(w, errors.MissingParameter("tenantId"))
		return
	}

	token, exp, err := h.d.AuthManager.Issue(auth.User{
		UserID:        tc.UserID,
		TenantID:      target,
		Role:          tc.Role,
		Permissions:   tc.Permissions,
		PlatformAdmin: tc.PlatformAdmin,
	})
	if err != nil {
		httpWriteError(w, errors.Internal("failed to issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Format(timeRFC3339)})
}

const timeRFC3339 = "2006-01-02T15:04:05Z07:00"
