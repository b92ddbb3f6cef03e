package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/middleware"
)

// refreshGracePeriod is how far past a token's expiry AuthenticateRequest
// still accepts it, giving a client a one-hour window to refresh after its
// token technically expired rather than forcing a fresh login.
const refreshGracePeriod = time.Hour

// tokenFromRequest extracts the bearer token from the Authorization header.
func tokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err *errors.ServiceError) {
	middleware.WriteErrorResponse(w, err.HTTPStatus, string(err.Code), err.Message, err.Details)
}

// authenticate is the single token-verification path every auth middleware
// variant below shares: extract, validate, and (on success) attach a
// tenant.Context built from the claims.
func (m *Manager) authenticate(r *http.Request) (tenant.Context, *errors.ServiceError) {
	token := tokenFromRequest(r)
	if token == "" {
		return tenant.Context{}, errors.Unauthorized("missing bearer token")
	}
	claims, err := m.Validate(token)
	if err != nil {
		if err == errTokenExpired {
			return tenant.Context{}, errors.TokenExpired()
		}
		return tenant.Context{}, errors.InvalidToken(err)
	}
	return claims.ToTenantContext(r.Header.Get("X-Request-ID"), "", r.UserAgent()), nil
}

// AuthenticateRequest validates a bearer token for handlers that need the
// tenant.Context directly rather than via request context injection —
// currently only token refresh. Unlike authenticate (which RequireAuth and
// every middleware variant below uses), it accepts a token whose exp has
// already passed as long as it is within refreshGracePeriod.
func (m *Manager) AuthenticateRequest(r *http.Request) (tenant.Context, *errors.ServiceError) {
	token := tokenFromRequest(r)
	if token == "" {
		return tenant.Context{}, errors.Unauthorized("missing bearer token")
	}
	claims, err := m.ValidateWithGrace(token, refreshGracePeriod)
	if err != nil {
		if err == errTokenExpired {
			return tenant.Context{}, errors.TokenExpired()
		}
		return tenant.Context{}, errors.InvalidToken(err)
	}
	return claims.ToTenantContext(r.Header.Get("X-Request-ID"), "", r.UserAgent()), nil
}

// RequireAuth rejects any request without a valid bearer token.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, svcErr := m.authenticate(r)
		if svcErr != nil {
			writeAuthError(w, svcErr)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
	})
}

// OptionalAuth attaches a tenant.Context when a valid token is present but
// never rejects the request for its absence — used by endpoints whose
// behavior only varies when a caller happens to be authenticated.
func (m *Manager) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tc, svcErr := m.authenticate(r); svcErr == nil {
			r = r.WithContext(tenant.WithContext(r.Context(), tc))
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePlatformAdmin rejects any authenticated request whose claims are
// not flagged as a platform admin.
func (m *Manager) RequirePlatformAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, _ := tenant.FromContext(r.Context())
		if !tc.PlatformAdmin {
			writeAuthError(w, errors.PlatformAdminOnly())
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequireTenantAdmin rejects any authenticated request whose role is not
// "tenant-admin" (or platform admin, who can act as any tenant's admin).
func (m *Manager) RequireTenantAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, _ := tenant.FromContext(r.Context())
		if tc.Role != "tenant-admin" && !tc.PlatformAdmin {
			writeAuthError(w, errors.Forbidden("tenant admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequirePermission rejects any authenticated request whose claims lack the
// named permission.
func (m *Manager) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, _ := tenant.FromContext(r.Context())
			if !tc.HasPermission(permission) {
				writeAuthError(w, errors.PermissionRequired(permission))
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
