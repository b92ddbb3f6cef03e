// Package middleware provides HTTP middleware shared across the tenant API
// and the ops-only admin API: rate limiting, request auditing, and the
// small response-writing helpers they both need.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/inspectflow/orchestrator/domain/tenant"
)

// ClientIP extracts the caller's address, preferring X-Forwarded-For when
// present (e.g. behind a load balancer) and falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetUserID returns the authenticated user ID attached to the request
// context by the auth middleware, or "" if the request is unauthenticated.
func GetUserID(ctx context.Context) string {
	if tc, ok := tenant.FromContext(ctx); ok {
		return tc.UserID
	}
	return ""
}

// GetTenantKey returns a rate-limiter key combining tenant and user, falling
// back to "" when the request is unauthenticated.
func GetTenantKey(ctx context.Context) string {
	tc, ok := tenant.FromContext(ctx)
	if !ok {
		return ""
	}
	return tc.TenantID + ":" + tc.UserID
}

// errorBody is the wire shape for a structured error response.
type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// WriteErrorResponse renders a structured JSON error response.
func WriteErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Details = details

	_ = json.NewEncoder(w).Encode(body)
}
