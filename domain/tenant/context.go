// Package tenant defines the tenant context that is threaded through every
// authenticated request and enforced by the repository layer.
package tenant

import "context"

// Context carries the identity and scope of the caller making a request.
// It is attached to context.Context by the auth middleware and read by the
// repository layer to enforce tenant isolation.
type Context struct {
	TenantID      string
	UserID        string
	Role          string
	Permissions   []string
	PlatformAdmin bool
}

// HasPermission reports whether the caller holds the named permission.
func (c Context) HasPermission(permission string) bool {
	if c.PlatformAdmin {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

type ctxKey string

const contextKey ctxKey = "tenant_context"

// WithContext attaches a tenant Context to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey, tc)
}

// FromContext retrieves the tenant Context, if any was attached.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey).(Context)
	return tc, ok
}
