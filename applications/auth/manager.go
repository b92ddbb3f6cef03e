// Package auth issues and validates the JWTs that carry a request's tenant
// context, and provides the middleware that attaches that context to
// incoming requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inspectflow/orchestrator/domain/tenant"
)

// Claims extends the registered JWT claims with the tenant context fields
// spec's tenant context model requires.
type Claims struct {
	UserID        string   `json:"sub"`
	TenantID      string   `json:"tenantId"`
	Role          string   `json:"role"`
	Permissions   []string `json:"permissions,omitempty"`
	PlatformAdmin bool     `json:"platformAdmin,omitempty"`
	jwt.RegisteredClaims
}

// ErrInvalidCredentials is returned by Authenticate on a username/password mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is a single authenticatable identity, scoped to one tenant.
type User struct {
	UserID        string
	TenantID      string
	Username      string
	PasswordHash  string
	Role          string
	Permissions   []string
	PlatformAdmin bool
}

// UserLookup resolves a username (optionally scoped to a tenant, for
// platform admins switching between tenants) to a User and verifies a
// password hash match. Implemented by UserStore (userstore.go) against the
// users table.
type UserLookup interface {
	FindByUsername(ctx context.Context, tenantID, username string) (User, error)
	VerifyPassword(hash, password string) bool
}

// Manager issues and validates HMAC-signed JWTs carrying tenant context.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager constructs a Manager. secret must be non-empty to issue tokens.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(strings.TrimSpace(secret)), ttl: ttl}
}

// Issue signs a JWT carrying the tenant context derived from u.
func (m *Manager) Issue(u User) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("auth signing secret not configured")
	}
	exp := time.Now().Add(m.ttl)
	claims := Claims{
		UserID:        u.UserID,
		TenantID:      u.TenantID,
		Role:          u.Role,
		Permissions:   u.Permissions,
		PlatformAdmin: u.PlatformAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   u.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	return signed, exp, err
}

// Validate parses and verifies a JWT, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("auth signing secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errTokenExpired
		}
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

var errTokenExpired = errors.New("token expired")

// ValidateWithGrace parses and verifies a JWT like Validate, but tolerates
// an exp claim up to grace in the past — used by the refresh endpoint so a
// client whose token expired just before it reconnected can still exchange
// it for a new one instead of being forced through a fresh login.
func (m *Manager) ValidateWithGrace(tokenString string, grace time.Duration) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("auth signing secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithLeeway(grace))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errTokenExpired
		}
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate resolves username/password credentials against lookup,
// scoped to tenantID when the caller already knows which tenant they're
// signing into ("" lets a platform admin sign in before picking one).
func Authenticate(ctx context.Context, lookup UserLookup, tenantID, username, password string) (User, error) {
	u, err := lookup.FindByUsername(ctx, tenantID, username)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !lookup.VerifyPassword(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// ToTenantContext projects validated claims into the low-level tenant
// context carried through request processing.
func (c *Claims) ToTenantContext(requestID, ipAddress, userAgent string) tenant.Context {
	return tenant.Context{
		TenantID:      c.TenantID,
		UserID:        c.UserID,
		Role:          c.Role,
		Permissions:   c.Permissions,
		PlatformAdmin: c.PlatformAdmin,
	}
}
