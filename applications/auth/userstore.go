package auth

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/inspectflow/orchestrator/infrastructure/errors"
)

// UserStore implements UserLookup against the users table. Password
// comparison uses bcrypt, matching the rest of the engine's reach for
// golang.org/x/crypto for anything key- or credential-derived.
type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

type userRow struct {
	ID            string          `db:"id"`
	TenantID      string          `db:"tenant_id"`
	Username      string          `db:"username"`
	PasswordHash  string          `db:"password_hash"`
	Role          string          `db:"role"`
	Permissions   json.RawMessage `db:"permissions"`
	PlatformAdmin bool            `db:"platform_admin"`
}

// FindByUsername looks a user up by username. When tenantID is empty (a
// platform admin authenticating without a tenant selected yet), the first
// matching username across tenants is returned.
func (s *UserStore) FindByUsername(ctx context.Context, tenantID, username string) (User, error) {
	var row userRow
	var err error
	if tenantID != "" {
		err = s.db.GetContext(ctx, &row,
			`SELECT id, tenant_id, username, password_hash, role, permissions, platform_admin
			 FROM users WHERE tenant_id = $1 AND username = $2 AND deleted_at IS NULL`,
			tenantID, username)
	} else {
		err = s.db.GetContext(ctx, &row,
			`SELECT id, tenant_id, username, password_hash, role, permissions, platform_admin
			 FROM users WHERE username = $1 AND deleted_at IS NULL LIMIT 1`,
			username)
	}
	if err != nil {
		return User{}, svcerrors.NotFound("user", username)
	}

	var perms []string
	_ = json.Unmarshal(row.Permissions, &perms)

	return User{
		UserID:        row.ID,
		TenantID:      row.TenantID,
		Username:      row.Username,
		PasswordHash:  row.PasswordHash,
		Role:          row.Role,
		Permissions:   perms,
		PlatformAdmin: row.PlatformAdmin,
	}, nil
}

// VerifyPassword reports whether password matches the bcrypt hash.
func (s *UserStore) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
