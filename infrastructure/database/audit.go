package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/logging"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// AuditLog appends an AuditEvent row for every tenant-scoped write. Writes
// are best-effort: a failure to record an audit event logs loudly but never
// fails the originating request, since the write it describes already
// committed.
type AuditLog struct {
	db     *sqlx.DB
	logger *logging.Logger
	m      *metrics.Metrics
}

// NewAuditLog constructs an AuditLog backed by the given database handle.
func NewAuditLog(db *sqlx.DB, logger *logging.Logger, m *metrics.Metrics) *AuditLog {
	return &AuditLog{db: db, logger: logger, m: m}
}

// Record persists one audit event. A nil AuditLog is a safe no-op so
// repositories can be constructed without one in tests.
func (a *AuditLog) Record(ctx context.Context, tc tenant.Context, action, resource string, after map[string]interface{}) {
	if a == nil || a.db == nil {
		return
	}

	afterJSON, err := json.Marshal(after)
	if err != nil {
		afterJSON = []byte("{}")
	}

	event := map[string]interface{}{
		"id":         uuid.New().String(),
		"tenant_id":  tc.TenantID,
		"user_id":    tc.UserID,
		"action":     action,
		"resource":   resource,
		"after":      afterJSON,
		"created_at": time.Now().UTC(),
	}

	const query = `
		INSERT INTO audit_events (id, tenant_id, user_id, action, resource, after, created_at)
		VALUES (:id, :tenant_id, :user_id, :action, :resource, :after, :created_at)
	`

	if _, err := a.db.NamedExecContext(ctx, query, event); err != nil {
		if a.logger != nil {
			a.logger.Error(ctx, "failed to record audit event", err, map[string]interface{}{
				"action":   action,
				"resource": resource,
			})
		}
		return
	}

	if a.m != nil {
		a.m.RecordAuditEvent(action)
	}
}

// AuditEventRow is one persisted audit_events row.
type AuditEventRow struct {
	ID         string          `db:"id"`
	UserID     sql.NullString  `db:"user_id"`
	Action     string          `db:"action"`
	Resource   string          `db:"resource"`
	After      json.RawMessage `db:"after"`
	CreatedAt  time.Time       `db:"created_at"`
}

// List returns the most recent audit events for a tenant, newest first.
func (a *AuditLog) List(ctx context.Context, tenantID string, limit int) ([]AuditEventRow, error) {
	var rows []AuditEventRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, action, resource, after, created_at
		 FROM audit_events WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	return rows, err
}

// RetentionSweep deletes audit events older than the tenant's configured
// retention window, falling back to defaultDays when the tenant has no
// override. Intended to run on a daily cron schedule.
func (a *AuditLog) RetentionSweep(ctx context.Context, defaultDays int) (int64, error) {
	const query = `
		DELETE FROM audit_events ae
		USING tenants t
		WHERE ae.tenant_id = t.id
		  AND ae.created_at < now() - (COALESCE(t.audit_retention_days, $1) || ' days')::interval
	`
	result, err := a.db.ExecContext(ctx, query, defaultDays)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return n, nil
}
