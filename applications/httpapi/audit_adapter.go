package httpapi

import (
	"context"
	"encoding/json"

	"github.com/inspectflow/orchestrator/infrastructure/database"
)

// DatabaseAuditReader adapts database.AuditLog's raw rows to this package's
// AuditReader contract, keeping the wire shape (AuditEntry) out of the
// infrastructure/database package.
type DatabaseAuditReader struct {
	Log *database.AuditLog
}

func (r DatabaseAuditReader) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]AuditEntry, error) {
	rows, err := r.Log.List(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, 0, len(rows))
	for _, row := range rows {
		var after map[string]interface{}
		_ = json.Unmarshal(row.After, &after)
		entries = append(entries, AuditEntry{
			ID:         row.ID,
			UserID:     row.UserID.String,
			Action:     row.Action,
			Resource:   row.Resource,
			After:      after,
			OccurredAt: row.CreatedAt.Format(timeRFC3339),
		})
	}
	return entries, nil
}
