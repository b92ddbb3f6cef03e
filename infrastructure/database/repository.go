package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// Repository is a generic, tenant-scoped CRUD surface over a single table.
// Every operation except platform-admin reads auto-injects a
// tenant_id = :tenant_id predicate, and every write appends an audit event.
// T must be addressable by sqlx.StructScan (exported, `db`-tagged fields).
type Repository[T any] struct {
	db        *sqlx.DB
	table     string
	resource  string
	m         *metrics.Metrics
	audit     *AuditLog
	noTenant  bool // true for tables not scoped by tenant (e.g. tenants itself)
}

// NewRepository constructs a Repository[T] over the given table name.
func NewRepository[T any](db *sqlx.DB, table, resource string, m *metrics.Metrics, audit *AuditLog) *Repository[T] {
	return &Repository[T]{db: db, table: table, resource: resource, m: m, audit: audit}
}

// WithoutTenantScoping returns a copy of the repository that does not add a
// tenant_id predicate, for tables such as `tenants` that are not themselves
// tenant-owned.
func (r *Repository[T]) WithoutTenantScoping() *Repository[T] {
	clone := *r
	clone.noTenant = true
	return &clone
}

func (r *Repository[T]) record(operation string, start time.Time, err error) {
	if r.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.m.RecordDatabaseQuery(operation, outcome, time.Since(start))
}

// Create inserts a new row, stamping tenant_id from tc unless noTenant, and
// records an audit event for the write.
func (r *Repository[T]) Create(ctx context.Context, tc tenant.Context, fields map[string]interface{}) (T, error) {
	start := time.Now()
	var zero T

	if !r.noTenant {
		fields["tenant_id"] = tc.TenantID
	}
	if _, ok := fields["created_at"]; !ok {
		fields["created_at"] = time.Now().UTC()
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = fields["created_at"]
	}

	columns := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
		placeholders = append(placeholders, ":"+col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		r.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		r.record("create", start, err)
		return zero, errors.DatabaseError("create:"+r.table, err)
	}
	defer stmt.Close()

	var result T
	if err := stmt.GetContext(ctx, &result, fields); err != nil {
		r.record("create", start, err)
		return zero, errors.DatabaseError("create:"+r.table, err)
	}

	r.record("create", start, nil)
	r.audit.Record(ctx, tc, "create", r.resource, fields)
	return result, nil
}

// Update applies a partial field update to the row identified by id,
// scoped to the caller's tenant unless they are a platform admin.
func (r *Repository[T]) Update(ctx context.Context, tc tenant.Context, id string, fields map[string]interface{}) (T, error) {
	start := time.Now()
	var zero T

	fields["id"] = id
	fields["updated_at"] = time.Now().UTC()

	setClauses := make([]string, 0, len(fields))
	for col := range fields {
		if col == "id" {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = :%s", col, col))
	}

	where := "id = :id AND deleted_at IS NULL"
	if !r.noTenant && !tc.PlatformAdmin {
		fields["tenant_id"] = tc.TenantID
		where += " AND tenant_id = :tenant_id"
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s RETURNING *",
		r.table, strings.Join(setClauses, ", "), where,
	)

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		r.record("update", start, err)
		return zero, errors.DatabaseError("update:"+r.table, err)
	}
	defer stmt.Close()

	var result T
	if err := stmt.GetContext(ctx, &result, fields); err != nil {
		r.record("update", start, err)
		if err.Error() == "sql: no rows in result set" {
			return zero, errors.NotFound(r.resource, id)
		}
		return zero, errors.DatabaseError("update:"+r.table, err)
	}

	r.record("update", start, nil)
	r.audit.Record(ctx, tc, "update", r.resource, fields)
	return result, nil
}

// Delete soft-deletes the row identified by id by stamping deleted_at.
func (r *Repository[T]) Delete(ctx context.Context, tc tenant.Context, id string) error {
	start := time.Now()

	args := map[string]interface{}{
		"id":         id,
		"deleted_at": time.Now().UTC(),
	}
	where := "id = :id AND deleted_at IS NULL"
	if !r.noTenant && !tc.PlatformAdmin {
		args["tenant_id"] = tc.TenantID
		where += " AND tenant_id = :tenant_id"
	}

	query := fmt.Sprintf("UPDATE %s SET deleted_at = :deleted_at WHERE %s", r.table, where)

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		r.record("delete", start, err)
		return errors.DatabaseError("delete:"+r.table, err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		r.record("delete", start, nil)
		return errors.NotFound(r.resource, id)
	}

	r.record("delete", start, nil)
	r.audit.Record(ctx, tc, "delete", r.resource, map[string]interface{}{"id": id})
	return nil
}

// GetByID fetches a single row by id, scoped to the caller's tenant unless
// they are a platform admin. A row belonging to another tenant renders as
// not-found rather than forbidden, so existence is never leaked cross-tenant.
func (r *Repository[T]) GetByID(ctx context.Context, tc tenant.Context, id string) (T, error) {
	start := time.Now()
	var zero T

	where := "id = $1 AND deleted_at IS NULL"
	args := []interface{}{id}
	if !r.noTenant && !tc.PlatformAdmin {
		where += " AND tenant_id = $2"
		args = append(args, tc.TenantID)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", r.table, where)

	var result T
	err := r.db.GetContext(ctx, &result, r.db.Rebind(query), args...)
	if err != nil {
		r.record("get_by_id", start, err)
		if err.Error() == "sql: no rows in result set" {
			return zero, errors.NotFound(r.resource, id)
		}
		return zero, errors.DatabaseError("get_by_id:"+r.table, err)
	}

	r.record("get_by_id", start, nil)
	return result, nil
}

// Find lists rows matching an exact-match filter, scoped to the caller's
// tenant unless they are a platform admin.
func (r *Repository[T]) Find(ctx context.Context, tc tenant.Context, filter map[string]interface{}, orderBy string, limit int) ([]T, error) {
	start := time.Now()

	clauses := []string{"deleted_at IS NULL"}
	args := map[string]interface{}{}
	if !r.noTenant && !tc.PlatformAdmin {
		clauses = append(clauses, "tenant_id = :tenant_id")
		args["tenant_id"] = tc.TenantID
	}
	for col, val := range filter {
		clauses = append(clauses, fmt.Sprintf("%s = :%s", col, col))
		args[col] = val
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", r.table, strings.Join(clauses, " AND "))
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		r.record("find", start, err)
		return nil, errors.DatabaseError("find:"+r.table, err)
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		var item T
		if err := rows.StructScan(&item); err != nil {
			r.record("find", start, err)
			return nil, errors.DatabaseError("find:"+r.table, err)
		}
		results = append(results, item)
	}

	r.record("find", start, nil)
	return results, nil
}
