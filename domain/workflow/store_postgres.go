package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/database"
	svcerrors "github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// PostgresStore is the production Store implementation, backed directly by
// sqlx rather than the generic Repository[T] — executions and checkpoints
// have jsonb columns that need explicit marshal/unmarshal, and checkpoint
// appends need a sequence number assigned atomically with the insert.
type PostgresStore struct {
	db    *sqlx.DB
	m     *metrics.Metrics
	audit *database.AuditLog
}

// NewPostgresStore constructs a PostgresStore. audit may be nil, in which
// case writes simply go unaudited (convenient for tests).
func NewPostgresStore(db *sqlx.DB, m *metrics.Metrics, audit *database.AuditLog) *PostgresStore {
	return &PostgresStore{db: db, m: m, audit: audit}
}

func (s *PostgresStore) record(operation string, start time.Time, err error) {
	if s.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.m.RecordDatabaseQuery(operation, outcome, time.Since(start))
}

// executionRow is the wire shape of the executions table.
type executionRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	WorkflowID      string         `db:"workflow_id"`
	WorkflowVersion int            `db:"workflow_version"`
	InitiatedBy     sql.NullString `db:"initiated_by"`
	Status          string         `db:"status"`
	State           []byte         `db:"state"`
	Frontier        []byte         `db:"frontier"`
	CompletedAgents []byte         `db:"completed_agents"`
	Error           []byte         `db:"error"`
	DurationMs      sql.NullInt64  `db:"duration_ms"`
	StartedAt       time.Time      `db:"started_at"`
	FinishedAt      sql.NullTime   `db:"finished_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func toExecutionRow(e *Execution) (*executionRow, error) {
	state, err := json.Marshal(e.State)
	if err != nil {
		return nil, err
	}
	frontier, err := json.Marshal(e.CurrentFrontier)
	if err != nil {
		return nil, err
	}
	completed, err := json.Marshal(e.CompletedAgents)
	if err != nil {
		return nil, err
	}
	var errJSON []byte
	if e.Error != nil {
		errJSON, err = json.Marshal(e.Error)
		if err != nil {
			return nil, err
		}
	}

	row := &executionRow{
		ID:              e.ExecutionID,
		TenantID:        e.TenantID,
		WorkflowID:      e.WorkflowID,
		WorkflowVersion: e.WorkflowVersion,
		Status:          string(e.Status),
		State:           state,
		Frontier:        frontier,
		CompletedAgents: completed,
		Error:           errJSON,
		StartedAt:       e.StartedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	if e.InitiatedBy != "" {
		row.InitiatedBy = sql.NullString{String: e.InitiatedBy, Valid: true}
	}
	if e.EndedAt != nil {
		row.FinishedAt = sql.NullTime{Time: *e.EndedAt, Valid: true}
	}
	if e.DurationMs != nil {
		row.DurationMs = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
	}
	return row, nil
}

func (row *executionRow) toExecution() (*Execution, error) {
	e := &Execution{
		ExecutionID:     row.ID,
		TenantID:        row.TenantID,
		WorkflowID:      row.WorkflowID,
		WorkflowVersion: row.WorkflowVersion,
		Status:          ExecutionStatus(row.Status),
		StartedAt:       row.StartedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.InitiatedBy.Valid {
		e.InitiatedBy = row.InitiatedBy.String
	}
	if err := json.Unmarshal(row.State, &e.State); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.Frontier, &e.CurrentFrontier); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.CompletedAgents, &e.CompletedAgents); err != nil {
		return nil, err
	}
	if len(row.Error) > 0 {
		var execErr ExecutionError
		if err := json.Unmarshal(row.Error, &execErr); err != nil {
			return nil, err
		}
		e.Error = &execErr
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time
		e.EndedAt = &t
	}
	if row.DurationMs.Valid {
		d := row.DurationMs.Int64
		e.DurationMs = &d
	}
	return e, nil
}

// CreateExecution inserts a new execution row.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *Execution) error {
	start := time.Now()
	row, err := toExecutionRow(exec)
	if err != nil {
		return svcerrors.Internal("marshal execution", err)
	}

	const query = `
		INSERT INTO executions (id, tenant_id, workflow_id, workflow_version, initiated_by,
			status, state, frontier, completed_agents, started_at, updated_at)
		VALUES (:id, :tenant_id, :workflow_id, :workflow_version, :initiated_by,
			:status, :state, :frontier, :completed_agents, :started_at, :updated_at)`

	_, err = s.db.NamedExecContext(ctx, query, row)
	s.record("create_execution", start, err)
	if err != nil {
		return svcerrors.DatabaseError("create_execution", err)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: exec.TenantID, UserID: exec.InitiatedBy},
		"execution.create", "execution:"+exec.ExecutionID, map[string]interface{}{"workflowId": exec.WorkflowID, "status": exec.Status})
	return nil
}

// SaveExecution updates an existing execution row with the caller's current view.
func (s *PostgresStore) SaveExecution(ctx context.Context, exec *Execution) error {
	start := time.Now()
	row, err := toExecutionRow(exec)
	if err != nil {
		return svcerrors.Internal("marshal execution", err)
	}

	const query = `
		UPDATE executions SET
			status = :status, state = :state, frontier = :frontier,
			completed_agents = :completed_agents, error = :error,
			duration_ms = :duration_ms, finished_at = :finished_at, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	_, err = s.db.NamedExecContext(ctx, query, row)
	s.record("save_execution", start, err)
	if err != nil {
		return svcerrors.DatabaseError("save_execution", err)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: exec.TenantID, UserID: exec.InitiatedBy},
		"execution.save", "execution:"+exec.ExecutionID, map[string]interface{}{"status": exec.Status})
	return nil
}

// GetExecution loads a single execution, tenant-scoped.
func (s *PostgresStore) GetExecution(ctx context.Context, tenantID, executionID string) (*Execution, error) {
	start := time.Now()
	var row executionRow
	const query = `SELECT * FROM executions WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), executionID, tenantID)
	s.record("get_execution", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, svcerrors.NotFound("execution", executionID)
		}
		return nil, svcerrors.DatabaseError("get_execution", err)
	}
	return row.toExecution()
}

// ListExecutions lists executions for a workflow, tenant-scoped, most recent first.
func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID, workflowID string, limit int) ([]*Execution, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 50
	}
	var rows []executionRow
	const query = `SELECT * FROM executions WHERE tenant_id = $1 AND workflow_id = $2 AND deleted_at IS NULL
		ORDER BY started_at DESC LIMIT $3`
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), tenantID, workflowID, limit)
	s.record("list_executions", start, err)
	if err != nil {
		return nil, svcerrors.DatabaseError("list_executions", err)
	}

	out := make([]*Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toExecution()
		if err != nil {
			return nil, svcerrors.Internal("unmarshal execution", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ListRunning returns every non-terminal execution across all tenants.
func (s *PostgresStore) ListRunning(ctx context.Context) ([]*Execution, error) {
	start := time.Now()
	var rows []executionRow
	const query = `SELECT * FROM executions WHERE status IN ('pending','running','paused') AND deleted_at IS NULL`
	err := s.db.SelectContext(ctx, &rows, query)
	s.record("list_running", start, err)
	if err != nil {
		return nil, svcerrors.DatabaseError("list_running", err)
	}

	out := make([]*Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toExecution()
		if err != nil {
			return nil, svcerrors.Internal("unmarshal execution", err)
		}
		out = append(out, e)
	}
	return out, nil
}

type checkpointRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	ExecutionID    string         `db:"execution_id"`
	SequenceNumber int64          `db:"sequence_number"`
	StateSnapshot  []byte         `db:"state_snapshot"`
	CompletedAgent sql.NullString `db:"completed_agent"`
	Message        sql.NullString `db:"message"`
	Metadata       []byte         `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (row *checkpointRow) toCheckpoint() (*Checkpoint, error) {
	cp := &Checkpoint{
		ExecutionID:    row.ExecutionID,
		SequenceNumber: row.SequenceNumber,
		Timestamp:      row.CreatedAt,
	}
	if err := json.Unmarshal(row.StateSnapshot, &cp.StateSnapshot); err != nil {
		return nil, err
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &cp.Metadata); err != nil {
			return nil, err
		}
	}
	if row.CompletedAgent.Valid {
		cp.CompletedAgent = row.CompletedAgent.String
	}
	if row.Message.Valid {
		cp.Message = row.Message.String
	}
	return cp, nil
}

// AppendCheckpoint durably appends a checkpoint row. Postgres enforces the
// (execution_id, sequence_number) uniqueness the caller already computed,
// so a racing double-append (e.g. after a signal-induced re-entry) surfaces
// as a conflict rather than silently overwriting history.
func (s *PostgresStore) AppendCheckpoint(ctx context.Context, tenantID string, cp *Checkpoint) error {
	start := time.Now()

	snapshot, err := json.Marshal(cp.StateSnapshot)
	if err != nil {
		return svcerrors.Internal("marshal checkpoint state", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return svcerrors.Internal("marshal checkpoint metadata", err)
	}

	args := map[string]interface{}{
		"id":              uuid.NewString(),
		"tenant_id":       tenantID,
		"execution_id":    cp.ExecutionID,
		"sequence_number": cp.SequenceNumber,
		"state_snapshot":  snapshot,
		"completed_agent": nullableString(cp.CompletedAgent),
		"message":         nullableString(cp.Message),
		"metadata":        metadata,
	}

	const query = `
		INSERT INTO checkpoints (id, tenant_id, execution_id, sequence_number, state_snapshot,
			completed_agent, message, metadata)
		VALUES (:id, :tenant_id, :execution_id, :sequence_number, :state_snapshot,
			:completed_agent, :message, :metadata)`

	_, err = s.db.NamedExecContext(ctx, query, args)
	s.record("append_checkpoint", start, err)
	if err != nil {
		return svcerrors.DatabaseError("append_checkpoint", err)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: tenantID},
		"checkpoint.append", "execution:"+cp.ExecutionID, map[string]interface{}{"sequenceNumber": cp.SequenceNumber})
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for an execution.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context, tenantID, executionID string) (*Checkpoint, error) {
	start := time.Now()
	var row checkpointRow
	const query = `SELECT * FROM checkpoints WHERE tenant_id = $1 AND execution_id = $2
		ORDER BY sequence_number DESC LIMIT 1`
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), tenantID, executionID)
	s.record("latest_checkpoint", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, svcerrors.DatabaseError("latest_checkpoint", err)
	}
	return row.toCheckpoint()
}

// ListCheckpoints returns every checkpoint for an execution, sequence order.
func (s *PostgresStore) ListCheckpoints(ctx context.Context, tenantID, executionID string) ([]*Checkpoint, error) {
	start := time.Now()
	var rows []checkpointRow
	const query = `SELECT * FROM checkpoints WHERE tenant_id = $1 AND execution_id = $2
		ORDER BY sequence_number ASC`
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), tenantID, executionID)
	s.record("list_checkpoints", start, err)
	if err != nil {
		return nil, svcerrors.DatabaseError("list_checkpoints", err)
	}

	out := make([]*Checkpoint, 0, len(rows))
	for i := range rows {
		cp, err := rows[i].toCheckpoint()
		if err != nil {
			return nil, svcerrors.Internal("unmarshal checkpoint", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// PostgresDefinitionStore persists workflow definitions. Like PostgresStore,
// it talks to sqlx directly instead of the generic Repository[T]: the
// Definition type's Agents/Connections/StateSchema fields are structured Go
// values, not raw JSON, so they need explicit marshal/unmarshal around a
// jsonb column rather than a 1:1 struct-to-row mapping.
type PostgresDefinitionStore struct {
	db    *sqlx.DB
	m     *metrics.Metrics
	audit *database.AuditLog
}

// NewPostgresDefinitionStore constructs a PostgresDefinitionStore. audit may
// be nil, in which case writes simply go unaudited (convenient for tests).
func NewPostgresDefinitionStore(db *sqlx.DB, m *metrics.Metrics, audit *database.AuditLog) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{db: db, m: m, audit: audit}
}

func (s *PostgresDefinitionStore) record(operation string, start time.Time, err error) {
	if s.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.m.RecordDatabaseQuery(operation, outcome, time.Since(start))
}

type definitionRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	Name        string    `db:"name"`
	Version     int       `db:"version"`
	Definition  []byte    `db:"definition"`
	StateSchema []byte    `db:"state_schema"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// definitionPayload is the shape persisted inside the definition jsonb
// column: everything about a Definition except what has its own row column.
type definitionPayload struct {
	Status      DefinitionStatus `json:"status"`
	Agents      []AgentSpec      `json:"agents"`
	Connections []Edge           `json:"connections"`
	EntryPoints []string         `json:"entryPoints"`
}

func toDefinitionRow(def *Definition) (*definitionRow, error) {
	payload, err := json.Marshal(definitionPayload{
		Status:      def.Status,
		Agents:      def.Agents,
		Connections: def.Connections,
		EntryPoints: def.EntryPoints,
	})
	if err != nil {
		return nil, err
	}
	schema, err := json.Marshal(def.StateSchema)
	if err != nil {
		return nil, err
	}
	return &definitionRow{
		ID:          def.ID,
		TenantID:    def.TenantID,
		Name:        def.Name,
		Version:     def.Version,
		Definition:  payload,
		StateSchema: schema,
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}, nil
}

func (row *definitionRow) toDefinition() (*Definition, error) {
	var payload definitionPayload
	if err := json.Unmarshal(row.Definition, &payload); err != nil {
		return nil, err
	}
	def := &Definition{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		Version:     row.Version,
		Status:      payload.Status,
		Agents:      payload.Agents,
		Connections: payload.Connections,
		EntryPoints: payload.EntryPoints,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := json.Unmarshal(row.StateSchema, &def.StateSchema); err != nil {
		return nil, err
	}
	return def, nil
}

// Create inserts a new workflow definition.
func (s *PostgresDefinitionStore) Create(ctx context.Context, def *Definition) error {
	start := time.Now()
	row, err := toDefinitionRow(def)
	if err != nil {
		return svcerrors.Internal("marshal definition", err)
	}

	const query = `
		INSERT INTO workflows (id, tenant_id, name, version, definition, state_schema, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :version, :definition, :state_schema, :created_at, :updated_at)`

	_, err = s.db.NamedExecContext(ctx, query, row)
	s.record("create_definition", start, err)
	if err != nil {
		return svcerrors.DatabaseError("create_definition", err)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: def.TenantID},
		"workflow.create", "workflow:"+def.ID, map[string]interface{}{"name": def.Name, "version": def.Version})
	return nil
}

// Get loads a single workflow definition, tenant-scoped.
func (s *PostgresDefinitionStore) Get(ctx context.Context, tenantID, id string) (*Definition, error) {
	start := time.Now()
	var row definitionRow
	const query = `SELECT * FROM workflows WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), id, tenantID)
	s.record("get_definition", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, svcerrors.NotFound("workflow", id)
		}
		return nil, svcerrors.DatabaseError("get_definition", err)
	}
	return row.toDefinition()
}

// List returns every workflow definition for a tenant.
func (s *PostgresDefinitionStore) List(ctx context.Context, tenantID string) ([]*Definition, error) {
	start := time.Now()
	var rows []definitionRow
	const query = `SELECT * FROM workflows WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY updated_at DESC`
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), tenantID)
	s.record("list_definitions", start, err)
	if err != nil {
		return nil, svcerrors.DatabaseError("list_definitions", err)
	}

	out := make([]*Definition, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDefinition()
		if err != nil {
			return nil, svcerrors.Internal("unmarshal definition", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Update persists changes to an existing workflow definition.
func (s *PostgresDefinitionStore) Update(ctx context.Context, def *Definition) error {
	start := time.Now()
	row, err := toDefinitionRow(def)
	if err != nil {
		return svcerrors.Internal("marshal definition", err)
	}

	const query = `
		UPDATE workflows SET name = :name, version = :version, definition = :definition, state_schema = :state_schema, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	result, execErr := s.db.NamedExecContext(ctx, query, row)
	s.record("update_definition", start, execErr)
	if execErr != nil {
		return svcerrors.DatabaseError("update_definition", execErr)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return svcerrors.NotFound("workflow", def.ID)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: def.TenantID},
		"workflow.update", "workflow:"+def.ID, map[string]interface{}{"version": def.Version, "status": def.Status})
	return nil
}

// Delete soft-deletes a workflow definition by stamping deleted_at. Already
// running executions reference their own compiled graph independently and
// are unaffected; this only stops Get/List from surfacing the definition
// for new executions.
func (s *PostgresDefinitionStore) Delete(ctx context.Context, tenantID, id string) error {
	start := time.Now()
	const query = `UPDATE workflows SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), id, tenantID)
	s.record("delete_definition", start, err)
	if err != nil {
		return svcerrors.DatabaseError("delete_definition", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return svcerrors.NotFound("workflow", id)
	}
	s.audit.Record(ctx, tenant.Context{TenantID: tenantID}, "workflow.delete", "workflow:"+id, nil)
	return nil
}
