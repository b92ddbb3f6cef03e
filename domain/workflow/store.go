package workflow

import "context"

// Store is the durable persistence contract the execution engine depends
// on. It has no SQL in its signature so the engine can be tested against an
// in-memory fake; store_postgres.go is the only production implementation.
type Store interface {
	// CreateExecution persists a new Execution in pending status.
	CreateExecution(ctx context.Context, exec *Execution) error

	// SaveExecution persists the current in-memory state of an execution —
	// status, state, frontier, completed agents — as of the caller's view.
	// Called once per scheduling round, after that round's checkpoints are
	// appended, and again when the execution finishes, so a crash can
	// resume from the last write rather than the last terminal status.
	SaveExecution(ctx context.Context, exec *Execution) error

	// GetExecution loads a single execution, tenant-scoped.
	GetExecution(ctx context.Context, tenantID, executionID string) (*Execution, error)

	// ListExecutions lists executions for a workflow, tenant-scoped, most
	// recent first.
	ListExecutions(ctx context.Context, tenantID, workflowID string, limit int) ([]*Execution, error)

	// ListRunning returns every execution in a non-terminal status across
	// all tenants, used by the engine's recovery pass on startup.
	ListRunning(ctx context.Context) ([]*Execution, error)

	// AppendCheckpoint durably appends one checkpoint with a
	// monotonically-increasing sequence number. Implementations must make
	// the append atomic with the sequence number assignment.
	AppendCheckpoint(ctx context.Context, tenantID string, cp *Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint for an execution,
	// or nil if none has been written.
	LatestCheckpoint(ctx context.Context, tenantID, executionID string) (*Checkpoint, error)

	// ListCheckpoints returns every checkpoint for an execution in sequence
	// order, used for replay during recovery.
	ListCheckpoints(ctx context.Context, tenantID, executionID string) ([]*Checkpoint, error)
}

// DefinitionStore persists workflow definitions. It is separate from Store;
// PostgresDefinitionStore implements it with its own sqlx queries against
// the workflows table.
type DefinitionStore interface {
	Create(ctx context.Context, def *Definition) error
	Get(ctx context.Context, tenantID, id string) (*Definition, error)
	List(ctx context.Context, tenantID string) ([]*Definition, error)
	Update(ctx context.Context, def *Definition) error

	// Delete soft-deletes a workflow definition. It does not affect
	// executions already started against it — those keep running against
	// their already-compiled graph, Get/List simply stop surfacing it.
	Delete(ctx context.Context, tenantID, id string) error
}
