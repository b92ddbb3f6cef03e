// Package workflow implements the workflow orchestration engine: the graph
// compiler, the agent registry, the execution engine, and the execution
// store contract they share.
package workflow

import "time"

// DefinitionStatus is the lifecycle state of a Workflow Definition.
type DefinitionStatus string

const (
	DefinitionDraft    DefinitionStatus = "draft"
	DefinitionActive   DefinitionStatus = "active"
	DefinitionArchived DefinitionStatus = "archived"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Signal is a control instruction sent to a running execution.
type Signal string

const (
	SignalPause  Signal = "pause"
	SignalResume Signal = "resume"
	SignalCancel Signal = "cancel"
)

// ErrorKind categorizes an agent execution failure, governing the engine's
// retry/fail/continue decision.
type ErrorKind string

const (
	ErrorRetryable     ErrorKind = "retryable"
	ErrorFatal         ErrorKind = "fatal"
	ErrorHumanRequired ErrorKind = "human-required"
	ErrorRetryExhausted ErrorKind = "retry-exhausted"
)

// AgentSpec declares one node of a workflow definition.
type AgentSpec struct {
	ID     string                 `json:"id"`
	Kind   string                 `json:"kind"`
	Config map[string]interface{} `json:"config"`

	// Timeout overrides the agent kind's default per-invocation timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Parallel, if true, allows this node to fan out alongside sibling
	// edges from the same upstream node whose conditions also match.
	Parallel bool `json:"parallel,omitempty"`

	// OnError, when "continue", treats a retry-exhausted agent as complete
	// with an error marker in state instead of failing the execution.
	OnError string `json:"onError,omitempty"`

	// InputFields/OutputFields declare the state fields this agent reads
	// and writes, used by the compiler's schema-closure and
	// merge-conflict checks.
	InputFields  []string `json:"inputFields,omitempty"`
	OutputFields []string `json:"outputFields,omitempty"`
}

// Edge is a directed connection between two agents, optionally guarded by
// a condition expression evaluated against the execution state.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Definition is the declarative template for a workflow graph.
type Definition struct {
	ID          string                 `json:"id"`
	TenantID    string           `json:"tenantId"`
	Name        string           `json:"name"`
	Version     int              `json:"version"`
	Status      DefinitionStatus `json:"status"`
	Agents      []AgentSpec      `json:"agents"`
	Connections []Edge           `json:"connections"`
	EntryPoints []string         `json:"entryPoints"`
	StateSchema map[string]string `json:"stateSchema"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// AgentByID returns the AgentSpec with the given id, or false if absent.
func (d *Definition) AgentByID(id string) (AgentSpec, bool) {
	for _, a := range d.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentSpec{}, false
}

// OutboundEdges returns every edge leaving the given node, in declaration order.
func (d *Definition) OutboundEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Connections {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// InboundEdges returns every edge arriving at the given node.
func (d *Definition) InboundEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range d.Connections {
		if e.To == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// Checkpoint is an append-only snapshot within an execution.
type Checkpoint struct {
	ExecutionID    string                 `json:"executionId"`
	SequenceNumber int64                  `json:"sequenceNumber"`
	Timestamp      time.Time              `json:"timestamp"`
	StateSnapshot  map[string]interface{} `json:"stateSnapshot"`
	CompletedAgent string                 `json:"completedAgent,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionError records why an execution (or one of its agents) failed.
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	AgentID string    `json:"agentId,omitempty"`
	Message string    `json:"message"`
}

// Execution is one run of a Workflow Definition.
type Execution struct {
	ExecutionID     string                 `json:"executionId"`
	WorkflowID      string                 `json:"workflowId"`
	WorkflowVersion int                    `json:"workflowVersion"`
	TenantID        string                 `json:"tenantId"`
	InitiatedBy     string                 `json:"initiatedBy"`
	Status          ExecutionStatus        `json:"status"`
	State           map[string]interface{} `json:"state"`
	CurrentFrontier []string               `json:"currentFrontier"`
	CompletedAgents []string               `json:"completedAgents"`
	StartedAt       time.Time              `json:"startedAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	EndedAt         *time.Time             `json:"endedAt,omitempty"`
	DurationMs      *int64                 `json:"durationMs,omitempty"`
	Error           *ExecutionError        `json:"error,omitempty"`
}

// StateFragment is the incremental output of one agent invocation.
type StateFragment map[string]interface{}
