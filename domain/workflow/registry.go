package workflow

import (
	"context"
	"sync"
)

// Kind is a registered agent implementation: a named, reusable unit of work
// that a workflow definition's AgentSpec nodes reference by Kind.
type Kind interface {
	// Name returns the kind's unique registry key, e.g. "http-call".
	Name() string

	// ValidateConfig checks a node's declared config at compile time, before
	// any execution ever runs. Returning an error fails compilation.
	ValidateConfig(config map[string]interface{}) error

	// Execute runs one invocation of the agent against the execution's
	// current state, returning the fields it produced. Execute must be
	// idempotent for a given (executionID, agentID, attempt) triple — the
	// engine may call it more than once across a retry or a recovery replay.
	Execute(ctx context.Context, invocation Invocation) (StateFragment, error)
}

// Invocation carries everything an agent kind needs for one Execute call.
type Invocation struct {
	ExecutionID    string
	AgentID        string
	TenantID       string
	Attempt        int
	IdempotencyKey string
	Config         map[string]interface{}
	State          map[string]interface{}
}

// Registry is the process-wide catalog of agent kinds. A single Registry is
// shared by the compiler (to validate AgentSpec.Kind references) and the
// execution engine (to resolve a kind's Execute at scheduling time).
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds or replaces a kind under its own Name(). Registration is
// idempotent: registering the same kind twice, or replacing one kind's
// implementation with another under the same name, never errors — the
// last call wins, which lets tests and startup wiring register builtins
// unconditionally without tracking what has already run.
func (r *Registry) Register(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind.Name()] = kind
}

// Lookup returns the kind registered under name, if any.
func (r *Registry) Lookup(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// List returns the names of every registered kind.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered kinds, for the health checker.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}
