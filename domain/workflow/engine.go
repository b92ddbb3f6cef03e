package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaesslerAG/gval"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/inspectflow/orchestrator/domain/tenant"
	"github.com/inspectflow/orchestrator/infrastructure/errors"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
)

// EngineConfig controls default timeouts and retry policy for every
// execution the engine runs, overridable per agent via AgentSpec.Timeout.
type EngineConfig struct {
	DefaultAgentTimeout time.Duration
	CancelGracePeriod   time.Duration
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
	RetryMultiplier     float64
	RetryMaxAttempts    int
}

// DefaultEngineConfig matches spec: 60s agent timeout, 30s cancel grace,
// 1s/factor-2/30s-cap/5-attempts retry.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultAgentTimeout: 60 * time.Second,
		CancelGracePeriod:   30 * time.Second,
		RetryInitialDelay:   time.Second,
		RetryMaxDelay:       30 * time.Second,
		RetryMultiplier:     2.0,
		RetryMaxAttempts:    5,
	}
}

// run is the engine's in-memory tracking of one active execution, holding
// the control-signal channel and the per-execution lock that serializes
// scheduling decisions against concurrent signals.
type run struct {
	mu      sync.Mutex
	graph   *CompiledGraph
	exec    *Execution
	signals chan Signal
	paused  bool
	done    chan struct{}
}

// Engine schedules and runs compiled workflow graphs: it tracks the
// runnable frontier, invokes agents through the registry, merges their
// output fragments into execution state with last-writer-wins semantics,
// checkpoints durably after every agent completes, and honors pause/
// resume/cancel signals between agent invocations.
type Engine struct {
	registry       *Registry
	store          Store
	metrics        *metrics.Metrics
	logger         *zap.Logger
	cfg            EngineConfig
	idempotencySecret []byte

	mu   sync.Mutex
	runs map[string]*run
}

// NewEngine constructs an Engine. logger may be nil, in which case a no-op
// logger is used — convenient for tests. idempotencySecret seeds the
// per-invocation idempotency keys handed to agent kinds; it is typically
// the same signing secret the auth manager uses.
func NewEngine(registry *Registry, store Store, m *metrics.Metrics, logger *zap.Logger, cfg EngineConfig, idempotencySecret []byte) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:          registry,
		store:             store,
		metrics:           m,
		logger:            logger,
		cfg:               cfg,
		idempotencySecret: idempotencySecret,
		runs:              make(map[string]*run),
	}
}

// Start begins a new execution of graph and returns its Execution record
// immediately with status "pending"; the graph runs asynchronously.
func (e *Engine) Start(ctx context.Context, graph *CompiledGraph, tc tenant.Context, initialState map[string]interface{}) (*Execution, error) {
	now := time.Now().UTC()
	if initialState == nil {
		initialState = make(map[string]interface{})
	}

	exec := &Execution{
		ExecutionID:     uuid.NewString(),
		WorkflowID:      graph.Definition.ID,
		WorkflowVersion: graph.Definition.Version,
		TenantID:        tc.TenantID,
		InitiatedBy:     tc.UserID,
		Status:          ExecutionPending,
		State:           initialState,
		CurrentFrontier: append([]string{}, graph.EntryPoints...),
		CompletedAgents: nil,
		StartedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, errors.DatabaseError("create_execution", err)
	}

	initial := &Checkpoint{
		ExecutionID:    exec.ExecutionID,
		SequenceNumber: 0,
		Timestamp:      now,
		StateSnapshot:  cloneState(exec.State),
		Message:        "execution started",
	}
	if err := e.store.AppendCheckpoint(ctx, tc.TenantID, initial); err != nil {
		e.logger.Error("initial checkpoint write failed", zap.Error(err), zap.String("executionId", exec.ExecutionID))
	} else if e.metrics != nil {
		e.metrics.RecordCheckpoint()
	}

	snapshot := cloneExecution(exec)
	e.runAsync(graph, exec)
	return snapshot, nil
}

// Signal delivers a pause, resume, or cancel control instruction to a
// running execution. Signalling an execution that is not currently
// tracked in-process (e.g. after a restart, before recovery replays it)
// returns NotFound.
func (e *Engine) Signal(ctx context.Context, executionID string, sig Signal) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return errors.NotFound("execution", executionID)
	}

	select {
	case r.signals <- sig:
		return nil
	case <-r.done:
		return errors.Conflict("execution has already reached a terminal status")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe returns the current state of a tracked execution from memory if
// it is actively running, falling back to the store otherwise.
func (e *Engine) Observe(ctx context.Context, tenantID, executionID string) (*Execution, error) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.exec.TenantID != tenantID {
			return nil, errors.NotFound("execution", executionID)
		}
		return cloneExecution(r.exec), nil
	}
	return e.store.GetExecution(ctx, tenantID, executionID)
}

// Recover reloads every non-terminal execution from the store on startup
// and resumes scheduling each from its last checkpoint, so a process
// restart never silently abandons in-flight work.
func (e *Engine) Recover(ctx context.Context, graphs map[string]*CompiledGraph) error {
	running, err := e.store.ListRunning(ctx)
	if err != nil {
		return errors.DatabaseError("list_running", err)
	}

	for _, exec := range running {
		graph, ok := graphs[fmt.Sprintf("%s:%d", exec.WorkflowID, exec.WorkflowVersion)]
		if !ok {
			e.logger.Warn("cannot recover execution: compiled graph unavailable",
				zap.String("executionId", exec.ExecutionID),
				zap.String("workflowId", exec.WorkflowID))
			continue
		}

		if latest, err := e.store.LatestCheckpoint(ctx, exec.TenantID, exec.ExecutionID); err == nil && latest != nil {
			exec.State = latest.StateSnapshot
		}

		e.runAsync(graph, exec)
	}
	return nil
}

func (e *Engine) runAsync(graph *CompiledGraph, exec *Execution) {
	r := &run{
		graph:   graph,
		exec:    exec,
		signals: make(chan Signal, 4),
		done:    make(chan struct{}),
	}
	e.mu.Lock()
	e.runs[exec.ExecutionID] = r
	e.mu.Unlock()

	go e.drive(r)
}

// drive is the per-execution scheduling loop. It owns r.exec exclusively
// for the run's lifetime except for brief reads taken under r.mu by
// Observe, so field merges never race.
func (e *Engine) drive(r *run) {
	defer close(r.done)
	defer func() {
		e.mu.Lock()
		delete(e.runs, r.exec.ExecutionID)
		e.mu.Unlock()
	}()

	ctx := context.Background()
	exec := r.exec
	graph := r.graph

	r.mu.Lock()
	exec.Status = ExecutionRunning
	r.mu.Unlock()

	completed := make(map[string]bool, len(exec.CompletedAgents))
	for _, id := range exec.CompletedAgents {
		completed[id] = true
	}
	frontier := append([]string{}, exec.CurrentFrontier...)

	for len(frontier) > 0 {
		if e.drainControl(r) {
			return // cancelled or permanently stopped
		}

		var ready, blocked []string
		for _, n := range frontier {
			if completed[n] {
				continue
			}
			if allDepsSatisfied(graph, n, completed) {
				ready = append(ready, n)
			} else {
				blocked = append(blocked, n)
			}
		}
		if len(ready) == 0 {
			// Nothing left will ever become ready: every remaining node is
			// waiting on a dependency that was never satisfied (e.g. a
			// conditional sibling that was not routed to).
			break
		}

		// Every node whose dependencies are satisfied in this step runs
		// concurrently; the scheduler only waits for the slowest one per
		// round instead of the sum of all of them.
		results := make([]invokeResult, len(ready))
		var wg sync.WaitGroup
		for i, node := range ready {
			wg.Add(1)
			go func(i int, node string) {
				defer wg.Done()
				fragment, routedTo, err := e.invokeWithRetry(ctx, r, node)
				results[i] = invokeResult{node: node, fragment: fragment, routedTo: routedTo, err: err}
			}(i, node)
		}
		wg.Wait()

		frontier = blocked
		for _, res := range results {
			r.mu.Lock()
			var nextForThis []string
			if res.err != nil {
				onErr, _ := lookupOnError(graph, res.node)
				if onErr == "continue" {
					exec.State["__error_"+res.node] = res.err.Error()
					completed[res.node] = true
				} else {
					exec.Status = ExecutionFailed
					exec.Error = &ExecutionError{Kind: ErrorRetryExhausted, AgentID: res.node, Message: res.err.Error()}
					r.mu.Unlock()
					e.finish(ctx, r)
					return
				}
			} else {
				mergeFragment(exec.State, res.fragment)
				completed[res.node] = true
			}

			seq := int64(len(exec.CompletedAgents)) + 1
			exec.CompletedAgents = append(exec.CompletedAgents, res.node)
			exec.UpdatedAt = time.Now().UTC()
			snapshot := cloneState(exec.State)
			if res.err == nil {
				nextForThis = e.nextNodes(graph, res.node, res.routedTo, exec.State)
			}
			r.mu.Unlock()

			cp := &Checkpoint{
				ExecutionID:    exec.ExecutionID,
				SequenceNumber: seq,
				Timestamp:      time.Now().UTC(),
				StateSnapshot:  snapshot,
				CompletedAgent: res.node,
			}
			if err := e.store.AppendCheckpoint(ctx, exec.TenantID, cp); err != nil {
				e.logger.Error("checkpoint write failed", zap.Error(err), zap.String("executionId", exec.ExecutionID))
			} else if e.metrics != nil {
				e.metrics.RecordCheckpoint()
			}

			for _, next := range nextForThis {
				if !completed[next] && !contains(frontier, next) {
					frontier = append(frontier, next)
				}
			}
		}

		r.mu.Lock()
		exec.CurrentFrontier = frontier
		r.mu.Unlock()
		if err := e.store.SaveExecution(ctx, exec); err != nil {
			e.logger.Error("execution save failed", zap.Error(err), zap.String("executionId", exec.ExecutionID))
		}
	}

	r.mu.Lock()
	if exec.Status == ExecutionRunning {
		exec.Status = ExecutionCompleted
	}
	r.mu.Unlock()
	e.finish(ctx, r)
}

// invokeResult carries one frontier node's outcome back from a concurrent
// invocation so the scheduling loop can process completions sequentially.
type invokeResult struct {
	node     string
	fragment StateFragment
	routedTo string
	err      error
}

// drainControl processes any pending pause/resume/cancel signal without
// blocking the scheduling loop when none is waiting. It returns true if the
// execution should stop entirely (cancelled).
func (e *Engine) drainControl(r *run) bool {
	for {
		select {
		case sig := <-r.signals:
			switch sig {
			case SignalPause:
				r.mu.Lock()
				r.exec.Status = ExecutionPaused
				r.mu.Unlock()
				r.paused = true
			case SignalResume:
				r.mu.Lock()
				if r.exec.Status == ExecutionPaused {
					r.exec.Status = ExecutionRunning
				}
				r.mu.Unlock()
				r.paused = false
			case SignalCancel:
				r.mu.Lock()
				now := time.Now().UTC()
				r.exec.Status = ExecutionCancelled
				r.exec.EndedAt = &now
				r.mu.Unlock()
				e.finish(context.Background(), r)
				return true
			}
		default:
			if !r.paused {
				return false
			}
			// Paused: block until resumed or cancelled.
			sig := <-r.signals
			switch sig {
			case SignalResume:
				r.mu.Lock()
				r.exec.Status = ExecutionRunning
				r.mu.Unlock()
				r.paused = false
			case SignalCancel:
				r.mu.Lock()
				now := time.Now().UTC()
				r.exec.Status = ExecutionCancelled
				r.exec.EndedAt = &now
				r.mu.Unlock()
				e.finish(context.Background(), r)
				return true
			}
		}
	}
}

func (e *Engine) finish(ctx context.Context, r *run) {
	r.mu.Lock()
	exec := r.exec
	if exec.EndedAt == nil {
		now := time.Now().UTC()
		exec.EndedAt = &now
	}
	durationMs := exec.EndedAt.Sub(exec.StartedAt).Milliseconds()
	exec.DurationMs = &durationMs
	status := exec.Status
	r.mu.Unlock()

	if err := e.store.SaveExecution(ctx, exec); err != nil {
		e.logger.Error("final execution save failed", zap.Error(err), zap.String("executionId", exec.ExecutionID))
	}
	if e.metrics != nil {
		e.metrics.RecordExecution(exec.WorkflowID, string(status), time.Duration(durationMs)*time.Millisecond)
	}
}

// invokeWithRetry runs one agent node to completion or exhaustion,
// retrying retryable failures per e.cfg with exponential backoff. It
// returns the agent's output fragment, the conditional-router target (if
// the node is a router), and a non-nil error only once every attempt has
// failed.
func (e *Engine) invokeWithRetry(ctx context.Context, r *run, nodeID string) (StateFragment, string, error) {
	agentSpec, _ := r.graph.Definition.AgentByID(nodeID)
	kind, ok := e.registry.Lookup(agentSpec.Kind)
	if !ok {
		return nil, "", errors.UnknownAgentKind(agentSpec.Kind)
	}

	timeout := agentSpec.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultAgentTimeout
	}

	delay := e.cfg.RetryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		r.mu.Lock()
		stateSnapshot := cloneState(r.exec.State)
		tenantID := r.exec.TenantID
		executionID := r.exec.ExecutionID
		r.mu.Unlock()

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		fragment, err := kind.Execute(attemptCtx, Invocation{
			ExecutionID:    executionID,
			AgentID:        nodeID,
			TenantID:       tenantID,
			Attempt:        attempt,
			IdempotencyKey: IdempotencyKey(e.idempotencySecret, executionID, nodeID, attempt),
			Config:         agentSpec.Config,
			State:          stateSnapshot,
		})
		elapsed := time.Since(start)
		cancel()

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		if e.metrics != nil {
			e.metrics.RecordAgentInvocation(agentSpec.Kind, outcome, elapsed)
		}

		if err == nil {
			routedTo, _ := fragment["__route"].(string)
			delete(fragment, "__route")
			return fragment, routedTo, nil
		}

		lastErr = err
		e.logger.Warn("agent invocation failed",
			zap.String("executionId", executionID),
			zap.String("agentId", nodeID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == e.cfg.RetryMaxAttempts {
			break
		}
		if e.metrics != nil {
			e.metrics.RecordAgentRetry(agentSpec.Kind)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
		delay = time.Duration(float64(delay) * e.cfg.RetryMultiplier)
		if delay > e.cfg.RetryMaxDelay {
			delay = e.cfg.RetryMaxDelay
		}
	}

	return nil, "", errors.RetryExhausted(nodeID, e.cfg.RetryMaxAttempts, lastErr)
}

func lookupOnError(graph *CompiledGraph, nodeID string) (string, bool) {
	a, ok := graph.Definition.AgentByID(nodeID)
	if !ok {
		return "", false
	}
	return a.OnError, a.OnError != ""
}

// allDepsSatisfied reports whether every inbound predecessor of node has
// already completed. A node with no inbound edges (an entry point) is
// always ready.
func allDepsSatisfied(graph *CompiledGraph, node string, completed map[string]bool) bool {
	for _, e := range graph.Inbound[node] {
		if !completed[e.From] {
			return false
		}
	}
	return true
}

// nextNodes returns the successors to enqueue after node completes. For a
// conditional-router node, only the matched routedTo target is returned.
// Otherwise every outbound edge is considered: an edge carrying a Condition
// is evaluated against state via gval and only contributes its target when
// the condition holds, so a definition's declared branch conditions
// actually gate runtime scheduling rather than just the compiler's
// determinism check. An unconditioned edge always contributes its target;
// the downstream node's Parallel flag is not consulted here.
func (e *Engine) nextNodes(graph *CompiledGraph, node, routedTo string, state map[string]interface{}) []string {
	if routedTo != "" {
		return []string{routedTo}
	}

	var out []string
	for _, edge := range graph.Outbound[node] {
		if edge.Condition == "" {
			out = append(out, edge.To)
			continue
		}
		matched, err := evalEdgeCondition(edge.Condition, state)
		if err != nil {
			e.logger.Warn("edge condition evaluation failed",
				zap.String("from", edge.From), zap.String("to", edge.To), zap.Error(err))
			continue
		}
		if matched {
			out = append(out, edge.To)
		}
	}
	return out
}

// evalEdgeCondition evaluates a declared edge condition expression against
// execution state using gval, the same safe expression language the
// conditional-router agent kind uses for its own branch matching.
func evalEdgeCondition(expr string, state map[string]interface{}) (bool, error) {
	eval, err := gval.Full().NewEvaluable(expr)
	if err != nil {
		return false, err
	}
	result, err := eval(context.Background(), state)
	if err != nil {
		return false, err
	}
	matched, _ := result.(bool)
	return matched, nil
}

// mergeFragment applies an agent's output fragment onto execution state
// with last-writer-wins semantics: a field produced by a later-completing
// agent always overwrites one produced earlier. The compiler's
// merge-conflict check (compiler.go) is what keeps this safe — it rejects
// definitions where two concurrently-runnable branches could both write
// the same field without an explicit ordering.
func mergeFragment(state map[string]interface{}, fragment StateFragment) {
	for k, v := range fragment {
		state[k] = v
	}
}

func cloneState(state map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func cloneExecution(e *Execution) *Execution {
	cp := *e
	cp.State = cloneState(e.State)
	cp.CurrentFrontier = append([]string{}, e.CurrentFrontier...)
	cp.CompletedAgents = append([]string{}, e.CompletedAgents...)
	return &cp
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
