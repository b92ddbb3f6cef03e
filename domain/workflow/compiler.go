package workflow

import (
	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

// CompiledGraph is the validated, immutable form of a Definition that the
// execution engine schedules against. Compilation is the only place cycle
// detection, schema closure, and branch-determinism are checked; the engine
// trusts a CompiledGraph completely.
type CompiledGraph struct {
	Definition  Definition
	Order       []string            // topological order of agent IDs
	Outbound    map[string][]Edge   // node -> outbound edges
	Inbound     map[string][]Edge   // node -> inbound edges
	EntryPoints []string
}

// Compiler validates a Definition against a Registry and produces a
// CompiledGraph, or a ValidationReport carrying one error per distinct
// defect found.
type Compiler struct {
	registry *Registry
}

// NewCompiler constructs a Compiler bound to the given agent registry.
func NewCompiler(registry *Registry) *Compiler {
	return &Compiler{registry: registry}
}

// Compile runs the ordered validation checks below against def and, if all
// pass, returns a CompiledGraph. Checks run in a fixed order so the same
// malformed definition always reports the same defect set. Defects
// accumulate into the report rather than stopping at the first one, with
// two exceptions: any defect from checks 1-4 ends compilation before the
// graph walks, and a cycle found by check 6 ends it before the checks that
// need a topological order.
func (c *Compiler) Compile(def Definition) (*CompiledGraph, *errors.ValidationReport) {
	report := &errors.ValidationReport{}

	// 1. Every agent's kind must be registered.
	for _, a := range def.Agents {
		if _, ok := c.registry.Lookup(a.Kind); !ok {
			report.Add(errors.UnknownAgentKind(a.Kind))
		}
	}

	// 2. Each agent's config must pass its kind's ValidateConfig.
	for _, a := range def.Agents {
		kind, ok := c.registry.Lookup(a.Kind)
		if !ok {
			continue // already reported above
		}
		if err := kind.ValidateConfig(a.Config); err != nil {
			report.Add(errors.InvalidInput(a.ID, err.Error()))
		}
	}

	// 3. Every edge endpoint must refer to a declared agent.
	ids := make(map[string]bool, len(def.Agents))
	for _, a := range def.Agents {
		ids[a.ID] = true
	}
	for _, e := range def.Connections {
		if !ids[e.From] {
			report.Add(errors.DanglingReference(e.From, e.From))
		}
		if !ids[e.To] {
			report.Add(errors.DanglingReference(e.From, e.To))
		}
	}

	// 4. At least one entry point, and every entry point must be a real agent.
	if len(def.EntryPoints) == 0 {
		report.Add(errors.InvalidInput("entryPoints", "workflow must declare at least one entry point"))
	}
	for _, ep := range def.EntryPoints {
		if !ids[ep] {
			report.Add(errors.DanglingReference("entryPoints", ep))
		}
	}

	if !report.OK() {
		return nil, report
	}

	outbound := make(map[string][]Edge)
	inbound := make(map[string][]Edge)
	for _, e := range def.Connections {
		outbound[e.From] = append(outbound[e.From], e)
		inbound[e.To] = append(inbound[e.To], e)
	}

	// 5. Every agent must be reachable from a declared entry point by
	// walking outbound edges. An agent with no path from any entry point
	// would never be seeded into the engine's initial frontier and so could
	// never execute, no matter how well-formed the rest of the graph is.
	reachableFromEntry := make(map[string]bool, len(def.Agents))
	var frontier []string
	for _, ep := range def.EntryPoints {
		if !reachableFromEntry[ep] {
			reachableFromEntry[ep] = true
			frontier = append(frontier, ep)
		}
	}
	for len(frontier) > 0 {
		n := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, e := range outbound[n] {
			if !reachableFromEntry[e.To] {
				reachableFromEntry[e.To] = true
				frontier = append(frontier, e.To)
			}
		}
	}
	for _, a := range def.Agents {
		if !reachableFromEntry[a.ID] {
			report.Add(errors.UnreachableNode(a.ID))
		}
	}

	// 6. Acyclic, via Kahn's algorithm. Also yields the topological order
	// used for the schema-closure check and, later, scheduling hints.
	order, cyclic := kahnOrder(def.Agents, def.Connections)
	if len(cyclic) > 0 {
		report.Add(errors.CycleDetected(cyclic))
		return nil, report
	}

	// 7. State-schema closure: every field an agent reads must already be
	// produced by an ancestor (or be present in the declared stateSchema
	// as an externally-seeded field) by the time that agent can run.
	produced := make(map[string]bool)
	for field, origin := range def.StateSchema {
		if origin == "input" {
			produced[field] = true
		}
	}
	positionOf := make(map[string]int, len(order))
	for i, id := range order {
		positionOf[id] = i
	}
	for _, id := range order {
		a, _ := def.AgentByID(id)
		for _, f := range a.InputFields {
			covered := produced[f]
			for _, other := range def.Agents {
				if !covered && contains(other.OutputFields, f) && reachable(other.ID, id, inbound) {
					covered = true
				}
			}
			if !covered {
				report.Add(errors.SchemaClosureViolation(f, id))
			}
		}
	}

	// 8. Branch determinism: when a node has more than one outbound edge,
	// either every edge carries a condition (router semantics, exactly one
	// condition must hold at runtime) or every sibling is explicitly marked
	// Parallel on the downstream node (fan-out semantics). A mix is
	// ambiguous — the engine would not know whether to pick one or schedule
	// all of them.
	for node, edges := range outbound {
		if len(edges) <= 1 {
			continue
		}
		anyConditional := false
		allConditional := true
		for _, e := range edges {
			if e.Condition != "" {
				anyConditional = true
			} else {
				allConditional = false
			}
		}
		if anyConditional && !allConditional {
			report.Add(errors.NonDeterministicBranch(node))
			continue
		}
		if !anyConditional {
			for _, e := range edges {
				downstream, _ := def.AgentByID(e.To)
				if !downstream.Parallel {
					report.Add(errors.NonDeterministicBranch(node))
					break
				}
			}
		}
	}

	// Merge-conflict check: two branches that can run concurrently (no
	// ancestor relationship between them) must not declare overlapping
	// output fields unless the engine's last-writer-wins merge is an
	// acceptable resolution — which it is except when both branches can be
	// part of the same frontier AND neither is conditionally exclusive of
	// the other. We flag the overlap so callers can make the decision
	// explicit with a condition or parallel boundary.
	for i := 0; i < len(def.Agents); i++ {
		for j := i + 1; j < len(def.Agents); j++ {
			a, b := def.Agents[i], def.Agents[j]
			if reachable(b.ID, a.ID, inbound) || reachable(a.ID, b.ID, inbound) {
				continue
			}
			for _, fa := range a.OutputFields {
				for _, fb := range b.OutputFields {
					if fa == fb {
						report.Add(errors.MergeConflict(fa, []string{a.ID, b.ID}))
					}
				}
			}
		}
	}

	if !report.OK() {
		return nil, report
	}

	return &CompiledGraph{
		Definition:  def,
		Order:       order,
		Outbound:    outbound,
		Inbound:     inbound,
		EntryPoints: def.EntryPoints,
	}, nil
}

// kahnOrder returns a topological order of agents. If a cycle exists, the
// returned order is nil and the second return value lists the node IDs left
// unordered (every node on or reachable only through the cycle).
func kahnOrder(agents []AgentSpec, edges []Edge) ([]string, []string) {
	indegree := make(map[string]int, len(agents))
	adj := make(map[string][]string, len(agents))
	for _, a := range agents {
		indegree[a.ID] = 0
	}
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	var queue []string
	for _, a := range agents {
		if indegree[a.ID] == 0 {
			queue = append(queue, a.ID)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) == len(agents) {
		return order, nil
	}

	var remaining []string
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, a := range agents {
		if !seen[a.ID] {
			remaining = append(remaining, a.ID)
		}
	}
	return nil, remaining
}

// reachable reports whether to is reachable from from by walking inbound
// edges backwards from to — equivalently, whether from is an ancestor of to.
func reachable(from, to string, inbound map[string][]Edge) bool {
	if from == to {
		return false
	}
	visited := make(map[string]bool)
	var stack []string
	for _, e := range inbound[to] {
		stack = append(stack, e.From)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == from {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for _, e := range inbound[n] {
			stack = append(stack, e.From)
		}
	}
	return false
}
