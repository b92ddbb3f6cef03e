package workflow

import (
	"context"
	"testing"
)

type stubKind struct {
	name      string
	configErr error
}

func (k *stubKind) Name() string { return k.name }
func (k *stubKind) ValidateConfig(config map[string]interface{}) error {
	return k.configErr
}
func (k *stubKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	return StateFragment{}, nil
}

func newTestRegistry(names ...string) *Registry {
	r := NewRegistry()
	for _, n := range names {
		r.Register(&stubKind{name: n})
	}
	return r
}

func linearDefinition() Definition {
	return Definition{
		ID:       "wf-1",
		TenantID: "tenant-a",
		Name:     "two-step",
		Version:  1,
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop", OutputFields: []string{"x"}},
			{ID: "b", Kind: "noop", InputFields: []string{"x"}, OutputFields: []string{"y"}},
		},
		Connections: []Edge{{From: "a", To: "b"}},
		EntryPoints: []string{"a"},
		StateSchema: map[string]string{},
	}
}

func TestCompileValidLinearGraph(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	graph, report := c.Compile(linearDefinition())
	if report != nil {
		t.Fatalf("Compile() unexpected report: %v", report)
	}
	if len(graph.Order) != 2 {
		t.Fatalf("Order length = %d, want 2", len(graph.Order))
	}
	if graph.Order[0] != "a" || graph.Order[1] != "b" {
		t.Fatalf("Order = %v, want [a b]", graph.Order)
	}
}

func TestCompileUnknownAgentKind(t *testing.T) {
	reg := newTestRegistry() // nothing registered
	c := NewCompiler(reg)

	_, report := c.Compile(linearDefinition())
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a report with unknown-kind errors")
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected at least one error")
	}
}

func TestCompileDetectsCycle(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-cycle",
		Name: "cyclic",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop"},
		},
		Connections: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a cycle-detected report")
	}
	found := false
	for _, e := range report.Errors {
		if e.Code == "WF_8001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("report = %v, want a WF_8001 cycle error", report)
	}
}

func TestCompileRequiresEntryPoint(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:          "wf-no-entry",
		Name:        "no-entry",
		Agents:      []AgentSpec{{ID: "a", Kind: "noop"}},
		EntryPoints: nil,
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected an error for missing entry points")
	}
}

func TestCompileDanglingEdgeReference(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:          "wf-dangling",
		Name:        "dangling",
		Agents:      []AgentSpec{{ID: "a", Kind: "noop"}},
		Connections: []Edge{{From: "a", To: "ghost"}},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a dangling-reference error")
	}
}

func TestCompileSchemaClosureViolation(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-schema",
		Name: "schema-violation",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop", InputFields: []string{"never_produced"}},
		},
		EntryPoints: []string{"a"},
		StateSchema: map[string]string{},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a schema-closure error")
	}
}

func TestCompileAllowsInputSeededFields(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-seeded",
		Name: "seeded",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop", InputFields: []string{"seeded"}},
		},
		EntryPoints: []string{"a"},
		StateSchema: map[string]string{"seeded": "input"},
	}

	_, report := c.Compile(def)
	if report != nil {
		t.Fatalf("Compile() unexpected report: %v", report)
	}
}

func TestCompileAmbiguousBranchRejected(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-ambiguous",
		Name: "ambiguous-branch",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop"},
			{ID: "c", Kind: "noop"},
		},
		Connections: []Edge{
			{From: "a", To: "b", Condition: "x > 1"},
			{From: "a", To: "c"}, // no condition, mixed with a conditional sibling
		},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a non-deterministic-branch error for mixed conditions")
	}
}

func TestCompileParallelBranchAccepted(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-parallel",
		Name: "parallel-branch",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop", Parallel: true, OutputFields: []string{"bOut"}},
			{ID: "c", Kind: "noop", Parallel: true, OutputFields: []string{"cOut"}},
		},
		Connections: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report != nil {
		t.Fatalf("Compile() unexpected report for declared-parallel fan-out: %v", report)
	}
}

func TestCompileOrphanNodeRejected(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-orphan",
		Name: "orphan-node",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop"},
			{ID: "orphan", Kind: "noop"},
		},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected an unreachable-node error for the orphan agent")
	}
	found := false
	for _, e := range report.Errors {
		if e.Code == "WF_8005" {
			found = true
		}
	}
	if !found {
		t.Fatalf("report = %v, want a WF_8005 unreachable-node error", report)
	}
}

func TestCompileMergeConflictOnConcurrentOutputFields(t *testing.T) {
	reg := newTestRegistry("noop")
	c := NewCompiler(reg)

	def := Definition{
		ID:   "wf-merge-conflict",
		Name: "merge-conflict",
		Agents: []AgentSpec{
			{ID: "a", Kind: "noop"},
			{ID: "b", Kind: "noop", Parallel: true, OutputFields: []string{"shared"}},
			{ID: "c", Kind: "noop", Parallel: true, OutputFields: []string{"shared"}},
		},
		Connections: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
		EntryPoints: []string{"a"},
	}

	_, report := c.Compile(def)
	if report == nil || report.OK() {
		t.Fatal("Compile() expected a merge-conflict error for overlapping parallel outputs")
	}
}
