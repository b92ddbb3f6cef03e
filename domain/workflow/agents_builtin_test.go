package workflow

import (
	"context"
	"testing"
)

func TestAggregatorMergesPresentFieldsWithFullConfidence(t *testing.T) {
	k := &aggregatorKind{}
	if err := k.ValidateConfig(map[string]interface{}{
		"sources": []interface{}{"a", "b"},
		"into":    "merged",
	}); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}

	frag, err := k.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"sources": []interface{}{"a", "b"}, "into": "merged"},
		State:  map[string]interface{}{"a": 1.0, "b": 2.0},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	merged, ok := frag["merged"].(map[string]interface{})
	if !ok {
		t.Fatalf("merged field = %v, want a map", frag["merged"])
	}
	if merged["a"] != 1.0 || merged["b"] != 2.0 {
		t.Fatalf("merged = %v, want a=1 b=2", merged)
	}
	if merged["confidence"] != 1.0 {
		t.Fatalf("confidence = %v, want 1.0 when every source is present", merged["confidence"])
	}
}

func TestAggregatorLowersConfidenceWhenSourceMissing(t *testing.T) {
	k := &aggregatorKind{}
	frag, err := k.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"sources": []interface{}{"a", "b"}, "into": "merged"},
		State:  map[string]interface{}{"a": 1.0},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	merged := frag["merged"].(map[string]interface{})
	if merged["confidence"] != 0.5 {
		t.Fatalf("confidence = %v, want 0.5 with one of two sources present", merged["confidence"])
	}
	if _, ok := merged["b"]; ok {
		t.Fatalf("merged = %v, want no entry for an absent source", merged)
	}
}

func TestAggregatorValidateConfigRejectsMissingFields(t *testing.T) {
	k := &aggregatorKind{}
	if err := k.ValidateConfig(map[string]interface{}{"into": "merged"}); err == nil {
		t.Fatal("ValidateConfig() expected an error for missing sources")
	}
	if err := k.ValidateConfig(map[string]interface{}{"sources": []interface{}{"a"}}); err == nil {
		t.Fatal("ValidateConfig() expected an error for missing into")
	}
}

func TestConditionalRouterSelectsMatchingBranch(t *testing.T) {
	k := &conditionalRouterKind{}
	config := map[string]interface{}{
		"branches": []interface{}{
			map[string]interface{}{"when": "score > 5", "goto": "high"},
			map[string]interface{}{"when": "score <= 5", "goto": "low"},
		},
	}
	if err := k.ValidateConfig(config); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}

	frag, err := k.Execute(context.Background(), Invocation{
		AgentID: "router",
		Config:  config,
		State:   map[string]interface{}{"score": 9.0},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if frag["__route"] != "high" {
		t.Fatalf("route = %v, want high", frag["__route"])
	}
}

func TestConditionalRouterErrorsWhenNoBranchMatches(t *testing.T) {
	k := &conditionalRouterKind{}
	config := map[string]interface{}{
		"branches": []interface{}{
			map[string]interface{}{"when": "score > 5", "goto": "high"},
		},
	}

	_, err := k.Execute(context.Background(), Invocation{
		AgentID: "router",
		Config:  config,
		State:   map[string]interface{}{"score": 1.0},
	})
	if err == nil {
		t.Fatal("Execute() expected an error when no branch condition matches")
	}
}

func TestConditionalRouterValidateConfigRejectsInvalidExpression(t *testing.T) {
	k := &conditionalRouterKind{}
	config := map[string]interface{}{
		"branches": []interface{}{
			map[string]interface{}{"when": "not( valid", "goto": "high"},
		},
	}
	if err := k.ValidateConfig(config); err == nil {
		t.Fatal("ValidateConfig() expected an error for an unparsable expression")
	}
}

func TestCheckpointKindUsesLabelOrAgentID(t *testing.T) {
	k := &checkpointKind{}

	frag, err := k.Execute(context.Background(), Invocation{
		AgentID: "step-1",
		Config:  map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if frag["__checkpoint"] != "step-1" {
		t.Fatalf("__checkpoint = %v, want agent id fallback", frag["__checkpoint"])
	}

	frag, err = k.Execute(context.Background(), Invocation{
		AgentID: "step-1",
		Config:  map[string]interface{}{"label": "custom"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if frag["__checkpoint"] != "custom" {
		t.Fatalf("__checkpoint = %v, want custom label", frag["__checkpoint"])
	}
}

func TestScriptKindRunsSandboxedFunction(t *testing.T) {
	k := &scriptKind{}
	config := map[string]interface{}{
		"source": "function run(state) { return {doubled: state.x * 2}; }",
	}
	if err := k.ValidateConfig(config); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}

	frag, err := k.Execute(context.Background(), Invocation{
		Config: config,
		State:  map[string]interface{}{"x": 21.0},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if frag["doubled"] != int64(42) && frag["doubled"] != float64(42) {
		t.Fatalf("doubled = %v, want 42", frag["doubled"])
	}
}

func TestScriptKindValidateConfigRejectsUncompilableSource(t *testing.T) {
	k := &scriptKind{}
	if err := k.ValidateConfig(map[string]interface{}{"source": "function ("}); err == nil {
		t.Fatal("ValidateConfig() expected an error for invalid JavaScript")
	}
}

type stubAIClient struct {
	response string
	err      error
}

func (c *stubAIClient) Complete(ctx context.Context, prompt string, params map[string]interface{}) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func TestAICompletionKindDelegatesToClient(t *testing.T) {
	k := &aiCompletionKind{client: &stubAIClient{response: "drafted report"}}
	config := map[string]interface{}{"prompt": "summarize {{findings}}", "into": "report"}
	if err := k.ValidateConfig(config); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}

	frag, err := k.Execute(context.Background(), Invocation{Config: config})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if frag["report"] != "drafted report" {
		t.Fatalf("report = %v, want drafted report", frag["report"])
	}
}

func TestAICompletionKindPropagatesClientError(t *testing.T) {
	k := &aiCompletionKind{client: &stubAIClient{err: context.DeadlineExceeded}}
	config := map[string]interface{}{"prompt": "p", "into": "report"}

	_, err := k.Execute(context.Background(), Invocation{Config: config})
	if err == nil {
		t.Fatal("Execute() expected an error when the client fails")
	}
}

func TestRegisterBuiltinsOmitsAICompletionWithoutClient(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, nil)

	for _, name := range []string{"aggregator", "conditional-router", "checkpoint", "script"} {
		if _, ok := r.Lookup(name); !ok {
			t.Fatalf("expected builtin kind %q to be registered", name)
		}
	}
	if _, ok := r.Lookup("ai-completion"); ok {
		t.Fatal("expected ai-completion to be absent when no AIClient is given")
	}
}

func TestRegisterBuiltinsIncludesAICompletionWithClient(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, &stubAIClient{response: "ok"})

	if _, ok := r.Lookup("ai-completion"); !ok {
		t.Fatal("expected ai-completion to be registered when an AIClient is given")
	}
}
