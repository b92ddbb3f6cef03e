package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/dop251/goja"

	"github.com/inspectflow/orchestrator/infrastructure/errors"
)

// RegisterBuiltins registers the engine's built-in agent kinds into r.
// Callers add domain-specific kinds (e.g. an inspection-report generator)
// on top of these with r.Register.
func RegisterBuiltins(r *Registry, ai AIClient) {
	r.Register(&aggregatorKind{})
	r.Register(&conditionalRouterKind{})
	r.Register(&checkpointKind{})
	r.Register(&scriptKind{})
	if ai != nil {
		r.Register(&aiCompletionKind{client: ai})
	}
}

// AIClient is the minimal surface the ai-completion built-in agent needs.
// Production wiring injects a real client; tests inject a stub.
type AIClient interface {
	Complete(ctx context.Context, prompt string, params map[string]interface{}) (string, error)
}

// aggregatorKind merges named state fields into a single output field — the
// canonical way a fan-in node combines the results of parallel branches
// before forwarding state downstream.
type aggregatorKind struct{}

func (k *aggregatorKind) Name() string { return "aggregator" }

func (k *aggregatorKind) ValidateConfig(config map[string]interface{}) error {
	sources, ok := config["sources"].([]interface{})
	if !ok || len(sources) == 0 {
		return fmt.Errorf("aggregator requires a non-empty \"sources\" list")
	}
	if _, ok := config["into"].(string); !ok {
		return fmt.Errorf("aggregator requires an \"into\" field name")
	}
	return nil
}

func (k *aggregatorKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	sources, _ := inv.Config["sources"].([]interface{})
	into, _ := inv.Config["into"].(string)

	merged := make(map[string]interface{}, len(sources)+1)
	present := 0
	for _, s := range sources {
		field, ok := s.(string)
		if !ok {
			continue
		}
		if v, ok := inv.State[field]; ok {
			merged[field] = v
			present++
		}
	}

	// Confidence reflects how much of the declared fan-in this aggregator
	// actually received: a branch that never ran (a conditional sibling
	// that was not routed to, or a retry-exhausted agent marked
	// "continue") lowers confidence in the merged result rather than
	// silently producing a partial aggregate indistinguishable from a
	// complete one.
	confidence := 1.0
	if len(sources) > 0 {
		confidence = float64(present) / float64(len(sources))
	}
	merged["confidence"] = confidence

	return StateFragment{into: merged}, nil
}

// conditionalRouterKind evaluates the "when" expressions of its configured
// "branches", in order, against execution state using gval, a safe
// (no-exec, no-reflection-into-Go) expression language, and returns the
// first matching branch's "goto" target under "__route" so the engine can
// pick exactly one downstream successor.
type conditionalRouterKind struct{}

func (k *conditionalRouterKind) Name() string { return "conditional-router" }

func (k *conditionalRouterKind) ValidateConfig(config map[string]interface{}) error {
	branches, ok := config["branches"].([]interface{})
	if !ok || len(branches) == 0 {
		return fmt.Errorf("conditional-router requires a non-empty \"branches\" list")
	}
	for _, b := range branches {
		branch, ok := b.(map[string]interface{})
		if !ok {
			return fmt.Errorf("each branch must be an object with \"when\" and \"goto\"")
		}
		expr, ok := branch["when"].(string)
		if !ok || expr == "" {
			return fmt.Errorf("each branch requires a \"when\" expression")
		}
		if _, err := gval.Full().NewEvaluable(expr); err != nil {
			return fmt.Errorf("invalid branch expression %q: %w", expr, err)
		}
		if _, ok := branch["goto"].(string); !ok {
			return fmt.Errorf("each branch requires a \"goto\" target")
		}
	}
	return nil
}

func (k *conditionalRouterKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	branches, _ := inv.Config["branches"].([]interface{})

	for _, b := range branches {
		branch, _ := b.(map[string]interface{})
		expr, _ := branch["when"].(string)
		target, _ := branch["goto"].(string)

		eval, err := gval.Full().NewEvaluable(expr)
		if err != nil {
			return nil, errors.AgentError("conditional-router", err)
		}
		result, err := eval(ctx, inv.State)
		if err != nil {
			return nil, errors.AgentError("conditional-router", err)
		}
		if matched, ok := result.(bool); ok && matched {
			return StateFragment{"__route": target}, nil
		}
	}

	return nil, errors.NonDeterministicBranch(inv.AgentID).WithDetails("reason", "no branch condition matched")
}

// checkpointKind writes a named marker into state without otherwise
// transforming it; workflows use it to force a durable checkpoint at a
// specific point in the graph independent of the engine's own per-agent
// checkpointing.
type checkpointKind struct{}

func (k *checkpointKind) Name() string { return "checkpoint" }

func (k *checkpointKind) ValidateConfig(config map[string]interface{}) error {
	return nil
}

func (k *checkpointKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	label, _ := inv.Config["label"].(string)
	if label == "" {
		label = inv.AgentID
	}
	return StateFragment{"__checkpoint": label}, nil
}

// scriptKind runs a user-supplied JavaScript function against state inside
// a fresh, sandboxed goja VM per invocation — no filesystem, network, or Go
// reflection is exposed to the script.
type scriptKind struct{}

func (k *scriptKind) Name() string { return "script" }

func (k *scriptKind) ValidateConfig(config map[string]interface{}) error {
	src, ok := config["source"].(string)
	if !ok || src == "" {
		return fmt.Errorf("script agent requires a \"source\" field")
	}
	if _, err := goja.Compile("validate.js", src, false); err != nil {
		return fmt.Errorf("invalid script: %w", err)
	}
	return nil
}

func (k *scriptKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	src, _ := inv.Config["source"].(string)
	entry, _ := inv.Config["entryPoint"].(string)
	if entry == "" {
		entry = "run"
	}

	vm := goja.New()
	_ = vm.Set("state", vm.ToValue(inv.State))

	if _, err := vm.RunString(src); err != nil {
		return nil, errors.AgentError("script", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		return nil, errors.AgentError("script", fmt.Errorf("entry point %q is not a function", entry))
	}

	result, err := fn(goja.Undefined(), vm.Get("state"))
	if err != nil {
		return nil, errors.AgentError("script", err)
	}

	exported := result.Export()
	fragment, ok := exported.(map[string]interface{})
	if !ok {
		return StateFragment{}, nil
	}
	return StateFragment(fragment), nil
}

// aiCompletionKind delegates to an injected AIClient, giving a workflow a
// way to call out to an inspection-report-drafting or anomaly-explanation
// model without the engine depending on any specific provider SDK.
type aiCompletionKind struct {
	client AIClient
}

func (k *aiCompletionKind) Name() string { return "ai-completion" }

func (k *aiCompletionKind) ValidateConfig(config map[string]interface{}) error {
	if _, ok := config["prompt"].(string); !ok {
		return fmt.Errorf("ai-completion requires a \"prompt\" template")
	}
	if _, ok := config["into"].(string); !ok {
		return fmt.Errorf("ai-completion requires an \"into\" field name")
	}
	return nil
}

func (k *aiCompletionKind) Execute(ctx context.Context, inv Invocation) (StateFragment, error) {
	prompt, _ := inv.Config["prompt"].(string)
	into, _ := inv.Config["into"].(string)

	callCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		callCtx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}

	result, err := k.client.Complete(callCtx, prompt, inv.Config)
	if err != nil {
		return nil, errors.AgentError("ai-completion", err)
	}
	return StateFragment{into: result}, nil
}
