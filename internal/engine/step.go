package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veloflow/veloflow/internal/actions"
	"github.com/veloflow/veloflow/internal/conditions"
	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/internal/logging"
	"github.com/veloflow/veloflow/pkg/schema"
)

// skipReason is the canonical reason recorded for guard-skipped steps.
const skipReason = "Condition not met"

// StepRunner executes a single step spec against a run context. It owns the
// guard check, kind dispatch, timeout enforcement and result shaping; it
// records the finished result in the context store under the step's name.
type StepRunner struct {
	registry *actions.Registry
	logger   *slog.Logger
}

// NewStepRunner creates a runner backed by the given action registry.
func NewStepRunner(registry *actions.Registry, logger *slog.Logger) *StepRunner {
	if registry == nil {
		registry = actions.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRunner{registry: registry, logger: logger}
}

// Execute runs one step through its full lifecycle and returns the result.
// Every call produces exactly one result, guard-skipped steps included.
func (r *StepRunner) Execute(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	ctx = logging.WithStepName(ctx, spec.Name)
	fsm := NewStepFSM(spec.Name)
	store.SetCurrentStep(spec.Name)

	if !conditions.EvaluateCondition(store, spec.Condition) {
		_ = fsm.Transition(schema.StepStatusSkipped)
		r.logger.InfoContext(ctx, "step skipped", "reason", skipReason)
		result := schema.StepResult{
			Name:   spec.Name,
			Status: schema.StepStatusSkipped,
			Reason: skipReason,
		}
		store.SetStepResult(spec.Name, result.AsMap())
		return result
	}

	_ = fsm.Transition(schema.StepStatusRunning)
	r.logger.InfoContext(ctx, "step started", "kind", string(spec.EffectiveKind()))

	stepCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := r.dispatch(stepCtx, spec, store)
	result.Name = spec.Name
	result.DurationMs = time.Since(start).Milliseconds()

	// A deadline hit on the step's own context is reported as a timeout
	// regardless of what the action returned.
	if spec.Timeout > 0 && stepCtx.Err() == context.DeadlineExceeded {
		result.Status = schema.StepStatusError
		result.Error = fmt.Sprintf("step timed out after %s", spec.Timeout)
	}

	switch result.Status {
	case schema.StepStatusError:
		_ = fsm.Transition(schema.StepStatusError)
		store.AddError(result.Error)
		r.logger.ErrorContext(ctx, "step failed", "error", result.Error, "duration_ms", result.DurationMs)
	default:
		result.Status = schema.StepStatusSuccess
		_ = fsm.Transition(schema.StepStatusSuccess)
		store.IncrementCompleted()
		r.logger.InfoContext(ctx, "step completed", "duration_ms", result.DurationMs)
	}

	store.SetStepResult(spec.Name, result.AsMap())
	return result
}

// dispatch routes execution by step kind. Returned results carry Status
// Error or Success plus the kind-specific payload.
func (r *StepRunner) dispatch(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	switch spec.EffectiveKind() {
	case schema.StepKindCommand:
		return r.runCommand(ctx, spec, store)
	case schema.StepKindCode:
		return r.runCode(ctx, spec, store)
	case schema.StepKindAction:
		return r.runAction(ctx, spec, store)
	case schema.StepKindConditional:
		return r.runConditional(ctx, spec, store)
	}
	return errorResult(fmt.Sprintf("unknown step kind: %s", spec.Kind))
}

func (r *StepRunner) runCommand(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	params := map[string]any{
		"command": store.Interpolate(spec.Command),
		"shell":   true,
	}
	if len(spec.Env) > 0 {
		env := make(map[string]any, len(spec.Env))
		for k, v := range spec.Env {
			env[k] = store.Interpolate(v)
		}
		params["env"] = env
	}
	if spec.Timeout > 0 {
		params["timeout"] = spec.Timeout.String()
	}

	out, err := r.registry.Execute(ctx, "shell.exec", actions.ActionInput{Params: params, Store: store})
	if err != nil {
		return errorResultFrom(err)
	}

	result := schema.StepResult{
		Stdout: stringField(out.Data, "stdout"),
		Stderr: stringField(out.Data, "stderr"),
	}
	if code, ok := out.Data["exit_code"].(int); ok {
		result.ExitCode = code
	}
	if result.ExitCode != 0 {
		result.Status = schema.StepStatusError
		result.Error = fmt.Sprintf("command exited with code %d", result.ExitCode)
		return result
	}
	result.Status = schema.StepStatusSuccess
	return result
}

func (r *StepRunner) runCode(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	params := map[string]any{
		"source": store.Interpolate(spec.Command),
	}
	if len(spec.Args) > 0 {
		params["args"] = interpolateValue(store, spec.Args)
	}

	out, err := r.registry.Execute(ctx, "code.run", actions.ActionInput{Params: params, Store: store})
	if err != nil {
		return errorResultFrom(err)
	}

	return schema.StepResult{
		Status: schema.StepStatusSuccess,
		Output: out.Data["result"],
		Stdout: stringField(out.Data, "stdout"),
	}
}

func (r *StepRunner) runAction(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	params, _ := interpolateValue(store, spec.Args).(map[string]any)

	out, err := r.registry.Execute(ctx, spec.Action, actions.ActionInput{Params: params, Store: store})
	if err != nil {
		return errorResultFrom(err)
	}

	var output any
	if out != nil && out.Data != nil {
		output = out.Data
	}
	return schema.StepResult{
		Status: schema.StepStatusSuccess,
		Output: output,
	}
}

// runConditional evaluates the if expression and executes the chosen branch
// sequentially, recording each sub-result. An empty branch is a success with
// an explanatory reason. A failing sub-step fails the parent unless it is
// marked continue_on_error.
func (r *StepRunner) runConditional(ctx context.Context, spec *schema.StepSpec, store *expressions.Context) schema.StepResult {
	met := conditions.EvaluateCondition(store, spec.If)

	branch := spec.Else
	if met {
		branch = spec.Then
	}

	result := schema.StepResult{
		Status:       schema.StepStatusSuccess,
		ConditionMet: &met,
	}

	if len(branch) == 0 {
		result.Reason = "no steps in selected branch"
		return result
	}

	for i := range branch {
		sub := r.Execute(ctx, &branch[i], store)
		result.SubResults = append(result.SubResults, sub)
		if sub.Status == schema.StepStatusError && !branch[i].ContinueOnError {
			result.Status = schema.StepStatusError
			result.Error = fmt.Sprintf("branch step %s failed: %s", sub.Name, sub.Error)
			break
		}
	}
	return result
}

// interpolateValue walks a value, interpolating every string in place of
// itself. Maps and slices are rebuilt, other types pass through.
func interpolateValue(store *expressions.Context, v any) any {
	switch val := v.(type) {
	case string:
		return store.Interpolate(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = interpolateValue(store, item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = interpolateValue(store, item)
		}
		return out
	default:
		return v
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func errorResult(msg string) schema.StepResult {
	return schema.StepResult{Status: schema.StepStatusError, Error: msg}
}

// errorResultFrom shapes an action error into a step result, pulling
// captured output out of FlowError details when present.
func errorResultFrom(err error) schema.StepResult {
	result := schema.StepResult{Status: schema.StepStatusError, Error: err.Error()}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) && flowErr.Details != nil {
		result.Stdout = stringField(flowErr.Details, "stdout")
		result.Stderr = stringField(flowErr.Details, "stderr")
	}
	return result
}
