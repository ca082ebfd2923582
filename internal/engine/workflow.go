package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veloflow/veloflow/internal/actions"
	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/internal/logging"
	"github.com/veloflow/veloflow/pkg/schema"
)

// WorkflowRunner executes a workflow's steps sequentially in declaration
// order, applying the workflow error policy and producing a RunReport.
type WorkflowRunner struct {
	steps  *StepRunner
	logger *slog.Logger
}

// NewWorkflowRunner creates a runner. A nil registry gets the builtin action
// set; a nil logger falls back to slog.Default.
func NewWorkflowRunner(registry *actions.Registry, logger *slog.Logger) *WorkflowRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowRunner{
		steps:  NewStepRunner(registry, logger),
		logger: logger,
	}
}

// Run executes the workflow with the given initial globals. The returned
// report is never nil; its Status is error when any step ended in error,
// even under the continue policy or continue_on_error steps.
func (r *WorkflowRunner) Run(ctx context.Context, spec *schema.WorkflowSpec, globals map[string]any) *schema.RunReport {
	report := &schema.RunReport{
		Name:      spec.Name,
		Status:    schema.RunStatusRunning,
		StartedAt: time.Now(),
	}

	if err := spec.Validate(); err != nil {
		report.Status = schema.RunStatusError
		report.Error = schema.AsFlowError(err)
		return finishReport(report, nil)
	}

	store := expressions.NewContext(globals)
	store.SetMetadata("name", spec.Name)
	store.SetStatus(schema.RunStatusRunning)
	report.RunID = store.RunID()

	ctx = logging.WithRunID(ctx, store.RunID())
	r.logger.InfoContext(ctx, "workflow started", "workflow", spec.Name, "steps", len(spec.Steps))

	// Env overlay values are themselves templates, resolved once against the
	// initial globals and exposed under the "env" global.
	envOverlay := make(map[string]string, len(spec.Env))
	if len(spec.Env) > 0 {
		exposed := make(map[string]any, len(spec.Env))
		for k, v := range spec.Env {
			resolved := store.Interpolate(v)
			envOverlay[k] = resolved
			exposed[k] = resolved
		}
		store.Set("env", exposed)
	}

	policy := spec.Policy()
	var firstFailure *schema.StepResult

	for i := range spec.Steps {
		step := spec.Steps[i]
		step.Env = mergeEnv(envOverlay, step.Env)

		result := r.steps.Execute(ctx, &step, store)
		store.SetStepResult(fmt.Sprintf("step_%d", i), result.AsMap())
		report.Results = append(report.Results, schema.StepRecord{
			Index:  i,
			Name:   step.Name,
			Result: result,
		})

		if result.Status != schema.StepStatusError {
			continue
		}
		if firstFailure == nil {
			failed := result
			firstFailure = &failed
		}
		if step.ContinueOnError {
			r.logger.WarnContext(ctx, "step failed but is marked continue_on_error", "step", step.Name)
			continue
		}

		switch policy {
		case schema.ErrorPolicyContinue:
			continue
		case schema.ErrorPolicyCleanup:
			r.runCleanup(ctx, spec, envOverlay, store)
		}
		// stop and cleanup both abort the remaining steps.
		break
	}

	if firstFailure != nil {
		report.Status = schema.RunStatusError
		report.Error = schema.NewErrorf(schema.ErrCodeStepFailed,
			"step %s failed: %s", firstFailure.Name, firstFailure.Error).
			WithStep(firstFailure.Name)
	} else {
		report.Status = schema.RunStatusSuccess
	}

	store.SetStatus(report.Status)
	r.logger.InfoContext(ctx, "workflow finished", "workflow", spec.Name, "status", string(report.Status))
	return finishReport(report, store)
}

// runCleanup executes the cleanup steps best-effort: each failure is logged
// and recorded in the context error log, never propagated.
func (r *WorkflowRunner) runCleanup(ctx context.Context, spec *schema.WorkflowSpec, envOverlay map[string]string, store *expressions.Context) {
	if len(spec.Cleanup) == 0 {
		return
	}
	r.logger.InfoContext(ctx, "running cleanup steps", "count", len(spec.Cleanup))
	for i := range spec.Cleanup {
		step := spec.Cleanup[i]
		step.Env = mergeEnv(envOverlay, step.Env)
		result := r.steps.Execute(ctx, &step, store)
		if result.Status == schema.StepStatusError {
			r.logger.WarnContext(ctx, "cleanup step failed", "step", step.Name, "error", result.Error)
		}
	}
}

// mergeEnv overlays step env on top of workflow env; the step wins on
// conflicting keys.
func mergeEnv(workflow, step map[string]string) map[string]string {
	if len(workflow) == 0 {
		return step
	}
	merged := make(map[string]string, len(workflow)+len(step))
	for k, v := range workflow {
		merged[k] = v
	}
	for k, v := range step {
		merged[k] = v
	}
	return merged
}

// finishReport stamps completion time and attaches the final context snapshot.
func finishReport(report *schema.RunReport, store *expressions.Context) *schema.RunReport {
	now := time.Now()
	report.CompletedAt = &now
	if store != nil {
		report.Context = store.Snapshot()
	}
	return report
}
