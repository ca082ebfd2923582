package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/veloflow/veloflow/internal/actions"
	"github.com/veloflow/veloflow/internal/conditions"
	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/internal/logging"
	"github.com/veloflow/veloflow/pkg/schema"
)

// ParallelScheduler executes a step group under one of the parallel
// topologies. Each branch runs against its own copy of the run context; the
// scheduler alone merges branch outputs back, in declaration order, so
// branches never observe each other mid-flight.
type ParallelScheduler struct {
	steps  *StepRunner
	logger *slog.Logger
}

// NewParallelScheduler creates a scheduler. A nil registry gets the builtin
// action set; a nil logger falls back to slog.Default.
func NewParallelScheduler(registry *actions.Registry, logger *slog.Logger) *ParallelScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParallelScheduler{
		steps:  NewStepRunner(registry, logger),
		logger: logger,
	}
}

// Run executes the group against the given context store and returns the
// report plus a group-level error: an aggregate failure naming every failed
// step, a failed join condition, or a dependency cycle. Partial results stay
// retrievable from the report and the store even when an error is returned.
func (s *ParallelScheduler) Run(ctx context.Context, group *schema.ParallelGroupSpec, store *expressions.Context) (*schema.RunReport, error) {
	report := &schema.RunReport{
		RunID:     store.RunID(),
		Name:      group.Name,
		Status:    schema.RunStatusRunning,
		StartedAt: time.Now(),
	}

	if err := group.Validate(); err != nil {
		report.Status = schema.RunStatusError
		report.Error = schema.AsFlowError(err)
		return finishReport(report, store), err
	}

	ctx = logging.WithRunID(ctx, store.RunID())
	ctx = logging.WithGroupName(ctx, group.Name)
	s.logger.InfoContext(ctx, "parallel group started",
		"group", group.Name, "topology", string(group.Mode()), "steps", len(group.Steps))

	waves, poolSize, err := s.plan(group)
	if err != nil {
		report.Status = schema.RunStatusError
		report.Error = schema.AsFlowError(err)
		return finishReport(report, store), err
	}

	pool := NewWorkerPool(poolSize)
	defer pool.Shutdown()

	byName := make(map[string]*schema.StepSpec, len(group.Steps))
	order := make(map[string]int, len(group.Steps))
	for i := range group.Steps {
		byName[group.Steps[i].Name] = &group.Steps[i]
		order[group.Steps[i].Name] = i
	}

	results := make(map[string]schema.StepResult, len(group.Steps))
	for _, wave := range waves {
		waveResults := s.runWave(ctx, pool, wave, byName, store)
		for name, res := range waveResults {
			results[name] = res
		}
	}

	var failed []string
	for i := range group.Steps {
		step := &group.Steps[i]
		res := results[step.Name]
		report.Results = append(report.Results, schema.StepRecord{
			Index:  i,
			Name:   step.Name,
			Result: res,
		})
		if res.Status == schema.StepStatusError && !step.ContinueOnError {
			failed = append(failed, step.Name)
		}
	}

	groupErr := s.gate(group, store, failed)
	if groupErr != nil {
		report.Status = schema.RunStatusError
		report.Error = schema.AsFlowError(groupErr)
	} else {
		report.Status = schema.RunStatusSuccess
	}

	s.logger.InfoContext(ctx, "parallel group finished",
		"group", group.Name, "status", string(report.Status))
	return finishReport(report, store), groupErr
}

// plan resolves the group's topology into execution waves and a pool size.
func (s *ParallelScheduler) plan(group *schema.ParallelGroupSpec) ([][]string, int, error) {
	names := make([]string, len(group.Steps))
	for i := range group.Steps {
		names[i] = group.Steps[i].Name
	}

	switch group.Mode() {
	case schema.TopologyConcurrent, schema.TopologyForkJoin:
		size := len(names)
		if group.MaxWorkers > 0 {
			size = group.MaxWorkers
		}
		return [][]string{names}, size, nil

	case schema.TopologyBatch:
		window := group.Workers()
		var waves [][]string
		for start := 0; start < len(names); start += window {
			end := start + window
			if end > len(names) {
				end = len(names)
			}
			waves = append(waves, names[start:end])
		}
		return waves, window, nil

	case schema.TopologyPipeline:
		waves, err := pipelineWaves(group)
		if err != nil {
			return nil, 0, err
		}
		return waves, group.Workers(), nil
	}

	return nil, 0, schema.NewErrorf(schema.ErrCodeValidation,
		"parallel group %s has unknown topology: %s", group.Name, group.Topology)
}

// runWave executes one wave of steps, each against a private context copy,
// then merges branch outputs back into the parent in declaration order.
func (s *ParallelScheduler) runWave(ctx context.Context, pool *WorkerPool, wave []string,
	byName map[string]*schema.StepSpec, store *expressions.Context) map[string]schema.StepResult {

	branches := make([]*expressions.Context, len(wave))
	results := make([]schema.StepResult, len(wave))

	tasks := make([]func(ctx context.Context) error, len(wave))
	for i, name := range wave {
		i, spec := i, byName[name]
		branch := store.Copy()
		branches[i] = branch
		tasks[i] = func(taskCtx context.Context) error {
			results[i] = s.steps.Execute(taskCtx, spec, branch)
			return nil
		}
	}

	if err := pool.RunBatch(ctx, tasks); err != nil {
		s.logger.WarnContext(ctx, "wave submission aborted", "error", err)
	}

	out := make(map[string]schema.StepResult, len(wave))
	for i, name := range wave {
		store.MergeStepOutputs(branches[i])
		out[name] = results[i]
	}
	return out
}

// gate applies the group's completion rules: an aggregate failure when any
// step failed, then the fork_join join condition against the merged context.
func (s *ParallelScheduler) gate(group *schema.ParallelGroupSpec, store *expressions.Context, failed []string) error {
	if len(failed) > 0 {
		sorted := append([]string(nil), failed...)
		sort.Strings(sorted)
		return schema.NewErrorf(schema.ErrCodeAggregateFailure,
			"parallel group %s: %d step(s) failed: %s",
			group.Name, len(sorted), strings.Join(sorted, ", ")).
			WithDetails(map[string]any{"failed_steps": sorted})
	}

	if group.Mode() == schema.TopologyForkJoin {
		if !conditions.EvaluateCondition(store, group.JoinCondition) {
			return schema.NewErrorf(schema.ErrCodeJoinFailed,
				"parallel group %s: join condition not satisfied: %s",
				group.Name, group.JoinCondition).
				WithDetails(map[string]any{"join_condition": group.JoinCondition})
		}
	}
	return nil
}
