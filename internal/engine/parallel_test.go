package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloflow/veloflow/internal/actions"
	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/pkg/schema"
)

func TestParallelConcurrentAggregatesFailures(t *testing.T) {
	sched := NewParallelScheduler(testRegistry(nil), nil)
	group := &schema.ParallelGroupSpec{
		Name: "mixed",
		Steps: []schema.StepSpec{
			actionStep("good", "test.ok"),
			actionStep("bad", "test.fail"),
			actionStep("also-good", "test.ok"),
		},
	}
	store := expressions.NewContext(nil)

	report, err := sched.Run(context.Background(), group, store)

	require.Error(t, err)
	flowErr := schema.AsFlowError(err)
	assert.Equal(t, schema.ErrCodeAggregateFailure, flowErr.Code)
	assert.Contains(t, flowErr.Message, "bad")

	// Partial results stay retrievable from report and store alike.
	assert.Equal(t, schema.RunStatusError, report.Status)
	require.Len(t, report.Results, 3)
	assert.Equal(t, schema.StepStatusSuccess, report.Results[0].Result.Status)
	assert.Equal(t, "success", store.ResolvePath("steps.good.status"))
	assert.Equal(t, "error", store.ResolvePath("steps.bad.status"))
}

func TestParallelContinueOnErrorSoftensAggregate(t *testing.T) {
	sched := NewParallelScheduler(testRegistry(nil), nil)
	flaky := actionStep("flaky", "test.fail")
	flaky.ContinueOnError = true
	group := &schema.ParallelGroupSpec{
		Name:  "tolerant",
		Steps: []schema.StepSpec{actionStep("solid", "test.ok"), flaky},
	}

	report, err := sched.Run(context.Background(), group, expressions.NewContext(nil))

	assert.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, report.Status)
}

func TestParallelForkJoinCondition(t *testing.T) {
	sched := NewParallelScheduler(testRegistry(nil), nil)

	passing := &schema.ParallelGroupSpec{
		Name:          "join-pass",
		Topology:      schema.TopologyForkJoin,
		JoinCondition: "steps.a.status == 'success' and steps.b.status == 'success'",
		Steps:         []schema.StepSpec{actionStep("a", "test.ok"), actionStep("b", "test.ok")},
	}
	report, err := sched.Run(context.Background(), passing, expressions.NewContext(nil))
	assert.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, report.Status)

	failing := &schema.ParallelGroupSpec{
		Name:          "join-fail",
		Topology:      schema.TopologyForkJoin,
		JoinCondition: "steps.a.status == 'error'",
		Steps:         []schema.StepSpec{actionStep("a", "test.ok"), actionStep("b", "test.ok")},
	}
	report, err = sched.Run(context.Background(), failing, expressions.NewContext(nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeJoinFailed, schema.AsFlowError(err).Code)
	// Children all succeeded; only the gate failed.
	for _, rec := range report.Results {
		assert.Equal(t, schema.StepStatusSuccess, rec.Result.Status)
	}
}

func TestParallelPipelineRespectsDependencies(t *testing.T) {
	rec := &callRecorder{}
	sched := NewParallelScheduler(testRegistry(rec), nil)

	stepC := actionStep("c", "test.ok")
	stepC.DependsOn = []string{"b"}
	stepB := actionStep("b", "test.ok")
	stepB.DependsOn = []string{"a"}
	group := &schema.ParallelGroupSpec{
		Name:     "chain",
		Topology: schema.TopologyPipeline,
		Steps:    []schema.StepSpec{stepC, stepB, actionStep("a", "test.ok")},
	}

	report, err := sched.Run(context.Background(), group, expressions.NewContext(nil))

	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, report.Status)
	assert.Less(t, rec.index("a"), rec.index("b"))
	assert.Less(t, rec.index("b"), rec.index("c"))
}

func TestParallelPipelineDependencyResultsVisible(t *testing.T) {
	reg := testRegistry(nil)
	sched := NewParallelScheduler(reg, nil)

	// The dependent's guard reads the dependency's merged result.
	dependent := actionStep("second", "test.ok")
	dependent.DependsOn = []string{"first"}
	dependent.Condition = "steps.first.status == 'success'"
	group := &schema.ParallelGroupSpec{
		Name:     "visible",
		Topology: schema.TopologyPipeline,
		Steps:    []schema.StepSpec{actionStep("first", "test.ok"), dependent},
	}

	report, err := sched.Run(context.Background(), group, expressions.NewContext(nil))

	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusSuccess, report.Results[1].Result.Status)
}

func TestParallelPipelineCycleDetected(t *testing.T) {
	sched := NewParallelScheduler(testRegistry(nil), nil)

	stepA := actionStep("a", "test.ok")
	stepA.DependsOn = []string{"b"}
	stepB := actionStep("b", "test.ok")
	stepB.DependsOn = []string{"a"}
	group := &schema.ParallelGroupSpec{
		Name:     "cyclic",
		Topology: schema.TopologyPipeline,
		Steps:    []schema.StepSpec{stepA, stepB, actionStep("free", "test.ok")},
	}

	report, err := sched.Run(context.Background(), group, expressions.NewContext(nil))

	require.Error(t, err)
	flowErr := schema.AsFlowError(err)
	assert.Equal(t, schema.ErrCodeCycleDetected, flowErr.Code)
	assert.Contains(t, flowErr.Message, "a")
	assert.Contains(t, flowErr.Message, "b")
	assert.Equal(t, schema.RunStatusError, report.Status)
	assert.Empty(t, report.Results)
}

func TestParallelBatchBoundsConcurrency(t *testing.T) {
	var active, peak int64
	reg := actions.NewRegistry()
	reg.MustRegister(&stubAction{name: "test.track", fn: func(ctx context.Context, input actions.ActionInput) (*actions.ActionOutput, error) {
		cur := atomic.AddInt64(&active, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return &actions.ActionOutput{Data: map[string]any{}}, nil
	}})
	sched := NewParallelScheduler(reg, nil)

	steps := make([]schema.StepSpec, 6)
	for i, name := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		steps[i] = schema.StepSpec{Name: name, Kind: schema.StepKindAction, Action: "test.track"}
	}
	group := &schema.ParallelGroupSpec{
		Name:       "windowed",
		Topology:   schema.TopologyBatch,
		MaxWorkers: 2,
		Steps:      steps,
	}

	report, err := sched.Run(context.Background(), group, expressions.NewContext(nil))

	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, report.Status)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestParallelBranchesAreIsolated(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]any)

	reg := actions.NewRegistry()
	reg.MustRegister(&stubAction{name: "test.peek", fn: func(ctx context.Context, input actions.ActionInput) (*actions.ActionOutput, error) {
		// Each branch mutates its own copy; siblings must not observe it.
		tag, _ := input.Params["tag"].(string)
		mu.Lock()
		seen[tag] = input.Store.Get("scratch")
		mu.Unlock()
		input.Store.Set("scratch", tag)
		return &actions.ActionOutput{Data: map[string]any{}}, nil
	}})
	sched := NewParallelScheduler(reg, nil)

	group := &schema.ParallelGroupSpec{
		Name: "isolated",
		Steps: []schema.StepSpec{
			{Name: "left", Kind: schema.StepKindAction, Action: "test.peek", Args: map[string]any{"tag": "left"}},
			{Name: "right", Kind: schema.StepKindAction, Action: "test.peek", Args: map[string]any{"tag": "right"}},
		},
	}
	store := expressions.NewContext(nil)

	_, err := sched.Run(context.Background(), group, store)

	require.NoError(t, err)
	assert.Nil(t, seen["left"])
	assert.Nil(t, seen["right"])
	// Branch global mutations stay in the branch; only step outputs merge.
	assert.Nil(t, store.Get("scratch"))
}

func TestParallelGroupValidation(t *testing.T) {
	sched := NewParallelScheduler(testRegistry(nil), nil)

	empty := &schema.ParallelGroupSpec{Name: "empty"}
	_, err := sched.Run(context.Background(), empty, expressions.NewContext(nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)

	noJoin := &schema.ParallelGroupSpec{
		Name:     "no-join",
		Topology: schema.TopologyForkJoin,
		Steps:    []schema.StepSpec{actionStep("a", "test.ok")},
	}
	_, err = sched.Run(context.Background(), noJoin, expressions.NewContext(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join_condition")
}
