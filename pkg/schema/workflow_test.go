package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    StepSpec
		wantErr bool
	}{
		{"command ok", StepSpec{Name: "a", Command: "echo hi"}, false},
		{"default kind is command", StepSpec{Name: "a", Command: "echo"}, false},
		{"empty name", StepSpec{Command: "echo"}, true},
		{"unknown kind", StepSpec{Name: "a", Kind: "teleport"}, true},
		{"command without body", StepSpec{Name: "a", Kind: StepKindCommand}, true},
		{"code without body", StepSpec{Name: "a", Kind: StepKindCode}, true},
		{"conditional without if", StepSpec{Name: "a", Kind: StepKindConditional}, true},
		{"action without name", StepSpec{Name: "a", Kind: StepKindAction}, true},
		{"conditional ok", StepSpec{
			Name: "a", Kind: StepKindConditional, If: "x == 1",
			Then: []StepSpec{{Name: "b", Command: "echo"}},
		}, false},
		{"invalid nested branch step", StepSpec{
			Name: "a", Kind: StepKindConditional, If: "x == 1",
			Then: []StepSpec{{Name: "b", Kind: StepKindCommand}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrCodeValidation, AsFlowError(err).Code)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowSpecValidate(t *testing.T) {
	ok := WorkflowSpec{Name: "wf", Steps: []StepSpec{{Name: "a", Command: "x"}}}
	assert.NoError(t, ok.Validate())

	noName := WorkflowSpec{Steps: []StepSpec{{Name: "a", Command: "x"}}}
	assert.Error(t, noName.Validate())

	badPolicy := WorkflowSpec{Name: "wf", OnError: "explode", Steps: []StepSpec{{Name: "a", Command: "x"}}}
	assert.Error(t, badPolicy.Validate())

	badCleanup := WorkflowSpec{
		Name:    "wf",
		Steps:   []StepSpec{{Name: "a", Command: "x"}},
		Cleanup: []StepSpec{{Name: ""}},
	}
	assert.Error(t, badCleanup.Validate())
}

func TestParallelGroupSpecValidate(t *testing.T) {
	assert.Error(t, (&ParallelGroupSpec{Name: "g"}).Validate())

	dup := ParallelGroupSpec{
		Name:  "g",
		Steps: []StepSpec{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}},
	}
	assert.Error(t, dup.Validate())

	unknownTopo := ParallelGroupSpec{
		Name:     "g",
		Topology: "mesh",
		Steps:    []StepSpec{{Name: "a", Command: "x"}},
	}
	assert.Error(t, unknownTopo.Validate())

	unknownDep := ParallelGroupSpec{
		Name:     "g",
		Topology: TopologyPipeline,
		Steps:    []StepSpec{{Name: "a", Command: "x", DependsOn: []string{"ghost"}}},
	}
	assert.Error(t, unknownDep.Validate())
}

func TestDefaults(t *testing.T) {
	step := StepSpec{Name: "a", Command: "x"}
	assert.Equal(t, StepKindCommand, step.EffectiveKind())

	wf := WorkflowSpec{Name: "wf"}
	assert.Equal(t, ErrorPolicyStop, wf.Policy())

	group := ParallelGroupSpec{Name: "g"}
	assert.Equal(t, TopologyConcurrent, group.Mode())
	assert.Equal(t, DefaultBatchWorkers, group.Workers())
}

func TestStepResultAsMap(t *testing.T) {
	met := true
	r := StepResult{
		Name:         "deploy",
		Status:       StepStatusSuccess,
		Stdout:       "done\n",
		ConditionMet: &met,
		SubResults:   []StepResult{{Name: "sub", Status: StepStatusSkipped, Reason: "Condition not met"}},
	}

	m := r.AsMap()
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, "done\n", m["stdout"])
	assert.Equal(t, true, m["condition_met"])

	subs, ok := m["sub_results"].([]any)
	require.True(t, ok)
	require.Len(t, subs, 1)
	sub, ok := subs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "skipped", sub["status"])
	assert.Equal(t, "Condition not met", sub["reason"])
}

func TestFlowErrorShape(t *testing.T) {
	cause := NewError(ErrCodeExecution, "inner")
	err := NewErrorf(ErrCodeStepFailed, "step %s failed", "build").
		WithStep("build").
		WithCause(cause).
		WithDetails(map[string]any{"exit_code": 2})

	assert.Contains(t, err.Error(), "STEP_FAILED")
	assert.Contains(t, err.Error(), "build")
	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, 2, err.Details["exit_code"])

	assert.Nil(t, AsFlowError(nil))
	assert.Same(t, err, AsFlowError(err))

	wrapped := AsFlowError(assert.AnError)
	assert.Equal(t, ErrCodeExecution, wrapped.Code)
}
