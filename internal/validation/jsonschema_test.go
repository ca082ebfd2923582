package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloflow/veloflow/pkg/schema"
)

func TestParseWorkflowValid(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	spec, err := v.ParseWorkflow([]byte(`{
		"name": "deploy",
		"env": {"REGION": "eu-west-1"},
		"on_error": "cleanup",
		"steps": [
			{"name": "build", "command": "make build", "timeout": "30s"},
			{"name": "gate", "kind": "conditional", "if": "steps.build.status == 'success'",
			 "then": [{"name": "ship", "command": "make ship"}]}
		],
		"cleanup": [{"name": "teardown", "command": "make clean"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "deploy", spec.Name)
	assert.Equal(t, schema.ErrorPolicyCleanup, spec.Policy())
	require.Len(t, spec.Steps, 2)
	assert.Equal(t, 30*time.Second, spec.Steps[0].Timeout)
	assert.Equal(t, schema.StepKindConditional, spec.Steps[1].Kind)
	require.Len(t, spec.Steps[1].Then, 1)
	assert.Equal(t, "ship", spec.Steps[1].Then[0].Name)
	require.Len(t, spec.Cleanup, 1)
}

func TestParseWorkflowRejectsStructuralErrors(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cases := map[string]string{
		"not json":        `{`,
		"missing name":    `{"steps": [{"name": "a", "command": "x"}]}`,
		"empty steps":     `{"name": "wf", "steps": []}`,
		"unknown kind":    `{"name": "wf", "steps": [{"name": "a", "kind": "teleport"}]}`,
		"unknown field":   `{"name": "wf", "steps": [{"name": "a", "command": "x", "retries": 3}]}`,
		"bad timeout":     `{"name": "wf", "steps": [{"name": "a", "command": "x", "timeout": "soon"}]}`,
		"unknown policy":  `{"name": "wf", "on_error": "panic", "steps": [{"name": "a", "command": "x"}]}`,
		"missing command": `{"name": "wf", "steps": [{"name": "a"}]}`,
	}
	for label, raw := range cases {
		_, err := v.ParseWorkflow([]byte(raw))
		require.Error(t, err, label)
		assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code, label)
	}
}

func TestParseGroupValid(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	spec, err := v.ParseGroup([]byte(`{
		"name": "fanout",
		"topology": "pipeline",
		"max_workers": 4,
		"steps": [
			{"name": "a", "command": "x"},
			{"name": "b", "command": "y", "depends_on": ["a"]}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, schema.TopologyPipeline, spec.Mode())
	assert.Equal(t, 4, spec.Workers())
	assert.Equal(t, []string{"a"}, spec.Steps[1].DependsOn)
}

func TestParseGroupSemanticErrors(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	// fork_join without a join condition passes JSON Schema but fails the
	// semantic check.
	_, err = v.ParseGroup([]byte(`{
		"name": "g",
		"topology": "fork_join",
		"steps": [{"name": "a", "command": "x"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join_condition")

	// depends_on outside the pipeline topology.
	_, err = v.ParseGroup([]byte(`{
		"name": "g",
		"steps": [
			{"name": "a", "command": "x"},
			{"name": "b", "command": "y", "depends_on": ["a"]}
		]
	}`))
	require.Error(t, err)

	// self-dependency.
	_, err = v.ParseGroup([]byte(`{
		"name": "g",
		"topology": "pipeline",
		"steps": [{"name": "a", "command": "x", "depends_on": ["a"]}]
	}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.AsFlowError(err).Code)
}
