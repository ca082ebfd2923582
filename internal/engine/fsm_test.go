package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloflow/veloflow/pkg/schema"
)

func TestStepFSMHappyPath(t *testing.T) {
	fsm := NewStepFSM("build")
	assert.Equal(t, schema.StepStatusPending, fsm.Current())

	require.NoError(t, fsm.Transition(schema.StepStatusRunning))
	require.NoError(t, fsm.Transition(schema.StepStatusSuccess))
	assert.Equal(t, schema.StepStatusSuccess, fsm.Current())
}

func TestStepFSMSkipPath(t *testing.T) {
	fsm := NewStepFSM("guarded")
	require.NoError(t, fsm.Transition(schema.StepStatusSkipped))

	// Skipped is terminal.
	err := fsm.Transition(schema.StepStatusRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.AsFlowError(err).Code)
}

func TestStepFSMRejectsIllegalMoves(t *testing.T) {
	tests := []struct {
		from, to schema.StepStatus
	}{
		{schema.StepStatusPending, schema.StepStatusSuccess},
		{schema.StepStatusPending, schema.StepStatusError},
		{schema.StepStatusRunning, schema.StepStatusSkipped},
		{schema.StepStatusSuccess, schema.StepStatusRunning},
		{schema.StepStatusError, schema.StepStatusSuccess},
	}
	for _, tt := range tests {
		assert.False(t, isValidStepTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStepFSMErrorCarriesStepName(t *testing.T) {
	fsm := NewStepFSM("deploy")
	err := fsm.Transition(schema.StepStatusSuccess)
	require.Error(t, err)
	assert.Equal(t, "deploy", schema.AsFlowError(err).StepName)
}
