package engine

import (
	"sync"

	"github.com/veloflow/veloflow/pkg/schema"
)

// ValidStepTransitions is the step lifecycle table. A pending step either
// starts running or is skipped by its guard; a running step ends in success
// or error. Skipped and the two terminal states admit no further moves.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending: {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning: {schema.StepStatusSuccess, schema.StepStatusError},
	schema.StepStatusSuccess: {},
	schema.StepStatusError:   {},
	schema.StepStatusSkipped: {},
}

// StepFSM tracks one step's lifecycle and rejects illegal transitions.
type StepFSM struct {
	mu      sync.Mutex
	name    string
	current schema.StepStatus
}

// NewStepFSM creates a tracker starting in Pending.
func NewStepFSM(name string) *StepFSM {
	return &StepFSM{name: name, current: schema.StepStatusPending}
}

// Current returns the step's current status.
func (f *StepFSM) Current() schema.StepStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Transition moves the step to a new status, validating against the table.
func (f *StepFSM) Transition(to schema.StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStepTransition(f.current, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", f.current, to).
			WithStep(f.name).
			WithDetails(map[string]any{"from": string(f.current), "to": string(to)})
	}
	f.current = to
	return nil
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	allowed, ok := ValidStepTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
