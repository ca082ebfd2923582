package schema

import "time"

// StepStatus enumerates the lifecycle states of a step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusSkipped StepStatus = "skipped"
)

// RunStatus enumerates the overall states of a workflow or group run.
type RunStatus string

const (
	RunStatusInitialized RunStatus = "initialized"
	RunStatusRunning     RunStatus = "running"
	RunStatusSuccess     RunStatus = "success"
	RunStatusError       RunStatus = "error"
)

// StepResult is the immutable outcome record of one executed or skipped step.
// Exactly one is created per step per run, skipped steps included, so
// positional accounting stays exact. Payload fields vary by status.
type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`

	// Command payload.
	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	// Generic output value (code result, custom action result map, ...).
	Output any `json:"output,omitempty"`

	// Error / skip payload.
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Conditional payload.
	ConditionMet *bool        `json:"condition_met,omitempty"`
	SubResults   []StepResult `json:"sub_results,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// AsMap converts the result into the map shape stored in the run context,
// which is what templates and conditions resolve against
// (steps.<name>.status, steps.<name>.stdout, ...).
func (r *StepResult) AsMap() map[string]any {
	m := map[string]any{
		"status": string(r.Status),
	}
	if r.Status == StepStatusSuccess || r.ExitCode != 0 {
		m["exit_code"] = r.ExitCode
	}
	if r.Stdout != "" {
		m["stdout"] = r.Stdout
		m["output"] = r.Stdout
	}
	if r.Stderr != "" {
		m["stderr"] = r.Stderr
	}
	if r.Output != nil {
		m["output"] = r.Output
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.Reason != "" {
		m["reason"] = r.Reason
	}
	if r.ConditionMet != nil {
		m["condition_met"] = *r.ConditionMet
	}
	if len(r.SubResults) > 0 {
		subs := make([]any, len(r.SubResults))
		for i := range r.SubResults {
			subs[i] = r.SubResults[i].AsMap()
		}
		m["sub_results"] = subs
	}
	return m
}

// StepRecord pairs a result with its declaration position for run reports.
type StepRecord struct {
	Index  int        `json:"index"`
	Name   string     `json:"name"`
	Result StepResult `json:"result"`
}

// RunReport is the host-facing outcome of one workflow or group execution:
// overall status, ordered per-step results, and the final serialized context
// for downstream persistence or display.
type RunReport struct {
	RunID       string         `json:"run_id"`
	Name        string         `json:"name"`
	Status      RunStatus      `json:"status"`
	Results     []StepRecord   `json:"results"`
	Context     map[string]any `json:"context,omitempty"`
	Error       *FlowError     `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
