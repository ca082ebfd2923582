package schema

import (
	"fmt"
	"time"
)

// StepKind enumerates the kinds of steps the engine can execute.
type StepKind string

const (
	StepKindCommand     StepKind = "command"     // external shell command
	StepKindCode        StepKind = "code"        // embedded interpreted code
	StepKindConditional StepKind = "conditional" // if/then/else branch
	StepKindAction      StepKind = "action"      // host-registered custom action
)

// validStepKinds is the set of recognized step kinds.
var validStepKinds = map[StepKind]bool{
	StepKindCommand:     true,
	StepKindCode:        true,
	StepKindConditional: true,
	StepKindAction:      true,
}

// ErrorPolicy controls how a workflow reacts to a failed step.
type ErrorPolicy string

const (
	ErrorPolicyStop     ErrorPolicy = "stop"     // abort on first unrecovered error
	ErrorPolicyContinue ErrorPolicy = "continue" // run every step regardless
	ErrorPolicyCleanup  ErrorPolicy = "cleanup"  // abort, then run cleanup steps best-effort
)

// Topology enumerates the parallel execution modes of a step group.
type Topology string

const (
	TopologyConcurrent Topology = "concurrent" // all steps at once
	TopologyBatch      Topology = "batch"      // fixed-size windows in declaration order
	TopologyForkJoin   Topology = "fork_join"  // concurrent, then a join condition gate
	TopologyPipeline   Topology = "pipeline"   // dependency waves via depends_on
)

// StepSpec describes a single unit of work. Specs are parsed once by the host
// and are read-only for the duration of a run.
type StepSpec struct {
	Name            string            `json:"name"`
	Kind            StepKind          `json:"kind,omitempty"` // default: command
	Command         string            `json:"command,omitempty"`
	Action          string            `json:"action,omitempty"` // action name for kind=action
	Args            map[string]any    `json:"args,omitempty"`   // free-form args for custom actions
	Env             map[string]string `json:"env,omitempty"`
	Condition       string            `json:"condition,omitempty"` // guard; empty means always run
	If              string            `json:"if,omitempty"`        // branch selector for kind=conditional
	Then            []StepSpec        `json:"then,omitempty"`
	Else            []StepSpec        `json:"else,omitempty"`
	Timeout         time.Duration     `json:"timeout,omitempty"`
	ContinueOnError bool              `json:"continue_on_error,omitempty"`
	DependsOn       []string          `json:"depends_on,omitempty"` // pipeline topology only
}

// Validate checks kind-specific constraints. Called eagerly at spec
// construction so misconfiguration never reaches execution.
func (s *StepSpec) Validate() error {
	if s.Name == "" {
		return NewError(ErrCodeValidation, "step has empty name")
	}

	kind := s.Kind
	if kind == "" {
		kind = StepKindCommand
	}
	if !validStepKinds[kind] {
		return NewErrorf(ErrCodeValidation, "step %s has unknown kind: %s", s.Name, s.Kind).WithStep(s.Name)
	}

	switch kind {
	case StepKindCommand, StepKindCode:
		if s.Command == "" {
			return NewErrorf(ErrCodeValidation, "step %s (%s) has no command body", s.Name, kind).WithStep(s.Name)
		}
	case StepKindConditional:
		if s.If == "" {
			return NewErrorf(ErrCodeValidation, "conditional step %s has no 'if' expression", s.Name).WithStep(s.Name)
		}
		for i := range s.Then {
			if err := s.Then[i].Validate(); err != nil {
				return err
			}
		}
		for i := range s.Else {
			if err := s.Else[i].Validate(); err != nil {
				return err
			}
		}
	case StepKindAction:
		if s.Action == "" {
			return NewErrorf(ErrCodeValidation, "action step %s has no action name", s.Name).WithStep(s.Name)
		}
	}
	return nil
}

// EffectiveKind returns the step kind with the default applied.
func (s *StepSpec) EffectiveKind() StepKind {
	if s.Kind == "" {
		return StepKindCommand
	}
	return s.Kind
}

// WorkflowSpec is an ordered list of steps executed sequentially.
type WorkflowSpec struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []StepSpec        `json:"steps"`
	Env         map[string]string `json:"env,omitempty"`
	OnError     ErrorPolicy       `json:"on_error,omitempty"` // default: stop
	Cleanup     []StepSpec        `json:"cleanup,omitempty"`
}

// Validate checks the workflow and all of its steps.
func (w *WorkflowSpec) Validate() error {
	if w.Name == "" {
		return NewError(ErrCodeValidation, "workflow has empty name")
	}
	switch w.OnError {
	case "", ErrorPolicyStop, ErrorPolicyContinue, ErrorPolicyCleanup:
	default:
		return NewErrorf(ErrCodeValidation, "workflow %s has unknown error policy: %s", w.Name, w.OnError)
	}
	for i := range w.Steps {
		if err := w.Steps[i].Validate(); err != nil {
			return err
		}
	}
	for i := range w.Cleanup {
		if err := w.Cleanup[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns the error policy with the default applied.
func (w *WorkflowSpec) Policy() ErrorPolicy {
	if w.OnError == "" {
		return ErrorPolicyStop
	}
	return w.OnError
}

// DefaultBatchWorkers is the window size used when a batch group omits max_workers.
const DefaultBatchWorkers = 3

// ParallelGroupSpec is a named set of steps executed under one topology.
type ParallelGroupSpec struct {
	Name          string     `json:"name"`
	Steps         []StepSpec `json:"steps"`
	Topology      Topology   `json:"topology,omitempty"` // default: concurrent
	MaxWorkers    int        `json:"max_workers,omitempty"`
	JoinCondition string     `json:"join_condition,omitempty"` // fork_join topology only
}

// Validate checks group-level constraints eagerly, at construction time.
func (g *ParallelGroupSpec) Validate() error {
	if g.Name == "" {
		return NewError(ErrCodeValidation, "parallel group has empty name")
	}
	if len(g.Steps) == 0 {
		return NewErrorf(ErrCodeValidation, "parallel group %s must have at least one step", g.Name)
	}

	switch g.Mode() {
	case TopologyConcurrent, TopologyBatch, TopologyPipeline:
	case TopologyForkJoin:
		if g.JoinCondition == "" {
			return NewErrorf(ErrCodeValidation, "parallel group %s: fork_join topology requires a join_condition", g.Name)
		}
	default:
		return NewErrorf(ErrCodeValidation, "parallel group %s has unknown topology: %s", g.Name, g.Topology)
	}

	seen := make(map[string]bool, len(g.Steps))
	for i := range g.Steps {
		step := &g.Steps[i]
		if err := step.Validate(); err != nil {
			return err
		}
		if seen[step.Name] {
			return NewErrorf(ErrCodeValidation, "parallel group %s has duplicate step name: %s", g.Name, step.Name)
		}
		seen[step.Name] = true
	}

	// Dependencies only make sense under the pipeline topology, and must
	// reference steps inside the group.
	for i := range g.Steps {
		step := &g.Steps[i]
		for _, dep := range step.DependsOn {
			if g.Mode() != TopologyPipeline {
				return NewErrorf(ErrCodeValidation,
					"parallel group %s: step %s declares depends_on under %s topology", g.Name, step.Name, g.Mode())
			}
			if !seen[dep] {
				return NewErrorf(ErrCodeValidation,
					"parallel group %s: step %s depends on unknown step: %s", g.Name, step.Name, dep)
			}
			if dep == step.Name {
				return NewErrorf(ErrCodeCycleDetected,
					"parallel group %s: step %s depends on itself", g.Name, step.Name)
			}
		}
	}
	return nil
}

// Mode returns the topology with the default applied.
func (g *ParallelGroupSpec) Mode() Topology {
	if g.Topology == "" {
		return TopologyConcurrent
	}
	return g.Topology
}

// Workers returns the batch window size with the default applied.
func (g *ParallelGroupSpec) Workers() int {
	if g.MaxWorkers <= 0 {
		return DefaultBatchWorkers
	}
	return g.MaxWorkers
}

// String implements fmt.Stringer for log output.
func (g *ParallelGroupSpec) String() string {
	return fmt.Sprintf("%s[%s, %d steps]", g.Name, g.Mode(), len(g.Steps))
}
