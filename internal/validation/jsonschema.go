// Package validation parses and validates host-supplied raw JSON workflow
// and group definitions. Structural checks run against embedded JSON
// Schemas; semantic checks (step kinds, policies, dependency references)
// run through the schema package's own validation.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/veloflow/veloflow/pkg/schema"
)

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://veloflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/step"}
    },
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "on_error": {"type": "string", "enum": ["stop", "continue", "cleanup"]},
    "cleanup": {"type": "array", "items": {"$ref": "#/$defs/step"}}
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "kind": {"type": "string", "enum": ["command", "code", "conditional", "action"]},
        "command": {"type": "string"},
        "action": {"type": "string"},
        "args": {"type": "object"},
        "env": {"type": "object", "additionalProperties": {"type": "string"}},
        "condition": {"type": "string"},
        "if": {"type": "string"},
        "then": {"type": "array", "items": {"$ref": "#/$defs/step"}},
        "else": {"type": "array", "items": {"$ref": "#/$defs/step"}},
        "timeout": {"type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"},
        "continue_on_error": {"type": "boolean"},
        "depends_on": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    }
  }
}`

const groupSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://veloflow.dev/schemas/group.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "https://veloflow.dev/schemas/workflow.json#/$defs/step"}
    },
    "topology": {"type": "string", "enum": ["concurrent", "batch", "fork_join", "pipeline"]},
    "max_workers": {"type": "integer", "minimum": 1},
    "join_condition": {"type": "string"}
  },
  "additionalProperties": false
}`

// Validator validates and decodes raw JSON definitions. Safe for concurrent use.
type Validator struct {
	workflow *jsonschema.Schema
	group    *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, src := range map[string]string{
		"https://veloflow.dev/schemas/workflow.json": workflowSchemaJSON,
		"https://veloflow.dev/schemas/group.json":    groupSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	wf, err := c.Compile("https://veloflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	grp, err := c.Compile("https://veloflow.dev/schemas/group.json")
	if err != nil {
		return nil, fmt.Errorf("compile group schema: %w", err)
	}

	return &Validator{workflow: wf, group: grp}, nil
}

// ParseWorkflow validates raw JSON against the workflow schema and decodes
// it into a WorkflowSpec, running semantic validation last.
func (v *Validator) ParseWorkflow(data []byte) (*schema.WorkflowSpec, error) {
	if err := v.validate(v.workflow, data); err != nil {
		return nil, err
	}

	var wire workflowWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode workflow definition").WithCause(err)
	}

	spec, err := wire.toSpec()
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// ParseGroup validates raw JSON against the group schema and decodes it into
// a ParallelGroupSpec, running semantic validation last.
func (v *Validator) ParseGroup(data []byte) (*schema.ParallelGroupSpec, error) {
	if err := v.validate(v.group, data); err != nil {
		return nil, err
	}

	var wire groupWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode group definition").WithCause(err)
	}

	spec, err := wire.toSpec()
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (v *Validator) validate(compiled *jsonschema.Schema, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "definition rejected: %s", err.Error()).WithCause(err)
	}
	return nil
}

// --- wire types ---
// Timeouts travel as duration strings ("30s"); the wire layer converts them.

type stepWire struct {
	Name            string            `json:"name"`
	Kind            string            `json:"kind,omitempty"`
	Command         string            `json:"command,omitempty"`
	Action          string            `json:"action,omitempty"`
	Args            map[string]any    `json:"args,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Condition       string            `json:"condition,omitempty"`
	If              string            `json:"if,omitempty"`
	Then            []stepWire        `json:"then,omitempty"`
	Else            []stepWire        `json:"else,omitempty"`
	Timeout         string            `json:"timeout,omitempty"`
	ContinueOnError bool              `json:"continue_on_error,omitempty"`
	DependsOn       []string          `json:"depends_on,omitempty"`
}

type workflowWire struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []stepWire        `json:"steps"`
	Env         map[string]string `json:"env,omitempty"`
	OnError     string            `json:"on_error,omitempty"`
	Cleanup     []stepWire        `json:"cleanup,omitempty"`
}

type groupWire struct {
	Name          string     `json:"name"`
	Steps         []stepWire `json:"steps"`
	Topology      string     `json:"topology,omitempty"`
	MaxWorkers    int        `json:"max_workers,omitempty"`
	JoinCondition string     `json:"join_condition,omitempty"`
}

func (w *stepWire) toSpec() (schema.StepSpec, error) {
	spec := schema.StepSpec{
		Name:            w.Name,
		Kind:            schema.StepKind(w.Kind),
		Command:         w.Command,
		Action:          w.Action,
		Args:            w.Args,
		Env:             w.Env,
		Condition:       w.Condition,
		If:              w.If,
		ContinueOnError: w.ContinueOnError,
		DependsOn:       w.DependsOn,
	}
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil {
			return spec, schema.NewErrorf(schema.ErrCodeValidation,
				"step %s has invalid timeout %q", w.Name, w.Timeout).WithStep(w.Name).WithCause(err)
		}
		spec.Timeout = d
	}
	for i := range w.Then {
		sub, err := w.Then[i].toSpec()
		if err != nil {
			return spec, err
		}
		spec.Then = append(spec.Then, sub)
	}
	for i := range w.Else {
		sub, err := w.Else[i].toSpec()
		if err != nil {
			return spec, err
		}
		spec.Else = append(spec.Else, sub)
	}
	return spec, nil
}

func (w *workflowWire) toSpec() (*schema.WorkflowSpec, error) {
	spec := &schema.WorkflowSpec{
		Name:        w.Name,
		Description: w.Description,
		Env:         w.Env,
		OnError:     schema.ErrorPolicy(w.OnError),
	}
	for i := range w.Steps {
		step, err := w.Steps[i].toSpec()
		if err != nil {
			return nil, err
		}
		spec.Steps = append(spec.Steps, step)
	}
	for i := range w.Cleanup {
		step, err := w.Cleanup[i].toSpec()
		if err != nil {
			return nil, err
		}
		spec.Cleanup = append(spec.Cleanup, step)
	}
	return spec, nil
}

func (w *groupWire) toSpec() (*schema.ParallelGroupSpec, error) {
	spec := &schema.ParallelGroupSpec{
		Name:          w.Name,
		Topology:      schema.Topology(w.Topology),
		MaxWorkers:    w.MaxWorkers,
		JoinCondition: w.JoinCondition,
	}
	for i := range w.Steps {
		step, err := w.Steps[i].toSpec()
		if err != nil {
			return nil, err
		}
		spec.Steps = append(spec.Steps, step)
	}
	return spec, nil
}
