package actions

import (
	"context"
	"encoding/json"

	"github.com/veloflow/veloflow/internal/expressions"
)

// Action is an executable unit of work within a workflow step.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(input map[string]any) error
}

// ActionSchema describes the input/output contract of an action.
type ActionSchema struct {
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time. Params
// are the step's interpolated arguments. Store is the live run context;
// actions that document a mutation side-effect (code.run) write through it,
// the rest read snapshots.
type ActionInput struct {
	Params map[string]any `json:"params"`
	Store  *expressions.Context
}

// ActionOutput is the result of an action execution. Data keys become the
// step's output fields in the context store.
type ActionOutput struct {
	Data map[string]any `json:"data,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
