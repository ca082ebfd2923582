package actions

import (
	"context"
	"encoding/json"

	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/pkg/schema"
)

// TransformActions returns the data transformation actions.
func TransformActions() []Action {
	return []Action{
		&jqAction{engine: expressions.NewGoJQEngine()},
	}
}

const jqInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string"},
    "data": {"type": "object"}
  },
  "required": ["expression"]
}`

// jqAction filters and reshapes data with a jq expression. When no explicit
// data is given, the input is a snapshot of the run context (globals, steps,
// workflow).
type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Transform data with a jq expression; defaults to the context snapshot as input.",
		InputSchema: json.RawMessage(jqInputSchema),
	}
}

func (a *jqAction) Validate(input map[string]any) error {
	if stringParam(input, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "jq: missing required param 'expression'")
	}
	return nil
}

func (a *jqAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	expression := stringParam(params, "expression", "")

	data, _ := params["data"].(map[string]any)
	if data == nil && input.Store != nil {
		data = input.Store.Snapshot()
	}
	if data == nil {
		data = map[string]any{}
	}

	result, err := a.engine.Evaluate(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	return &ActionOutput{Data: map[string]any{"result": result}}, nil
}
