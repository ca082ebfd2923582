package actions

import (
	"context"
	"encoding/json"

	"github.com/veloflow/veloflow/internal/expressions"
	"github.com/veloflow/veloflow/pkg/schema"
)

// EvalActions returns the expression evaluation actions.
func EvalActions() []Action {
	acts := []Action{
		&exprEvalAction{engine: expressions.NewExprEngine()},
	}
	if celEngine, err := expressions.NewCELEngine(); err == nil {
		acts = append(acts, &celEvalAction{engine: celEngine})
	}
	return acts
}

const evalInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string"},
    "data": {"type": "object"}
  },
  "required": ["expression"]
}`

// --- expr.eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate an Expr expression against the context snapshot or explicit data.",
		InputSchema: json.RawMessage(evalInputSchema),
	}
}

func (a *exprEvalAction) Validate(input map[string]any) error {
	if stringParam(input, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "expr.eval: missing required param 'expression'")
	}
	return nil
}

func (a *exprEvalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	expression := stringParam(params, "expression", "")
	scope := evalScope(params, input.Store)

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}

	return &ActionOutput{Data: map[string]any{"result": result}}, nil
}

// --- cel.eval ---

type celEvalAction struct {
	engine *expressions.CELEngine
}

func (a *celEvalAction) Name() string { return "cel.eval" }

func (a *celEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate a CEL expression against the context snapshot or explicit data.",
		InputSchema: json.RawMessage(evalInputSchema),
	}
}

func (a *celEvalAction) Validate(input map[string]any) error {
	if stringParam(input, "expression", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "cel.eval: missing required param 'expression'")
	}
	return nil
}

func (a *celEvalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	expression := stringParam(params, "expression", "")
	scope := evalScope(params, input.Store)

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}

	return &ActionOutput{Data: map[string]any{"result": result}}, nil
}

// evalScope builds the evaluation data: explicit data wins, otherwise the
// context snapshot namespaces.
func evalScope(params map[string]any, store *expressions.Context) map[string]any {
	if data, ok := params["data"].(map[string]any); ok {
		return data
	}
	if store != nil {
		return store.Snapshot()
	}
	return map[string]any{}
}
