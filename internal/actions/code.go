package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/veloflow/veloflow/pkg/schema"
)

// CodeActions returns the embedded-code actions.
func CodeActions() []Action {
	return []Action{
		&codeRunAction{},
	}
}

const codeRunInputSchema = `{
  "type": "object",
  "properties": {
    "source": {"type": "string"},
    "args": {"type": "object"}
  },
  "required": ["source"]
}`

// codeRunAction interprets an embedded Go snippet with yaegi. The snippet
// runs in a fresh interpreter with the stdlib available plus a "flow"
// package bound to the live run context: flow.Get/flow.Set read and write
// the global scope, so code steps can mutate shared state directly. The
// snippet's final expression value becomes the step result; stdout is
// captured separately.
type codeRunAction struct{}

func (a *codeRunAction) Name() string { return "code.run" }

func (a *codeRunAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Interpret an embedded Go snippet with read/write access to the run context.",
		InputSchema: json.RawMessage(codeRunInputSchema),
	}
}

func (a *codeRunAction) Validate(input map[string]any) error {
	if strings.TrimSpace(stringParam(input, "source", "")) == "" {
		return schema.NewError(schema.ErrCodeValidation, "code.run: missing required param 'source'")
	}
	return nil
}

func (a *codeRunAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	source := stringParam(params, "source", "")
	args, _ := params["args"].(map[string]any)

	var stdout bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stdout})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "code.run: load stdlib: %v", err).WithCause(err)
	}

	store := input.Store
	exports := interp.Exports{
		"flow/flow": {
			"Get": reflect.ValueOf(func(name string) any {
				if store == nil {
					return nil
				}
				return store.Get(name)
			}),
			"Set": reflect.ValueOf(func(name string, value any) {
				if store != nil {
					store.Set(name, value)
				}
			}),
			"Args": reflect.ValueOf(func() map[string]any {
				if args == nil {
					return map[string]any{}
				}
				return args
			}),
		},
	}
	if err := i.Use(exports); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "code.run: bind context: %v", err).WithCause(err)
	}

	done := make(chan struct{})
	var val reflect.Value
	var evalErr error
	go func() {
		defer close(done)
		val, evalErr = i.Eval(source)
	}()

	select {
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "code.run: interrupted: %v", ctx.Err()).
			WithCause(ctx.Err()).
			WithDetails(map[string]any{"stdout": stdout.String()})
	case <-done:
	}

	if evalErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "code.run: %v", evalErr).
			WithCause(evalErr).
			WithDetails(map[string]any{"stdout": stdout.String()})
	}

	var result any
	if val.IsValid() && val.CanInterface() {
		result = normalizeResult(val.Interface())
	}

	return &ActionOutput{Data: map[string]any{
		"result": result,
		"stdout": stdout.String(),
	}}, nil
}

// normalizeResult flattens interpreter values into JSON-friendly types.
func normalizeResult(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int64, float64, map[string]any, []any:
		return val
	default:
		return fmt.Sprint(val)
	}
}
