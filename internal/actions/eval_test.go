package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloflow/veloflow/internal/expressions"
)

func findAction(t *testing.T, acts []Action, name string) Action {
	t.Helper()
	for _, a := range acts {
		if a.Name() == name {
			return a
		}
	}
	t.Fatalf("action %s not found", name)
	return nil
}

func TestExprEvalAgainstContextSnapshot(t *testing.T) {
	store := expressions.NewContext(map[string]any{"n": 6})
	store.SetStepResult("calc", map[string]any{"output": 7})

	action := findAction(t, EvalActions(), "expr.eval")
	out, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{"expression": `globals["n"] * 7`},
		Store:  store,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out.Data["result"])
}

func TestExprEvalExplicitData(t *testing.T) {
	action := findAction(t, EvalActions(), "expr.eval")
	out, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{
			"expression": "a + b",
			"data":       map[string]any{"a": 1, "b": 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Data["result"])
}

func TestCELEvalAgainstContextSnapshot(t *testing.T) {
	store := expressions.NewContext(map[string]any{"threshold": 10})
	store.SetStepResult("probe", map[string]any{"status": "success"})

	action := findAction(t, EvalActions(), "cel.eval")
	out, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{"expression": `steps.probe.status == "success"`},
		Store:  store,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["result"])
}

func TestCELEvalCompileError(t *testing.T) {
	action := findAction(t, EvalActions(), "cel.eval")
	_, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{"expression": "steps ==="},
	})
	require.Error(t, err)
}

func TestJQTransform(t *testing.T) {
	action := findAction(t, TransformActions(), "jq")

	out, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{
			"expression": ".items | map(.value) | add",
			"data": map[string]any{
				"items": []any{
					map[string]any{"value": 1},
					map[string]any{"value": 2},
					map[string]any{"value": 3},
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(6), out.Data["result"])
}

func TestJQDefaultsToContextSnapshot(t *testing.T) {
	store := expressions.NewContext(nil)
	store.SetStepResult("fetch", map[string]any{"status": "success"})

	action := findAction(t, TransformActions(), "jq")
	out, err := action.Execute(context.Background(), ActionInput{
		Params: map[string]any{"expression": ".steps.fetch.status"},
		Store:  store,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Data["result"])
}
