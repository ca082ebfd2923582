package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloflow/veloflow/pkg/schema"
)

func TestContextSetGet(t *testing.T) {
	ctx := NewContext(map[string]any{"project": "demo"})

	assert.Equal(t, "demo", ctx.Get("project"))
	assert.Nil(t, ctx.Get("missing"))

	ctx.Set("count", 42)
	assert.Equal(t, 42, ctx.Get("count"))
}

func TestContextRunMetadata(t *testing.T) {
	ctx := NewContext(nil)

	require.NotEmpty(t, ctx.RunID())
	assert.Equal(t, string(schema.RunStatusInitialized), ctx.ResolvePath("workflow.status"))

	ctx.SetStatus(schema.RunStatusRunning)
	assert.Equal(t, string(schema.RunStatusRunning), ctx.ResolvePath("workflow.status"))

	ctx.IncrementCompleted()
	ctx.IncrementCompleted()
	assert.Equal(t, 2, ctx.ResolvePath("workflow.steps_completed"))
}

func TestResolvePathPriority(t *testing.T) {
	// A global named like a builtin must lose to the builtin.
	ctx := NewContext(map[string]any{"today": "never"})
	resolved, ok := ctx.ResolvePath("today").(string)
	require.True(t, ok)
	assert.NotEqual(t, "never", resolved)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, resolved)
}

func TestResolvePathNamespaces(t *testing.T) {
	ctx := NewContext(map[string]any{
		"config": map[string]any{"region": "eu-west-1"},
	})
	ctx.SetStepResult("fetch", map[string]any{
		"status": "success",
		"output": map[string]any{"count": 7},
	})

	assert.Equal(t, "eu-west-1", ctx.ResolvePath("config.region"))
	assert.Equal(t, "success", ctx.ResolvePath("steps.fetch.status"))
	assert.Equal(t, 7, ctx.ResolvePath("steps.fetch.output.count"))

	// Missing segments are nil at every depth.
	assert.Nil(t, ctx.ResolvePath("steps.fetch.output.missing"))
	assert.Nil(t, ctx.ResolvePath("steps.nope.status"))
	assert.Nil(t, ctx.ResolvePath("config.region.deeper"))
	assert.Nil(t, ctx.ResolvePath(""))
}

func TestStepResultIsolation(t *testing.T) {
	ctx := NewContext(nil)

	result := map[string]any{"status": "success"}
	ctx.SetStepResult("a", result)
	result["status"] = "mutated"

	assert.Equal(t, "success", ctx.ResolvePath("steps.a.status"))

	read := ctx.GetStepResult("a")
	read["status"] = "mutated"
	assert.Equal(t, "success", ctx.ResolvePath("steps.a.status"))
}

func TestCopyIsIndependent(t *testing.T) {
	parent := NewContext(map[string]any{"shared": "original"})
	parent.SetStepResult("first", map[string]any{"status": "success"})

	branch := parent.Copy()
	branch.Set("shared", "branch-value")
	branch.SetStepResult("second", map[string]any{"status": "success"})

	assert.Equal(t, "original", parent.Get("shared"))
	assert.Nil(t, parent.ResolvePath("steps.second"))
	assert.NotNil(t, branch.ResolvePath("steps.first"))
}

func TestMergeStepOutputsOnlyNewKeys(t *testing.T) {
	parent := NewContext(nil)
	parent.SetStepResult("a", map[string]any{"status": "success"})

	branch := parent.Copy()
	branch.SetStepResult("a", map[string]any{"status": "error"})
	branch.SetStepResult("b", map[string]any{"status": "success"})

	parent.MergeStepOutputs(branch)

	// Existing keys are immutable; only new keys land.
	assert.Equal(t, "success", parent.ResolvePath("steps.a.status"))
	assert.Equal(t, "success", parent.ResolvePath("steps.b.status"))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := NewContext(map[string]any{"key": "value"})
	ctx.SetStepResult("done", map[string]any{"status": "success"})
	ctx.SetStatus(schema.RunStatusSuccess)

	restored := Restore(ctx.Snapshot())

	assert.Equal(t, "value", restored.Get("key"))
	assert.Equal(t, "success", restored.ResolvePath("steps.done.status"))
	assert.Equal(t, ctx.RunID(), restored.RunID())
}

func TestAddErrorAttribution(t *testing.T) {
	ctx := NewContext(nil)
	ctx.SetCurrentStep("deploy")
	ctx.AddError("boom")

	errs, ok := ctx.ResolvePath("workflow.errors").([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	entry, ok := errs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "deploy", entry["step"])
}

func TestEvaluateRestricted(t *testing.T) {
	ctx := NewContext(map[string]any{"a": 2, "b": 3})
	ctx.SetStepResult("calc", map[string]any{"output": 10})

	assert.Equal(t, 5, ctx.Evaluate("a + b"))
	assert.Equal(t, true, ctx.Evaluate("a < b"))
	assert.Equal(t, 5, ctx.Evaluate(`length("hello")`))
	assert.Equal(t, "2", ctx.Evaluate("str(a)"))

	// Malformed or unknown input yields nil, never a panic or error.
	assert.Nil(t, ctx.Evaluate("a +"))
	assert.Nil(t, ctx.Evaluate(""))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("FALSE"))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy("yes"))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy([]any{1}))
}
