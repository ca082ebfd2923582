package expressions

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloflow/veloflow/pkg/schema"
)

// builtins are pure functions evaluated at resolve time. They form the
// highest-priority namespace during path resolution.
var builtins = map[string]func() any{
	"now":   func() any { return time.Now().Format(time.RFC3339) },
	"today": func() any { return time.Now().Format("2006-01-02") },
	"cwd": func() any {
		dir, err := os.Getwd()
		if err != nil {
			return nil
		}
		return dir
	},
	"home": func() any {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		return home
	},
}

// Context is the mutable variable and result store threaded through one run.
// It holds a global scope, per-step results, and run metadata. A Context is
// owned by exactly one run; parallel branches operate on copies (see Copy)
// that the scheduler merges back explicitly (see MergeStepOutputs).
type Context struct {
	mu      sync.RWMutex
	globals map[string]any
	steps   map[string]any
	meta    map[string]any

	// eval is shared across copies; compiled programs are cached inside.
	eval *ExprEngine

	currentStep string
}

// NewContext creates a Context seeded with the given global variables.
func NewContext(globals map[string]any) *Context {
	return &Context{
		globals: deepCopyMap(globals),
		steps:   make(map[string]any),
		meta: map[string]any{
			"run_id":          uuid.NewString(),
			"status":          string(schema.RunStatusInitialized),
			"start_time":      time.Now().Format(time.RFC3339),
			"steps_completed": 0,
			"errors":          []any{},
		},
		eval: NewExprEngine(),
	}
}

// Set stores a value in the global scope.
func (c *Context) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.globals == nil {
		c.globals = make(map[string]any)
	}
	c.globals[name] = value
}

// Get reads a value from the global scope; nil when absent.
func (c *Context) Get(name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.globals[name]
}

// SetStepResult records a step's result map under the given key. Values are
// deep-copied on insert so later mutation cannot reach back into the store.
// The engine writes each key exactly once per run.
func (c *Context) SetStepResult(key string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[key] = deepCopyMap(result)
}

// GetStepResult reads a previously recorded step result; nil when absent.
func (c *Context) GetStepResult(key string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.steps[key].(map[string]any); ok {
		return deepCopyMap(m)
	}
	return nil
}

// ResolvePath resolves a dotted path across the four namespaces in priority
// order: built-ins, step outputs (steps.<id>.<field...>), run metadata
// (workflow.<field>), then global scope (<name>.<field...>).
// Missing segments yield nil, never an error.
func (c *Context) ResolvePath(path string) any {
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil
	}

	if fn, ok := builtins[parts[0]]; ok {
		return traverse(fn(), parts[1:])
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if parts[0] == "steps" {
		if len(parts) < 2 {
			return nil
		}
		output, ok := c.steps[parts[1]]
		if !ok {
			return nil
		}
		return traverse(output, parts[2:])
	}

	if parts[0] == "workflow" {
		return traverse(c.meta, parts[1:])
	}

	if value, ok := c.globals[parts[0]]; ok {
		return traverse(value, parts[1:])
	}

	return nil
}

// traverse navigates into nested maps; any non-map segment yields nil.
func traverse(root any, segments []string) any {
	current := root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

// --- run metadata ---

// RunID returns the unique identifier assigned at creation.
func (c *Context) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, _ := c.meta["run_id"].(string)
	return id
}

// SetStatus updates the run status in the metadata namespace.
func (c *Context) SetStatus(status schema.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta["status"] = string(status)
}

// SetMetadata stores an arbitrary metadata field (workflow name, etc.).
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[key] = value
}

// IncrementCompleted bumps the completed-step counter.
func (c *Context) IncrementCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.meta["steps_completed"].(int)
	c.meta["steps_completed"] = n + 1
}

// SetCurrentStep records which step is executing, for error attribution.
func (c *Context) SetCurrentStep(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentStep = name
}

// AddError appends an entry to the run's error log.
func (c *Context) AddError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log, _ := c.meta["errors"].([]any)
	c.meta["errors"] = append(log, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"error":     message,
		"step":      c.currentStep,
	})
}

// --- copy / merge / snapshot ---

// Copy creates an independent deep copy for a parallel branch. The expression
// engine (and its compile cache) is shared; it is safe for concurrent use.
func (c *Context) Copy() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		globals:     deepCopyMap(c.globals),
		steps:       deepCopyMap(c.steps),
		meta:        deepCopyMap(c.meta),
		eval:        c.eval,
		currentStep: c.currentStep,
	}
}

// MergeStepOutputs merges step results recorded in a branch back into this
// Context. Only keys absent from the parent are added; results are written
// once and stay immutable. Merging is the scheduler's explicit
// responsibility, never implicit shared state.
func (c *Context) MergeStepOutputs(branch *Context) {
	branch.mu.RLock()
	branchSteps := deepCopyMap(branch.steps)
	branch.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, output := range branchSteps {
		if _, exists := c.steps[key]; !exists {
			c.steps[key] = output
		}
	}
}

// Snapshot serializes the full context (globals, step outputs, metadata) for
// host-side persistence or display.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any{
		"globals":  deepCopyMap(c.globals),
		"steps":    deepCopyMap(c.steps),
		"workflow": deepCopyMap(c.meta),
	}
}

// Restore reconstructs a Context from a Snapshot map. Missing namespaces
// start empty; a restored context keeps the snapshot's run metadata.
func Restore(snapshot map[string]any) *Context {
	c := NewContext(nil)
	if snapshot == nil {
		return c
	}
	if globals, ok := snapshot["globals"].(map[string]any); ok {
		c.globals = deepCopyMap(globals)
	}
	if steps, ok := snapshot["steps"].(map[string]any); ok {
		c.steps = deepCopyMap(steps)
	}
	if meta, ok := snapshot["workflow"].(map[string]any); ok {
		c.meta = deepCopyMap(meta)
	}
	return c
}

// --- deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		// Primitives are value types.
		return v
	}
}
