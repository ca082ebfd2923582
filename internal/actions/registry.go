package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/veloflow/veloflow/pkg/schema"
)

// Registry is the thread-safe action table. Lookup is by name; execution
// validates params against the action's declared input schema before
// dispatching.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action

	schemaMu    sync.RWMutex
	schemaCache map[string]*jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:     make(map[string]Action),
		schemaCache: make(map[string]*jsonschema.Schema),
	}
}

// Register adds an action to the registry. Duplicate names are an error.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// MustRegister registers a batch of actions, panicking on conflict. Used at
// startup for the builtin set.
func (r *Registry) MustRegister(acts ...Action) {
	for _, a := range acts {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "action %q not registered", name)
	}
	return action, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		s := a.Schema()
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Execute looks up an action, validates the params against its input schema
// and the action's own Validate hook, then runs it.
func (r *Registry) Execute(ctx context.Context, name string, input ActionInput) (*ActionOutput, error) {
	action, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	params := input.Params
	if params == nil {
		params = map[string]any{}
		input.Params = params
	}

	if is := action.Schema().InputSchema; len(is) > 0 {
		if err := r.validateInput(params, is); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"action %q: invalid input: %s", name, err.Error()).WithCause(err)
		}
	}

	if err := action.Validate(params); err != nil {
		return nil, err
	}

	return action.Execute(ctx, input)
}

// validateInput checks params against a JSON Schema, compiling and caching
// schemas by their source text.
func (r *Registry) validateInput(params map[string]any, inputSchema []byte) error {
	compiled, err := r.getOrCompile(inputSchema)
	if err != nil {
		return err
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return err
	}

	return compiled.Validate(doc)
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (r *Registry) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	r.schemaMu.RLock()
	if cached, ok := r.schemaCache[key]; ok {
		r.schemaMu.RUnlock()
		return cached, nil
	}
	r.schemaMu.RUnlock()

	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := r.schemaCache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL to avoid compiler resource collisions.
	url := fmt.Sprintf("veloflow://input-schema/%d", len(r.schemaCache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	r.schemaCache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
