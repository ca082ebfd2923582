package expressions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// evalFunctions is the allow-listed function table installed into every
// evaluation environment, alongside the expr built-ins. The evaluator never
// reaches host state beyond these bindings and the namespaces below.
func evalFunctions() map[string]any {
	return map[string]any{
		"length": func(v any) int {
			switch val := v.(type) {
			case string:
				return len(val)
			case []any:
				return len(val)
			case map[string]any:
				return len(val)
			default:
				return 0
			}
		},
		"str": func(v any) string {
			return fmt.Sprint(v)
		},
		"sum": func(items []any) float64 {
			var total float64
			for _, item := range items {
				if n, ok := ToNumber(item); ok {
					total += n
				}
			}
			return total
		},
	}
}

// Evaluate runs a restricted expression bound to the global, built-in, step
// and workflow namespaces. Malformed expressions return nil, never an error;
// templates and conditions degrade instead of crashing the run.
func (c *Context) Evaluate(expression string) any {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}

	env := evalFunctions()
	for name, fn := range builtins {
		env[name] = fn()
	}

	c.mu.RLock()
	for k, v := range c.globals {
		env[k] = deepCopyAny(v)
	}
	env["steps"] = deepCopyMap(c.steps)
	env["workflow"] = deepCopyMap(c.meta)
	eval := c.eval
	c.mu.RUnlock()

	out, err := eval.Evaluate(context.Background(), expression, env)
	if err != nil {
		return nil
	}
	return out
}

// Truthy reports whether a resolved value counts as true: nil, false, zero,
// the empty string and empty collections are false, everything else true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && !strings.EqualFold(val, "false")
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// ToNumber attempts numeric coercion of a value.
func ToNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
