// Package conditions implements the guard language used by workflow steps:
// a small operator tree (and/or/not, comparisons, membership, substring and
// regex matching) evaluated against the run context. Evaluation is
// fail-closed: any parse or evaluation error reads as false, so a broken
// guard skips its step instead of crashing the run.
package conditions

import (
	"log/slog"
	"strings"

	"github.com/veloflow/veloflow/internal/expressions"
)

// EvaluateCondition decides whether a guard holds. The empty condition is
// vacuously true. The boolean words true/yes/on and false/no/off short-circuit
// without parsing. Everything else is interpolated, parsed and evaluated;
// failures are logged and read as false.
func EvaluateCondition(ctx *expressions.Context, condition string) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	switch strings.ToLower(condition) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	resolved := ctx.Interpolate(condition)

	node, err := Parse(resolved)
	if err != nil {
		slog.Warn("condition parse failed, treating as false",
			"condition", condition, "error", err)
		return false
	}

	result, err := node.Eval(ctx)
	if err != nil {
		slog.Warn("condition evaluation failed, treating as false",
			"condition", condition, "error", err)
		return false
	}
	return result
}
