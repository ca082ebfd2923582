package expressions

import "context"

// Engine evaluates expressions against a data scope.
// Three implementations: Expr (restricted logic), CEL (host conditions),
// GoJQ (transforms). All are safe for concurrent use.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
