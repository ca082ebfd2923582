package conditions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/veloflow/veloflow/internal/expressions"
)

// Operator identifies a node in the condition tree.
type Operator string

const (
	OpAnd      Operator = "AND"
	OpOr       Operator = "OR"
	OpNot      Operator = "NOT"
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpLt       Operator = "<"
	OpGte      Operator = ">="
	OpLte      Operator = "<="
	OpIn       Operator = "in"
	OpNotIn    Operator = "not in"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
	OpLiteral  Operator = "literal"
)

// Node is one node of a parsed condition tree. Logical nodes carry child
// nodes; comparison nodes carry raw operand strings resolved at eval time;
// literal nodes carry the bare expression text.
type Node struct {
	Op    Operator
	Left  *Node
	Right *Node

	LeftVal  string
	RightVal string

	Literal string
}

// Eval evaluates the tree against a run context. Comparison operands are
// resolved lazily: quoted text is a string literal, numerals and boolean
// words are typed literals, anything else is tried as a context path and
// falls back to its own text.
func (n *Node) Eval(ctx *expressions.Context) (bool, error) {
	switch n.Op {
	case OpAnd:
		left, err := n.Left.Eval(ctx)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return n.Right.Eval(ctx)

	case OpOr:
		left, err := n.Left.Eval(ctx)
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return n.Right.Eval(ctx)

	case OpNot:
		inner, err := n.Left.Eval(ctx)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
		return evalComparison(n.Op, resolveOperand(ctx, n.LeftVal), resolveOperand(ctx, n.RightVal))

	case OpIn:
		return evalIn(resolveOperand(ctx, n.LeftVal), resolveOperand(ctx, n.RightVal))

	case OpNotIn:
		in, err := evalIn(resolveOperand(ctx, n.LeftVal), resolveOperand(ctx, n.RightVal))
		if err != nil {
			return false, err
		}
		return !in, nil

	case OpContains:
		return evalContains(resolveOperand(ctx, n.LeftVal), resolveOperand(ctx, n.RightVal))

	case OpMatches:
		return evalMatches(resolveOperand(ctx, n.LeftVal), resolveOperand(ctx, n.RightVal))

	case OpLiteral:
		return expressions.Truthy(resolveReference(ctx, n.Literal)), nil
	}

	return false, errUnknownOperator(string(n.Op))
}

// resolveOperand turns a raw operand string into a typed value.
func resolveOperand(ctx *expressions.Context, raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') ||
			(raw[0] == '"' && raw[len(raw)-1] == '"') {
			return raw[1 : len(raw)-1]
		}
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}

	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil", "none":
		return nil
	}

	if v := ctx.ResolvePath(raw); v != nil {
		return v
	}

	// Unresolvable paths read as their own text, matching the relaxed
	// string comparison semantics.
	return raw
}

// resolveReference is resolveOperand without the raw-text fallback: a bare
// reference that resolves to nothing is nil, so a standalone unknown path
// reads as false instead of a truthy non-empty string.
func resolveReference(ctx *expressions.Context, raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') ||
			(raw[0] == '"' && raw[len(raw)-1] == '"') {
			return raw[1 : len(raw)-1]
		}
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return ctx.ResolvePath(raw)
}

// evalComparison applies the coercion ladder: numeric first, boolean-word
// second, case-insensitive string last.
func evalComparison(op Operator, left, right any) (bool, error) {
	if ln, lok := expressions.ToNumber(left); lok {
		if rn, rok := expressions.ToNumber(right); rok {
			return compareFloats(op, ln, rn), nil
		}
	}

	if lb, lok := toBool(left); lok {
		if rb, rok := toBool(right); rok {
			switch op {
			case OpEq:
				return lb == rb, nil
			case OpNeq:
				return lb != rb, nil
			}
		}
	}

	ls := strings.ToLower(stringOf(left))
	rs := strings.ToLower(stringOf(right))
	switch op {
	case OpEq:
		return ls == rs, nil
	case OpNeq:
		return ls != rs, nil
	case OpGt:
		return ls > rs, nil
	case OpLt:
		return ls < rs, nil
	case OpGte:
		return ls >= rs, nil
	case OpLte:
		return ls <= rs, nil
	}
	return false, errUnknownOperator(string(op))
}

func compareFloats(op Operator, l, r float64) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNeq:
		return l != r
	case OpGt:
		return l > r
	case OpLt:
		return l < r
	case OpGte:
		return l >= r
	case OpLte:
		return l <= r
	}
	return false
}

// evalIn checks membership of left in right: element of a list, or
// substring of a string.
func evalIn(left, right any) (bool, error) {
	switch coll := right.(type) {
	case []any:
		for _, item := range coll {
			if eq, _ := evalComparison(OpEq, left, item); eq {
				return true, nil
			}
		}
		return false, nil
	case string:
		return strings.Contains(coll, stringOf(left)), nil
	default:
		return false, nil
	}
}

// evalContains is the mirror of in: the collection is on the left.
func evalContains(left, right any) (bool, error) {
	return evalIn(right, left)
}

// evalMatches anchors the pattern at the start of the subject, so
// "v1.2" matches "^v\d" style prefixes without requiring explicit anchors.
func evalMatches(left, right any) (bool, error) {
	pattern := stringOf(right)
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return false, err
	}
	return re.MatchString(stringOf(left)), nil
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "on":
			return true, true
		case "false", "no", "off":
			return false, true
		}
	}
	return false, false
}

func stringOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
