package conditions

import (
	"strings"

	"github.com/veloflow/veloflow/pkg/schema"
)

// Parse builds a condition tree from source text. Precedence, loosest to
// tightest: or, and, not, comparison. Parentheses group subexpressions.
func Parse(condition string) (*Node, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty condition")
	}
	return parseOr(condition)
}

func errUnknownOperator(op string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown operator %q", op)
}

func parseOr(s string) (*Node, error) {
	if left, right, ok := splitOnWord(s, "or"); ok {
		l, err := parseOr(left)
		if err != nil {
			return nil, err
		}
		r, err := parseAnd(right)
		if err != nil {
			return nil, err
		}
		return &Node{Op: OpOr, Left: l, Right: r}, nil
	}
	return parseAnd(s)
}

func parseAnd(s string) (*Node, error) {
	if left, right, ok := splitOnWord(s, "and"); ok {
		l, err := parseAnd(left)
		if err != nil {
			return nil, err
		}
		r, err := parseNot(right)
		if err != nil {
			return nil, err
		}
		return &Node{Op: OpAnd, Left: l, Right: r}, nil
	}
	return parseNot(s)
}

func parseNot(s string) (*Node, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "not ") || strings.HasPrefix(lower, "not(") {
		inner, err := parseNot(trimmed[3:])
		if err != nil {
			return nil, err
		}
		return &Node{Op: OpNot, Left: inner}, nil
	}
	return parseComparison(trimmed)
}

// comparison operators in match order; two-character symbols before their
// one-character prefixes, "not in" before "in".
var wordOperators = []struct {
	text string
	op   Operator
}{
	{" not in ", OpNotIn},
	{" in ", OpIn},
	{" contains ", OpContains},
	{" matches ", OpMatches},
}

var symbolOperators = []struct {
	text string
	op   Operator
}{
	{"==", OpEq},
	{"!=", OpNeq},
	{">=", OpGte},
	{"<=", OpLte},
	{">", OpGt},
	{"<", OpLt},
}

func parseComparison(s string) (*Node, error) {
	trimmed := strings.TrimSpace(s)

	// Fully parenthesized subexpression restarts at the top.
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") && balanced(trimmed) {
		return parseOr(trimmed[1 : len(trimmed)-1])
	}

	for _, wo := range wordOperators {
		if left, right, ok := splitOnText(trimmed, wo.text, true); ok {
			return &Node{Op: wo.op, LeftVal: left, RightVal: right}, nil
		}
	}

	for _, so := range symbolOperators {
		if left, right, ok := splitOnText(trimmed, so.text, false); ok {
			return &Node{Op: so.op, LeftVal: left, RightVal: right}, nil
		}
	}

	return &Node{Op: OpLiteral, Literal: trimmed}, nil
}

// balanced reports whether the outermost parens of s wrap the whole string.
func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// splitOnWord splits on the LAST top-level occurrence of a lowercase word
// operator (space-delimited, outside quotes and parens), giving logical
// operators left associativity.
func splitOnWord(s string, word string) (left, right string, ok bool) {
	needle := " " + word + " "
	lower := strings.ToLower(s)

	depth := 0
	var quote byte
	for i := len(s) - len(needle); i >= 0; i-- {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			continue
		case ch == '\'' || ch == '"':
			quote = ch
			continue
		case ch == ')':
			depth++
			continue
		case ch == '(':
			depth--
			continue
		}
		if depth == 0 && strings.HasPrefix(lower[i:], needle) {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(needle):]), true
		}
	}
	return "", "", false
}

// splitOnText splits on the first top-level occurrence of an operator token.
// caseFold matches word operators case-insensitively.
func splitOnText(s, token string, caseFold bool) (left, right string, ok bool) {
	haystack := s
	needle := token
	if caseFold {
		haystack = strings.ToLower(s)
		needle = strings.ToLower(token)
	}

	depth := 0
	var quote byte
	for i := 0; i+len(needle) <= len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			continue
		case ch == '\'' || ch == '"':
			quote = ch
			continue
		case ch == '(':
			depth++
			continue
		case ch == ')':
			depth--
			continue
		}
		if depth == 0 && haystack[i:i+len(needle)] == needle {
			// Avoid splitting "!=" or ">=" at the bare ">" / "<".
			if (token == ">" || token == "<") && i+1 < len(s) && s[i+1] == '=' {
				continue
			}
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(needle):]), true
		}
	}
	return "", "", false
}
