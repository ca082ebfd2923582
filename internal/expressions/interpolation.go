package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxInterpolationPasses bounds the fixed-point loop in Interpolate. Nested
// templates resolve one layer per pass; the cap guarantees termination even
// for self-referential input.
const MaxInterpolationPasses = 5

// Interpolate replaces every {{ expr }} token in the template. The token
// grammar is:
//
//	{{ path }}                    dotted-path resolution (see ResolvePath)
//	{{ path | default }}          default when the path resolves to nil
//	{{ cond ? then : else }}      ternary; operands may nest {{...}}
//	{{ expression(...) }}         restricted expression (see Evaluate)
//
// Unresolvable references are left verbatim rather than raising; a template
// degrades instead of failing the run. Interpolating an already-resolved
// string is idempotent.
func (c *Context) Interpolate(template string) string {
	result := template
	for pass := 0; pass < MaxInterpolationPasses; pass++ {
		next := c.interpolatePass(result)
		if next == result {
			break
		}
		result = next
	}
	return result
}

// interpolatePass performs one substitution sweep over the input.
func (c *Context) interpolatePass(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			b.WriteString(input[i:])
			break
		}

		b.WriteString(input[i : i+idx])
		start := i + idx

		end, ok := findClosing(input, start+2)
		if !ok {
			// Unterminated token: emit the rest untouched.
			b.WriteString(input[start:])
			break
		}

		token := strings.TrimSpace(input[start+2 : end])
		if replaced, ok := c.resolveToken(token); ok {
			b.WriteString(replaced)
		} else {
			b.WriteString(input[start : end+2])
		}

		i = end + 2
	}

	return b.String()
}

// findClosing locates the matching "}}" for a token opened at pos-2,
// honoring nested {{...}} pairs. Returns the index of the closing marker.
func findClosing(s string, pos int) (int, bool) {
	depth := 1
	for pos < len(s)-1 {
		switch {
		case s[pos] == '{' && s[pos+1] == '{':
			depth++
			pos += 2
		case s[pos] == '}' && s[pos+1] == '}':
			depth--
			if depth == 0 {
				return pos, true
			}
			pos += 2
		default:
			pos++
		}
	}
	return 0, false
}

// resolveToken resolves a single token body. ok=false means the token must
// be left verbatim.
func (c *Context) resolveToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	// Ternary: cond ? then : else, split at top level only.
	if cond, thenVal, elseVal, ok := splitTernary(token); ok {
		chosen := elseVal
		if Truthy(c.Evaluate(cond)) {
			chosen = thenVal
		}
		if strings.Contains(chosen, "{{") {
			chosen = c.Interpolate(chosen)
		}
		return chosen, true
	}

	// Default: path | fallback.
	if path, fallback, ok := splitTopLevel(token, '|'); ok {
		value := c.ResolvePath(path)
		if value == nil {
			return strings.TrimSpace(fallback), true
		}
		return stringify(value), true
	}

	// Function call or restricted expression.
	if strings.Contains(token, "(") && strings.Contains(token, ")") {
		value := c.Evaluate(token)
		if value == nil {
			return "", false
		}
		return stringify(value), true
	}

	// Plain path.
	value := c.ResolvePath(token)
	if value == nil {
		return "", false
	}
	return stringify(value), true
}

// splitTernary finds the top-level '?' and ':' of a ternary token, ignoring
// separators inside quotes or nested {{...}} operands.
func splitTernary(token string) (cond, thenVal, elseVal string, ok bool) {
	questionPos, colonPos := -1, -1
	braceDepth := 0
	var quote byte

	for i := 0; i < len(token); i++ {
		ch := token[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '{' && i+1 < len(token) && token[i+1] == '{':
			braceDepth++
			i++
		case ch == '}' && i+1 < len(token) && token[i+1] == '}':
			braceDepth--
			i++
		case ch == '?' && braceDepth == 0 && questionPos == -1:
			questionPos = i
		case ch == ':' && braceDepth == 0 && questionPos != -1 && colonPos == -1:
			colonPos = i
		}
	}

	if questionPos == -1 || colonPos == -1 {
		return "", "", "", false
	}
	return strings.TrimSpace(token[:questionPos]),
		strings.TrimSpace(token[questionPos+1 : colonPos]),
		strings.TrimSpace(token[colonPos+1:]),
		true
}

// splitTopLevel splits a token on the first separator outside quotes. A
// doubled separator (the || operator) is not a split point.
func splitTopLevel(token string, sep byte) (left, right string, ok bool) {
	var quote byte
	for i := 0; i < len(token); i++ {
		ch := token[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == sep:
			if i+1 < len(token) && token[i+1] == sep {
				i++
				continue
			}
			return strings.TrimSpace(token[:i]), strings.TrimSpace(token[i+1:]), true
		}
	}
	return "", "", false
}

// stringify converts a resolved value into its inline string representation.
// Complex types are JSON-encoded so they stay machine-readable in templates.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
