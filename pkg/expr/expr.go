// Package expr expands ${{ ... }} expressions against named contexts.
//
// Expressions are plain lookups of the form context.key (for example
// matrix.target or event.branch). Text outside expressions passes through
// verbatim. There is no templating language: no conditionals, no loops,
// no function calls.
package expr

import (
	"fmt"
	"strings"
)

const (
	openMarker  = "${{"
	closeMarker = "}}"
)

// Context holds the named lookup tables expressions resolve against,
// e.g. "matrix", "env" and "event".
type Context map[string]map[string]string

// Ref is a single context.key reference found in an expression.
type Ref struct {
	Context string
	Key     string
}

func (r Ref) String() string {
	return r.Context + "." + r.Key
}

// Expand replaces every ${{ context.key }} expression in input with its
// value. Unknown contexts, unknown keys and malformed expressions are
// errors.
func Expand(input string, ctx Context) (string, error) {
	if !strings.Contains(input, openMarker) {
		return input, nil
	}

	var out strings.Builder

	rest := input

	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			out.WriteString(rest)

			break
		}

		out.WriteString(rest[:start])
		rest = rest[start+len(openMarker):]

		end := strings.Index(rest, closeMarker)
		if end < 0 {
			return "", fmt.Errorf("unterminated expression in %q", input)
		}

		ref, err := parseRef(rest[:end])
		if err != nil {
			return "", fmt.Errorf("invalid expression in %q: %w", input, err)
		}

		table, ok := ctx[ref.Context]
		if !ok {
			return "", fmt.Errorf("unknown context %q in expression %q", ref.Context, input)
		}

		value, ok := table[ref.Key]
		if !ok {
			return "", fmt.Errorf("unknown key %q in context %q in expression %q", ref.Key, ref.Context, input)
		}

		out.WriteString(value)

		rest = rest[end+len(closeMarker):]
	}

	return out.String(), nil
}

// ExpandMap expands every value of in. Returns nil for a nil map.
func ExpandMap(in map[string]string, ctx Context) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}

	out := make(map[string]string, len(in))

	for k, v := range in {
		expanded, err := Expand(v, ctx)
		if err != nil {
			return nil, err
		}

		out[k] = expanded
	}

	return out, nil
}

// HasExpression reports whether input contains at least one expression
// marker.
func HasExpression(input string) bool {
	return strings.Contains(input, openMarker)
}

// References returns the refs of every well-formed expression in input.
// Malformed expressions are skipped; use Expand to surface them as errors.
func References(input string) []Ref {
	var refs []Ref

	rest := input

	for {
		start := strings.Index(rest, openMarker)
		if start < 0 {
			break
		}

		rest = rest[start+len(openMarker):]

		end := strings.Index(rest, closeMarker)
		if end < 0 {
			break
		}

		if ref, err := parseRef(rest[:end]); err == nil {
			refs = append(refs, ref)
		}

		rest = rest[end+len(closeMarker):]
	}

	return refs
}

func parseRef(raw string) (Ref, error) {
	expr := strings.TrimSpace(raw)
	if expr == "" {
		return Ref{}, fmt.Errorf("empty expression")
	}

	context, key, found := strings.Cut(expr, ".")
	if !found || context == "" || key == "" {
		return Ref{}, fmt.Errorf("expected context.key, got %q", expr)
	}

	if strings.ContainsAny(key, " \t") {
		return Ref{}, fmt.Errorf("expected context.key, got %q", expr)
	}

	return Ref{Context: context, Key: key}, nil
}
