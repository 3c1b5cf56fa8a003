// Package resolver implements the `${outputs...}`/`${variables...}` template
// grammar (§4.1), walking strings/maps/slices recursively the way the
// teacher's RuntimeContext.resolveValue does, but against the narrower
// grammar the spec defines rather than a general expression language.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// Source supplies the two namespaces a template may reference.
type Source interface {
	Variable(name string) (any, bool)
	Output(nodeID string) (any, bool)
}

type mapSource struct {
	variables map[string]any
	outputs   map[string]any
}

// NewMapSource builds a Source over plain maps, as returned by
// workflow.Context.Snapshot.
func NewMapSource(variables, outputs map[string]any) Source {
	return mapSource{variables: variables, outputs: outputs}
}

func (s mapSource) Variable(name string) (any, bool) {
	v, ok := s.variables[name]
	return v, ok
}

func (s mapSource) Output(nodeID string) (any, bool) {
	v, ok := s.outputs[nodeID]
	return v, ok
}

// Resolve walks an arbitrary JSON-shaped value (string, map, slice, or
// scalar) and substitutes every `${...}` template it finds. A value whose
// ENTIRE string is a single template is replaced by the referenced value
// verbatim (preserving its type); a template embedded within a larger
// string is stringified and interpolated. Resolution runs once per call and
// does not recurse into a substituted value: `${...}` text inside a
// substituted value is left as-is by this call and would be resolved by a
// further call on the result.
func Resolve(value any, src Source) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, src)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := Resolve(item, src)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := Resolve(item, src)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString is a convenience wrapper for callers that only ever deal
// with string templates (e.g. LLM message content).
func ResolveString(s string, src Source) (string, error) {
	v, err := resolveString(s, src)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func resolveString(s string, src Source) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	if isWholeTemplate(s) {
		path := s[2 : len(s)-1]
		val, ok := lookup(path, src)
		if !ok {
			// §4.1: an unresolved reference is non-fatal — the original
			// literal is preserved verbatim rather than erroring out.
			return s, nil
		}
		return val, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		literal := rest[start : end+1]
		val, ok := lookup(rest[start+2:end], src)
		if !ok {
			b.WriteString(literal)
		} else {
			b.WriteString(stringify(val))
		}
		rest = rest[end+1:]
	}
	return b.String(), nil
}

func isWholeTemplate(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") &&
		strings.Count(s, "${") == 1 && strings.Count(s, "}") == 1
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// lookup resolves one `path` expression from inside `${...}`, e.g.
// `outputs.fetch.body.items[0].id` or `variables.tenant`. A miss at any
// stage — unknown namespace, unknown variable/output name, or a path
// segment that doesn't exist in the value — is reported via the bool
// return rather than an error: per §4.1, an unresolved reference is
// non-fatal and the caller preserves the original `${...}` literal.
func lookup(path string, src Source) (any, bool) {
	segments := splitPath(path)
	if len(segments) < 2 {
		return nil, false
	}

	var root any
	var ok bool
	switch segments[0] {
	case "variables":
		root, ok = src.Variable(segments[1])
	case "outputs":
		root, ok = src.Output(segments[1])
	default:
		return nil, false
	}
	if !ok {
		return nil, false
	}

	return walk(root, segments[2:])
}

// splitPath breaks `outputs.fetch.body.items[0].id` into
// ["outputs","fetch","body","items","0","id"].
func splitPath(path string) []string {
	var segments []string
	for _, dotted := range strings.Split(path, ".") {
		for dotted != "" {
			open := strings.IndexByte(dotted, '[')
			if open < 0 {
				segments = append(segments, dotted)
				break
			}
			if open > 0 {
				segments = append(segments, dotted[:open])
			}
			close := strings.IndexByte(dotted, ']')
			if close < 0 {
				segments = append(segments, dotted[open+1:])
				break
			}
			segments = append(segments, dotted[open+1:close])
			dotted = dotted[close+1:]
		}
	}
	return segments
}

func walk(value any, path []string) (any, bool) {
	cur := value
	for _, seg := range path {
		switch container := cur.(type) {
		case map[string]any:
			v, ok := container[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, false
			}
			cur = container[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
