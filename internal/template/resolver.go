// Package template implements the ${} reference language used in workflow
// params and outputs.
//
// A reference is ${root}, ${root.key}, ${root.key.subkey} or ${root.key[2]}.
// Resolution walks the shared store: workflow inputs and flat context keys are
// root-level entries, node outputs live under the node's namespace entry.
// A template that consists of exactly one reference resolves to the raw value
// with its native type preserved (including []byte, lists and maps). Any
// template with surrounding text or multiple references stringifies its
// substitutions; []byte in that position is rejected because binary data
// cannot be embedded mid-string.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pflow/internal/api"
)

// refPattern matches a single ${...} reference. Path segments allow kebab and
// underscore identifiers plus numeric [index] access. The closing brace
// terminates the match, so "${node.key}." resolves only ${node.key} and the
// trailing period stays literal text.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_-]*(?:\.[A-Za-z0-9_-]+|\[[0-9]+\])*)\}`)

// Vars is the resolution source for a template: the shared store plus an
// optional overlay of scoped bindings (batch item bindings shadow store keys).
type Vars struct {
	store   map[string]any
	overlay map[string]any
}

// NewVars wraps a shared-store snapshot for resolution.
func NewVars(store map[string]any) Vars {
	return Vars{store: store}
}

// WithBinding returns a copy of v where name resolves to value before the
// store is consulted. Used by the batch wrapper for the `as` binding.
func (v Vars) WithBinding(name string, value any) Vars {
	overlay := make(map[string]any, len(v.overlay)+1)
	for k, val := range v.overlay {
		overlay[k] = val
	}
	overlay[name] = value
	return Vars{store: v.store, overlay: overlay}
}

func (v Vars) lookup(root string) (any, bool) {
	if val, ok := v.overlay[root]; ok {
		return val, true
	}
	if strings.HasPrefix(root, api.SystemKeyPrefix) {
		// System keys are invisible to user templates.
		return nil, false
	}
	val, ok := v.store[root]
	return val, ok
}

// Available lists the variable roots visible to templates, sorted.
func (v Vars) Available() []string {
	seen := make(map[string]bool)
	for k := range v.overlay {
		seen[k] = true
	}
	for k := range v.store {
		if !strings.HasPrefix(k, api.SystemKeyPrefix) {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Engine resolves ${} references with the type-preservation rule.
type Engine struct{}

// New creates a template engine.
func New() *Engine {
	return &Engine{}
}

// Resolve expands all references in tmpl against vars. A template that is
// exactly one reference returns the referenced value unchanged; any other
// shape returns a string.
func (e *Engine) Resolve(tmpl string, vars Vars) (any, error) {
	matches := refPattern.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}

	// Single-reference template: preserve the native type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(tmpl) {
		expr := tmpl[matches[0][2]:matches[0][3]]
		return e.lookupPath(tmpl, expr, vars)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(tmpl[last:m[0]])
		expr := tmpl[m[2]:m[3]]
		value, err := e.lookupPath(tmpl, expr, vars)
		if err != nil {
			return nil, err
		}
		str, err := stringify(value)
		if err != nil {
			return nil, api.NewError(api.ErrTemplateTypeMismatch,
				"cannot embed binary value of %q in string template", expr).
				WithDetail("template", tmpl).
				WithDetail("variable", expr).
				WithSuggestion("pass binary data through a single-reference template like \"${" + expr + "}\"")
		}
		sb.WriteString(str)
		last = m[1]
	}
	sb.WriteString(tmpl[last:])
	return sb.String(), nil
}

// ResolveNested walks maps and slices, resolving string leaves and passing
// all other leaves through unchanged.
func (e *Engine) ResolveNested(value any, vars Vars) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Resolve(v, vars)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, val := range v {
			rv, err := e.ResolveNested(val, vars)
			if err != nil {
				return nil, fmt.Errorf("in key %q: %w", key, err)
			}
			resolved[key] = rv
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, val := range v {
			rv, err := e.ResolveNested(val, vars)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			resolved[i] = rv
		}
		return resolved, nil
	default:
		return value, nil
	}
}

// ExtractRefs returns every ${} expression found in value, recursing into
// maps and slices. Duplicates are removed; order follows first appearance.
func (e *Engine) ExtractRefs(value any) []string {
	var refs []string
	seen := make(map[string]bool)
	e.extractRefs(value, &refs, seen)
	return refs
}

func (e *Engine) extractRefs(value any, refs *[]string, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, m := range refPattern.FindAllStringSubmatch(v, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				*refs = append(*refs, m[1])
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.extractRefs(v[k], refs, seen)
		}
	case []any:
		for _, val := range v {
			e.extractRefs(val, refs, seen)
		}
	}
}

// RootOf returns the root variable name of a reference expression.
func RootOf(expr string) string {
	end := len(expr)
	if i := strings.IndexAny(expr, ".["); i >= 0 {
		end = i
	}
	return expr[:end]
}

type pathSegment struct {
	key   string
	index int
	isIdx bool
}

func parsePath(expr string) (string, []pathSegment, error) {
	root := RootOf(expr)
	rest := expr[len(root):]
	var segs []pathSegment
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := len(rest)
			if i := strings.IndexAny(rest, ".["); i >= 0 {
				end = i
			}
			if end == 0 {
				return "", nil, fmt.Errorf("empty path segment in %q", expr)
			}
			segs = append(segs, pathSegment{key: rest[:end]})
			rest = rest[end:]
		case '[':
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return "", nil, fmt.Errorf("unterminated index in %q", expr)
			}
			idx, err := strconv.Atoi(rest[1:closing])
			if err != nil {
				return "", nil, fmt.Errorf("bad index in %q: %w", expr, err)
			}
			segs = append(segs, pathSegment{index: idx, isIdx: true})
			rest = rest[closing+1:]
		default:
			return "", nil, fmt.Errorf("unexpected character %q in %q", rest[0], expr)
		}
	}
	return root, segs, nil
}

func (e *Engine) lookupPath(tmpl, expr string, vars Vars) (any, error) {
	root, segs, err := parsePath(expr)
	if err != nil {
		return nil, api.WrapError(api.ErrTemplateUnresolved, err, "invalid reference %q", expr).
			WithDetail("template", tmpl).
			WithDetail("variable", expr)
	}

	current, ok := vars.lookup(root)
	if !ok {
		return nil, unresolved(tmpl, expr, vars.Available(), nil)
	}

	for _, seg := range segs {
		if seg.isIdx {
			list, ok := current.([]any)
			if !ok {
				return nil, unresolved(tmpl, expr, vars.Available(), fieldsOf(current))
			}
			if seg.index < 0 || seg.index >= len(list) {
				return nil, unresolved(tmpl, expr, vars.Available(), nil)
			}
			current = list[seg.index]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, unresolved(tmpl, expr, vars.Available(), fieldsOf(current))
		}
		next, ok := m[seg.key]
		if !ok {
			// The root resolved but this sub-path does not: report the fields
			// that do exist so repair agents can pick the right one.
			return nil, unresolved(tmpl, expr, vars.Available(), fieldsOf(m))
		}
		current = next
	}
	return current, nil
}

func unresolved(tmpl, expr string, available, fields []string) *api.Error {
	e := api.NewError(api.ErrTemplateUnresolved, "unresolved template variable %q", expr).
		WithDetail("template", tmpl).
		WithDetail("variable", expr).
		WithDetail("available_variables", available)
	if len(fields) > 0 {
		e.WithDetail("available_fields", fields)
	}
	if len(available) > 0 {
		e.WithSuggestion(fmt.Sprintf("available variables: %s", strings.Join(available, ", ")))
	}
	return e
}

func fieldsOf(value any) []string {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func stringify(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return "", fmt.Errorf("binary value in string context")
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(data), nil
	}
}

// UnresolvedDetails extracts the structured fields from a TEMPLATE_UNRESOLVED
// error: template, variable, available variables and (optionally) the fields
// present under the resolved root.
func UnresolvedDetails(err error) (template, variable string, available, fields []string, ok bool) {
	e := api.AsError(err)
	if e == nil || e.Code != api.ErrTemplateUnresolved {
		return "", "", nil, nil, false
	}
	template, _ = e.Details["template"].(string)
	variable, _ = e.Details["variable"].(string)
	available, _ = e.Details["available_variables"].([]string)
	fields, _ = e.Details["available_fields"].([]string)
	return template, variable, available, fields, true
}
