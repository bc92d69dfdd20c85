package compiler

import (
	"sort"
	"strings"

	"pflow/internal/api"
	"pflow/internal/ir"
	"pflow/internal/registry"
	"pflow/internal/template"
)

// batchResultKeys are the namespace keys every batch node produces in
// addition to whatever its inner type declares.
var batchResultKeys = map[string]bool{
	"results": true,
	"count":   true,
	"errors":  true,
}

// validateTemplates checks every ${} reference in node params and workflow
// outputs against what will exist at run time: workflow inputs, node
// namespaces and, inside a batch node, its item binding. Subkeys are checked
// only when the referenced node's type declares its outputs, so MCP tools
// with open-ended results never produce false rejections.
func validateTemplates(wf *ir.Workflow, reg *registry.Registry) error {
	engine := template.New()

	roots := make(map[string]bool, len(wf.Inputs)+len(wf.Nodes))
	for name := range wf.Inputs {
		roots[name] = true
	}
	byID := make(map[string]ir.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		roots[n.ID] = true
		byID[n.ID] = n
	}

	for _, n := range wf.Nodes {
		binding := batchBinding(n)
		for _, ref := range engine.ExtractRefs(n.Params) {
			if err := checkRef(ref, roots, binding, byID, reg); err != nil {
				if e := api.AsError(err); e != nil {
					e.WithDetail("node_id", n.ID)
				}
				return err
			}
		}
	}

	outputKeys := make([]string, 0, len(wf.Outputs))
	for name := range wf.Outputs {
		outputKeys = append(outputKeys, name)
	}
	sort.Strings(outputKeys)
	for _, name := range outputKeys {
		out := wf.Outputs[name]
		for _, ref := range engine.ExtractRefs(out.Source) {
			if err := checkRef(ref, roots, "", byID, reg); err != nil {
				if e := api.AsError(err); e != nil {
					e.WithDetail("output", name)
				}
				return err
			}
		}
	}
	return nil
}

// batchBinding returns the node's batch item binding name, or "".
func batchBinding(n ir.Node) string {
	raw, ok := n.Params[ir.BatchParamKey].(map[string]any)
	if !ok {
		return ""
	}
	if as, ok := raw["as"].(string); ok && as != "" {
		return as
	}
	return "item"
}

func checkRef(ref string, roots map[string]bool, binding string, byID map[string]ir.Node, reg *registry.Registry) error {
	root := template.RootOf(ref)
	if strings.HasPrefix(root, api.SystemKeyPrefix) {
		return api.NewError(api.ErrTemplateUnresolved,
			"template references reserved variable %q", ref).
			WithDetail("template", "${"+ref+"}").
			WithDetail("variable", ref)
	}
	if root == binding {
		return nil
	}
	if !roots[root] {
		available := availableRoots(roots, binding)
		return api.NewError(api.ErrTemplateUnresolved,
			"unknown template variable %q", ref).
			WithDetail("template", "${"+ref+"}").
			WithDetail("variable", ref).
			WithDetail("available_variables", available).
			WithSuggestion("available variables: " + strings.Join(available, ", "))
	}

	decl, isNode := byID[root]
	if !isNode {
		// Workflow input: any subpath is legal, the value shape is the
		// caller's business.
		return nil
	}
	subkey := firstSubkey(ref)
	if subkey == "" {
		return nil
	}
	if _, batched := decl.Params[ir.BatchParamKey]; batched {
		if !batchResultKeys[subkey] {
			return unknownField(ref, subkey, root, sortedSet(batchResultKeys))
		}
		return nil
	}
	entry, ok := reg.Get(decl.Type)
	if !ok || len(entry.Interface.Outputs) == 0 {
		return nil
	}
	declared := make(map[string]bool, len(entry.Interface.Outputs))
	for _, f := range entry.Interface.Outputs {
		declared[f.Key] = true
	}
	if !declared[subkey] {
		return unknownField(ref, subkey, root, sortedSet(declared))
	}
	return nil
}

func unknownField(ref, subkey, root string, fields []string) error {
	return api.NewError(api.ErrTemplateUnresolved,
		"node %q does not produce output %q", root, subkey).
		WithDetail("template", "${"+ref+"}").
		WithDetail("variable", ref).
		WithDetail("available_fields", fields).
		WithSuggestion("available fields: " + strings.Join(fields, ", "))
}

// firstSubkey returns the first dotted key after the root, or "" when the
// reference is the bare root or starts with an index.
func firstSubkey(ref string) string {
	rest := ref[len(template.RootOf(ref)):]
	if !strings.HasPrefix(rest, ".") {
		return ""
	}
	rest = rest[1:]
	if i := strings.IndexAny(rest, ".["); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func availableRoots(roots map[string]bool, binding string) []string {
	out := make([]string, 0, len(roots)+1)
	for r := range roots {
		out = append(out, r)
	}
	if binding != "" {
		out = append(out, binding)
	}
	sort.Strings(out)
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
