package ir

import (
	"fmt"
	"sort"
	"strings"

	sigsyaml "sigs.k8s.io/yaml"
)

// ExportMarkdown renders the workflow as a .pflow.md document. The output
// re-parses into a semantically identical workflow; byte-level fidelity with
// an original markdown source is not a goal.
func ExportMarkdown(w *Workflow) string {
	var sb strings.Builder

	name := w.Name
	if name == "" {
		name = "Untitled Workflow"
	}
	fmt.Fprintf(&sb, "# %s\n\n", name)
	if w.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", w.Description)
	}

	if len(w.Inputs) > 0 {
		sb.WriteString("## Inputs\n\n")
		for _, name := range sortedKeys(w.Inputs) {
			in := w.Inputs[name]
			fmt.Fprintf(&sb, "### %s\n\n", name)
			fmt.Fprintf(&sb, "- type: %s\n", in.Type)
			if in.Required {
				sb.WriteString("- required: true\n")
			}
			if in.Default != nil {
				fmt.Fprintf(&sb, "- default: %s\n", scalarYAML(in.Default))
			}
			if in.Description != "" {
				fmt.Fprintf(&sb, "- description: %s\n", in.Description)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Steps\n\n")
	for _, n := range w.Nodes {
		fmt.Fprintf(&sb, "### %s\n\n", n.ID)
		fmt.Fprintf(&sb, "- type: %s\n", n.Type)
		if n.Purpose != "" {
			fmt.Fprintf(&sb, "- purpose: %s\n", n.Purpose)
		}
		if n.MaxAttempts > 0 {
			fmt.Fprintf(&sb, "- max_attempts: %d\n", n.MaxAttempts)
		}
		if n.WaitSeconds > 0 {
			fmt.Fprintf(&sb, "- wait_seconds: %g\n", n.WaitSeconds)
		}

		var fenced []string
		for _, key := range sortedKeys(n.Params) {
			value := n.Params[key]
			if key == BatchParamKey {
				fenced = append(fenced, key)
				continue
			}
			if s, ok := value.(string); ok && strings.Contains(s, "\n") {
				fenced = append(fenced, key)
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", key, scalarYAML(value))
		}
		sb.WriteString("\n")

		for _, key := range fenced {
			if key == BatchParamKey {
				data, err := sigsyaml.Marshal(n.Params[key])
				if err != nil {
					continue
				}
				fmt.Fprintf(&sb, "```yaml batch\n%s```\n\n", string(data))
				continue
			}
			fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", key, n.Params[key])
		}
	}

	if !w.edgesAreSequential() {
		sb.WriteString("## Edges\n\n")
		for _, e := range w.Edges {
			if e.Action != "" && e.Action != "default" {
				fmt.Fprintf(&sb, "- %s -> %s (%s)\n", e.From, e.To, e.Action)
			} else {
				fmt.Fprintf(&sb, "- %s -> %s\n", e.From, e.To)
			}
		}
		sb.WriteString("\n")
	}

	if len(w.Outputs) > 0 {
		sb.WriteString("## Outputs\n\n")
		for _, name := range sortedKeys(w.Outputs) {
			out := w.Outputs[name]
			fmt.Fprintf(&sb, "### %s\n\n", name)
			if out.Description != "" {
				fmt.Fprintf(&sb, "- description: %s\n", out.Description)
			}
			fmt.Fprintf(&sb, "- source: %s\n", out.Source)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// edgesAreSequential reports whether the edge set is exactly the implicit
// sequential chain the markdown parser would synthesize.
func (w *Workflow) edgesAreSequential() bool {
	if len(w.Edges) != len(w.Nodes)-1 {
		return false
	}
	for i, e := range w.Edges {
		if e.From != w.Nodes[i].ID || e.To != w.Nodes[i+1].ID || (e.Action != "" && e.Action != "default") {
			return false
		}
	}
	return true
}

func scalarYAML(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		data, err := sigsyaml.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return strings.TrimRight(string(data), "\n")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
