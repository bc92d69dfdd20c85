package ir

import (
	"fmt"
	"strings"

	"pflow/internal/api"
)

// Validate runs structural validation on an already schema-valid workflow:
// unique node ids, edge endpoints, output sources, and cycle detection.
// Template-level validation against the registry happens in the compiler;
// this pass only needs the IR itself.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return api.NewError(api.ErrIRSchema, "workflow has no nodes")
	}

	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if ids[n.ID] {
			return api.NewError(api.ErrIRSchema, "duplicate node id %q", n.ID).
				WithDetail("pointer", "/nodes")
		}
		ids[n.ID] = true
	}

	// Input names and node ids share the template root namespace; overlap
	// would make ${x} ambiguous.
	for name := range w.Inputs {
		if ids[name] {
			return api.NewError(api.ErrIRSchema, "input %q collides with a node id", name).
				WithDetail("pointer", "/inputs/"+name)
		}
	}

	for i, e := range w.Edges {
		if !ids[e.From] {
			return api.NewError(api.ErrIRReference, "edge references unknown node %q", e.From).
				WithDetail("pointer", fmt.Sprintf("/edges/%d/from", i))
		}
		if !ids[e.To] {
			return api.NewError(api.ErrIRReference, "edge references unknown node %q", e.To).
				WithDetail("pointer", fmt.Sprintf("/edges/%d/to", i))
		}
	}

	for name, out := range w.Outputs {
		if out.Source == "" {
			return api.NewError(api.ErrIRSchema, "output %q has no source", name).
				WithDetail("pointer", "/outputs/"+name)
		}
	}

	if cycle := w.findCycle(); len(cycle) > 0 {
		return api.NewError(api.ErrIRCycle, "workflow edges form a cycle: %s", strings.Join(cycle, " -> ")).
			WithSuggestion("retries are handled by node retry policy, not by edges; remove the back edge")
	}

	return nil
}

// findCycle runs a DFS over the edge graph and returns the node ids on the
// first cycle found, or nil.
func (w *Workflow) findCycle() []string {
	adj := make(map[string][]string)
	for _, e := range w.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case grey:
				// Found a back edge; slice the stack from the first
				// occurrence of next to get the cycle path.
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
				cycle = []string{next, next}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, n := range w.Nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				return cycle
			}
		}
	}
	return nil
}
