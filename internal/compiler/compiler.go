// Package compiler turns a validated workflow IR into an executable graph:
// node instances built from the registry, wrapped with template resolution,
// output namespacing, optional batch fan-out and trace instrumentation, plus
// an action-indexed successor table for the executor.
package compiler

import (
	"strings"
	"time"

	"pflow/internal/api"
	"pflow/internal/ir"
	"pflow/internal/mcp"
	"pflow/internal/node"
	"pflow/internal/nodes"
	"pflow/internal/registry"
	"pflow/internal/trace"
	"pflow/pkg/logging"
)

// Deps carries everything node construction needs.
type Deps struct {
	Registry  *registry.Registry
	Nodes     nodes.Deps
	MCPConfig mcp.Config
	MCPDial   mcp.Dialer
	Collector *trace.Collector
}

// Compiled is the executable form of a workflow.
type Compiled struct {
	Workflow *ir.Workflow
	// Nodes holds the fully wrapped runners in declaration order.
	Nodes []node.NodeRunner
	// Index maps node id to its position in Nodes.
	Index map[string]int
	// Successors[i] maps an action label to the next node's position.
	Successors []map[string]int
	// Start is the position of the entry node (the first declared node).
	Start int
}

// Compile validates references, builds each node and wires the graph.
func Compile(wf *ir.Workflow, deps Deps) (*Compiled, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	c := &Compiled{
		Workflow:   wf,
		Nodes:      make([]node.NodeRunner, len(wf.Nodes)),
		Index:      make(map[string]int, len(wf.Nodes)),
		Successors: make([]map[string]int, len(wf.Nodes)),
		Start:      0,
	}
	for i, n := range wf.Nodes {
		c.Index[n.ID] = i
		c.Successors[i] = map[string]int{}
	}

	for _, e := range wf.Edges {
		from := c.Index[e.From]
		action := e.ActionLabel()
		if _, dup := c.Successors[from][action]; dup {
			return nil, api.NewError(api.ErrCompile,
				"node %q has two outgoing edges for action %q", e.From, action)
		}
		c.Successors[from][action] = c.Index[e.To]
	}

	if err := validateTemplates(wf, deps.Registry); err != nil {
		return nil, err
	}

	for i, decl := range wf.Nodes {
		runner, err := buildNode(decl, deps)
		if err != nil {
			return nil, err
		}
		c.Nodes[i] = runner
	}
	return c, nil
}

// buildNode constructs one wrapped runner from its IR declaration. Wrapper
// order, outermost first: instrumented, batch (when declared), namespaced,
// templated, inner.
func buildNode(decl ir.Node, deps Deps) (node.NodeRunner, error) {
	params := node.CopyParams(decl.Params)
	if params == nil {
		params = map[string]any{}
	}

	var batchCfg *node.BatchConfig
	if raw, ok := params[ir.BatchParamKey]; ok {
		cfg, err := node.ParseBatchConfig(raw)
		if err != nil {
			if e := api.AsError(err); e != nil {
				e.WithDetail("node_id", decl.ID)
			}
			return nil, err
		}
		batchCfg = &cfg
		delete(params, ir.BatchParamKey)
	}

	policy := node.RetryPolicy{
		MaxAttempts: decl.MaxAttempts,
		Wait:        time.Duration(decl.WaitSeconds * float64(time.Second)),
	}
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}

	var inner node.NodeRunner
	switch {
	case strings.HasPrefix(decl.Type, ir.MCPTypePrefix):
		runner, err := buildMCPNode(decl, params, policy, deps)
		if err != nil {
			return nil, err
		}
		inner = runner
	case nodes.IsBuiltin(decl.Type):
		warnUnknownParams(decl, params, deps.Registry)
		runner, err := nodes.New(decl.Type, decl.ID, params, policy, deps.Nodes)
		if err != nil {
			return nil, err
		}
		inner = runner
	default:
		miss := deps.Registry.Miss(decl.Type)
		miss.WithDetail("node_id", decl.ID)
		return nil, miss
	}

	wrapped := node.NodeRunner(node.NewNamespaced(node.NewTemplated(inner)))
	if batchCfg != nil {
		wrapped = node.NewBatch(wrapped, *batchCfg)
	}
	return node.NewInstrumented(wrapped, deps.Collector), nil
}

func buildMCPNode(decl ir.Node, params map[string]any, policy node.RetryPolicy, deps Deps) (node.NodeRunner, error) {
	entry, ok := deps.Registry.Get(decl.Type)
	if !ok {
		miss := deps.Registry.Miss(decl.Type)
		miss.WithDetail("node_id", decl.ID).
			WithSuggestion("run `pflow mcp sync` to refresh the tool catalog")
		return nil, miss
	}
	server, tool, err := mcp.SplitTypeID(decl.Type)
	if err != nil {
		return nil, err
	}
	if _, configured := deps.MCPConfig.Servers[server]; !configured {
		return nil, api.NewError(api.ErrCompile,
			"node %q uses tool %q from unconfigured mcp server %q", decl.ID, tool, server).
			WithDetail("node_id", decl.ID)
	}

	// External tools are side-effecting; retrying them blindly can repeat a
	// write, so the attempt count is pinned to one.
	if decl.MaxAttempts > 1 {
		logging.Warn("Compiler", "node %s: max_attempts ignored for mcp nodes, forcing 1", decl.ID)
	}
	policy.MaxAttempts = 1

	params[mcp.ParamServer] = server
	params[mcp.ParamTool] = tool
	return mcp.NewNode(decl.ID, params, policy, mcp.NodeDeps{
		Config:    deps.MCPConfig,
		Dial:      deps.MCPDial,
		Schema:    entry.Interface.Schema,
		Collector: deps.Collector,
	}), nil
}

// warnUnknownParams flags params the node type does not declare. A typo'd
// param is usually a bug, but unknown keys stay legal because node types may
// accept more than they document.
func warnUnknownParams(decl ir.Node, params map[string]any, reg *registry.Registry) {
	entry, ok := reg.Get(decl.Type)
	if !ok || len(entry.Interface.Params) == 0 {
		return
	}
	declared := make(map[string]bool, len(entry.Interface.Params))
	for _, f := range entry.Interface.Params {
		declared[f.Key] = true
	}
	for key := range params {
		if strings.HasPrefix(key, api.SystemKeyPrefix) {
			continue
		}
		if !declared[key] {
			logging.Warn("Compiler", "node %s: param %q is not declared by type %q", decl.ID, key, decl.Type)
		}
	}
}
