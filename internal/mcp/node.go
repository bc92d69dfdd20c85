package mcp

import (
	"context"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"pflow/internal/api"
	"pflow/internal/node"
	"pflow/internal/trace"
)

// Compiler-injected params identifying which tool a virtual node executes.
// The prefix keeps them out of user templates and traces.
const (
	ParamServer = "__mcp_server__"
	ParamTool   = "__mcp_tool__"
)

// NodeDeps carries what the universal MCP node needs at run time.
type NodeDeps struct {
	Config    Config
	Dial      Dialer
	Schema    map[string]any
	Collector *trace.Collector
}

// Node executes one discovered MCP tool. Every virtual registry entry
// compiles to this type; the injected params pick the server and tool. Each
// execution dials a fresh connection so a crashed server never poisons later
// nodes.
type Node struct {
	node.Base
	deps NodeDeps
}

// NewNode builds a universal MCP node instance.
func NewNode(id string, params map[string]any, policy node.RetryPolicy, deps NodeDeps) *Node {
	if deps.Dial == nil {
		deps.Dial = NewClient
	}
	return &Node{Base: node.NewBase(id, "mcp", params, policy), deps: deps}
}

type mcpPrep struct {
	server string
	tool   string
	def    ServerDef
	args   map[string]any
}

func (n *Node) Prep(ctx context.Context, store node.Store) (any, error) {
	params := n.Params()
	server, _ := params[ParamServer].(string)
	tool, _ := params[ParamTool].(string)
	if server == "" || tool == "" {
		return nil, api.NewError(api.ErrInternal, "mcp node %q is missing tool routing metadata", n.ID())
	}
	def, ok := n.deps.Config.Servers[server]
	if !ok {
		return nil, api.NewError(api.ErrMCPProtocol, "mcp server %q is not configured", server).
			WithSuggestion("add the server with `pflow mcp add` or remove the node")
	}

	args := make(map[string]any, len(params))
	for k, v := range params {
		if strings.HasPrefix(k, api.SystemKeyPrefix) {
			continue
		}
		args[k] = v
	}

	if err := n.validateArgs(tool, args); err != nil {
		return nil, err
	}
	return &mcpPrep{server: server, tool: tool, def: def, args: args}, nil
}

// validateArgs checks the resolved arguments against the tool's declared
// input schema, so schema violations fail before a subprocess is spawned.
func (n *Node) validateArgs(tool string, args map[string]any) error {
	if len(n.deps.Schema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(n.deps.Schema)
	docLoader := gojsonschema.NewGoLoader(args)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		// A malformed tool schema is the server's fault, not the workflow's.
		return nil
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, resErr := range result.Errors() {
		problems = append(problems, resErr.String())
	}
	return api.NewError(api.ErrTool, "arguments for tool %q rejected by its schema", tool).
		WithDetail("schema_errors", problems).
		WithSuggestion("fix the node params to match the tool's input schema: " + strings.Join(problems, "; "))
}

func (n *Node) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*mcpPrep)

	client, err := n.deps.Dial(prep.server, prep.def)
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		return nil, api.WrapError(api.ErrMCPProtocol, err, "cannot connect to mcp server %q", prep.server)
	}
	defer client.Close()

	start := time.Now()
	result, err := client.CallTool(ctx, prep.tool, prep.args)
	call := trace.MCPCall{
		Server:     prep.server,
		Tool:       prep.tool,
		Args:       prep.args,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		call.IsError = true
		n.deps.Collector.RecordMCPCall(call)
		return nil, api.WrapError(api.ErrMCPProtocol, err, "tool %q failed on server %q", prep.tool, prep.server)
	}

	if result.IsError {
		text := contentText(result.Content)
		call.IsError = true
		call.Result = text
		n.deps.Collector.RecordMCPCall(call)
		return nil, api.NewError(api.ErrTool, "tool %q reported an error", prep.tool).
			WithDetail("raw_response", text).
			WithDetail("mcp_error", map[string]any{
				"server": prep.server,
				"tool":   prep.tool,
				"text":   text,
			})
	}

	output := toolOutput(result)
	call.Result = output
	n.deps.Collector.RecordMCPCall(call)
	return output, nil
}

// toolOutput prefers structured content; otherwise the concatenated text
// blocks become the result.
func toolOutput(result *mcpgo.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	return contentText(result.Content)
}

func contentText(content []mcpgo.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if text, ok := c.(mcpgo.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func (n *Node) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	// Structured outputs unpack into the namespace so templates can address
	// individual fields; result always aliases the whole value.
	if m, ok := execRes.(map[string]any); ok {
		for k, v := range m {
			if strings.HasPrefix(k, api.SystemKeyPrefix) {
				continue
			}
			store.Set(k, v)
		}
	}
	store.Set("result", execRes)
	return node.DefaultAction, nil
}

func (n *Node) Clone() node.NodeRunner {
	return &Node{Base: n.CloneBase(), deps: n.deps}
}
