// Package mcpserve exposes the workflow engine to external AI agents as an
// MCP server over stdio. Each capability tool is a thin adapter over the
// library, compiler and executor; the heavy lifting stays in those packages.
package mcpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pflow/internal/api"
	"pflow/internal/compiler"
	"pflow/internal/config"
	"pflow/internal/ir"
	"pflow/internal/library"
	"pflow/internal/llm"
	mcppkg "pflow/internal/mcp"
	"pflow/internal/nodes"
	"pflow/internal/registry"
	"pflow/internal/trace"
	"pflow/internal/workflow"
	"pflow/pkg/logging"
)

const serverVersion = "0.1.0"

// Deps wires the serve surface to the rest of the engine.
type Deps struct {
	Settings  config.Settings
	Registry  *registry.Registry
	Library   *library.Library
	MCPConfig mcppkg.Config
	DebugDir  string
}

// Server is the agent-facing MCP server.
type Server struct {
	deps      Deps
	mcpServer *server.MCPServer

	mu     sync.RWMutex
	mcpCfg mcppkg.Config
}

// New creates the server and registers the capability tools.
func New(deps Deps) *Server {
	mcpServer := server.NewMCPServer(
		"pflow",
		serverVersion,
		server.WithToolCapabilities(false),
	)
	s := &Server{deps: deps, mcpServer: mcpServer, mcpCfg: deps.MCPConfig}
	s.registerTools()
	return s
}

// SetMCPConfig swaps the MCP server configuration, used by the serve-mode
// config watcher after a reload.
func (s *Server) SetMCPConfig(cfg mcppkg.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcpCfg = cfg
}

// ServeStdio blocks, handling MCP traffic on stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	logging.Info("Serve", "starting pflow MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("discover_workflows",
		mcp.WithDescription("List saved workflows, optionally filtered by a search query over names, descriptions, keywords and capabilities"),
		mcp.WithString("query",
			mcp.Description("Optional search query; empty lists everything"),
		),
	), s.handleDiscoverWorkflows)

	s.mcpServer.AddTool(mcp.NewTool("validate_workflow",
		mcp.WithDescription("Validate a workflow document (JSON IR or pflow markdown) without executing it; returns structured errors with repair suggestions"),
		mcp.WithString("workflow",
			mcp.Required(),
			mcp.Description("Workflow document content, JSON IR or pflow markdown"),
		),
	), s.handleValidateWorkflow)

	s.mcpServer.AddTool(mcp.NewTool("execute_workflow",
		mcp.WithDescription("Execute a saved workflow by name, or an inline workflow document, with the given inputs"),
		mcp.WithString("name",
			mcp.Description("Name of a saved workflow"),
		),
		mcp.WithString("workflow",
			mcp.Description("Inline workflow document, used when name is not given"),
		),
		mcp.WithObject("inputs",
			mcp.Description("Workflow inputs as a JSON object"),
		),
	), s.handleExecuteWorkflow)

	s.mcpServer.AddTool(mcp.NewTool("debug_workflow",
		mcp.WithDescription("Return the most recent execution trace for a workflow, including per-node params, outputs, attempts and external calls"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Workflow name"),
		),
	), s.handleDebugWorkflow)

	s.mcpServer.AddTool(mcp.NewTool("export_workflow",
		mcp.WithDescription("Export a saved workflow as JSON IR or pflow markdown"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Workflow name"),
		),
		mcp.WithString("format",
			mcp.Description("Export format: json (default) or markdown"),
		),
	), s.handleExportWorkflow)

	s.mcpServer.AddTool(mcp.NewTool("browse_nodes",
		mcp.WithDescription("List available node types including discovered MCP tools, optionally filtered by a search query"),
		mcp.WithString("query",
			mcp.Description("Optional search query over type ids and descriptions"),
		),
	), s.handleBrowseNodes)
}

func (s *Server) handleDiscoverWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, _ := request.GetArguments()["query"].(string)
	summaries, err := s.deps.Library.Search(query)
	if err != nil {
		return errorResult(err), nil
	}
	if summaries == nil {
		summaries = []library.Summary{}
	}
	return jsonResult(map[string]any{"workflows": summaries})
}

func (s *Server) handleValidateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := request.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	wf, err := parseDocument(doc)
	if err == nil {
		_, err = compiler.Compile(wf, s.compileDeps(nil))
	}
	if err != nil {
		return jsonResult(map[string]any{
			"valid": false,
			"error": errorPayload(err),
		})
	}
	return jsonResult(map[string]any{
		"valid": true,
		"name":  wf.Name,
		"nodes": len(wf.Nodes),
	})
}

func (s *Server) handleExecuteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, _ := args["name"].(string)
	doc, _ := args["workflow"].(string)
	inputs, _ := args["inputs"].(map[string]any)

	var wf *ir.Workflow
	var err error
	switch {
	case name != "":
		wf, err = s.deps.Library.Load(name)
	case doc != "":
		wf, err = parseDocument(doc)
	default:
		return mcp.NewToolResultError("either name or workflow is required"), nil
	}
	if err != nil {
		return errorResult(err), nil
	}

	collector := trace.New(wf.Name, "", inputs)
	compiled, err := compiler.Compile(wf, s.compileDeps(collector))
	if err != nil {
		return errorResult(err), nil
	}

	result, err := workflow.New(collector).Execute(ctx, compiled, inputs)
	if err != nil {
		return errorResult(err), nil
	}
	if path, werr := collector.Write(s.deps.DebugDir); werr == nil {
		result.TracePath = path
	}
	if name != "" && result.Status == workflow.StatusCompleted {
		if err := s.deps.Library.RecordExecution(name, time.Now()); err != nil {
			logging.Warn("Serve", "failed to record execution for %s: %v", name, err)
		}
	}
	return jsonResult(result)
}

func (s *Server) handleDebugWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path := trace.LatestFile(s.deps.DebugDir, name)
	if path == "" {
		return errorResult(api.NewError(api.ErrRegistryMiss, "no trace found for workflow %q", name).
			WithSuggestion("execute the workflow first, traces are written per run")), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult(fmt.Errorf("failed to read trace: %w", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleExportWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	wf, err := s.deps.Library.Load(name)
	if err != nil {
		return errorResult(err), nil
	}
	format, _ := request.GetArguments()["format"].(string)
	switch format {
	case "", "json":
		data, err := wf.MarshalIndent()
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	case "markdown":
		return mcp.NewToolResultText(ir.ExportMarkdown(wf)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q, expected json or markdown", format)), nil
	}
}

func (s *Server) handleBrowseNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, _ := request.GetArguments()["query"].(string)
	var entries []registry.Entry
	if query == "" {
		entries = s.deps.Registry.List(false)
	} else {
		entries = s.deps.Registry.Search(query)
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	return jsonResult(map[string]any{"nodes": entries})
}

func (s *Server) compileDeps(collector *trace.Collector) compiler.Deps {
	s.mu.RLock()
	mcpCfg := s.mcpCfg
	s.mu.RUnlock()
	client := llm.FromEnv(s.deps.Settings.AnthropicAPIKey, s.deps.Settings.OpenAIAPIKey, collector)
	return compiler.Deps{
		Registry:  s.deps.Registry,
		Nodes:     nodes.DefaultDeps(client),
		MCPConfig: mcpCfg,
		Collector: collector,
	}
}

// parseDocument accepts JSON IR or pflow markdown; content starting with "{"
// is treated as JSON.
func parseDocument(doc string) (*ir.Workflow, error) {
	trimmed := strings.TrimSpace(doc)
	if strings.HasPrefix(trimmed, "{") {
		return ir.LoadJSON([]byte(trimmed), false)
	}
	return ir.ParseMarkdown([]byte(doc))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	data, merr := json.MarshalIndent(errorPayload(err), "", "  ")
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func errorPayload(err error) map[string]any {
	if structured := api.AsError(err); structured != nil {
		payload := map[string]any{
			"code":     string(structured.Code),
			"category": string(structured.Category()),
			"message":  structured.Message,
		}
		if structured.Suggestion != "" {
			payload["suggestion"] = structured.Suggestion
		}
		if len(structured.Details) > 0 {
			payload["details"] = structured.Details
		}
		return payload
	}
	return map[string]any{"message": err.Error()}
}
