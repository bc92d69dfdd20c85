package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
	"pflow/internal/ir"
	"pflow/internal/mcp"
	"pflow/internal/node"
	"pflow/internal/nodes"
	"pflow/internal/registry"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	reg := registry.New(registry.Filter{TestNodesEnabled: true})
	require.NoError(t, nodes.RegisterBuiltins(reg))
	return Deps{
		Registry: reg,
		Nodes:    nodes.Deps{},
	}
}

func workflow(nodeList []ir.Node, edges []ir.Edge) *ir.Workflow {
	return &ir.Workflow{
		IRVersion: ir.Version,
		Name:      "test",
		Nodes:     nodeList,
		Edges:     edges,
		Inputs: map[string]ir.Input{
			"url": {Type: "string", Required: true},
		},
	}
}

func TestCompileLinearWorkflow(t *testing.T) {
	wf := workflow(
		[]ir.Node{
			{ID: "fetch", Type: "http", Purpose: "fetch the source page", Params: map[string]any{"url": "${url}"}},
			{ID: "save", Type: "write-file", Purpose: "persist the fetched page", Params: map[string]any{
				"path":    "/tmp/out.txt",
				"content": "${fetch.response}",
			}},
		},
		[]ir.Edge{{From: "fetch", To: "save"}},
	)

	c, err := Compile(wf, testDeps(t))
	require.NoError(t, err)
	assert.Len(t, c.Nodes, 2)
	assert.Equal(t, 0, c.Start)
	assert.Equal(t, 1, c.Successors[0]["default"])
	assert.Empty(t, c.Successors[1])
	assert.Equal(t, "fetch", c.Nodes[0].ID())
}

func TestCompileFetchSummarizeSave(t *testing.T) {
	wf := workflow(
		[]ir.Node{
			{ID: "fetch", Type: "http", Purpose: "fetch the source document", Params: map[string]any{"url": "${url}"}},
			{ID: "summarize", Type: "llm", Purpose: "summarize the fetched document", Params: map[string]any{
				"prompt": "Summarize: ${fetch.response}",
			}},
			{ID: "save", Type: "write-file", Purpose: "persist the model summary", Params: map[string]any{
				"path":    "/tmp/summary.txt",
				"content": "${summarize.response}",
			}},
		},
		[]ir.Edge{{From: "fetch", To: "summarize"}, {From: "summarize", To: "save"}},
	)
	wf.Outputs = map[string]ir.Output{
		"summary": {Source: "${summarize.response}", Description: "the generated summary"},
	}

	c, err := Compile(wf, testDeps(t))
	require.NoError(t, err)
	assert.Len(t, c.Nodes, 3)
}

func TestCompileUnknownTypeSuggests(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "fetch", Type: "htpp", Purpose: "fetch the source page", Params: map[string]any{"url": "${url}"}}},
		nil,
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	e := api.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, api.ErrRegistryMiss, e.Code)
	assert.Contains(t, e.Suggestion, "http")
	assert.Equal(t, "fetch", e.Details["node_id"])
}

func TestCompileUnknownTemplateRoot(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "fetch", Type: "http", Purpose: "fetch the source page", Params: map[string]any{"url": "${misspelled}"}}},
		nil,
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	e := api.AsError(err)
	assert.Equal(t, api.ErrTemplateUnresolved, e.Code)
	available := e.Details["available_variables"].([]string)
	assert.Contains(t, available, "url")
	assert.Contains(t, available, "fetch")
}

func TestCompileUnknownOutputField(t *testing.T) {
	wf := workflow(
		[]ir.Node{
			{ID: "fetch", Type: "http", Purpose: "fetch the source page", Params: map[string]any{"url": "${url}"}},
			{ID: "save", Type: "write-file", Purpose: "persist the fetched page", Params: map[string]any{
				"path":    "/tmp/out.txt",
				"content": "${fetch.payload}",
			}},
		},
		[]ir.Edge{{From: "fetch", To: "save"}},
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	e := api.AsError(err)
	assert.Equal(t, api.ErrTemplateUnresolved, e.Code)
	fields := e.Details["available_fields"].([]string)
	assert.Contains(t, fields, "response")
	assert.Contains(t, fields, "status_code")
}

func TestCompileBatchBindingIsVisible(t *testing.T) {
	wf := workflow(
		[]ir.Node{{
			ID: "work", Type: "echo", Purpose: "process each entry in turn",
			Params: map[string]any{
				"value": "${row}",
				"batch": map[string]any{"items": "${url}", "as": "row"},
			},
		}},
		nil,
	)
	c, err := Compile(wf, testDeps(t))
	require.NoError(t, err)
	// The batch wrapper reports a single attempt regardless of inner policy.
	assert.Equal(t, 1, c.Nodes[0].Policy().NormalizeAttempts())
}

func TestCompileBatchResultsReferences(t *testing.T) {
	deps := testDeps(t)
	base := []ir.Node{
		{
			ID: "work", Type: "echo", Purpose: "process each entry in turn",
			Params: map[string]any{
				"value": "${item}",
				"batch": map[string]any{"items": "${url}"},
			},
		},
		{
			ID: "report", Type: "echo", Purpose: "summarize the batch outcome",
			Params: map[string]any{"value": "${work.results}"},
		},
	}
	wf := workflow(base, []ir.Edge{{From: "work", To: "report"}})
	_, err := Compile(wf, deps)
	require.NoError(t, err)

	bad := workflow([]ir.Node{
		base[0],
		{ID: "report", Type: "echo", Purpose: "summarize the batch outcome",
			Params: map[string]any{"value": "${work.result}"}},
	}, []ir.Edge{{From: "work", To: "report"}})
	_, err = Compile(bad, deps)
	require.Error(t, err)
	assert.Contains(t, api.AsError(err).Suggestion, "results")
}

func TestCompileInvalidBatchConfig(t *testing.T) {
	wf := workflow(
		[]ir.Node{{
			ID: "work", Type: "echo", Purpose: "process each entry in turn",
			Params: map[string]any{"batch": map[string]any{"as": "row"}},
		}},
		nil,
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	assert.Equal(t, api.ErrCompile, api.CodeOf(err))
}

func TestCompileDuplicateActionEdge(t *testing.T) {
	wf := workflow(
		[]ir.Node{
			{ID: "a", Type: "echo", Purpose: "first step of the graph", Params: map[string]any{}},
			{ID: "b", Type: "echo", Purpose: "second step of the graph", Params: map[string]any{}},
			{ID: "c", Type: "echo", Purpose: "third step of the graph", Params: map[string]any{}},
		},
		[]ir.Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	assert.Equal(t, api.ErrCompile, api.CodeOf(err))
}

func TestCompileMCPNode(t *testing.T) {
	deps := testDeps(t)
	require.NoError(t, deps.Registry.RegisterVirtual("mcp-fs-read_text_file", registry.Interface{
		Description: "read a text file",
		Schema:      map[string]any{"type": "object"},
	}))
	deps.MCPConfig = mcp.Config{Servers: map[string]mcp.ServerDef{"fs": {Command: "npx"}}}

	wf := workflow(
		[]ir.Node{{
			ID: "read", Type: "mcp-fs-read_text_file", Purpose: "read the target file",
			Params:      map[string]any{"path": "${url}"},
			MaxAttempts: 5,
		}},
		nil,
	)
	c, err := Compile(wf, deps)
	require.NoError(t, err)

	// Retries are pinned to a single attempt for external tools.
	assert.Equal(t, 1, c.Nodes[0].Policy().NormalizeAttempts())
	params := c.Nodes[0].Params()
	assert.Equal(t, "fs", params[mcp.ParamServer])
	assert.Equal(t, "read_text_file", params[mcp.ParamTool])
}

func TestCompileMCPNodeUnconfiguredServer(t *testing.T) {
	deps := testDeps(t)
	require.NoError(t, deps.Registry.RegisterVirtual("mcp-fs-read_text_file", registry.Interface{}))

	wf := workflow(
		[]ir.Node{{ID: "read", Type: "mcp-fs-read_text_file", Purpose: "read the target file", Params: map[string]any{}}},
		nil,
	)
	_, err := Compile(wf, deps)
	require.Error(t, err)
	assert.Equal(t, api.ErrCompile, api.CodeOf(err))
}

func TestCompileMCPNodeNotDiscovered(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "read", Type: "mcp-fs-read_text_file", Purpose: "read the target file", Params: map[string]any{}}},
		nil,
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	e := api.AsError(err)
	assert.Equal(t, api.ErrRegistryMiss, e.Code)
	assert.Contains(t, e.Suggestion, "pflow mcp sync")
}

func TestCompileOutputSourceChecked(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "fetch", Type: "http", Purpose: "fetch the source page", Params: map[string]any{"url": "${url}"}}},
		nil,
	)
	wf.Outputs = map[string]ir.Output{
		"page": {Source: "${fetch.response}", Description: "fetched body"},
	}
	_, err := Compile(wf, testDeps(t))
	require.NoError(t, err)

	wf.Outputs = map[string]ir.Output{
		"page": {Source: "${gone.response}"},
	}
	_, err = Compile(wf, testDeps(t))
	require.Error(t, err)
	assert.Equal(t, "page", api.AsError(err).Details["output"])
}

func TestCompileReservedVariableRejected(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "a", Type: "echo", Purpose: "leak internal engine state", Params: map[string]any{
			"value": "${__execution_id__}",
		}}},
		nil,
	)
	_, err := Compile(wf, testDeps(t))
	require.Error(t, err)
	assert.Equal(t, api.ErrTemplateUnresolved, api.CodeOf(err))
}

func TestCompiledNodesAreWrapped(t *testing.T) {
	wf := workflow(
		[]ir.Node{{ID: "a", Type: "echo", Purpose: "verify wrapper composition", Params: map[string]any{"value": "x"}}},
		nil,
	)
	c, err := Compile(wf, testDeps(t))
	require.NoError(t, err)
	_, ok := c.Nodes[0].(*node.Instrumented)
	assert.True(t, ok, "outermost wrapper must be the instrumented one")
}
