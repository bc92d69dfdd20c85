package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
)

func TestCollectorNodeLifecycle(t *testing.T) {
	c := New("demo", "exec-1", map[string]any{"url": "https://example.com"})

	c.NodeStart("fetch", "http", map[string]any{"url": "https://example.com"})
	c.NodeAttempt("fetch")
	c.NodeAttempt("fetch")
	c.NodeEnd("fetch", map[string]any{"status_code": 200}, "default")

	doc := c.Snapshot()
	require.Len(t, doc.Nodes, 1)
	nt := doc.Nodes[0]
	assert.Equal(t, api.StatusCompleted, nt.Status)
	assert.Equal(t, 2, nt.Attempts)
	assert.Equal(t, "default", nt.Action)
}

func TestCollectorNodeError(t *testing.T) {
	c := New("demo", "exec-1", nil)
	c.NodeStart("fetch", "http", nil)
	c.NodeError("fetch", &api.NodeError{
		NodeID:   "fetch",
		Type:     "http",
		Message:  "connection refused",
		Category: api.CategoryNetwork,
	})

	doc := c.Snapshot()
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, api.StatusFailed, doc.Nodes[0].Status)
	require.NotNil(t, doc.Nodes[0].Error)
	assert.Equal(t, api.CategoryNetwork, doc.Nodes[0].Error.Category)
}

func TestCollectorAttributesCallsToActiveNode(t *testing.T) {
	c := New("demo", "exec-1", nil)
	c.NodeStart("summarize", "llm", nil)
	c.SetActiveNode("summarize")
	c.RecordLLMCall(LLMCall{Provider: "anthropic", Model: "claude-sonnet-4-5", Prompt: "hi"})
	c.RecordMCPCall(MCPCall{Server: "fs", Tool: "read_text_file"})

	doc := c.Snapshot()
	require.Len(t, doc.LLMCalls, 1)
	assert.Equal(t, "summarize", doc.LLMCalls[0].NodeID)
	require.Len(t, doc.MCPCalls, 1)
	assert.Equal(t, "summarize", doc.MCPCalls[0].NodeID)
}

func TestRedaction(t *testing.T) {
	c := New("demo", "exec-1", map[string]any{
		"api_key": "sk-123",
		"url":     "https://example.com",
	})
	c.NodeStart("fetch", "http", map[string]any{
		"Authorization": "Bearer abc",
		"body":          []byte{0x01, 0x02, 0x03},
		"nested":        map[string]any{"github_token": "ghp_x", "plain": "ok"},
	})

	doc := c.Snapshot()
	assert.Equal(t, "<REDACTED>", doc.Inputs["api_key"])
	assert.Equal(t, "https://example.com", doc.Inputs["url"])

	params := doc.Nodes[0].Params
	assert.Equal(t, "<REDACTED>", params["Authorization"])
	assert.Equal(t, "<binary data: 3 bytes>", params["body"])
	nested := params["nested"].(map[string]any)
	assert.Equal(t, "<REDACTED>", nested["github_token"])
	assert.Equal(t, "ok", nested["plain"])
}

func TestWriteProducesValidJSON(t *testing.T) {
	dir := t.TempDir()
	c := New("demo", "exec-1", map[string]any{"count": int64(3)})
	c.NodeStart("fetch", "http", nil)
	c.NodeEnd("fetch", map[string]any{"body": []byte("binary")}, "default")
	c.Finish("completed", map[string]any{"result": "done"}, nil)

	path, err := c.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(path), dir)
	assert.Contains(t, filepath.Base(path), "workflow-trace-demo-")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "completed", doc["status"])
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "workflow-trace-demo-20260314-092653.json", FileName("demo", at))
}

func TestLatestFile(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, LatestFile(dir, "demo"))

	for _, name := range []string{
		"workflow-trace-demo-20260314-092653.json",
		"workflow-trace-demo-20260315-110000.json",
		"workflow-trace-other-20260316-120000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	latest := LatestFile(dir, "demo")
	assert.Equal(t, "workflow-trace-demo-20260315-110000.json", filepath.Base(latest))
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	c.NodeStart("x", "echo", nil)
	c.NodeAttempt("x")
	c.NodeEnd("x", nil, "default")
	c.SetActiveNode("x")
	c.RecordLLMCall(LLMCall{})
	c.Finish("completed", nil, nil)
	path, err := c.Write(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
}
