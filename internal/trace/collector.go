// Package trace collects a per-execution debug record: every node's resolved
// params, attempts, outputs and errors, plus the LLM and MCP calls made while
// a node was active. The collector is written for the single-threaded
// executor but locks anyway because batch items record attempts from worker
// goroutines.
package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pflow/internal/api"
	"pflow/pkg/logging"
)

// Document is the on-disk trace shape.
type Document struct {
	Workflow    string         `json:"workflow"`
	ExecutionID string         `json:"execution_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Status      string         `json:"status"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Nodes       []*NodeTrace   `json:"nodes"`
	LLMCalls    []LLMCall      `json:"llm_calls,omitempty"`
	MCPCalls    []MCPCall      `json:"mcp_calls,omitempty"`
	Error       *api.Error     `json:"error,omitempty"`
}

// NodeTrace records one node invocation.
type NodeTrace struct {
	NodeID     string         `json:"node_id"`
	Type       string         `json:"type"`
	Status     api.NodeStatus `json:"status"`
	Params     map[string]any `json:"params,omitempty"`
	Output     any            `json:"output,omitempty"`
	Action     string         `json:"action,omitempty"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Error      *api.NodeError `json:"error,omitempty"`
}

// LLMCall records one model completion made during the execution, attributed
// to the node that was active when it happened.
type LLMCall struct {
	NodeID       string    `json:"node_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// MCPCall records one tool invocation against an MCP server.
type MCPCall struct {
	NodeID     string         `json:"node_id"`
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	At         time.Time      `json:"at"`
}

// Collector accumulates the trace for one execution. A nil *Collector is a
// valid no-op so untraced runs can skip every nil check at call sites.
type Collector struct {
	mu         sync.Mutex
	doc        Document
	byNode     map[string]*NodeTrace
	activeNode string
}

// New starts a collector for one workflow execution.
func New(workflow, executionID string, inputs map[string]any) *Collector {
	return &Collector{
		doc: Document{
			Workflow:    workflow,
			ExecutionID: executionID,
			StartedAt:   time.Now().UTC(),
			Inputs:      redactMap(inputs),
		},
		byNode: make(map[string]*NodeTrace),
	}
}

// SetExecutionID stamps the execution id once the executor has minted it.
// Callers create the collector before execution starts, so the id arrives
// late.
func (c *Collector) SetExecutionID(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.ExecutionID = id
}

// SetActiveNode marks which node subsequent LLM and MCP call records belong to.
func (c *Collector) SetActiveNode(nodeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeNode = nodeID
}

// NodeStart opens a node record with its resolved params.
func (c *Collector) NodeStart(nodeID, nodeType string, params map[string]any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	nt := &NodeTrace{
		NodeID:    nodeID,
		Type:      nodeType,
		Status:    api.StatusNotExecuted,
		Params:    redactMap(params),
		StartedAt: time.Now().UTC(),
	}
	c.byNode[nodeID] = nt
	c.doc.Nodes = append(c.doc.Nodes, nt)
}

// NodeAttempt bumps the attempt counter for a node.
func (c *Collector) NodeAttempt(nodeID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if nt, ok := c.byNode[nodeID]; ok {
		nt.Attempts++
	}
}

// NodeEnd closes a node record as completed.
func (c *Collector) NodeEnd(nodeID string, output any, action string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	nt, ok := c.byNode[nodeID]
	if !ok {
		return
	}
	nt.Status = api.StatusCompleted
	nt.Output = redactValue(output)
	nt.Action = action
	nt.FinishedAt = time.Now().UTC()
	nt.DurationMS = nt.FinishedAt.Sub(nt.StartedAt).Milliseconds()
}

// NodeError closes a node record as failed.
func (c *Collector) NodeError(nodeID string, nodeErr *api.NodeError) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	nt, ok := c.byNode[nodeID]
	if !ok {
		nt = &NodeTrace{NodeID: nodeID, StartedAt: time.Now().UTC()}
		c.byNode[nodeID] = nt
		c.doc.Nodes = append(c.doc.Nodes, nt)
	}
	nt.Status = api.StatusFailed
	nt.Error = nodeErr
	nt.FinishedAt = time.Now().UTC()
	nt.DurationMS = nt.FinishedAt.Sub(nt.StartedAt).Milliseconds()
}

// RecordLLMCall appends a model completion record attributed to the active
// node.
func (c *Collector) RecordLLMCall(call LLMCall) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if call.NodeID == "" {
		call.NodeID = c.activeNode
	}
	if call.At.IsZero() {
		call.At = time.Now().UTC()
	}
	c.doc.LLMCalls = append(c.doc.LLMCalls, call)
}

// RecordMCPCall appends a tool invocation record attributed to the active
// node.
func (c *Collector) RecordMCPCall(call MCPCall) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if call.NodeID == "" {
		call.NodeID = c.activeNode
	}
	if call.At.IsZero() {
		call.At = time.Now().UTC()
	}
	call.Args = redactMap(call.Args)
	call.Result = redactValue(call.Result)
	c.doc.MCPCalls = append(c.doc.MCPCalls, call)
}

// Finish records the terminal status and outputs.
func (c *Collector) Finish(status string, outputs map[string]any, execErr *api.Error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.Status = status
	c.doc.Outputs = redactMap(outputs)
	c.doc.Error = execErr
	c.doc.FinishedAt = time.Now().UTC()
}

// Snapshot returns a copy of the current document (node pointers shared,
// intended for read-only inspection in tests and the debug surface).
func (c *Collector) Snapshot() Document {
	if c == nil {
		return Document{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// FileName builds the trace file name for a workflow execution.
func FileName(workflow string, at time.Time) string {
	return fmt.Sprintf("workflow-trace-%s-%s.json", workflow, at.UTC().Format("20060102-150405"))
}

// LatestFile returns the newest trace file for a workflow in dir, or an
// empty string when none exists. Timestamped names sort chronologically.
func LatestFile(dir, workflow string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	prefix := fmt.Sprintf("workflow-trace-%s-", workflow)
	latest := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return ""
	}
	return filepath.Join(dir, latest)
}

// Write serializes the trace into dir using the standard file name and
// returns the path. Write never fails the execution it documents; errors are
// logged and returned for the caller to surface as a warning.
func (c *Collector) Write(dir string) (string, error) {
	if c == nil {
		return "", nil
	}
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create trace directory: %w", err)
	}
	path := filepath.Join(dir, FileName(doc.Workflow, doc.StartedAt))
	data, err := marshalTrace(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write trace: %w", err)
	}
	logging.Debug("Trace", "wrote execution trace to %s", path)
	return path, nil
}
