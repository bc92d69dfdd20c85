// Package workflow executes a compiled workflow: it seeds the shared store
// from the caller's inputs, walks the graph by action labels on a single
// goroutine, renders declared outputs and assembles the result envelope. Any
// concurrency lives inside the batch wrapper, never here.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pflow/internal/api"
	"pflow/internal/compiler"
	"pflow/internal/ir"
	"pflow/internal/node"
	"pflow/internal/template"
	"pflow/internal/trace"
	"pflow/pkg/logging"
)

// Execution status values surfaced in the result envelope.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// NodeResult is one node's terminal state in the result envelope.
type NodeResult struct {
	NodeID string         `json:"node_id"`
	Type   string         `json:"type"`
	Status api.NodeStatus `json:"status"`
}

// Result is the execution envelope returned to callers and serialized by the
// CLI and the serve surface.
type Result struct {
	ExecutionID string         `json:"execution_id"`
	Workflow    string         `json:"workflow"`
	Status      string         `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Nodes       []NodeResult   `json:"nodes"`
	Error       *api.NodeError `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	TracePath   string         `json:"trace_path,omitempty"`
}

// Executor runs compiled workflows.
type Executor struct {
	collector *trace.Collector
	engine    *template.Engine
}

// New creates an executor. The collector may be nil for untraced runs.
func New(collector *trace.Collector) *Executor {
	return &Executor{collector: collector, engine: template.New()}
}

// Execute runs the workflow to completion, a node failure or cancellation.
// The returned error is non-nil only for input validation problems; node
// failures are reported inside the Result so callers always get the
// per-node status table.
func (e *Executor) Execute(ctx context.Context, c *compiler.Compiled, inputs map[string]any) (*Result, error) {
	start := time.Now()
	executionID := uuid.NewString()

	seeded, err := seedInputs(c.Workflow, inputs)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ExecutionID: executionID,
		Workflow:    c.Workflow.Name,
		Inputs:      seeded,
		Nodes:       make([]NodeResult, len(c.Nodes)),
	}
	for i, runner := range c.Nodes {
		result.Nodes[i] = NodeResult{
			NodeID: runner.ID(),
			Type:   c.Workflow.Nodes[i].Type,
			Status: api.StatusNotExecuted,
		}
	}

	e.collector.SetExecutionID(executionID)
	store := node.NewSharedStore(seeded)
	store.Set(api.KeyExecutionID, executionID)

	current := c.Start
	for current >= 0 {
		runner := c.Nodes[current].Clone()
		logging.Debug("Executor", "running node %s (%s)", runner.ID(), runner.Type())

		action, err := node.RunLifecycle(ctx, runner, store)
		if err != nil {
			nodeErr := classifyNodeError(c.Workflow.Nodes[current], err)
			result.Nodes[current].Status = api.StatusFailed
			result.Error = nodeErr
			result.Status = failureStatus(ctx, err)
			e.collector.NodeError(runner.ID(), nodeErr)
			finish(e.collector, result, start, err)
			return result, nil
		}
		result.Nodes[current].Status = api.StatusCompleted

		next, ok := c.Successors[current][action]
		if !ok {
			if action != node.DefaultAction {
				logging.Debug("Executor", "node %s returned action %q with no edge, terminating", runner.ID(), action)
			}
			break
		}
		current = next
	}

	outputs, err := e.renderOutputs(c.Workflow, store)
	if err != nil {
		nodeErr := &api.NodeError{
			NodeID:   "",
			Type:     "output",
			Message:  err.Error(),
			Category: api.CategoryTemplate,
		}
		if structured := api.AsError(err); structured != nil {
			nodeErr.Message = structured.Message
			nodeErr.Category = structured.Category()
			nodeErr.Suggestion = structured.Suggestion
		}
		result.Error = nodeErr
		result.Status = StatusFailed
		finish(e.collector, result, start, err)
		return result, nil
	}
	result.Outputs = outputs
	result.Status = StatusCompleted
	finish(e.collector, result, start, nil)
	return result, nil
}

func finish(collector *trace.Collector, result *Result, start time.Time, err error) {
	result.DurationMS = time.Since(start).Milliseconds()
	collector.Finish(result.Status, result.Outputs, api.AsError(err))
}

func failureStatus(ctx context.Context, err error) string {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return StatusCancelled
	}
	return StatusFailed
}

// seedInputs applies defaults and checks required inputs. Unknown keys pass
// through so callers can feed extra context into templates.
func seedInputs(wf *ir.Workflow, provided map[string]any) (map[string]any, error) {
	seeded := make(map[string]any, len(provided)+len(wf.Inputs))
	for k, v := range provided {
		seeded[k] = v
	}
	var missing []string
	for name, decl := range wf.Inputs {
		if _, ok := seeded[name]; ok {
			continue
		}
		if decl.Default != nil {
			seeded[name] = decl.Default
			continue
		}
		if decl.Required {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, api.NewError(api.ErrIRSchema, "missing required inputs: %v", missing).
			WithDetail("missing_inputs", missing).
			WithSuggestion("pass the missing inputs as key=value arguments")
	}
	return seeded, nil
}

// renderOutputs resolves each declared output's source template against the
// final store. Native types survive single-reference sources.
func (e *Executor) renderOutputs(wf *ir.Workflow, store node.Store) (map[string]any, error) {
	if len(wf.Outputs) == 0 {
		return nil, nil
	}
	vars := template.NewVars(store.Snapshot())
	outputs := make(map[string]any, len(wf.Outputs))
	for name, out := range wf.Outputs {
		value, err := e.engine.Resolve(out.Source, vars)
		if err != nil {
			if structured := api.AsError(err); structured != nil {
				structured.WithDetail("output", name)
			}
			return nil, err
		}
		outputs[name] = value
	}
	return outputs, nil
}

// classifyNodeError projects a node failure into the enriched per-node error
// record, lifting structured details (raw responses, status codes, template
// fields) onto the repair surface.
func classifyNodeError(decl ir.Node, err error) *api.NodeError {
	nodeErr := &api.NodeError{
		NodeID:   decl.ID,
		Type:     decl.Type,
		Message:  err.Error(),
		Category: api.CategoryRuntime,
	}
	structured := api.AsError(err)
	if structured == nil {
		return nodeErr
	}
	nodeErr.Message = structured.Message
	nodeErr.Category = structured.Category()
	nodeErr.Suggestion = structured.Suggestion
	if raw, ok := structured.Details["raw_response"].(string); ok {
		nodeErr.RawResponse = raw
	}
	if code, ok := structured.Details["status_code"].(int); ok {
		nodeErr.StatusCode = code
	}
	if fields, ok := structured.Details["available_fields"].([]string); ok {
		nodeErr.AvailableFields = fields
	}
	if mcpErr, ok := structured.Details["mcp_error"].(map[string]any); ok {
		nodeErr.MCPError = mcpErr
	}
	return nodeErr
}
