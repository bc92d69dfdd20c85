package ir

// Version is the IR schema version emitted by this build.
const Version = "0.1.0"

// Workflow is the canonical JSON intermediate representation of a workflow.
// Both the markdown authoring form and the JSON form load into this type;
// everything downstream (validation, compilation, execution) consumes it.
type Workflow struct {
	IRVersion   string `json:"ir_version"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// Nodes is the ordered node list. The first node is the start node.
	Nodes []Node `json:"nodes"`

	// Edges wires nodes by action label. An empty action means "default".
	Edges []Edge `json:"edges"`

	// Inputs declares the workflow's external parameters.
	Inputs map[string]Input `json:"inputs,omitempty"`

	// Outputs declares the values rendered from the final shared store.
	Outputs map[string]Output `json:"outputs,omitempty"`

	// Discovery metadata.
	SearchKeywords  []string `json:"search_keywords,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	TypicalUseCases []string `json:"typical_use_cases,omitempty"`

	// Execution counters, maintained by the workflow library.
	ExecutionCount int    `json:"execution_count,omitempty"`
	LastExecuted   string `json:"last_executed,omitempty"`
}

// Node is a single unit of work in the workflow.
type Node struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Purpose string         `json:"purpose,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	// MaxAttempts and WaitSeconds form the retry policy. Zero MaxAttempts
	// means "use the node type's default" (normally 1).
	MaxAttempts int     `json:"max_attempts,omitempty"`
	WaitSeconds float64 `json:"wait_seconds,omitempty"`
}

// Edge is a directed transition between two nodes, taken when the source
// node's post phase returns the matching action label.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action,omitempty"`
}

// ActionLabel returns the effective action label for the edge.
func (e Edge) ActionLabel() string {
	if e.Action == "" {
		return "default"
	}
	return e.Action
}

// Input declares one external workflow parameter.
type Input struct {
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Output declares one workflow output rendered from a template source.
type Output struct {
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// MCPTypePrefix marks virtual node types backed by an external MCP tool.
// The full form is mcp-{server}-{tool}.
const MCPTypePrefix = "mcp-"

// BatchParamKey is the reserved param holding a node's batch fan-out config.
const BatchParamKey = "batch"
