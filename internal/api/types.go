package api

// NodeStatus is the per-node execution state surfaced in results and traces.
type NodeStatus string

const (
	StatusCompleted   NodeStatus = "completed"
	StatusFailed      NodeStatus = "failed"
	StatusNotExecuted NodeStatus = "not_executed"
)

// NodeError is the enriched per-node error record exposed on the repair
// surface. Fields beyond node_id/type/message/category are populated only
// when the failing node class can supply them.
type NodeError struct {
	NodeID          string         `json:"node_id"`
	Type            string         `json:"type"`
	Message         string         `json:"message"`
	Category        Category       `json:"category"`
	Suggestion      string         `json:"suggestion,omitempty"`
	RawResponse     string         `json:"raw_response,omitempty"`
	StatusCode      int            `json:"status_code,omitempty"`
	AvailableFields []string       `json:"available_fields,omitempty"`
	MCPError        map[string]any `json:"mcp_error,omitempty"`
}

// SystemKeyPrefix marks shared-store keys reserved for the engine. Keys with
// this prefix are invisible to user templates and excluded from traces'
// available-variable listings.
const SystemKeyPrefix = "__"

// Reserved shared-store keys.
const (
	KeyCacheHits          = "__cache_hits__"
	KeyPlannerCacheChunks = "__planner_cache_chunks__"
	KeyExecutionID        = "__execution_id__"
)
