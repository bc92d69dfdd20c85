// Package nodes implements the built-in node types: http, llm, shell,
// read-file, write-file and the echo test node. Each node follows the
// prep/exec/post contract from internal/node; params arrive already resolved
// by the templated wrapper.
package nodes

import (
	"net/http"
	"time"

	"pflow/internal/api"
	"pflow/internal/llm"
	"pflow/internal/node"
	"pflow/internal/registry"
)

// Deps carries the shared clients built-in nodes draw on. A nil LLM client is
// legal; llm nodes then fail with an auth error at run time.
type Deps struct {
	LLM  llm.Client
	HTTP *http.Client
}

// DefaultDeps builds the standard dependency set.
func DefaultDeps(llmClient llm.Client) Deps {
	return Deps{
		LLM:  llmClient,
		HTTP: &http.Client{Timeout: 60 * time.Second},
	}
}

// Builder constructs one node instance from its IR declaration.
type Builder func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner

var builders = map[string]Builder{
	"http": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newHTTPNode(id, params, policy, deps.HTTP)
	},
	"llm": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newLLMNode(id, params, policy, deps.LLM)
	},
	"shell": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newShellNode(id, params, policy)
	},
	"read-file": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newReadFileNode(id, params, policy)
	},
	"write-file": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newWriteFileNode(id, params, policy)
	},
	"echo": func(id string, params map[string]any, policy node.RetryPolicy, deps Deps) node.NodeRunner {
		return newEchoNode(id, params, policy)
	},
}

// New constructs a built-in node instance, or a REGISTRY_MISS error when the
// type id is not a built-in.
func New(typeID, id string, params map[string]any, policy node.RetryPolicy, deps Deps) (node.NodeRunner, error) {
	builder, ok := builders[typeID]
	if !ok {
		return nil, api.NewError(api.ErrRegistryMiss, "unknown built-in node type %q", typeID)
	}
	return builder(id, params, policy, deps), nil
}

// IsBuiltin reports whether typeID names a built-in node.
func IsBuiltin(typeID string) bool {
	_, ok := builders[typeID]
	return ok
}

// RegisterBuiltins publishes the built-in catalog entries.
func RegisterBuiltins(reg *registry.Registry) error {
	entries := []registry.Entry{
		{
			Key:        "http",
			ClassName:  "HTTPNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/http.go",
			Interface: registry.Interface{
				Description: "Perform an HTTP request and expose the typed response body",
				Params: []registry.Field{
					{Key: "url", Type: "string", Required: true},
					{Key: "method", Type: "string", Description: "HTTP method, default GET"},
					{Key: "headers", Type: "object"},
					{Key: "body", Type: "any", Description: "request body, string or JSON value"},
					{Key: "timeout", Type: "int", Description: "request timeout in seconds"},
				},
				Outputs: []registry.Field{
					{Key: "response", Type: "any", Description: "response body, typed by content type"},
					{Key: "status_code", Type: "int"},
					{Key: "headers", Type: "object"},
				},
				Actions: []string{"default"},
			},
		},
		{
			Key:        "llm",
			ClassName:  "LLMNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/llm.go",
			Interface: registry.Interface{
				Description: "Run a model completion over a prompt",
				Params: []registry.Field{
					{Key: "prompt", Type: "string", Required: true},
					{Key: "model", Type: "string"},
					{Key: "system", Type: "string"},
					{Key: "max_tokens", Type: "int"},
					{Key: "temperature", Type: "float"},
				},
				Outputs: []registry.Field{
					{Key: "response", Type: "string", Description: "completion text"},
					{Key: "model", Type: "string"},
					{Key: "usage", Type: "object"},
				},
				Actions: []string{"default"},
			},
		},
		{
			Key:        "shell",
			ClassName:  "ShellNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/shell.go",
			Interface: registry.Interface{
				Description: "Run a shell command and capture its output",
				Params: []registry.Field{
					{Key: "command", Type: "string", Required: true},
					{Key: "workdir", Type: "string"},
					{Key: "timeout", Type: "int", Description: "command timeout in seconds"},
					{Key: "allow_nonzero", Type: "bool", Description: "treat nonzero exit as success"},
				},
				Outputs: []registry.Field{
					{Key: "stdout", Type: "string"},
					{Key: "stderr", Type: "string"},
					{Key: "exit_code", Type: "int"},
				},
				Actions: []string{"default"},
			},
		},
		{
			Key:        "read-file",
			ClassName:  "ReadFileNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/file.go",
			Interface: registry.Interface{
				Description: "Read a file, as text when valid UTF-8 or bytes otherwise",
				Params: []registry.Field{
					{Key: "path", Type: "string", Required: true},
					{Key: "binary", Type: "bool", Description: "force bytes output"},
				},
				Outputs: []registry.Field{
					{Key: "result", Type: "any", Description: "file contents"},
					{Key: "size", Type: "int"},
				},
				Actions: []string{"default"},
			},
		},
		{
			Key:        "write-file",
			ClassName:  "WriteFileNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/file.go",
			Interface: registry.Interface{
				Description: "Write content to a file, creating parent directories",
				Params: []registry.Field{
					{Key: "path", Type: "string", Required: true},
					{Key: "content", Type: "any", Required: true, Description: "string or bytes"},
				},
				Outputs: []registry.Field{
					{Key: "path", Type: "string"},
					{Key: "bytes_written", Type: "int"},
				},
				Actions: []string{"default"},
			},
		},
		{
			Key:        "echo",
			ClassName:  "EchoNode",
			ModulePath: "pflow/internal/nodes",
			FilePath:   "internal/nodes/echo.go",
			Test:       true,
			Interface: registry.Interface{
				Description: "Echo its params back, for workflow testing",
				Params: []registry.Field{
					{Key: "value", Type: "any"},
					{Key: "action", Type: "string", Description: "action label to return"},
					{Key: "fail", Type: "bool", Description: "fail instead of echoing"},
				},
				Outputs: []registry.Field{
					{Key: "result", Type: "any"},
				},
				Actions: []string{"default"},
			},
		},
	}
	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
