// Package llm provides the model client used by llm nodes. A small
// provider-neutral interface fronts the Anthropic and OpenAI SDKs; the router
// picks a provider from the model identifier so workflows name models, not
// vendors.
package llm

import (
	"context"
	"strings"

	"pflow/internal/api"
)

// DefaultModel is used when an llm node omits the model param.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens caps completions when the node does not set max_tokens.
const DefaultMaxTokens = 4096

// Request is a single-turn completion request.
type Request struct {
	Model       string
	Prompt      string
	System      string
	MaxTokens   int64
	Temperature float64
	// HasTemperature distinguishes an explicit 0 from "not set".
	HasTemperature bool
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response is the completion result.
type Response struct {
	Text     string `json:"text"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// Client is the provider-neutral completion interface.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ProviderFor infers the provider from a model identifier. Models with an
// explicit "provider:model" prefix override inference.
func ProviderFor(model string) (provider, modelID string) {
	if i := strings.Index(model, ":"); i > 0 {
		return model[:i], model[i+1:]
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return "anthropic", model
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"),
		strings.HasPrefix(lower, "chatgpt"):
		return "openai", model
	default:
		return "", model
	}
}

// Router dispatches completion requests to the provider inferred from the
// request's model identifier.
type Router struct {
	providers map[string]Client
}

// NewRouter builds a router over named provider clients.
func NewRouter(providers map[string]Client) *Router {
	return &Router{providers: providers}
}

// Complete routes the request to its provider.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	provider, modelID := ProviderFor(req.Model)
	if provider == "" {
		return Response{}, api.NewError(api.ErrNodeRuntime,
			"cannot infer provider for model %q", req.Model).
			WithSuggestion("use a claude-*/gpt-* model or an explicit provider prefix like anthropic:model-id")
	}
	client, ok := r.providers[provider]
	if !ok {
		return Response{}, api.NewError(api.ErrNodeAuth,
			"no API key configured for provider %q", provider).
			WithSuggestion("set " + keyEnvVar(provider) + " or configure the key in settings")
	}
	req.Model = modelID
	return client.Complete(ctx, req)
}

func keyEnvVar(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

// classifyStatus maps a provider HTTP status to an engine error code.
func classifyStatus(status int) api.ErrorCode {
	switch {
	case status == 401 || status == 403:
		return api.ErrNodeAuth
	case status == 429:
		return api.ErrNodeRateLimit
	case status == 408 || status == 504:
		return api.ErrNodeTimeout
	default:
		return api.ErrNodeRuntime
	}
}
