package nodes

import (
	"context"

	"pflow/internal/api"
	"pflow/internal/llm"
	"pflow/internal/node"
)

type llmNode struct {
	node.Base
	client llm.Client
}

func newLLMNode(id string, params map[string]any, policy node.RetryPolicy, client llm.Client) node.NodeRunner {
	return &llmNode{Base: node.NewBase(id, "llm", params, policy), client: client}
}

func (n *llmNode) Prep(ctx context.Context, store node.Store) (any, error) {
	if n.client == nil {
		return nil, api.NewError(api.ErrNodeAuth, "no model provider configured for llm node %q", n.ID()).
			WithSuggestion("set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	params := n.Params()
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return nil, api.NewError(api.ErrNodeRuntime, "llm node %q requires a prompt param", n.ID())
	}
	req := llm.Request{Prompt: prompt}
	if m, ok := params["model"].(string); ok {
		req.Model = m
	}
	if s, ok := params["system"].(string); ok {
		req.System = s
	}
	if mt, ok := asInt(params["max_tokens"]); ok {
		req.MaxTokens = mt
	}
	if temp, ok := asFloat(params["temperature"]); ok {
		req.Temperature = temp
		req.HasTemperature = true
	}
	return req, nil
}

func (n *llmNode) Exec(ctx context.Context, prepRes any) (any, error) {
	return n.client.Complete(ctx, prepRes.(llm.Request))
}

func (n *llmNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	resp := execRes.(llm.Response)
	store.Set("response", resp.Text)
	store.Set("model", resp.Model)
	store.Set("usage", map[string]any{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"total_tokens":  resp.Usage.TotalTokens,
	})
	return node.DefaultAction, nil
}

func (n *llmNode) Clone() node.NodeRunner {
	return &llmNode{Base: n.CloneBase(), client: n.client}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
