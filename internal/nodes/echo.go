package nodes

import (
	"context"

	"pflow/internal/api"
	"pflow/internal/node"
)

// echoNode is a test-only node: it writes its value param back as result.
// With fail=true it errors instead, so workflow failure paths can be
// exercised without external dependencies.
type echoNode struct {
	node.Base
}

func newEchoNode(id string, params map[string]any, policy node.RetryPolicy) node.NodeRunner {
	return &echoNode{Base: node.NewBase(id, "echo", params, policy)}
}

func (n *echoNode) Prep(ctx context.Context, store node.Store) (any, error) {
	return n.Params(), nil
}

func (n *echoNode) Exec(ctx context.Context, prepRes any) (any, error) {
	params := prepRes.(map[string]any)
	if fail, _ := params["fail"].(bool); fail {
		return nil, api.NewError(api.ErrNodeRuntime, "echo node %q failed on request", n.ID())
	}
	return params["value"], nil
}

func (n *echoNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	store.Set("result", execRes)
	params := prepRes.(map[string]any)
	if action, ok := params["action"].(string); ok && action != "" {
		return action, nil
	}
	return node.DefaultAction, nil
}

func (n *echoNode) Clone() node.NodeRunner {
	return &echoNode{Base: n.CloneBase()}
}
