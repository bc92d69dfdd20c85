package nodes

import (
	"context"
	"os"
	"path/filepath"
	"unicode/utf8"

	"pflow/internal/api"
	"pflow/internal/node"
)

type readFileNode struct {
	node.Base
}

func newReadFileNode(id string, params map[string]any, policy node.RetryPolicy) node.NodeRunner {
	return &readFileNode{Base: node.NewBase(id, "read-file", params, policy)}
}

func (n *readFileNode) Prep(ctx context.Context, store node.Store) (any, error) {
	path, _ := n.Params()["path"].(string)
	if path == "" {
		return nil, api.NewError(api.ErrNodeRuntime, "read-file node %q requires a path param", n.ID())
	}
	return path, nil
}

func (n *readFileNode) Exec(ctx context.Context, prepRes any) (any, error) {
	path := prepRes.(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.WrapError(api.ErrNodeRuntime, err, "failed to read %s", path)
	}
	binary, _ := n.Params()["binary"].(bool)
	if !binary && utf8.Valid(data) {
		return string(data), nil
	}
	return data, nil
}

func (n *readFileNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	store.Set("result", execRes)
	switch v := execRes.(type) {
	case string:
		store.Set("size", int64(len(v)))
	case []byte:
		store.Set("size", int64(len(v)))
	}
	return node.DefaultAction, nil
}

func (n *readFileNode) Clone() node.NodeRunner {
	return &readFileNode{Base: n.CloneBase()}
}

type writeFileNode struct {
	node.Base
}

func newWriteFileNode(id string, params map[string]any, policy node.RetryPolicy) node.NodeRunner {
	return &writeFileNode{Base: node.NewBase(id, "write-file", params, policy)}
}

type writePrep struct {
	path    string
	content []byte
}

func (n *writeFileNode) Prep(ctx context.Context, store node.Store) (any, error) {
	params := n.Params()
	path, _ := params["path"].(string)
	if path == "" {
		return nil, api.NewError(api.ErrNodeRuntime, "write-file node %q requires a path param", n.ID())
	}
	var content []byte
	switch c := params["content"].(type) {
	case string:
		content = []byte(c)
	case []byte:
		content = c
	case nil:
		return nil, api.NewError(api.ErrNodeRuntime, "write-file node %q requires a content param", n.ID())
	default:
		return nil, api.NewError(api.ErrNodeRuntime,
			"write-file node %q content must be a string or bytes, got %T", n.ID(), c).
			WithSuggestion("reference the value with a single ${...} template to keep its type, or stringify it upstream")
	}
	return &writePrep{path: path, content: content}, nil
}

func (n *writeFileNode) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*writePrep)
	if dir := filepath.Dir(prep.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, api.WrapError(api.ErrNodeRuntime, err, "failed to create directory for %s", prep.path)
		}
	}
	if err := os.WriteFile(prep.path, prep.content, 0o644); err != nil {
		return nil, api.WrapError(api.ErrNodeRuntime, err, "failed to write %s", prep.path)
	}
	return int64(len(prep.content)), nil
}

func (n *writeFileNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	prep := prepRes.(*writePrep)
	store.Set("path", prep.path)
	store.Set("bytes_written", execRes)
	return node.DefaultAction, nil
}

func (n *writeFileNode) Clone() node.NodeRunner {
	return &writeFileNode{Base: n.CloneBase()}
}
