package node

import "context"

// Namespaced routes the inner node's bare-key writes into shared[id], so a
// node writing "result" produces shared["fetch"]["result"] without the node
// knowing its own id. Reads still see the whole store, which is what the
// templated wrapper below it relies on.
type Namespaced struct {
	inner NodeRunner
}

// NewNamespaced wraps inner with output namespacing.
func NewNamespaced(inner NodeRunner) *Namespaced {
	return &Namespaced{inner: inner}
}

func (n *Namespaced) ID() string                 { return n.inner.ID() }
func (n *Namespaced) Type() string               { return n.inner.Type() }
func (n *Namespaced) Params() map[string]any     { return n.inner.Params() }
func (n *Namespaced) SetParams(p map[string]any) { n.inner.SetParams(p) }
func (n *Namespaced) Policy() RetryPolicy        { return n.inner.Policy() }

func (n *Namespaced) scope(store Store) Store {
	return &namespacedStore{base: store, id: n.inner.ID()}
}

func (n *Namespaced) Prep(ctx context.Context, store Store) (any, error) {
	return n.inner.Prep(ctx, n.scope(store))
}

func (n *Namespaced) Exec(ctx context.Context, prepRes any) (any, error) {
	return n.inner.Exec(ctx, prepRes)
}

func (n *Namespaced) ExecFallback(prepRes any, execErr error) (any, error) {
	return n.inner.ExecFallback(prepRes, execErr)
}

func (n *Namespaced) Post(ctx context.Context, store Store, prepRes, execRes any) (string, error) {
	return n.inner.Post(ctx, n.scope(store), prepRes, execRes)
}

func (n *Namespaced) Clone() NodeRunner {
	return &Namespaced{inner: n.inner.Clone()}
}
