package node

import (
	"context"

	"pflow/internal/template"
)

// Templated resolves ${} references in the inner node's params against the
// shared store before the inner Prep runs. Resolution is deferred to run time
// so upstream node outputs are visible; the compiler only checks that every
// reference is resolvable in principle.
type Templated struct {
	inner  NodeRunner
	engine *template.Engine
}

// NewTemplated wraps inner with run-time param resolution.
func NewTemplated(inner NodeRunner) *Templated {
	return &Templated{inner: inner, engine: template.New()}
}

func (t *Templated) ID() string                 { return t.inner.ID() }
func (t *Templated) Type() string               { return t.inner.Type() }
func (t *Templated) Params() map[string]any     { return t.inner.Params() }
func (t *Templated) SetParams(p map[string]any) { t.inner.SetParams(p) }
func (t *Templated) Policy() RetryPolicy        { return t.inner.Policy() }

func (t *Templated) Prep(ctx context.Context, store Store) (any, error) {
	params := t.inner.Params()
	if len(params) > 0 {
		vars := template.NewVars(store.Snapshot())
		resolved, err := t.engine.ResolveNested(CopyParams(params), vars)
		if err != nil {
			return nil, err
		}
		t.inner.SetParams(resolved.(map[string]any))
	}
	return t.inner.Prep(ctx, store)
}

func (t *Templated) Exec(ctx context.Context, prepRes any) (any, error) {
	return t.inner.Exec(ctx, prepRes)
}

func (t *Templated) ExecFallback(prepRes any, execErr error) (any, error) {
	return t.inner.ExecFallback(prepRes, execErr)
}

func (t *Templated) Post(ctx context.Context, store Store, prepRes, execRes any) (string, error) {
	return t.inner.Post(ctx, store, prepRes, execRes)
}

func (t *Templated) Clone() NodeRunner {
	return &Templated{inner: t.inner.Clone(), engine: t.engine}
}
