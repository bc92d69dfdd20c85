package node

import (
	"context"

	"pflow/internal/trace"
)

// Instrumented is the outermost wrapper: it reports the node's lifecycle to
// the trace collector. NodeStart is recorded after the inner Prep so the
// trace shows resolved params rather than raw templates; failures are
// recorded by the executor, which sees the error with its full context.
type Instrumented struct {
	inner     NodeRunner
	collector *trace.Collector
}

// NewInstrumented wraps inner with trace reporting. A nil collector is legal
// and makes every report a no-op.
func NewInstrumented(inner NodeRunner, collector *trace.Collector) *Instrumented {
	return &Instrumented{inner: inner, collector: collector}
}

func (in *Instrumented) ID() string                 { return in.inner.ID() }
func (in *Instrumented) Type() string               { return in.inner.Type() }
func (in *Instrumented) Params() map[string]any     { return in.inner.Params() }
func (in *Instrumented) SetParams(p map[string]any) { in.inner.SetParams(p) }
func (in *Instrumented) Policy() RetryPolicy        { return in.inner.Policy() }

func (in *Instrumented) Prep(ctx context.Context, store Store) (any, error) {
	in.collector.SetActiveNode(in.ID())
	prepRes, err := in.inner.Prep(ctx, store)
	in.collector.NodeStart(in.ID(), in.Type(), in.inner.Params())
	if err != nil {
		return nil, err
	}
	return prepRes, nil
}

func (in *Instrumented) Exec(ctx context.Context, prepRes any) (any, error) {
	in.collector.NodeAttempt(in.ID())
	return in.inner.Exec(ctx, prepRes)
}

func (in *Instrumented) ExecFallback(prepRes any, execErr error) (any, error) {
	return in.inner.ExecFallback(prepRes, execErr)
}

func (in *Instrumented) Post(ctx context.Context, store Store, prepRes, execRes any) (string, error) {
	action, err := in.inner.Post(ctx, store, prepRes, execRes)
	if err != nil {
		return "", err
	}
	var output any
	if ns, ok := store.Get(in.ID()); ok {
		output = ns
	}
	in.collector.NodeEnd(in.ID(), output, action)
	return action, nil
}

func (in *Instrumented) Clone() NodeRunner {
	return &Instrumented{inner: in.inner.Clone(), collector: in.collector}
}
