// Package node defines the node execution contract and the behavioral
// wrappers the compiler layers onto every node instance.
//
// A node exposes three phases: Prep reads the shared store and assembles the
// work description, Exec performs the work (and is the unit of retry), Post
// writes outputs back to the store and names the outgoing action. Exec must
// return an error on failure, never an error sentinel value, so the retry
// contract stays intact.
//
// Wrappers compose explicitly, outermost first: instrumented -> batch ->
// namespaced -> templated -> inner. Each wrapper holds its inner runner as a
// field and forwards the phase calls; Clone is part of the interface so a
// fresh copy can be taken per graph entry without reflection or deep-copy
// surprises across delegation layers.
package node

import (
	"context"
	"time"
)

// DefaultAction is the action label used when a node's Post returns "" and
// for edges that declare no action.
const DefaultAction = "default"

// RetryPolicy controls the Exec retry loop. MaxAttempts is the total number
// of Exec invocations: 1 means a single attempt with no retry. Zero is
// rejected at compile time because "zero attempts" would mean the node never
// runs at all.
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
}

// NormalizeAttempts returns the effective attempt count.
func (p RetryPolicy) NormalizeAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// NodeRunner is the single typed interface every node and wrapper
// implements.
type NodeRunner interface {
	// ID returns the workflow-unique node id.
	ID() string
	// Type returns the registry type id the node was built from.
	Type() string

	// Params returns the node's current parameter set. Before the templated
	// wrapper's Prep runs these contain unresolved template strings.
	Params() map[string]any
	// SetParams replaces the parameter set (used by the templated wrapper
	// after resolution).
	SetParams(params map[string]any)

	// Policy returns the retry policy the lifecycle loop must honor.
	Policy() RetryPolicy

	Prep(ctx context.Context, store Store) (any, error)
	Exec(ctx context.Context, prepRes any) (any, error)
	// ExecFallback maps the final error after retries are exhausted to a
	// user-facing result. Returning a non-nil error propagates the failure.
	ExecFallback(prepRes any, execErr error) (any, error)
	Post(ctx context.Context, store Store, prepRes, execRes any) (string, error)

	// Clone returns an independent copy for a fresh invocation. Parameters
	// must not leak between runs.
	Clone() NodeRunner
}

// Base carries the common node identity, params and policy. Concrete nodes
// embed it and implement the phases.
type Base struct {
	id       string
	nodeType string
	params   map[string]any
	policy   RetryPolicy
}

// NewBase builds the embedded base for a node instance.
func NewBase(id, nodeType string, params map[string]any, policy RetryPolicy) Base {
	return Base{id: id, nodeType: nodeType, params: params, policy: policy}
}

func (b *Base) ID() string               { return b.id }
func (b *Base) Type() string             { return b.nodeType }
func (b *Base) Params() map[string]any   { return b.params }
func (b *Base) SetParams(p map[string]any) { b.params = p }
func (b *Base) Policy() RetryPolicy      { return b.policy }

// ExecFallback by default propagates the error unchanged.
func (b *Base) ExecFallback(prepRes any, execErr error) (any, error) {
	return nil, execErr
}

// CloneBase returns a Base with a deep copy of the params, for use in a
// node's Clone implementation.
func (b *Base) CloneBase() Base {
	return Base{
		id:       b.id,
		nodeType: b.nodeType,
		params:   CopyParams(b.params),
		policy:   b.policy,
	}
}

// CopyParams deep-copies a parameter map (maps and slices; scalar and []byte
// leaves are shared, which is safe because nodes treat params as read-only).
func CopyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = copyValue(v)
	}
	return copied
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// RunLifecycle drives one node invocation: Prep, the retry loop around Exec,
// ExecFallback on exhaustion, then Post. Both the executor and the batch
// wrapper use it, so the retry contract is identical at both levels.
func RunLifecycle(ctx context.Context, runner NodeRunner, store Store) (string, error) {
	prepRes, err := runner.Prep(ctx, store)
	if err != nil {
		return "", err
	}

	policy := runner.Policy()
	attempts := policy.NormalizeAttempts()

	var execRes any
	var execErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		execRes, execErr = runner.Exec(ctx, prepRes)
		if execErr == nil {
			break
		}
		if attempt < attempts {
			if err := sleepCtx(ctx, policy.Wait); err != nil {
				execErr = err
				break
			}
		}
	}
	if execErr != nil {
		execRes, execErr = runner.ExecFallback(prepRes, execErr)
		if execErr != nil {
			return "", execErr
		}
	}

	action, err := runner.Post(ctx, store, prepRes, execRes)
	if err != nil {
		return "", err
	}
	if action == "" {
		action = DefaultAction
	}
	return action, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
