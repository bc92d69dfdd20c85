package node

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
)

// stubNode is a minimal in-package node: Exec invokes fn with the resolved
// params and Post writes the result under "result".
type stubNode struct {
	Base
	fn func(ctx context.Context, params map[string]any) (any, error)
}

func newStub(id string, params map[string]any, policy RetryPolicy, fn func(ctx context.Context, params map[string]any) (any, error)) *stubNode {
	return &stubNode{Base: NewBase(id, "stub", params, policy), fn: fn}
}

func (n *stubNode) Prep(ctx context.Context, store Store) (any, error) {
	return n.Params(), nil
}

func (n *stubNode) Exec(ctx context.Context, prepRes any) (any, error) {
	return n.fn(ctx, prepRes.(map[string]any))
}

func (n *stubNode) Post(ctx context.Context, store Store, prepRes, execRes any) (string, error) {
	store.Set("result", execRes)
	return "", nil
}

func (n *stubNode) Clone() NodeRunner {
	return &stubNode{Base: n.CloneBase(), fn: n.fn}
}

func wrap(inner NodeRunner) NodeRunner {
	return NewNamespaced(NewTemplated(inner))
}

func TestRunLifecycleRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	n := newStub("work", nil, RetryPolicy{MaxAttempts: 3}, func(ctx context.Context, _ map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	store := NewSharedStore(nil)
	action, err := RunLifecycle(context.Background(), wrap(n), store)
	require.NoError(t, err)
	assert.Equal(t, DefaultAction, action)
	assert.Equal(t, int64(3), calls.Load())

	ns, ok := store.Get("work")
	require.True(t, ok)
	assert.Equal(t, "ok", ns.(map[string]any)["result"])
}

func TestRunLifecycleExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	n := newStub("work", nil, RetryPolicy{MaxAttempts: 2}, func(ctx context.Context, _ map[string]any) (any, error) {
		calls.Add(1)
		return nil, errors.New("permanent")
	})

	_, err := RunLifecycle(context.Background(), wrap(n), NewSharedStore(nil))
	require.Error(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRunLifecycleZeroPolicyRunsOnce(t *testing.T) {
	var calls atomic.Int64
	n := newStub("work", nil, RetryPolicy{}, func(ctx context.Context, _ map[string]any) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	_, err := RunLifecycle(context.Background(), wrap(n), NewSharedStore(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestNamespacedWritesLandInNamespace(t *testing.T) {
	store := NewSharedStore(map[string]any{"url": "https://example.com"})
	n := newStub("fetch", nil, RetryPolicy{}, func(ctx context.Context, _ map[string]any) (any, error) {
		return map[string]any{"status_code": int64(200)}, nil
	})

	_, err := RunLifecycle(context.Background(), wrap(n), store)
	require.NoError(t, err)

	// Top-level input untouched, output under the node id.
	v, _ := store.Get("url")
	assert.Equal(t, "https://example.com", v)
	ns, ok := store.Get("fetch")
	require.True(t, ok)
	result := ns.(map[string]any)["result"].(map[string]any)
	assert.Equal(t, int64(200), result["status_code"])
}

func TestNamespacedSetKeepsEarlierSnapshotsStable(t *testing.T) {
	store := NewSharedStore(nil)
	scoped := &namespacedStore{base: store, id: "n"}
	scoped.Set("a", 1)
	before := store.Snapshot()["n"].(map[string]any)
	scoped.Set("b", 2)

	assert.Len(t, before, 1)
	after, _ := store.Get("n")
	assert.Len(t, after.(map[string]any), 2)
}

func TestTemplatedResolvesParamsBeforePrep(t *testing.T) {
	store := NewSharedStore(map[string]any{
		"url":   "https://example.com",
		"count": int64(7),
	})
	var seen map[string]any
	n := newStub("fetch", map[string]any{
		"target":  "${url}",
		"retries": "${count}",
		"label":   "fetching ${url}",
	}, RetryPolicy{}, func(ctx context.Context, params map[string]any) (any, error) {
		seen = params
		return nil, nil
	})

	_, err := RunLifecycle(context.Background(), wrap(n), store)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", seen["target"])
	assert.Equal(t, int64(7), seen["retries"], "single-reference templates keep native types")
	assert.Equal(t, "fetching https://example.com", seen["label"])
}

func TestTemplatedUnresolvedFailsPrep(t *testing.T) {
	n := newStub("fetch", map[string]any{"target": "${missing}"}, RetryPolicy{}, nil)
	_, err := RunLifecycle(context.Background(), wrap(n), NewSharedStore(nil))
	require.Error(t, err)
	assert.Equal(t, api.ErrTemplateUnresolved, api.CodeOf(err))
}

func TestCloneIsolatesParams(t *testing.T) {
	n := newStub("fetch", map[string]any{"target": "${url}"}, RetryPolicy{}, func(ctx context.Context, _ map[string]any) (any, error) {
		return nil, nil
	})
	wrapped := wrap(n)
	clone := wrapped.Clone()

	store := NewSharedStore(map[string]any{"url": "https://example.com"})
	_, err := RunLifecycle(context.Background(), clone, store)
	require.NoError(t, err)

	// The original still carries the unresolved template.
	assert.Equal(t, "${url}", wrapped.Params()["target"])
}

func batchNode(t *testing.T, cfg map[string]any, fn func(ctx context.Context, params map[string]any) (any, error)) *Batch {
	t.Helper()
	parsed, err := ParseBatchConfig(cfg)
	require.NoError(t, err)
	inner := newStub("work", map[string]any{"value": "${item}"}, RetryPolicy{}, fn)
	return NewBatch(wrap(inner), parsed)
}

func TestBatchSequentialOrder(t *testing.T) {
	store := NewSharedStore(map[string]any{"names": []any{"a", "b", "c"}})
	b := batchNode(t, map[string]any{"items": "${names}"}, func(ctx context.Context, params map[string]any) (any, error) {
		return params["value"].(string) + "!", nil
	})

	_, err := RunLifecycle(context.Background(), b, store)
	require.NoError(t, err)

	ns, _ := store.Get("work")
	out := ns.(map[string]any)
	assert.Equal(t, []any{"a!", "b!", "c!"}, out["results"])
	assert.Equal(t, int64(3), out["count"])
}

func TestBatchParallelPreservesInputOrder(t *testing.T) {
	items := make([]any, 20)
	for i := range items {
		items[i] = int64(i)
	}
	store := NewSharedStore(map[string]any{"nums": items})
	b := batchNode(t, map[string]any{
		"items":          "${nums}",
		"parallel":       true,
		"max_concurrent": 4,
	}, func(ctx context.Context, params map[string]any) (any, error) {
		return params["value"], nil
	})

	_, err := RunLifecycle(context.Background(), b, store)
	require.NoError(t, err)

	ns, _ := store.Get("work")
	results := ns.(map[string]any)["results"].([]any)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, int64(i), r)
	}
}

func TestBatchEmptyItemsSkipsInner(t *testing.T) {
	var calls atomic.Int64
	store := NewSharedStore(map[string]any{"names": []any{}})
	b := batchNode(t, map[string]any{"items": "${names}"}, func(ctx context.Context, _ map[string]any) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	_, err := RunLifecycle(context.Background(), b, store)
	require.NoError(t, err)
	assert.Equal(t, int64(0), calls.Load())

	ns, _ := store.Get("work")
	out := ns.(map[string]any)
	assert.Equal(t, []any{}, out["results"])
	assert.Equal(t, int64(0), out["count"])
}

func TestBatchFailModeAborts(t *testing.T) {
	store := NewSharedStore(map[string]any{"names": []any{"a", "boom", "c"}})
	b := batchNode(t, map[string]any{"items": "${names}"}, func(ctx context.Context, params map[string]any) (any, error) {
		if params["value"] == "boom" {
			return nil, errors.New("item exploded")
		}
		return params["value"], nil
	})

	_, err := RunLifecycle(context.Background(), b, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item exploded")
}

func TestBatchContinueModeRecordsItemErrors(t *testing.T) {
	store := NewSharedStore(map[string]any{"names": []any{"a", "boom", "c"}})
	b := batchNode(t, map[string]any{
		"items":    "${names}",
		"on_error": "continue",
	}, func(ctx context.Context, params map[string]any) (any, error) {
		if params["value"] == "boom" {
			return nil, errors.New("item exploded")
		}
		return params["value"], nil
	})

	_, err := RunLifecycle(context.Background(), b, store)
	require.NoError(t, err)

	ns, _ := store.Get("work")
	out := ns.(map[string]any)
	results := out["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0])
	assert.Contains(t, results[1].(map[string]any)["error"], "item exploded")
	assert.Equal(t, "c", results[2])

	errList := out["errors"].([]any)
	require.Len(t, errList, 1)
	assert.Equal(t, int64(1), errList[0].(map[string]any)["index"])
}

func TestBatchItemsMustBeList(t *testing.T) {
	store := NewSharedStore(map[string]any{"names": "not-a-list"})
	b := batchNode(t, map[string]any{"items": "${names}"}, nil)
	_, err := RunLifecycle(context.Background(), b, store)
	require.Error(t, err)
	assert.Equal(t, api.ErrNodeRuntime, api.CodeOf(err))
}

func TestBatchItemRetries(t *testing.T) {
	var calls atomic.Int64
	parsed, err := ParseBatchConfig(map[string]any{"items": []any{"x"}})
	require.NoError(t, err)
	inner := newStub("work", nil, RetryPolicy{MaxAttempts: 3}, func(ctx context.Context, _ map[string]any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	b := NewBatch(wrap(inner), parsed)

	_, err = RunLifecycle(context.Background(), b, NewSharedStore(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestParseBatchConfig(t *testing.T) {
	cfg, err := ParseBatchConfig(map[string]any{
		"items":          []any{1, 2},
		"as":             "row",
		"parallel":       true,
		"max_concurrent": float64(8),
		"on_error":       "continue",
	})
	require.NoError(t, err)
	assert.Equal(t, "row", cfg.As)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, BatchContinue, cfg.OnError)

	_, err = ParseBatchConfig(map[string]any{})
	require.Error(t, err)
	_, err = ParseBatchConfig("nope")
	require.Error(t, err)
	_, err = ParseBatchConfig(map[string]any{"items": []any{}, "on_error": "retry"})
	require.Error(t, err)
}
