package node

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"pflow/internal/api"
	"pflow/internal/template"
	"pflow/pkg/logging"
)

// Batch error handling modes.
const (
	BatchFail     = "fail"
	BatchContinue = "continue"
)

// DefaultMaxConcurrent bounds parallel batch fan-out when the workflow does
// not set one.
const DefaultMaxConcurrent = 5

// BatchConfig is the parsed `batch` parameter of a node.
type BatchConfig struct {
	// Items is either a literal []any or a template string resolving to one.
	Items any
	// As names the per-item binding visible to the inner node's templates.
	// Empty defaults to "item".
	As string
	// Parallel runs items concurrently, bounded by MaxConcurrent.
	Parallel      bool
	MaxConcurrent int
	// OnError selects BatchFail (first failure aborts the batch) or
	// BatchContinue (failed items record an error entry, the rest proceed).
	OnError string
}

// ParseBatchConfig interprets the raw value of a node's `batch` param.
func ParseBatchConfig(raw any) (BatchConfig, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return BatchConfig{}, api.NewError(api.ErrCompile, "batch config must be a mapping, got %T", raw)
	}
	cfg := BatchConfig{As: "item", MaxConcurrent: DefaultMaxConcurrent, OnError: BatchFail}
	items, ok := m["items"]
	if !ok {
		return BatchConfig{}, api.NewError(api.ErrCompile, "batch config requires an items field")
	}
	cfg.Items = items
	if as, ok := m["as"].(string); ok && as != "" {
		cfg.As = as
	}
	if p, ok := m["parallel"].(bool); ok {
		cfg.Parallel = p
	}
	if mc, ok := numberAsInt(m["max_concurrent"]); ok {
		if mc < 1 {
			return BatchConfig{}, api.NewError(api.ErrCompile, "batch max_concurrent must be at least 1, got %d", mc)
		}
		cfg.MaxConcurrent = mc
	}
	if oe, ok := m["on_error"].(string); ok {
		if oe != BatchFail && oe != BatchContinue {
			return BatchConfig{}, api.NewError(api.ErrCompile,
				"batch on_error must be %q or %q, got %q", BatchFail, BatchContinue, oe)
		}
		cfg.OnError = oe
	}
	return cfg, nil
}

func numberAsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Batch fans the inner node out over a list of items. Each item runs the full
// inner lifecycle (retries included) against an overlay store where the `as`
// binding shadows everything else; results land in the node's namespace as an
// ordered `results` list plus a `count`.
type Batch struct {
	inner NodeRunner
	cfg   BatchConfig
}

// NewBatch wraps inner with batch fan-out.
func NewBatch(inner NodeRunner, cfg BatchConfig) *Batch {
	return &Batch{inner: inner, cfg: cfg}
}

func (b *Batch) ID() string                 { return b.inner.ID() }
func (b *Batch) Type() string               { return b.inner.Type() }
func (b *Batch) Params() map[string]any     { return b.inner.Params() }
func (b *Batch) SetParams(p map[string]any) { b.inner.SetParams(p) }

// Policy returns a single attempt: retries happen per item inside Exec, so a
// wrapper-level retry would rerun completed items.
func (b *Batch) Policy() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

type batchPrep struct {
	items []any
	store Store
}

func (b *Batch) Prep(ctx context.Context, store Store) (any, error) {
	items, err := b.resolveItems(store)
	if err != nil {
		return nil, err
	}
	return &batchPrep{items: items, store: store}, nil
}

func (b *Batch) resolveItems(store Store) ([]any, error) {
	raw := b.cfg.Items
	if tmpl, ok := raw.(string); ok {
		resolved, err := template.New().Resolve(tmpl, template.NewVars(store.Snapshot()))
		if err != nil {
			return nil, err
		}
		raw = resolved
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, api.NewError(api.ErrNodeRuntime,
			"batch items for node %q must resolve to a list, got %T", b.ID(), raw)
	}
	return items, nil
}

type batchItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type batchResult struct {
	results []any
	errors  []batchItemError
}

func (b *Batch) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*batchPrep)
	if len(prep.items) == 0 {
		return &batchResult{results: []any{}}, nil
	}

	results := make([]any, len(prep.items))
	itemErrs := make([]error, len(prep.items))

	if b.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		sem := semaphore.NewWeighted(int64(b.cfg.MaxConcurrent))
		for i, item := range prep.items {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					itemErrs[i] = err
					return err
				}
				defer sem.Release(1)
				res, err := b.runItem(gctx, prep.store, item)
				results[i] = res
				itemErrs[i] = err
				if err != nil && b.cfg.OnError == BatchFail {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil && b.cfg.OnError == BatchFail {
			return nil, b.wrapItemError(firstError(itemErrs))
		}
	} else {
		for i, item := range prep.items {
			res, err := b.runItem(ctx, prep.store, item)
			results[i] = res
			itemErrs[i] = err
			if err != nil && b.cfg.OnError == BatchFail {
				return nil, b.wrapItemError(err)
			}
		}
	}

	out := &batchResult{results: results}
	for i, err := range itemErrs {
		if err == nil {
			continue
		}
		results[i] = map[string]any{"error": err.Error()}
		out.errors = append(out.errors, batchItemError{Index: i, Error: err.Error()})
		logging.Warn("Batch", "node %s item %d failed: %v", b.ID(), i, err)
	}
	return out, nil
}

// runItem executes one batch item through the full inner lifecycle on a
// cloned runner and a scoped overlay store, then harvests the namespace the
// item wrote.
func (b *Batch) runItem(ctx context.Context, base Store, item any) (any, error) {
	overlay := newOverlayStore(base, b.cfg.As, item)
	runner := b.inner.Clone()
	if _, err := RunLifecycle(ctx, runner, overlay); err != nil {
		return nil, err
	}
	ns, ok := overlay.local[b.ID()].(map[string]any)
	if !ok {
		return nil, nil
	}
	if res, ok := ns["result"]; ok && len(ns) == 1 {
		return res, nil
	}
	return ns, nil
}

func (b *Batch) wrapItemError(err error) error {
	if err == nil {
		return nil
	}
	if e := api.AsError(err); e != nil {
		return e
	}
	return api.WrapError(api.ErrNodeRuntime, err, "batch item failed in node %q", b.ID())
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) ExecFallback(prepRes any, execErr error) (any, error) {
	return nil, execErr
}

func (b *Batch) Post(ctx context.Context, store Store, prepRes, execRes any) (string, error) {
	res := execRes.(*batchResult)
	writeNamespace(store, b.ID(), "results", res.results)
	writeNamespace(store, b.ID(), "count", int64(len(res.results)))
	if len(res.errors) > 0 {
		errList := make([]any, len(res.errors))
		for i, e := range res.errors {
			errList[i] = map[string]any{"index": int64(e.Index), "error": e.Error}
		}
		writeNamespace(store, b.ID(), "errors", errList)
	}
	return DefaultAction, nil
}

func (b *Batch) Clone() NodeRunner {
	return &Batch{inner: b.inner.Clone(), cfg: b.cfg}
}
