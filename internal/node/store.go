package node

import (
	"sort"
	"sync"
)

// Store is the view of the shared store handed to node phases. Wrappers
// interpose on it: the namespaced wrapper redirects bare-key writes into the
// node's namespace, the batch wrapper overlays per-item bindings.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string

	// Snapshot returns the visible store contents as a plain map for
	// template resolution and tracing. Values are shared, not copied;
	// callers must not mutate nested structures.
	Snapshot() map[string]any
}

// SharedStore is the root store carried through a workflow execution. It is
// created from workflow inputs, mutated by node post phases (via the
// namespaced wrapper) and destroyed when execution terminates. Any value
// type is legal, including []byte blobs.
type SharedStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedStore creates a store seeded with the given values.
func NewSharedStore(initial map[string]any) *SharedStore {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &SharedStore{data: data}
}

func (s *SharedStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *SharedStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *SharedStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *SharedStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *SharedStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snap[k] = v
	}
	return snap
}

// namespacedStore redirects bare-key writes into shared[id] so node outputs
// land in their namespace without the node knowing its own id. Reads pass
// through unchanged: the inner node sees the full store.
type namespacedStore struct {
	base Store
	id   string
}

func (s *namespacedStore) namespace() map[string]any {
	if ns, ok := s.base.Get(s.id); ok {
		if m, ok := ns.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func (s *namespacedStore) Get(key string) (any, bool) {
	return s.base.Get(key)
}

func (s *namespacedStore) Set(key string, value any) {
	ns := s.namespace()
	if ns == nil {
		ns = make(map[string]any)
	} else {
		// Copy before mutating so previously captured snapshots stay stable.
		copied := make(map[string]any, len(ns)+1)
		for k, v := range ns {
			copied[k] = v
		}
		ns = copied
	}
	ns[key] = value
	s.base.Set(s.id, ns)
}

func (s *namespacedStore) Delete(key string) {
	ns := s.namespace()
	if ns == nil {
		return
	}
	copied := make(map[string]any, len(ns))
	for k, v := range ns {
		if k != key {
			copied[k] = v
		}
	}
	s.base.Set(s.id, copied)
}

func (s *namespacedStore) Keys() []string {
	return s.base.Keys()
}

func (s *namespacedStore) Snapshot() map[string]any {
	return s.base.Snapshot()
}

// overlayStore scopes a batch item: the `as` binding shadows the base store,
// and all writes stay local so parallel items cannot race on the shared
// store. The batch wrapper harvests the local writes after the item runs.
type overlayStore struct {
	base    Store
	binding string
	value   any
	local   map[string]any
}

func newOverlayStore(base Store, binding string, value any) *overlayStore {
	return &overlayStore{
		base:    base,
		binding: binding,
		value:   value,
		local:   make(map[string]any),
	}
}

func (s *overlayStore) Get(key string) (any, bool) {
	if v, ok := s.local[key]; ok {
		return v, true
	}
	if key == s.binding {
		return s.value, true
	}
	return s.base.Get(key)
}

func (s *overlayStore) Set(key string, value any) {
	s.local[key] = value
}

func (s *overlayStore) Delete(key string) {
	delete(s.local, key)
}

func (s *overlayStore) Keys() []string {
	seen := make(map[string]bool)
	for _, k := range s.base.Keys() {
		seen[k] = true
	}
	seen[s.binding] = true
	for k := range s.local {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *overlayStore) Snapshot() map[string]any {
	snap := s.base.Snapshot()
	snap[s.binding] = s.value
	for k, v := range s.local {
		snap[k] = v
	}
	return snap
}

// writeNamespace sets shared[id][key] through any Store implementation.
func writeNamespace(store Store, id, key string, value any) {
	ns := map[string]any{}
	if existing, ok := store.Get(id); ok {
		if m, ok := existing.(map[string]any); ok {
			for k, v := range m {
				ns[k] = v
			}
		}
	}
	ns[key] = value
	store.Set(id, ns)
}
