// Package registry maintains the in-process catalog of node types. Built-in
// node packages register themselves at startup; MCP discovery injects virtual
// entries for external tools. The catalog is cached to disk so discovery
// consumers (CLI listings, the planner) can read it without re-scanning.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"pflow/internal/api"
	"pflow/pkg/logging"
)

// VirtualFilePath is the sentinel file path recorded for entries synthesized
// from an external MCP catalog. All such entries share the universal MCP node
// implementation and are disambiguated at compile time by injected metadata.
const VirtualFilePath = "virtual://mcp"

// Field describes one input, param or output of a node interface.
type Field struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Interface is the declared contract of a node type: what it reads, what
// params it accepts, what it writes, and which action labels it can return.
// Virtual MCP entries additionally carry the tool's raw JSON input schema so
// the compiler and the MCP node can validate arguments against it.
type Interface struct {
	Description string         `json:"description,omitempty"`
	Inputs      []Field        `json:"inputs,omitempty"`
	Params      []Field        `json:"params,omitempty"`
	Outputs     []Field        `json:"outputs,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Entry is one catalog record.
type Entry struct {
	Key        string    `json:"key"`
	ClassName  string    `json:"class_name"`
	ModulePath string    `json:"module_path"`
	FilePath   string    `json:"file_path"`
	Interface  Interface `json:"interface"`

	// Test marks nodes only exposed when test_nodes_enabled is set.
	Test bool `json:"test,omitempty"`
}

// IsVirtual reports whether the entry was synthesized from an MCP catalog.
func (e Entry) IsVirtual() bool {
	return e.FilePath == VirtualFilePath
}

// Filter controls which entries List returns for user-facing consumers.
type Filter struct {
	Allow            []string
	Deny             []string
	TestNodesEnabled bool
}

// Registry is the thread-safe node catalog.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	filter  Filter
}

// New creates an empty registry with the given filter settings.
func New(filter Filter) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		filter:  filter,
	}
}

// Register adds an entry to the catalog. Type ids must be unique; duplicate
// registration of a different entry is a programming error surfaced loudly.
func (r *Registry) Register(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[entry.Key]; ok && existing.FilePath != entry.FilePath {
		return fmt.Errorf("node type %q already registered by %s", entry.Key, existing.FilePath)
	}
	r.entries[entry.Key] = entry
	return nil
}

// RegisterVirtual injects a virtual MCP tool entry. Virtual entries legally
// share a module path; the compiler disambiguates them via __mcp_server__ and
// __mcp_tool__ params.
func (r *Registry) RegisterVirtual(key string, iface Interface) error {
	return r.Register(Entry{
		Key:        key,
		ClassName:  "MCPNode",
		ModulePath: "pflow/internal/mcp",
		FilePath:   VirtualFilePath,
		Interface:  iface,
	})
}

// Get returns the entry for a type id regardless of filtering, or false.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// List returns the catalog sorted by key. When includeFiltered is false the
// allow/deny globs and the test-nodes flag are applied; agent consumers pass
// true to see everything. Filtering happens at read time, never at storage
// time, so one catalog serves both audiences.
func (r *Registry) List(includeFiltered bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !includeFiltered && !r.visible(e) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Search returns visible entries whose key or description contains the query
// (case-insensitive substring match).
func (r *Registry) Search(query string) []Entry {
	query = strings.ToLower(query)
	var matched []Entry
	for _, e := range r.List(false) {
		if strings.Contains(strings.ToLower(e.Key), query) ||
			strings.Contains(strings.ToLower(e.Interface.Description), query) {
			matched = append(matched, e)
		}
	}
	return matched
}

// Suggest returns up to three registered type ids closest to the unknown one,
// for REGISTRY_MISS error messages.
func (r *Registry) Suggest(key string) []string {
	type scored struct {
		key  string
		dist int
	}
	var candidates []scored
	for _, e := range r.List(true) {
		d := levenshtein(key, e.Key)
		if d <= len(key)/2+1 {
			candidates = append(candidates, scored{e.Key, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].key < candidates[j].key
	})
	var out []string
	for i := 0; i < len(candidates) && i < 3; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

// Miss builds the structured REGISTRY_MISS error for an unknown type id.
func (r *Registry) Miss(key string) *api.Error {
	e := api.NewError(api.ErrRegistryMiss, "unknown node type %q", key)
	if suggestions := r.Suggest(key); len(suggestions) > 0 {
		e.WithDetail("suggestions", suggestions)
		e.WithSuggestion(fmt.Sprintf("did you mean %s?", strings.Join(suggestions, ", ")))
	}
	return e
}

// SetFilter replaces the active filter settings.
func (r *Registry) SetFilter(f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = f
}

// RemoveVirtual drops all virtual entries, ahead of a re-discovery pass.
func (r *Registry) RemoveVirtual() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if e.IsVirtual() {
			delete(r.entries, key)
		}
	}
}

func (r *Registry) visible(e Entry) bool {
	if e.Test && !r.filter.TestNodesEnabled {
		return false
	}
	for _, pattern := range r.filter.Deny {
		if matchGlob(pattern, e.Key) {
			logging.Debug("Registry", "entry %s denied by pattern %s", e.Key, pattern)
			return false
		}
	}
	if len(r.filter.Allow) == 0 {
		return true
	}
	for _, pattern := range r.filter.Allow {
		if matchGlob(pattern, e.Key) {
			return true
		}
	}
	return false
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
