package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"pflow/pkg/logging"
)

// cacheDocument is the on-disk shape of the registry cache. The MCP section
// carries the discovery invalidation keys (config mtime, per-server
// definition hashes) maintained by internal/mcp.
type cacheDocument struct {
	Entries []Entry        `json:"entries"`
	MCP     *MCPCacheState `json:"mcp,omitempty"`
}

// MCPCacheState records what the cached virtual entries were discovered from.
type MCPCacheState struct {
	ConfigModTime int64             `json:"config_mtime"`
	ServerHashes  map[string]string `json:"server_hashes"`
}

// SaveCache writes the full catalog (virtual entries included) plus the MCP
// discovery state to path.
func (r *Registry) SaveCache(path string, mcpState *MCPCacheState) error {
	doc := cacheDocument{
		Entries: r.List(true),
		MCP:     mcpState,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry cache: %w", err)
	}
	logging.Debug("Registry", "wrote cache with %d entries to %s", len(doc.Entries), path)
	return nil
}

// LoadCache reads a previously saved catalog. Only virtual entries are
// restored into the registry: built-in entries always come from the running
// binary so a stale cache cannot resurrect removed node types. Returns the
// stored MCP discovery state (nil when absent).
func (r *Registry) LoadCache(path string) (*MCPCacheState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry cache: %w", err)
	}
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt registry cache: %w", err)
	}
	restored := 0
	for _, e := range doc.Entries {
		if !e.IsVirtual() {
			continue
		}
		if err := r.Register(e); err != nil {
			return nil, err
		}
		restored++
	}
	logging.Debug("Registry", "restored %d virtual entries from cache", restored)
	return doc.MCP, nil
}
