package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"pflow/internal/api"
	"pflow/internal/ir"
	"pflow/internal/registry"
	"pflow/pkg/logging"
)

// Dialer builds a transport client for a server definition. Tests substitute
// a fake.
type Dialer func(name string, def ServerDef) (Client, error)

// Discoverer syncs the tool catalogs of configured MCP servers into the node
// registry as virtual entries keyed mcp-<server>-<tool>.
type Discoverer struct {
	dial Dialer
}

// NewDiscoverer builds a discoverer using the real transport clients.
func NewDiscoverer() *Discoverer {
	return &Discoverer{dial: NewClient}
}

// NewDiscovererWithDialer builds a discoverer with a custom dialer.
func NewDiscovererWithDialer(dial Dialer) *Discoverer {
	return &Discoverer{dial: dial}
}

// SyncResult summarizes one discovery pass.
type SyncResult struct {
	FromCache bool
	Servers   int
	Tools     int
	// Failed lists servers that could not be reached; their tools are
	// absent from the catalog but discovery itself still succeeds.
	Failed map[string]error
}

// Sync brings the registry's virtual entries up to date. When the cached
// catalog matches the current configuration (same config mtime and the same
// per-server definition hashes) the cache restored by LoadCache stands and no
// server is contacted; otherwise every configured server is queried and the
// cache rewritten.
func (d *Discoverer) Sync(ctx context.Context, cfg Config, configModTime int64, reg *registry.Registry, cachePath string, force bool) (SyncResult, error) {
	state, err := reg.LoadCache(cachePath)
	if err != nil {
		logging.Warn("MCPDiscovery", "ignoring unreadable registry cache: %v", err)
		state = nil
	}

	hashes := make(map[string]string, len(cfg.Servers))
	for name, def := range cfg.Servers {
		hashes[name] = def.Hash()
	}

	if !force && cacheValid(state, configModTime, hashes) {
		tools := 0
		for _, e := range reg.List(true) {
			if e.IsVirtual() {
				tools++
			}
		}
		logging.Debug("MCPDiscovery", "registry cache valid, %d virtual entries", tools)
		return SyncResult{FromCache: true, Servers: len(cfg.Servers), Tools: tools}, nil
	}

	reg.RemoveVirtual()
	result := SyncResult{Servers: len(cfg.Servers), Failed: map[string]error{}}
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tools, err := d.discoverServer(ctx, name, cfg.Servers[name])
		if err != nil {
			logging.Error("MCPDiscovery", err, "failed to discover tools from %s", name)
			result.Failed[name] = err
			continue
		}
		for _, tool := range tools {
			key := ToolTypeID(name, tool.Name)
			iface := toolInterface(tool)
			if err := reg.RegisterVirtual(key, iface); err != nil {
				logging.Warn("MCPDiscovery", "skipping conflicting tool entry %s: %v", key, err)
				continue
			}
			result.Tools++
		}
		logging.Info("MCPDiscovery", "discovered %d tools from %s", len(tools), name)
	}

	if err := reg.SaveCache(cachePath, &registry.MCPCacheState{
		ConfigModTime: configModTime,
		ServerHashes:  hashes,
	}); err != nil {
		logging.Warn("MCPDiscovery", "failed to write registry cache: %v", err)
	}
	return result, nil
}

func (d *Discoverer) discoverServer(ctx context.Context, name string, def ServerDef) ([]mcp.Tool, error) {
	client, err := d.dial(name, def)
	if err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		return nil, api.WrapError(api.ErrMCPProtocol, err, "cannot connect to mcp server %q", name)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logging.Debug("MCPDiscovery", "error closing client for %s: %v", name, err)
		}
	}()
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, api.WrapError(api.ErrMCPProtocol, err, "cannot list tools on mcp server %q", name)
	}
	return tools, nil
}

func cacheValid(state *registry.MCPCacheState, configModTime int64, hashes map[string]string) bool {
	if state == nil {
		return len(hashes) == 0
	}
	if state.ConfigModTime != configModTime {
		return false
	}
	if len(state.ServerHashes) != len(hashes) {
		return false
	}
	for name, h := range hashes {
		if state.ServerHashes[name] != h {
			return false
		}
	}
	return true
}

// ToolTypeID builds the virtual node type id for a server's tool.
func ToolTypeID(server, tool string) string {
	return fmt.Sprintf("%s%s-%s", ir.MCPTypePrefix, server, tool)
}

// SplitTypeID recovers server and tool from a virtual type id. Server names
// must not contain hyphens, so the first segment after the prefix is the
// server and the remainder is the tool name.
func SplitTypeID(typeID string) (server, tool string, err error) {
	rest := strings.TrimPrefix(typeID, ir.MCPTypePrefix)
	if rest == typeID {
		return "", "", api.NewError(api.ErrCompile, "%q is not an mcp node type", typeID)
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", api.NewError(api.ErrCompile, "malformed mcp node type %q", typeID)
	}
	return parts[0], parts[1], nil
}

// toolInterface projects an MCP tool declaration into a registry interface.
func toolInterface(tool mcp.Tool) registry.Interface {
	iface := registry.Interface{
		Description: tool.Description,
		Outputs: []registry.Field{
			{Key: "result", Type: "any", Description: "tool result"},
		},
		Actions: []string{"default"},
	}

	// The SDK's typed schema round-trips cleanly through JSON into the
	// generic map the validator consumes.
	if data, err := json.Marshal(tool.InputSchema); err == nil {
		var schema map[string]any
		if err := json.Unmarshal(data, &schema); err == nil {
			iface.Schema = schema
			iface.Params = schemaParams(schema)
		}
	}
	return iface
}

func schemaParams(schema map[string]any) []registry.Field {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]registry.Field, 0, len(keys))
	for _, k := range keys {
		field := registry.Field{Key: k, Type: "any", Required: required[k]}
		if prop, ok := props[k].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				field.Type = t
			}
			if desc, ok := prop["description"].(string); ok {
				field.Description = desc
			}
		}
		fields = append(fields, field)
	}
	return fields
}
