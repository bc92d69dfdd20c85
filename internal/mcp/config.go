// Package mcp integrates external MCP servers: configuration, transport
// clients, tool discovery into the node registry, and the universal node that
// executes discovered tools.
package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"pflow/internal/api"
)

// ServerDef describes one configured MCP server. Stdio servers set Command;
// remote servers set URL. Type is optional and inferred from the populated
// fields when empty.
type ServerDef struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Transport returns the effective transport for the definition.
func (d ServerDef) Transport() string {
	if d.Type != "" {
		return d.Type
	}
	if d.URL != "" {
		return "http"
	}
	return "stdio"
}

// Config is the mcp-servers.json document. The mcpServers key matches the
// format used by MCP-enabled editors, so server blocks can be pasted across
// tools unchanged.
type Config struct {
	Servers map[string]ServerDef `json:"mcpServers"`
}

// LoadConfig reads and expands the server configuration. A missing file is an
// empty configuration, not an error.
func LoadConfig(path string) (Config, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Servers: map[string]ServerDef{}}, 0, nil
		}
		return Config{}, 0, fmt.Errorf("failed to stat mcp config: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, 0, fmt.Errorf("failed to read mcp config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, 0, api.WrapError(api.ErrIRSchema, err, "invalid mcp config at %s", path)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerDef{}
	}
	for name, def := range cfg.Servers {
		cfg.Servers[name] = expandServerDef(def)
	}
	return cfg, info.ModTime().Unix(), nil
}

// SaveConfig writes the configuration document.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mcp config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// serverNamePattern constrains server names: virtual type ids embed the
// server name between hyphens, so a hyphen inside the name would make the
// tool id ambiguous.
var serverNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateServerName rejects names that cannot be embedded in a virtual node
// type id.
func ValidateServerName(name string) error {
	if !serverNamePattern.MatchString(name) {
		return api.NewError(api.ErrIRSchema,
			"invalid mcp server name %q: use letters, digits and underscores", name)
	}
	return nil
}

// envNamePattern constrains which ${...} references are environment
// expansions; anything else stays literal.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// maxEnvExpandDepth caps recursive expansion so self-referential values
// terminate.
const maxEnvExpandDepth = 8

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references from the
// process environment. Defaults may themselves contain references, such as
// ${A:-${B:-x}}, and substituted values are expanded again up to a fixed
// depth. Unset variables without a default expand to the empty string.
func ExpandEnv(s string) string {
	return expandEnv(s, 0)
}

func expandEnv(s string, depth int) string {
	if depth >= maxEnvExpandDepth || !strings.Contains(s, "${") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			sb.WriteString(s[i:])
			break
		}
		start += i
		sb.WriteString(s[i:start])
		end, ok := closingBrace(s, start+2)
		if !ok {
			sb.WriteString(s[start:])
			break
		}
		name, def, hasDef := strings.Cut(s[start+2:end], ":-")
		switch {
		case !envNamePattern.MatchString(name):
			sb.WriteString(s[start : end+1])
		default:
			if v, present := os.LookupEnv(name); present {
				sb.WriteString(expandEnv(v, depth+1))
			} else if hasDef {
				sb.WriteString(expandEnv(def, depth+1))
			}
		}
		i = end + 1
	}
	return sb.String()
}

// closingBrace finds the brace matching the ${ that opened at from, treating
// nested ${...} in defaults as one token.
func closingBrace(s string, from int) (int, bool) {
	open := 1
	for i := from; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "${"):
			open++
			i++
		case s[i] == '}':
			open--
			if open == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func expandServerDef(def ServerDef) ServerDef {
	def.Command = ExpandEnv(def.Command)
	def.URL = ExpandEnv(def.URL)
	for i, arg := range def.Args {
		def.Args[i] = ExpandEnv(arg)
	}
	for k, v := range def.Env {
		def.Env[k] = ExpandEnv(v)
	}
	for k, v := range def.Headers {
		def.Headers[k] = ExpandEnv(v)
	}
	return def
}

// Hash returns a stable digest of the definition as loaded, after env
// expansion, used to invalidate cached tool catalogs. A changed server block
// or a changed value behind one of its env references both trigger
// re-discovery.
func (d ServerDef) Hash() string {
	// Canonical form: sorted keys via a fresh marshal of a normalized map.
	normalized := map[string]any{
		"type":    d.Type,
		"command": d.Command,
		"args":    d.Args,
		"url":     d.URL,
		"env":     sortedPairs(d.Env),
		"headers": sortedPairs(d.Headers),
	}
	data, _ := json.Marshal(normalized)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedPairs(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, m[k]}
	}
	return pairs
}
