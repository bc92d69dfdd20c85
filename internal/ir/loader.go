package ir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"pflow/internal/api"
	"pflow/pkg/logging"
)

// schemaJSON is the strict top-level schema for the canonical IR. Unknown
// top-level keys are rejected; unknown fields inside nodes, edges, inputs and
// outputs are permitted so that node params can evolve without a schema bump.
const schemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["ir_version", "nodes"],
  "properties": {
    "ir_version": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "search_keywords": {"type": "array", "items": {"type": "string"}},
    "capabilities": {"type": "array", "items": {"type": "string"}},
    "typical_use_cases": {"type": "array", "items": {"type": "string"}},
    "execution_count": {"type": "integer", "minimum": 0},
    "last_executed": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "pattern": "^[a-zA-Z_][a-zA-Z0-9_-]*$"},
          "type": {"type": "string", "minLength": 1},
          "purpose": {"type": "string", "minLength": 10, "maxLength": 200},
          "params": {"type": "object"},
          "max_attempts": {"type": "integer", "minimum": 1},
          "wait_seconds": {"type": "number", "minimum": 0}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string"},
          "to": {"type": "string"},
          "action": {"type": "string"}
        }
      }
    },
    "inputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string"},
          "required": {"type": "boolean"},
          "description": {"type": "string"}
        }
      }
    },
    "outputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["source"],
        "properties": {
          "description": {"type": "string"},
          "source": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(schemaJSON)

// LoadJSON parses and schema-validates a canonical JSON IR document.
// When draft is true, a missing ir_version and missing edges are
// auto-normalized instead of rejected; this accommodates sources still being
// authored (the planner emits drafts incrementally).
func LoadJSON(data []byte, draft bool) (*Workflow, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, api.WrapError(api.ErrIRSchema, err, "workflow is not valid JSON")
	}

	if draft {
		if _, ok := raw["ir_version"]; !ok {
			raw["ir_version"] = Version
		}
		if _, ok := raw["edges"]; !ok {
			raw["edges"] = []any{}
		}
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, api.WrapError(api.ErrInternal, err, "failed to normalize draft workflow")
		}
		data = normalized
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, api.WrapError(api.ErrIRSchema, err, "failed to decode workflow IR")
	}
	if wf.Edges == nil {
		wf.Edges = []Edge{}
	}
	logging.Debug("IRLoader", "loaded workflow %q: %d nodes, %d edges", wf.Name, len(wf.Nodes), len(wf.Edges))
	return &wf, nil
}

// validateSchema runs the strict top-level schema over a canonical JSON
// document. Both the JSON loader and the markdown front-end go through it, so
// the two sources enforce identical constraints.
func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return api.WrapError(api.ErrIRSchema, err, "schema validation failed")
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	e := api.NewError(api.ErrIRSchema, "invalid workflow IR: %s", first.Description()).
		WithDetail("pointer", "/"+strings.ReplaceAll(first.Field(), ".", "/"))
	var all []string
	for _, desc := range result.Errors() {
		all = append(all, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return e.WithDetail("errors", all)
}

// LoadFile loads a workflow from disk, dispatching on extension: .pflow.md
// and .md use the markdown front-end, everything else the JSON loader.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	if strings.HasSuffix(path, ".md") {
		wf, err := ParseMarkdown(data)
		if err != nil {
			return nil, err
		}
		if wf.Name == "" {
			base := filepath.Base(path)
			wf.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".md"), ".pflow")
		}
		return wf, nil
	}
	return LoadJSON(data, false)
}

// MarshalIndent renders the workflow back to canonical JSON. Loading the
// output yields an identical workflow (key order aside).
func (w *Workflow) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}
