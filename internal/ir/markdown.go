package ir

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	goyaml "gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"pflow/internal/api"
)

// ParseMarkdown translates the .pflow.md authoring form into canonical IR.
//
// The format is line-oriented:
//
//	# Title                        -> name
//	top-level paragraph            -> description
//	## Inputs / ### <input_name>   -> inputs, fields from bullets
//	## Steps  / ### <node_id>      -> nodes; bullets become params except the
//	                                  reserved type/purpose/max_attempts/
//	                                  wait_seconds fields; fenced blocks carry
//	                                  long-form params (```prompt,
//	                                  ```shell command, ```markdown prompt)
//	                                  and ```yaml batch carries batch config
//	## Edges                       -> explicit edges ("a -> b" or
//	                                  "a -> b (action)"); omitted edges are
//	                                  implicit sequential between steps
//	## Outputs / ### <output_name> -> outputs, fields from bullets
//
// Bullet values get YAML scalar coercion: true/false become bool, digits
// become int, everything else stays a string.
func ParseMarkdown(data []byte) (*Workflow, error) {
	p := &mdParser{
		wf: &Workflow{IRVersion: Version, Edges: []Edge{}},
	}
	if err := p.parse(data); err != nil {
		return nil, err
	}
	// The markdown form must not admit documents the canonical form rejects,
	// so the parsed workflow goes through the same strict schema pass as a
	// JSON source.
	normalized, err := json.Marshal(p.wf)
	if err != nil {
		return nil, api.WrapError(api.ErrInternal, err, "failed to normalize workflow from markdown")
	}
	if err := validateSchema(normalized); err != nil {
		return nil, err
	}
	return p.wf, nil
}

type mdParser struct {
	wf *Workflow

	section    string // "", "inputs", "steps", "outputs", "edges"
	subsection string // current ### name

	currentInput  *Input
	currentNode   *Node
	currentOutput *Output

	explicitEdges bool
	descLines     []string
}

func (p *mdParser) parse(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		switch {
		case strings.HasPrefix(line, "```"):
			info := strings.TrimSpace(strings.TrimPrefix(line, "```"))
			body, consumed, err := readFence(scanner)
			if err != nil {
				return api.NewError(api.ErrIRSchema, "unterminated fenced block at line %d", lineNo)
			}
			lineNo += consumed
			if err := p.handleFence(info, body, lineNo); err != nil {
				return err
			}

		case strings.HasPrefix(line, "### "):
			if err := p.startSubsection(strings.TrimSpace(line[4:]), lineNo); err != nil {
				return err
			}

		case strings.HasPrefix(line, "## "):
			p.flushSubsection()
			p.section = strings.ToLower(strings.TrimSpace(line[3:]))
			p.subsection = ""

		case strings.HasPrefix(line, "# "):
			if p.wf.Name == "" && p.section == "" {
				p.wf.Name = strings.TrimSpace(line[2:])
			}

		case strings.HasPrefix(strings.TrimSpace(line), "- "):
			if err := p.handleBullet(strings.TrimSpace(line)[2:], lineNo); err != nil {
				return err
			}

		default:
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && p.section == "" {
				p.descLines = append(p.descLines, trimmed)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return api.WrapError(api.ErrIRSchema, err, "failed to scan markdown source")
	}

	p.flushSubsection()
	p.wf.Description = strings.Join(p.descLines, " ")

	if !p.explicitEdges {
		for i := 0; i+1 < len(p.wf.Nodes); i++ {
			p.wf.Edges = append(p.wf.Edges, Edge{
				From: p.wf.Nodes[i].ID,
				To:   p.wf.Nodes[i+1].ID,
			})
		}
	}
	if len(p.wf.Nodes) == 0 {
		return api.NewError(api.ErrIRSchema, "markdown workflow declares no steps")
	}
	return nil
}

// readFence consumes lines until the closing fence and returns the body.
func readFence(scanner *bufio.Scanner) (string, int, error) {
	var lines []string
	consumed := 0
	for scanner.Scan() {
		consumed++
		line := scanner.Text()
		if strings.HasPrefix(line, "```") {
			return strings.Join(lines, "\n"), consumed, nil
		}
		lines = append(lines, line)
	}
	return "", consumed, fmt.Errorf("unterminated fence")
}

func (p *mdParser) startSubsection(name string, lineNo int) error {
	p.flushSubsection()
	p.subsection = name

	switch p.section {
	case "inputs":
		p.currentInput = &Input{Type: "string"}
	case "steps":
		p.currentNode = &Node{ID: name, Params: map[string]any{}}
	case "outputs":
		p.currentOutput = &Output{}
	case "", "edges":
		return api.NewError(api.ErrIRSchema, "unexpected subsection %q at line %d", name, lineNo)
	}
	return nil
}

func (p *mdParser) flushSubsection() {
	switch {
	case p.currentInput != nil:
		if p.wf.Inputs == nil {
			p.wf.Inputs = map[string]Input{}
		}
		p.wf.Inputs[p.subsection] = *p.currentInput
		p.currentInput = nil
	case p.currentNode != nil:
		p.wf.Nodes = append(p.wf.Nodes, *p.currentNode)
		p.currentNode = nil
	case p.currentOutput != nil:
		if p.wf.Outputs == nil {
			p.wf.Outputs = map[string]Output{}
		}
		p.wf.Outputs[p.subsection] = *p.currentOutput
		p.currentOutput = nil
	}
}

func (p *mdParser) handleBullet(bullet string, lineNo int) error {
	if p.section == "edges" {
		p.explicitEdges = true
		edge, err := parseEdgeBullet(bullet)
		if err != nil {
			return api.WrapError(api.ErrIRSchema, err, "invalid edge at line %d", lineNo)
		}
		p.wf.Edges = append(p.wf.Edges, edge)
		return nil
	}

	key, rawValue, found := strings.Cut(bullet, ":")
	if !found {
		return api.NewError(api.ErrIRSchema, "malformed field %q at line %d (expected \"key: value\")", bullet, lineNo)
	}
	key = strings.TrimSpace(key)
	value := coerceScalar(strings.TrimSpace(rawValue))

	switch {
	case p.currentInput != nil:
		switch key {
		case "type":
			p.currentInput.Type = fmt.Sprintf("%v", value)
		case "required":
			b, _ := value.(bool)
			p.currentInput.Required = b
		case "default":
			p.currentInput.Default = value
		case "description":
			p.currentInput.Description = fmt.Sprintf("%v", value)
		}
		return nil

	case p.currentNode != nil:
		switch key {
		case "type":
			p.currentNode.Type = fmt.Sprintf("%v", value)
		case "purpose":
			p.currentNode.Purpose = fmt.Sprintf("%v", value)
		case "max_attempts":
			if n, ok := value.(int); ok {
				// Zero would marshal away under omitempty and dodge the
				// schema's minimum, so it is rejected here.
				if n < 1 {
					return api.NewError(api.ErrIRSchema,
						"max_attempts must be at least 1, got %d at line %d", n, lineNo)
				}
				p.currentNode.MaxAttempts = n
			}
		case "wait_seconds":
			switch n := value.(type) {
			case int:
				p.currentNode.WaitSeconds = float64(n)
			case float64:
				p.currentNode.WaitSeconds = n
			}
		default:
			p.currentNode.Params[key] = value
		}
		return nil

	case p.currentOutput != nil:
		switch key {
		case "description":
			p.currentOutput.Description = fmt.Sprintf("%v", value)
		case "source":
			p.currentOutput.Source = fmt.Sprintf("%v", value)
		}
		return nil
	}
	return nil
}

func (p *mdParser) handleFence(info, body string, lineNo int) error {
	if p.currentNode == nil {
		// Fenced blocks outside a step are documentation; ignore them.
		return nil
	}
	tokens := strings.Fields(strings.ToLower(info))
	if len(tokens) == 0 {
		return nil
	}

	if tokens[0] == "yaml" && len(tokens) > 1 && tokens[len(tokens)-1] == "batch" {
		var batch map[string]any
		if err := sigsyaml.Unmarshal([]byte(body), &batch); err != nil {
			return api.WrapError(api.ErrIRSchema, err, "invalid batch config ending at line %d", lineNo)
		}
		p.currentNode.Params[BatchParamKey] = batch
		return nil
	}

	// The last token names the target param: "prompt" -> prompt,
	// "shell command" -> command, "markdown prompt" -> prompt.
	p.currentNode.Params[tokens[len(tokens)-1]] = body
	return nil
}

// parseEdgeBullet parses "from -> to" with an optional "(action)" suffix.
func parseEdgeBullet(bullet string) (Edge, error) {
	action := ""
	if open := strings.LastIndex(bullet, "("); open >= 0 && strings.HasSuffix(bullet, ")") {
		action = strings.TrimSpace(bullet[open+1 : len(bullet)-1])
		bullet = strings.TrimSpace(bullet[:open])
	}
	from, to, found := strings.Cut(bullet, "->")
	if !found {
		return Edge{}, fmt.Errorf("expected \"from -> to\", got %q", bullet)
	}
	return Edge{
		From:   strings.TrimSpace(from),
		To:     strings.TrimSpace(to),
		Action: action,
	}, nil
}

// coerceScalar applies YAML scalar typing to a bullet value: booleans,
// integers and floats become native types, inline lists/maps parse as
// structures, everything else stays a string.
func coerceScalar(raw string) any {
	if raw == "" {
		return ""
	}
	var value any
	if err := goyaml.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return normalizeYAML(value)
}

// normalizeYAML converts yaml.v3 output to JSON-compatible shapes
// (map[string]any keys, []any slices) so markdown-sourced params are
// indistinguishable from JSON-sourced ones.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return value
	}
}
