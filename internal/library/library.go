// Package library manages the saved-workflow collection under the pflow home
// directory. Workflows are stored as canonical JSON IR files named
// <name>.json; the library layer adds discovery metadata search and the
// execution counters used to rank results.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"pflow/internal/api"
	"pflow/internal/ir"
	"pflow/pkg/logging"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateName rejects workflow names that would escape the library directory
// or collide with path separators.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return api.NewError(api.ErrIRSchema, "invalid workflow name %q", name).
			WithSuggestion("use letters, digits, hyphens and underscores, starting with a letter or digit")
	}
	return nil
}

// Summary is the listing record for one saved workflow.
type Summary struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	NodeCount      int      `json:"node_count"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Keywords       []string `json:"search_keywords,omitempty"`
	ExecutionCount int      `json:"execution_count"`
	LastExecuted   string   `json:"last_executed,omitempty"`
}

// Library is a directory-backed workflow store.
type Library struct {
	dir string
}

// New creates a library rooted at dir. The directory is created lazily on the
// first save.
func New(dir string) *Library {
	return &Library{dir: dir}
}

func (l *Library) path(name string) string {
	return filepath.Join(l.dir, name+".json")
}

// Save writes the workflow under its name, overwriting any previous version.
// The workflow must carry a valid name and pass structural validation.
func (l *Library) Save(wf *ir.Workflow) (string, error) {
	if err := ValidateName(wf.Name); err != nil {
		return "", err
	}
	if err := wf.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workflow library: %w", err)
	}

	// Preserve counters across re-saves of an edited workflow.
	if existing, err := l.Load(wf.Name); err == nil {
		if wf.ExecutionCount == 0 {
			wf.ExecutionCount = existing.ExecutionCount
		}
		if wf.LastExecuted == "" {
			wf.LastExecuted = existing.LastExecuted
		}
	}

	data, err := wf.MarshalIndent()
	if err != nil {
		return "", api.WrapError(api.ErrInternal, err, "failed to serialize workflow")
	}
	path := l.path(wf.Name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write workflow: %w", err)
	}
	logging.Debug("Library", "saved workflow %s to %s", wf.Name, path)
	return path, nil
}

// Load reads one saved workflow by name.
func (l *Library) Load(name string) (*ir.Workflow, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, api.NewError(api.ErrRegistryMiss, "workflow %q not found", name).
				WithSuggestion("run `pflow workflow list` to see saved workflows")
		}
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	return ir.LoadJSON(data, false)
}

// Delete removes a saved workflow.
func (l *Library) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(l.path(name)); err != nil {
		if os.IsNotExist(err) {
			return api.NewError(api.ErrRegistryMiss, "workflow %q not found", name)
		}
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// List returns summaries of every saved workflow, sorted by name. Files that
// fail to parse are skipped with a warning rather than breaking the listing.
func (l *Library) List() ([]Summary, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow library: %w", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		wf, err := l.Load(name)
		if err != nil {
			logging.Warn("Library", "skipping unreadable workflow %s: %v", entry.Name(), err)
			continue
		}
		summaries = append(summaries, summarize(name, wf))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

// Search matches the query against names, descriptions, keywords and
// capabilities, case-insensitively. Results are ordered by execution count so
// proven workflows surface first.
func (l *Library) Search(query string) ([]Summary, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var matched []Summary
	for _, s := range all {
		if matches(s, query) {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExecutionCount > matched[j].ExecutionCount
	})
	return matched, nil
}

// RecordExecution bumps the saved workflow's execution counter and timestamp.
// Missing workflows are ignored; ad-hoc runs from files are not tracked.
func (l *Library) RecordExecution(name string, at time.Time) error {
	wf, err := l.Load(name)
	if err != nil {
		if api.CodeOf(err) == api.ErrRegistryMiss {
			return nil
		}
		return err
	}
	wf.ExecutionCount++
	wf.LastExecuted = at.UTC().Format(time.RFC3339)
	_, err = l.Save(wf)
	return err
}

func summarize(name string, wf *ir.Workflow) Summary {
	return Summary{
		Name:           name,
		Description:    wf.Description,
		NodeCount:      len(wf.Nodes),
		Capabilities:   wf.Capabilities,
		Keywords:       wf.SearchKeywords,
		ExecutionCount: wf.ExecutionCount,
		LastExecuted:   wf.LastExecuted,
	}
}

func matches(s Summary, query string) bool {
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(s.Name), query) ||
		strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, kw := range s.Keywords {
		if strings.Contains(strings.ToLower(kw), query) {
			return true
		}
	}
	for _, cap := range s.Capabilities {
		if strings.Contains(strings.ToLower(cap), query) {
			return true
		}
	}
	return false
}
