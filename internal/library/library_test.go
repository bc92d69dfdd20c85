package library

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
	"pflow/internal/ir"
)

func sample(name string) *ir.Workflow {
	return &ir.Workflow{
		IRVersion:      ir.Version,
		Name:           name,
		Description:    "fetches a page and saves it",
		SearchKeywords: []string{"fetch", "scrape"},
		Capabilities:   []string{"http"},
		Nodes: []ir.Node{
			{ID: "fetch", Type: "http", Purpose: "fetch the target page", Params: map[string]any{"url": "https://example.com"}},
		},
		Edges: []ir.Edge{},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	lib := New(t.TempDir())
	path, err := lib.Save(sample("fetch-page"))
	require.NoError(t, err)
	assert.Equal(t, "fetch-page.json", filepath.Base(path))

	loaded, err := lib.Load("fetch-page")
	require.NoError(t, err)
	assert.Equal(t, "fetch-page", loaded.Name)
	assert.Len(t, loaded.Nodes, 1)
}

func TestLoadMissing(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Load("nope")
	require.Error(t, err)
	assert.Equal(t, api.ErrRegistryMiss, api.CodeOf(err))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("my-workflow_2"))
	assert.Error(t, ValidateName("../escape"))
	assert.Error(t, ValidateName("has space"))
	assert.Error(t, ValidateName(""))
}

func TestDelete(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Save(sample("gone"))
	require.NoError(t, err)
	require.NoError(t, lib.Delete("gone"))
	_, err = lib.Load("gone")
	assert.Error(t, err)
	assert.Error(t, lib.Delete("gone"))
}

func TestListAndSearch(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Save(sample("fetch-page"))
	require.NoError(t, err)
	other := sample("summarize-text")
	other.Description = "summarizes text with an llm"
	other.SearchKeywords = []string{"summarize", "llm"}
	_, err = lib.Save(other)
	require.NoError(t, err)

	all, err := lib.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fetch-page", all[0].Name)
	assert.Equal(t, 1, all[0].NodeCount)

	hits, err := lib.Search("scrape")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fetch-page", hits[0].Name)

	hits, err = lib.Search("llm")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "summarize-text", hits[0].Name)
}

func TestSearchRanksByExecutionCount(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Save(sample("fetch-a"))
	require.NoError(t, err)
	_, err = lib.Save(sample("fetch-b"))
	require.NoError(t, err)
	require.NoError(t, lib.RecordExecution("fetch-b", time.Now()))

	hits, err := lib.Search("fetch")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "fetch-b", hits[0].Name)
}

func TestRecordExecution(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Save(sample("counted"))
	require.NoError(t, err)

	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, lib.RecordExecution("counted", at))
	require.NoError(t, lib.RecordExecution("counted", at.Add(time.Hour)))

	wf, err := lib.Load("counted")
	require.NoError(t, err)
	assert.Equal(t, 2, wf.ExecutionCount)
	assert.Equal(t, "2026-08-24T13:00:00Z", wf.LastExecuted)

	// Untracked names are not an error.
	require.NoError(t, lib.RecordExecution("never-saved", at))
}

func TestSavePreservesCounters(t *testing.T) {
	lib := New(t.TempDir())
	_, err := lib.Save(sample("edited"))
	require.NoError(t, err)
	require.NoError(t, lib.RecordExecution("edited", time.Now()))

	// Re-saving an edited copy without counters keeps the history.
	edited := sample("edited")
	edited.Description = "now with a new description"
	_, err = lib.Save(edited)
	require.NoError(t, err)

	wf, err := lib.Load("edited")
	require.NoError(t, err)
	assert.Equal(t, 1, wf.ExecutionCount)
	assert.NotEmpty(t, wf.LastExecuted)
}
