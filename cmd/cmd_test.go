package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/config"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{
		"name=alice",
		"count=3",
		"ratio=0.5",
		"enabled=true",
		`tags=["a","b"]`,
		`meta={"k":"v"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", params["name"])
	assert.Equal(t, int64(3), params["count"])
	assert.Equal(t, 0.5, params["ratio"])
	assert.Equal(t, true, params["enabled"])
	assert.Equal(t, []any{"a", "b"}, params["tags"])
	assert.Equal(t, map[string]any{"k": "v"}, params["meta"])
}

func TestParseParamsRejectsBareArgs(t *testing.T) {
	_, err := parseParams([]string{"noequals"})
	require.Error(t, err)
	var ec *exitCodeError
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, ExitCodeUsage, ec.code)
}

func TestCoerceValueKeepsStrings(t *testing.T) {
	assert.Equal(t, "v1.2.3", coerceValue("v1.2.3"))
	assert.Equal(t, "true-ish", coerceValue("true-ish"))
	assert.Nil(t, coerceValue("null"))
}

func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnvVar, home)
	t.Setenv("PFLOW_TEST_NODES_ENABLED", "true")
	return home
}

func writeWorkflowFile(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "wf.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

const echoDoc = `{
	"ir_version": "0.1.0",
	"name": "greet",
	"inputs": {"greeting": {"type": "string", "required": true}},
	"nodes": [{"id": "say", "type": "echo", "purpose": "echo the provided greeting", "params": {"value": "${greeting}"}}],
	"edges": [],
	"outputs": {"message": {"source": "${say.result}"}}
}`

func TestRunWorkflowFromFile(t *testing.T) {
	home := testHome(t)
	path := writeWorkflowFile(t, home, echoDoc)
	flagJSON = true
	defer func() { flagJSON = false }()

	err := runWorkflow(context.Background(), path, map[string]any{"greeting": "hi"}, true)
	assert.NoError(t, err)
}

func TestRunWorkflowMissingInputFails(t *testing.T) {
	home := testHome(t)
	path := writeWorkflowFile(t, home, echoDoc)
	flagJSON = true
	defer func() { flagJSON = false }()

	err := runWorkflow(context.Background(), path, nil, true)
	require.Error(t, err)
}

func TestRunWorkflowNodeFailureExitsOne(t *testing.T) {
	home := testHome(t)
	doc := `{
		"ir_version": "0.1.0",
		"name": "boom",
		"nodes": [{"id": "a", "type": "echo", "purpose": "fail on purpose here", "params": {"fail": true}}],
		"edges": []
	}`
	path := writeWorkflowFile(t, home, doc)
	flagJSON = true
	defer func() { flagJSON = false }()

	err := runWorkflow(context.Background(), path, nil, true)
	require.Error(t, err)
	var ec *exitCodeError
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, ExitCodeError, ec.code)
}

func TestRunWorkflowWritesTrace(t *testing.T) {
	home := testHome(t)
	path := writeWorkflowFile(t, home, echoDoc)
	flagJSON = true
	defer func() { flagJSON = false }()

	require.NoError(t, runWorkflow(context.Background(), path, map[string]any{"greeting": "hi"}, false))

	entries, err := os.ReadDir(filepath.Join(home, "debug"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "workflow-trace-greet-")
}

func TestLoadWorkflowPrefersFiles(t *testing.T) {
	home := testHome(t)
	path := writeWorkflowFile(t, home, echoDoc)

	rt, err := newRuntime()
	require.NoError(t, err)

	wf, fromLibrary, err := rt.loadWorkflow(path)
	require.NoError(t, err)
	assert.False(t, fromLibrary)
	assert.Equal(t, "greet", wf.Name)

	_, _, err = rt.loadWorkflow("not-saved")
	require.Error(t, err)
}

func TestExactArgsUsageError(t *testing.T) {
	err := exactArgs(1)(nil, []string{"a", "b"})
	require.Error(t, err)
	var ec *exitCodeError
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, ExitCodeUsage, ec.code)
}
