package nodes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
	"pflow/internal/llm"
	"pflow/internal/node"
	"pflow/internal/registry"
)

func run(t *testing.T, runner node.NodeRunner, store node.Store) {
	t.Helper()
	_, err := node.RunLifecycle(context.Background(), runner, store)
	require.NoError(t, err)
}

func TestHTTPNodeJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"pflow","stars":42}`))
	}))
	defer srv.Close()

	store := node.NewSharedStore(nil)
	n := newHTTPNode("fetch", map[string]any{"url": srv.URL}, node.RetryPolicy{}, srv.Client())
	run(t, n, store)

	response, _ := store.Get("response")
	parsed := response.(map[string]any)
	assert.Equal(t, "pflow", parsed["name"])
	code, _ := store.Get("status_code")
	assert.Equal(t, int64(200), code)
}

func TestHTTPNodeTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	store := node.NewSharedStore(nil)
	run(t, newHTTPNode("fetch", map[string]any{"url": srv.URL}, node.RetryPolicy{}, srv.Client()), store)

	response, _ := store.Get("response")
	assert.Equal(t, "hello", response)
}

func TestHTTPNodeBinaryResponse(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	store := node.NewSharedStore(nil)
	run(t, newHTTPNode("fetch", map[string]any{"url": srv.URL}, node.RetryPolicy{}, srv.Client()), store)

	response, _ := store.Get("response")
	assert.Equal(t, payload, response)
}

func TestHTTPNodeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	n := newHTTPNode("fetch", map[string]any{"url": srv.URL}, node.RetryPolicy{}, srv.Client())
	_, err := node.RunLifecycle(context.Background(), n, node.NewSharedStore(nil))
	require.Error(t, err)
	assert.Equal(t, api.ErrNodeAuth, api.CodeOf(err))
	assert.Equal(t, 403, api.AsError(err).Details["status_code"])
}

func TestHTTPNodePostsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := node.NewSharedStore(nil)
	params := map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"k": "v"},
	}
	run(t, newHTTPNode("send", params, node.RetryPolicy{}, srv.Client()), store)

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"k":"v"}`, string(gotBody))
}

type fakeLLM struct {
	lastReq llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.lastReq = req
	return llm.Response{Text: "summary text", Model: req.Model, Provider: "anthropic",
		Usage: llm.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}}, nil
}

func TestLLMNode(t *testing.T) {
	client := &fakeLLM{}
	store := node.NewSharedStore(nil)
	params := map[string]any{
		"prompt":      "summarize this",
		"model":       "claude-sonnet-4-5",
		"max_tokens":  int64(100),
		"temperature": 0.2,
	}
	run(t, newLLMNode("summarize", params, node.RetryPolicy{}, client), store)

	response, _ := store.Get("response")
	assert.Equal(t, "summary text", response)
	usage, _ := store.Get("usage")
	assert.Equal(t, int64(5), usage.(map[string]any)["total_tokens"])
	assert.Equal(t, int64(100), client.lastReq.MaxTokens)
	assert.True(t, client.lastReq.HasTemperature)
}

func TestLLMNodeWithoutClientFails(t *testing.T) {
	n := newLLMNode("summarize", map[string]any{"prompt": "x"}, node.RetryPolicy{}, nil)
	_, err := node.RunLifecycle(context.Background(), n, node.NewSharedStore(nil))
	require.Error(t, err)
	assert.Equal(t, api.ErrNodeAuth, api.CodeOf(err))
}

func TestShellNode(t *testing.T) {
	store := node.NewSharedStore(nil)
	run(t, newShellNode("list", map[string]any{"command": "printf hello"}, node.RetryPolicy{}), store)

	stdout, _ := store.Get("stdout")
	assert.Equal(t, "hello", stdout)
	code, _ := store.Get("exit_code")
	assert.Equal(t, int64(0), code)
}

func TestShellNodeNonzeroExitFails(t *testing.T) {
	n := newShellNode("bad", map[string]any{"command": "exit 3"}, node.RetryPolicy{})
	_, err := node.RunLifecycle(context.Background(), n, node.NewSharedStore(nil))
	require.Error(t, err)
	assert.Equal(t, 3, api.AsError(err).Details["status_code"])
}

func TestShellNodeAllowNonzero(t *testing.T) {
	store := node.NewSharedStore(nil)
	params := map[string]any{"command": "echo oops >&2; exit 3", "allow_nonzero": true}
	run(t, newShellNode("bad", params, node.RetryPolicy{}), store)

	code, _ := store.Get("exit_code")
	assert.Equal(t, int64(3), code)
	stderr, _ := store.Get("stderr")
	assert.Contains(t, stderr, "oops")
}

func TestReadFileTextAndBinary(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("plain text"), 0o644))
	binPath := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(binPath, []byte{0xff, 0xfe, 0x00}, 0o644))

	store := node.NewSharedStore(nil)
	run(t, newReadFileNode("r1", map[string]any{"path": textPath}, node.RetryPolicy{}), store)
	result, _ := store.Get("result")
	assert.Equal(t, "plain text", result)

	store2 := node.NewSharedStore(nil)
	run(t, newReadFileNode("r2", map[string]any{"path": binPath}, node.RetryPolicy{}), store2)
	result2, _ := store2.Get("result")
	assert.Equal(t, []byte{0xff, 0xfe, 0x00}, result2)
}

func TestWriteFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "out.txt")
	store := node.NewSharedStore(nil)
	run(t, newWriteFileNode("w", map[string]any{"path": path, "content": "data"}, node.RetryPolicy{}), store)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	written, _ := store.Get("bytes_written")
	assert.Equal(t, int64(4), written)
}

func TestWriteFileBytesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	store := node.NewSharedStore(nil)
	params := map[string]any{"path": path, "content": []byte{1, 2, 3}}
	run(t, newWriteFileNode("w", params, node.RetryPolicy{}), store)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestEchoNode(t *testing.T) {
	store := node.NewSharedStore(nil)
	run(t, newEchoNode("e", map[string]any{"value": int64(7), "action": "done"}, node.RetryPolicy{}), store)
	result, _ := store.Get("result")
	assert.Equal(t, int64(7), result)
}

func TestNewUnknownType(t *testing.T) {
	_, err := New("teleport", "t", nil, node.RetryPolicy{}, Deps{})
	require.Error(t, err)
	assert.Equal(t, api.ErrRegistryMiss, api.CodeOf(err))
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New(registry.Filter{})
	require.NoError(t, RegisterBuiltins(reg))

	for _, key := range []string{"http", "llm", "shell", "read-file", "write-file", "echo"} {
		_, ok := reg.Get(key)
		assert.True(t, ok, key)
		assert.True(t, IsBuiltin(key), key)
	}

	// echo is a test node, hidden from the default listing.
	for _, e := range reg.List(false) {
		assert.NotEqual(t, "echo", e.Key)
	}
}
