package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
	"pflow/internal/trace"
)

type fakeClient struct {
	lastReq Request
	resp    Response
	err     error
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (Response, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestProviderFor(t *testing.T) {
	tests := []struct {
		model    string
		provider string
		id       string
	}{
		{"claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"gpt-5", "openai", "gpt-5"},
		{"o3-mini", "openai", "o3-mini"},
		{"anthropic:custom-model", "anthropic", "custom-model"},
		{"mystery-model", "", "mystery-model"},
	}
	for _, tt := range tests {
		provider, id := ProviderFor(tt.model)
		assert.Equal(t, tt.provider, provider, tt.model)
		assert.Equal(t, tt.id, id, tt.model)
	}
}

func TestRouterDispatch(t *testing.T) {
	anthropic := &fakeClient{resp: Response{Text: "claude says hi", Provider: "anthropic"}}
	r := NewRouter(map[string]Client{"anthropic": anthropic})

	resp, err := r.Complete(context.Background(), Request{Model: "claude-sonnet-4-5", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "claude says hi", resp.Text)
	assert.Equal(t, "claude-sonnet-4-5", anthropic.lastReq.Model)
}

func TestRouterDefaultsModel(t *testing.T) {
	anthropic := &fakeClient{}
	r := NewRouter(map[string]Client{"anthropic": anthropic})
	_, err := r.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, anthropic.lastReq.Model)
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter(map[string]Client{})
	_, err := r.Complete(context.Background(), Request{Model: "mystery-model"})
	require.Error(t, err)
	assert.Equal(t, api.ErrNodeRuntime, api.CodeOf(err))
}

func TestRouterMissingKey(t *testing.T) {
	r := NewRouter(map[string]Client{})
	_, err := r.Complete(context.Background(), Request{Model: "gpt-5"})
	require.Error(t, err)
	assert.Equal(t, api.ErrNodeAuth, api.CodeOf(err))
	assert.Contains(t, api.AsError(err).Suggestion, "OPENAI_API_KEY")
}

func TestTracedRecordsCalls(t *testing.T) {
	inner := &fakeClient{resp: Response{
		Text:     "done",
		Model:    "claude-sonnet-4-5",
		Provider: "anthropic",
		Usage:    Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}
	collector := trace.New("demo", "exec-1", nil)
	collector.SetActiveNode("summarize")
	traced := NewTraced(inner, collector)

	_, err := traced.Complete(context.Background(), Request{Model: "claude-sonnet-4-5", Prompt: "hi"})
	require.NoError(t, err)

	doc := collector.Snapshot()
	require.Len(t, doc.LLMCalls, 1)
	call := doc.LLMCalls[0]
	assert.Equal(t, "summarize", call.NodeID)
	assert.Equal(t, "done", call.Response)
	assert.Equal(t, int64(10), call.InputTokens)
}

func TestTracedRecordsErrors(t *testing.T) {
	inner := &fakeClient{err: errors.New("boom")}
	collector := trace.New("demo", "exec-1", nil)
	traced := NewTraced(inner, collector)

	_, err := traced.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	require.Error(t, err)

	doc := collector.Snapshot()
	require.Len(t, doc.LLMCalls, 1)
	assert.Equal(t, "boom", doc.LLMCalls[0].Error)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, api.ErrNodeAuth, classifyStatus(401))
	assert.Equal(t, api.ErrNodeRateLimit, classifyStatus(429))
	assert.Equal(t, api.ErrNodeTimeout, classifyStatus(504))
	assert.Equal(t, api.ErrNodeRuntime, classifyStatus(500))
}
