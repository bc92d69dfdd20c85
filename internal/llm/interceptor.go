package llm

import (
	"context"
	"time"

	"pflow/internal/trace"
)

// Traced wraps a Client and records every completion into the trace
// collector, attributed to whichever node the collector marks active.
type Traced struct {
	inner     Client
	collector *trace.Collector
}

// NewTraced wraps inner with trace recording. A nil collector records
// nothing.
func NewTraced(inner Client, collector *trace.Collector) *Traced {
	return &Traced{inner: inner, collector: collector}
}

func (t *Traced) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := t.inner.Complete(ctx, req)
	call := trace.LLMCall{
		Provider:   resp.Provider,
		Model:      req.Model,
		Prompt:     req.Prompt,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		call.Error = err.Error()
	} else {
		call.Response = resp.Text
		call.InputTokens = resp.Usage.InputTokens
		call.OutputTokens = resp.Usage.OutputTokens
		if call.Model == "" {
			call.Model = resp.Model
		}
	}
	t.collector.RecordLLMCall(call)
	return resp, err
}

// FromEnv builds the routed, optionally traced client from whichever API keys
// are present. Returns nil when no provider is configured; llm nodes surface
// that as an auth error at run time, not at startup.
func FromEnv(anthropicKey, openaiKey string, collector *trace.Collector) Client {
	providers := make(map[string]Client)
	if anthropicKey != "" {
		if c, err := NewAnthropic(anthropicKey); err == nil {
			providers["anthropic"] = c
		}
	}
	if openaiKey != "" {
		if c, err := NewOpenAI(openaiKey); err == nil {
			providers["openai"] = c
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return NewTraced(NewRouter(providers), collector)
}
