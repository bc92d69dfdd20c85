package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pflow/internal/api"
	"pflow/internal/node"
	"pflow/pkg/logging"
)

type httpNode struct {
	node.Base
	client *http.Client
}

func newHTTPNode(id string, params map[string]any, policy node.RetryPolicy, client *http.Client) node.NodeRunner {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &httpNode{Base: node.NewBase(id, "http", params, policy), client: client}
}

type httpPrep struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

func (n *httpNode) Prep(ctx context.Context, store node.Store) (any, error) {
	params := n.Params()
	url, _ := params["url"].(string)
	if url == "" {
		return nil, api.NewError(api.ErrNodeRuntime, "http node %q requires a url param", n.ID())
	}
	prep := &httpPrep{method: http.MethodGet, url: url, headers: map[string]string{}}
	if m, ok := params["method"].(string); ok && m != "" {
		prep.method = strings.ToUpper(m)
	}
	if h, ok := params["headers"].(map[string]any); ok {
		for k, v := range h {
			prep.headers[k] = fmt.Sprintf("%v", v)
		}
	}
	if t, ok := asInt(params["timeout"]); ok && t > 0 {
		prep.timeout = time.Duration(t) * time.Second
	}
	switch body := params["body"].(type) {
	case nil:
	case string:
		prep.body = []byte(body)
	case []byte:
		prep.body = body
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, api.WrapError(api.ErrNodeRuntime, err, "http node %q body is not serializable", n.ID())
		}
		prep.body = data
		if _, ok := prep.headers["Content-Type"]; !ok {
			prep.headers["Content-Type"] = "application/json"
		}
	}
	return prep, nil
}

type httpResult struct {
	statusCode int
	headers    map[string]any
	body       any
}

func (n *httpNode) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*httpPrep)
	if prep.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, prep.timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if prep.body != nil {
		bodyReader = bytes.NewReader(prep.body)
	}
	req, err := http.NewRequestWithContext(ctx, prep.method, prep.url, bodyReader)
	if err != nil {
		return nil, api.WrapError(api.ErrNodeRuntime, err, "invalid http request for node %q", n.ID())
	}
	for k, v := range prep.headers {
		req.Header.Set(k, v)
	}

	logging.Debug("HTTPNode", "%s %s", prep.method, prep.url)
	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, api.WrapError(api.ErrNodeTimeout, err, "http request to %s timed out", prep.url)
		}
		return nil, api.WrapError(api.ErrNodeRuntime, err, "http request to %s failed", prep.url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, api.WrapError(api.ErrNodeRuntime, err, "failed to read response from %s", prep.url)
	}

	if resp.StatusCode >= 400 {
		code := api.ErrNodeRuntime
		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			code = api.ErrNodeAuth
		case resp.StatusCode == 429:
			code = api.ErrNodeRateLimit
		}
		return nil, api.NewError(code, "http request to %s returned %d", prep.url, resp.StatusCode).
			WithDetail("status_code", resp.StatusCode).
			WithDetail("raw_response", truncate(string(raw), 2048))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &httpResult{
		statusCode: resp.StatusCode,
		headers:    headers,
		body:       typeBody(resp.Header.Get("Content-Type"), raw),
	}, nil
}

// typeBody converts the raw response by content type: JSON is parsed, text
// becomes a string, everything else stays bytes.
func typeBody(contentType string, raw []byte) any {
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
		return string(raw)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/xml":
		return string(raw)
	default:
		return raw
	}
}

func (n *httpNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	res := execRes.(*httpResult)
	store.Set("response", res.body)
	store.Set("status_code", int64(res.statusCode))
	store.Set("headers", res.headers)
	return node.DefaultAction, nil
}

func (n *httpNode) Clone() node.NodeRunner {
	return &httpNode{Base: n.CloneBase(), client: n.client}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
