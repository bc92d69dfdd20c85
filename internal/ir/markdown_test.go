package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pflow/internal/api"
)

const sampleMarkdown = "# Summarize Repo\n" +
	"\n" +
	"Fetch a JSON document and summarize it with an LLM.\n" +
	"\n" +
	"## Inputs\n" +
	"\n" +
	"### url\n" +
	"\n" +
	"- type: string\n" +
	"- required: true\n" +
	"- description: document to fetch\n" +
	"\n" +
	"### out_path\n" +
	"\n" +
	"- type: string\n" +
	"- required: false\n" +
	"- default: /tmp/summary.txt\n" +
	"\n" +
	"## Steps\n" +
	"\n" +
	"### fetch\n" +
	"\n" +
	"- type: http\n" +
	"- method: GET\n" +
	"- url: ${url}\n" +
	"- timeout: 30\n" +
	"\n" +
	"### summarize\n" +
	"\n" +
	"- type: llm\n" +
	"\n" +
	"```prompt\n" +
	"Summarize the following document:\n" +
	"${fetch.response}\n" +
	"```\n" +
	"\n" +
	"### save\n" +
	"\n" +
	"- type: write-file\n" +
	"- path: ${out_path}\n" +
	"- content: ${summarize.response}\n" +
	"\n" +
	"## Outputs\n" +
	"\n" +
	"### summary\n" +
	"\n" +
	"- description: the generated summary\n" +
	"- source: ${summarize.response}\n"

func TestParseMarkdown(t *testing.T) {
	wf, err := ParseMarkdown([]byte(sampleMarkdown))
	require.NoError(t, err)

	assert.Equal(t, "Summarize Repo", wf.Name)
	assert.Equal(t, "Fetch a JSON document and summarize it with an LLM.", wf.Description)
	assert.Equal(t, Version, wf.IRVersion)

	require.Len(t, wf.Nodes, 3)
	fetch := wf.Nodes[0]
	assert.Equal(t, "fetch", fetch.ID)
	assert.Equal(t, "http", fetch.Type)
	assert.Equal(t, "GET", fetch.Params["method"])
	assert.Equal(t, "${url}", fetch.Params["url"])
	assert.Equal(t, 30, fetch.Params["timeout"], "digit bullets coerce to int")

	summarize := wf.Nodes[1]
	assert.Equal(t, "llm", summarize.Type)
	assert.Equal(t, "Summarize the following document:\n${fetch.response}", summarize.Params["prompt"])

	require.True(t, wf.Inputs["url"].Required)
	assert.False(t, wf.Inputs["out_path"].Required)
	assert.Equal(t, "/tmp/summary.txt", wf.Inputs["out_path"].Default)

	// Implicit sequential edges.
	require.Len(t, wf.Edges, 2)
	assert.Equal(t, Edge{From: "fetch", To: "summarize"}, wf.Edges[0])
	assert.Equal(t, Edge{From: "summarize", To: "save"}, wf.Edges[1])

	assert.Equal(t, "${summarize.response}", wf.Outputs["summary"].Source)

	require.NoError(t, wf.Validate())
}

func TestParseMarkdownShellAndBatch(t *testing.T) {
	src := "# Greet Everyone\n\n## Inputs\n\n### names\n\n- type: array\n- required: true\n\n" +
		"## Steps\n\n### greet\n\n- type: shell\n\n" +
		"```shell command\necho \"hello ${name}\"\n```\n\n" +
		"```yaml batch\nitems: ${names}\nas: name\nparallel: true\nmax_concurrent: 5\n```\n"

	wf, err := ParseMarkdown([]byte(src))
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 1)

	greet := wf.Nodes[0]
	assert.Equal(t, "shell", greet.Type)
	assert.Equal(t, `echo "hello ${name}"`, greet.Params["command"])

	batch, ok := greet.Params[BatchParamKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "${names}", batch["items"])
	assert.Equal(t, "name", batch["as"])
	assert.Equal(t, true, batch["parallel"])
	assert.Equal(t, float64(5), batch["max_concurrent"])
}

func TestParseMarkdownExplicitEdges(t *testing.T) {
	src := "# Branching\n\n## Steps\n\n### check\n\n- type: http\n- url: https://example.com\n\n" +
		"### ok\n\n- type: echo\n- message: fine\n\n### alert\n\n- type: echo\n- message: bad\n\n" +
		"## Edges\n\n- check -> ok\n- check -> alert (error)\n"

	wf, err := ParseMarkdown([]byte(src))
	require.NoError(t, err)
	require.Len(t, wf.Edges, 2)
	assert.Equal(t, Edge{From: "check", To: "ok"}, wf.Edges[0])
	assert.Equal(t, Edge{From: "check", To: "alert", Action: "error"}, wf.Edges[1])
}

func TestParseMarkdownNoSteps(t *testing.T) {
	_, err := ParseMarkdown([]byte("# Empty\n\nNothing here.\n"))
	require.Error(t, err)
}

func TestParseMarkdownEnforcesSchema(t *testing.T) {
	t.Run("zero max_attempts", func(t *testing.T) {
		src := "# Broken\n\n## Steps\n\n### fetch\n\n- type: http\n- url: https://example.com\n- max_attempts: 0\n"
		_, err := ParseMarkdown([]byte(src))
		require.Error(t, err)
		assert.Equal(t, api.ErrIRSchema, api.CodeOf(err))
		assert.Contains(t, err.Error(), "max_attempts")
	})

	t.Run("short purpose", func(t *testing.T) {
		src := "# Broken\n\n## Steps\n\n### fetch\n\n- type: http\n- purpose: nope\n- url: https://example.com\n"
		_, err := ParseMarkdown([]byte(src))
		require.Error(t, err)
		assert.Equal(t, api.ErrIRSchema, api.CodeOf(err))
	})

	t.Run("bad node id", func(t *testing.T) {
		src := "# Broken\n\n## Steps\n\n### 1fetch\n\n- type: http\n- url: https://example.com\n"
		_, err := ParseMarkdown([]byte(src))
		require.Error(t, err)
		assert.Equal(t, api.ErrIRSchema, api.CodeOf(err))
	})
}

func TestMarkdownRoundTripSemantics(t *testing.T) {
	wf, err := ParseMarkdown([]byte(sampleMarkdown))
	require.NoError(t, err)

	exported := ExportMarkdown(wf)
	again, err := ParseMarkdown([]byte(exported))
	require.NoError(t, err)

	assert.Equal(t, wf.Name, again.Name)
	assert.Equal(t, wf.Inputs, again.Inputs)
	assert.Equal(t, wf.Outputs, again.Outputs)
	assert.Equal(t, wf.Edges, again.Edges)
	require.Len(t, again.Nodes, len(wf.Nodes))
	for i := range wf.Nodes {
		assert.Equal(t, wf.Nodes[i].ID, again.Nodes[i].ID)
		assert.Equal(t, wf.Nodes[i].Type, again.Nodes[i].Type)
		assert.Equal(t, wf.Nodes[i].Params, again.Nodes[i].Params)
	}
}
