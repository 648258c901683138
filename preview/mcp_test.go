package preview

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/livepreview/preview/event"
)

var testImpl = &mcp.Implementation{Name: "livepreview-test", Version: "0.1.0"}

// mcpSession registers the tools on a server and returns a connected client
// session.
func mcpSession(t *testing.T, opts ...Option) (*Engine, *mcp.ClientSession) {
	t.Helper()
	e := newEngine(t, nil, opts...)

	srv := mcp.NewServer(testImpl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return e, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	return result
}

// callJSON invokes a tool that must succeed and decodes its JSON text.
func callJSON[T any](t *testing.T, session *mcp.ClientSession, name string, args any) T {
	t.Helper()
	result := callTool(t, session, name, args)
	require.NoError(t, result.GetError(), "CallTool(%s)", name)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	var v T
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &v))
	return v
}

func TestMCP_ListTools(t *testing.T) {
	_, session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"preview_open", "preview_submit", "preview_status", "preview_capture",
		"preview_inspect", "preview_dispatch", "preview_reset", "preview_close",
		"preview_catalog",
	}, names)
}

func TestMCP_SessionFlow(t *testing.T) {
	_, session := mcpSession(t)

	st := callJSON[Status](t, session, "preview_open", map[string]any{"session_id": "m1"})
	assert.Equal(t, "m1", st.ID)

	sub := callJSON[Submission](t, session, "preview_submit", map[string]any{
		"session_id": "m1",
		"payload":    "---SUMMARY---\nA counter.\n---CODE---\n" + counter,
	})
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, "A counter.", sub.Summary)
	require.NotNil(t, sub.Status)
	assert.Equal(t, event.StageRendered, sub.Status.Stage)

	info := callJSON[ElementInfo](t, session, "preview_inspect", map[string]any{"session_id": "m1", "node_id": "n1"})
	assert.Equal(t, "button", info.Tag)

	callJSON[map[string]any](t, session, "preview_dispatch", map[string]any{
		"session_id": "m1", "node_id": "n1", "type": "click",
	})

	res := callTool(t, session, "preview_capture", map[string]any{"session_id": "m1", "format": "html"})
	require.NoError(t, res.GetError())
	require.Len(t, res.Content, 1, "no image without a browser")
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "count 1</button>")

	st = callJSON[Status](t, session, "preview_reset", map[string]any{"session_id": "m1"})
	assert.Equal(t, int64(2), st.Version)

	st = callJSON[Status](t, session, "preview_status", map[string]any{"session_id": "m1"})
	assert.Equal(t, event.StageRendered, st.Stage)

	closed := callJSON[map[string]string](t, session, "preview_close", map[string]any{"session_id": "m1"})
	assert.Equal(t, "closed", closed["status"])

	res = callTool(t, session, "preview_status", map[string]any{"session_id": "m1"})
	assert.True(t, res.IsError)
}

func TestMCP_CaptureMarkdownAndImage(t *testing.T) {
	_, session := mcpSession(t, WithSurfaces(fakeSurfaces{}))
	callJSON[Status](t, session, "preview_open", map[string]any{"session_id": "m1"})
	callJSON[Submission](t, session, "preview_submit", map[string]any{"session_id": "m1", "payload": hello})

	res := callTool(t, session, "preview_capture", map[string]any{"session_id": "m1"})
	require.NoError(t, res.GetError())
	require.Len(t, res.Content, 2)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "# hello")
	img, ok := res.Content[1].(*mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, []byte("png"), img.Data)
}

func TestMCP_InspectNeedsTarget(t *testing.T) {
	_, session := mcpSession(t)
	callJSON[Status](t, session, "preview_open", map[string]any{"session_id": "m1"})

	res := callTool(t, session, "preview_inspect", map[string]any{"session_id": "m1"})
	assert.True(t, res.IsError)
}

func TestMCP_Catalog(t *testing.T) {
	_, session := mcpSession(t)
	c := callJSON[Catalog](t, session, "preview_catalog", map[string]any{})
	assert.NotEmpty(t, c.Version)
	assert.NotEmpty(t, c.Prompt)
}
