package preview

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/livepreview/kit"
)

// RegisterMCP registers the preview tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerOpenTool(srv)
	e.registerSubmitTool(srv)
	e.registerStatusTool(srv)
	e.registerCaptureTool(srv)
	e.registerInspectTool(srv)
	e.registerDispatchTool(srv)
	e.registerResetTool(srv)
	e.registerCloseTool(srv)
	e.registerCatalogTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var sessionProp = map[string]any{"type": "string", "description": "Session ID returned by preview_open"}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (r *sessionRequest) enrich() func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, r.SessionID) }
}

func enrichSession(r *sessionRequest) func(context.Context) context.Context { return r.enrich() }

func (e *Engine) tool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(e.logger, tool.Name)(endpoint), decode)
}

// --- open ---

func (e *Engine) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_open",
		Description: "Open a live preview session. Reopening an existing session ID returns it unchanged.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Optional session ID; generated when empty"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		s, err := e.OpenSession(req.(*sessionRequest).SessionID)
		if err != nil {
			return nil, err
		}
		return s.Status(), nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(enrichSession))
}

// --- submit ---

type submitToolRequest struct {
	sessionRequest
	Payload string `json:"payload"`
	Stream  bool   `json:"stream,omitempty"`
}

func (e *Engine) registerSubmitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "preview_submit",
		Description: "Submit generated component source to a session and render it. " +
			"The payload may be framed with ---SUMMARY---, ---SUGGESTIONS--- and ---CODE--- markers. " +
			"Returns the assigned version and, unless streaming, the status after the render.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"payload":    map[string]any{"type": "string", "description": "Component source, optionally framed"},
			"stream":     map[string]any{"type": "boolean", "description": "Queue and debounce instead of waiting for the render"},
		}, []string{"session_id", "payload"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*submitToolRequest)
		return e.SubmitPayload(ctx, r.SessionID, r.Payload, r.Stream)
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(func(r *submitToolRequest) func(context.Context) context.Context {
		return r.enrich()
	}))
}

// --- status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_status",
		Description: "Report a session's shown version, stage, error state and diagnostics.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		s, err := e.Session(req.(*sessionRequest).SessionID)
		if err != nil {
			return nil, err
		}
		return s.Status(), nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(enrichSession))
}

// --- capture ---

type captureToolRequest struct {
	sessionRequest
	Format string `json:"format,omitempty"` // markdown | html
}

// captureResult is returned as text plus, when a browser surface is
// attached, the screenshot.
type captureResult struct {
	text string
	png  []byte
}

func (c *captureResult) MCPContent() []mcp.Content {
	out := []mcp.Content{&mcp.TextContent{Text: c.text}}
	if len(c.png) > 0 {
		out = append(out, &mcp.ImageContent{Data: c.png, MIMEType: "image/png"})
	}
	return out
}

func (e *Engine) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_capture",
		Description: "Capture what a session shows: its content as markdown (or raw HTML) and a PNG screenshot when a browser is attached.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"format":     map[string]any{"type": "string", "enum": []any{"markdown", "html"}, "description": "Text format (default markdown)"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolRequest)
		s, err := e.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		snap, err := s.Capture(ctx)
		if err != nil {
			return nil, err
		}
		res := &captureResult{text: string(snap.HTML), png: snap.PNG}
		if r.Format != "html" {
			if res.text, err = e.Markdown(snap.HTML); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(func(r *captureToolRequest) func(context.Context) context.Context {
		return r.enrich()
	}))
}

// --- inspect ---

type inspectToolRequest struct {
	sessionRequest
	NodeID string   `json:"node_id,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

func (e *Engine) registerInspectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_inspect",
		Description: "Describe a rendered element, by node ID or by viewport coordinate (coordinates need a browser).",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"node_id":    map[string]any{"type": "string", "description": "data-pv-id of the element"},
			"x":          map[string]any{"type": "number", "description": "Viewport X in CSS pixels"},
			"y":          map[string]any{"type": "number", "description": "Viewport Y in CSS pixels"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*inspectToolRequest)
		s, err := e.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		switch {
		case r.NodeID != "":
			return s.InspectNode(ctx, r.NodeID)
		case r.X != nil && r.Y != nil:
			return s.Inspect(ctx, Point{X: *r.X, Y: *r.Y})
		}
		return nil, errors.New("node_id or x and y are required")
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(func(r *inspectToolRequest) func(context.Context) context.Context {
		return r.enrich()
	}))
}

// --- dispatch ---

type dispatchToolRequest struct {
	sessionRequest
	Interaction
}

func (e *Engine) registerDispatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_dispatch",
		Description: "Drive a user event (click, input, change, submit, keydown) into the rendered preview and re-render.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionProp,
			"node_id":    map[string]any{"type": "string", "description": "data-pv-id of the target element"},
			"type":       map[string]any{"type": "string", "description": "DOM event type"},
			"value":      map[string]any{"type": "string", "description": "New value for input and change"},
			"checked":    map[string]any{"type": "boolean", "description": "New checked state for checkboxes"},
			"key":        map[string]any{"type": "string", "description": "Key for keyboard events"},
		}, []string{"session_id", "node_id", "type"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*dispatchToolRequest)
		s, err := e.Session(r.SessionID)
		if err != nil {
			return nil, err
		}
		diags, err := s.Dispatch(ctx, r.Interaction)
		if err != nil {
			return nil, err
		}
		return map[string]any{"diagnostics": diags, "status": s.Status()}, nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(func(r *dispatchToolRequest) func(context.Context) context.Context {
		return r.enrich()
	}))
}

// --- reset ---

func (e *Engine) registerResetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_reset",
		Description: "Re-render the latest document from a fresh state, e.g. after a runtime error.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		s, err := e.Session(req.(*sessionRequest).SessionID)
		if err != nil {
			return nil, err
		}
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
		return s.Status(), nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(enrichSession))
}

// --- close ---

func (e *Engine) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_close",
		Description: "Close a session and release its preview.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		id := req.(*sessionRequest).SessionID
		if err := e.CloseSession(id); err != nil {
			return nil, err
		}
		return map[string]string{"session_id": id, "status": "closed"}, nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON(enrichSession))
}

// --- catalog ---

func (e *Engine) registerCatalogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "preview_catalog",
		Description: "List the components, icons and hooks generated code may use without importing them.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return e.Catalog(), nil
	}
	e.tool(srv, tool, endpoint, kit.DecodeJSON[struct{}](nil))
}
