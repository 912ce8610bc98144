package evagent

import (
	"context"
	"encoding/json"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/evcap/kit"
)

// RegisterMCP registers capture session tools on an MCP server.
func (m *Manager) RegisterMCP(srv *mcp.Server) {
	m.registerStartTool(srv)
	m.registerStopTool(srv)
	m.registerStatsTool(srv)
	m.registerReportTool(srv)
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

// --- capture_start ---

type startRequest struct {
	URL string `json:"url"`
}

func (m *Manager) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_start",
		Description: "Start a capture session on a page. Every user-facing event is queued, delivered, and correlated against DOM change until capture_stop.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to capture"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*startRequest)
		sess, err := m.Start(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"session_id": sess.Agent.SessionID,
			"state":      sess.Agent.State().String(),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r startRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- capture_stop ---

type stopRequest struct {
	SessionID string `json:"session_id"`
}

func (m *Manager) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_stop",
		Description: "Stop a capture session: flush pending events, run gap verification, and write the report. Returns the verdict.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session to finalize"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*stopRequest)
		return m.Stop(ctx, r.SessionID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r stopRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- capture_stats ---

func (m *Manager) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_stats",
		Description: "Get live counters for all capture sessions: events, duplicates, malformed drops, snapshots, mutation buffer.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return m.List(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- capture_report ---

type reportRequest struct {
	SessionID string `json:"session_id"`
}

func (m *Manager) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "capture_report",
		Description: "Read the verification report of a finalized session.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Finalized session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*reportRequest)
		data, err := os.ReadFile(m.ReportPath(r.SessionID))
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r reportRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
