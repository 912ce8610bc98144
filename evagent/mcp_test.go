package evagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/evcap/report"
)

var testImpl = &mcp.Implementation{Name: "evcap-test", Version: "0.1.0"}

// mcpSession creates a Manager, registers MCP tools, and returns a connected
// client session that can call tools end-to-end.
func mcpSession(t *testing.T) (*Manager, *mcp.ClientSession) {
	t.Helper()
	m := newTestManager(t)

	srv := mcp.NewServer(testImpl, nil)
	m.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return m, session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_StartStatsStop(t *testing.T) {
	_, session := mcpSession(t)

	text := callTool(t, session, "capture_start", map[string]any{
		"url": "https://example.com/form",
	})
	var started map[string]string
	if err := json.Unmarshal([]byte(text), &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if started["session_id"] == "" {
		t.Error("expected non-empty session_id")
	}
	if started["state"] != "active" {
		t.Errorf("state = %q, want %q", started["state"], "active")
	}

	text = callTool(t, session, "capture_stats", nil)
	var stats []SessionStats
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("sessions = %d, want 1", len(stats))
	}

	text = callTool(t, session, "capture_stop", map[string]any{
		"session_id": started["session_id"],
	})
	var rep report.Report
	if err := json.Unmarshal([]byte(text), &rep); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if rep.SessionID != started["session_id"] {
		t.Errorf("report session = %q, want %q", rep.SessionID, started["session_id"])
	}
	if rep.Verdict == nil {
		t.Error("expected a verdict in the report")
	}
}

func TestMCP_StopUnknownSession(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "capture_stop",
		Arguments: map[string]any{"session_id": "sess_missing"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown session")
	}
}

func TestMCP_ReportAfterStop(t *testing.T) {
	m, session := mcpSession(t)

	text := callTool(t, session, "capture_start", map[string]any{
		"url": "https://example.com",
	})
	var started map[string]string
	if err := json.Unmarshal([]byte(text), &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	callTool(t, session, "capture_stop", map[string]any{
		"session_id": started["session_id"],
	})

	text = callTool(t, session, "capture_report", map[string]any{
		"session_id": started["session_id"],
	})
	var rep report.Report
	if err := json.Unmarshal([]byte(text), &rep); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if rep.SessionID != started["session_id"] {
		t.Errorf("report session = %q", rep.SessionID)
	}
	if m.Get(started["session_id"]) != nil {
		t.Error("session should be deregistered after stop")
	}
}
