package mcpinvoker

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/common/config"
	"github.com/kandev/execwatch/internal/common/logger"
)

func newToolServer() *server.MCPServer {
	s := server.NewMCPServer("test-tools", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the input"),
			mcp.WithString("text", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText("echo: " + text), nil
		},
	)
	s.AddTool(
		mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("quota exceeded"), nil
		},
	)
	return s
}

func TestInvoker_StreamableHTTP(t *testing.T) {
	ts := server.NewTestStreamableHTTPServer(newToolServer())
	defer ts.Close()

	inv := New(config.MCPConfig{Servers: map[string]config.MCPServerConfig{
		"tools": {URL: ts.URL, Transport: TransportHTTP},
	}}, logger.NewNop())
	defer func() { _ = inv.Close() }()

	assert.True(t, inv.HasServer("tools"))
	assert.False(t, inv.HasServer("other"))

	ctx := context.Background()
	res, err := inv.InvokeTool(ctx, "tools", "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "echo: hi", res.Data)

	res, err = inv.InvokeTool(ctx, "tools", "fail", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "quota exceeded", res.Error)
}

func TestInvoker_UnknownServer(t *testing.T) {
	inv := New(config.MCPConfig{Servers: map[string]config.MCPServerConfig{
		"blank": {URL: ""},
	}}, logger.NewNop())
	defer func() { _ = inv.Close() }()

	assert.False(t, inv.HasServer("blank"))
	_, err := inv.InvokeTool(context.Background(), "missing", "echo", nil)
	assert.Error(t, err)
}

func TestNewClient_UnsupportedTransport(t *testing.T) {
	_, err := newClient(config.MCPServerConfig{URL: "http://localhost", Transport: "grpc"})
	assert.Error(t, err)
}
