// Package mcpinvoker calls tools on external MCP servers.
package mcpinvoker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/approval"
	"github.com/kandev/execwatch/internal/common/config"
	"github.com/kandev/execwatch/internal/common/logger"
)

const (
	TransportSSE  = "sse"
	TransportHTTP = "http"

	clientName    = "execwatch"
	clientVersion = "1.0.0"
)

// Invoker keeps one initialized client per configured server. Clients are
// created on first use and dropped after a transport failure.
type Invoker struct {
	mu      sync.Mutex
	servers map[string]config.MCPServerConfig
	clients map[string]*client.Client

	// ctx bounds the lifetime of long-lived transports.
	ctx    context.Context
	cancel context.CancelFunc
	logger *logger.Logger
}

var _ approval.ToolInvoker = (*Invoker)(nil)

// New creates an invoker for the configured servers.
func New(cfg config.MCPConfig, log *logger.Logger) *Invoker {
	ctx, cancel := context.WithCancel(context.Background())
	servers := make(map[string]config.MCPServerConfig, len(cfg.Servers))
	for name, s := range cfg.Servers {
		if s.URL != "" {
			servers[name] = s
		}
	}
	return &Invoker{
		servers: servers,
		clients: make(map[string]*client.Client),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithFields(zap.String("component", "mcp-invoker")),
	}
}

// HasServer reports whether a server is configured.
func (i *Invoker) HasServer(server string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.servers[server]
	return ok
}

// InvokeTool calls toolName on server. A tool-level failure is returned as
// an unsuccessful result; transport failures are returned as errors.
func (i *Invoker) InvokeTool(ctx context.Context, server, toolName string, args map[string]interface{}) (*approval.InvocationResult, error) {
	c, err := i.client(ctx, server)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			i.drop(server, c)
		}
		return nil, fmt.Errorf("call %s on %s: %w", toolName, server, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool returned an error"
		}
		return &approval.InvocationResult{Success: false, Error: text}, nil
	}
	return &approval.InvocationResult{Success: true, Data: text}, nil
}

func (i *Invoker) client(ctx context.Context, server string) (*client.Client, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.clients[server]; ok {
		return c, nil
	}
	cfg, ok := i.servers[server]
	if !ok {
		return nil, fmt.Errorf("mcp server %q is not configured", server)
	}

	c, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", server, err)
	}
	if err := c.Start(i.ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start client for %s: %w", server, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize %s: %w", server, err)
	}

	i.logger.Info("connected to mcp server", zap.String("server", server), zap.String("url", cfg.URL))
	i.clients[server] = c
	return c, nil
}

func newClient(cfg config.MCPServerConfig) (*client.Client, error) {
	switch strings.ToLower(cfg.Transport) {
	case TransportSSE:
		return client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
	case "", TransportHTTP:
		return client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func (i *Invoker) drop(server string, c *client.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if cur, ok := i.clients[server]; ok && cur == c {
		delete(i.clients, server)
		_ = c.Close()
		i.logger.Warn("dropped mcp client after failure", zap.String("server", server))
	}
}

// Close closes every open client.
func (i *Invoker) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancel()
	var firstErr error
	for name, c := range i.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(i.clients, name)
	}
	return firstErr
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if tc, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if b, err := json.Marshal(item); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}
