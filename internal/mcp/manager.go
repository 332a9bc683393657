// Package mcp bridges out-of-process MCP tool servers into the tool
// registry. Connection is lazy: nothing starts until the first message, and
// a failed server is retried on the next message instead of blocking the
// turn.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// Manager owns the lifecycle of all configured MCP server connections.
type Manager struct {
	servers map[string]config.MCPServerConfig

	mu        sync.Mutex
	connected map[string]*serverState // only servers that connected successfully
}

type serverState struct {
	client    *mcpclient.Client
	toolNames []string
}

// NewManager creates a Manager for the configured servers. No connections
// are opened here.
func NewManager(servers map[string]config.MCPServerConfig) *Manager {
	return &Manager{
		servers:   servers,
		connected: make(map[string]*serverState),
	}
}

// ConnectOnce connects every configured server that is not yet connected and
// registers its tools as mcp_<server>_<tool>. Safe to call on every message;
// successfully connected servers are skipped, failed ones retried.
func (m *Manager) ConnectOnce(ctx context.Context, reg *tools.Registry) {
	if m == nil || len(m.servers) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, cfg := range m.servers {
		if _, ok := m.connected[name]; ok {
			continue
		}
		state, err := m.connectServer(ctx, name, cfg, reg)
		if err != nil {
			slog.Warn("MCP server connect failed, will retry", "server", name, "err", err)
			continue
		}
		m.connected[name] = state
		slog.Info("MCP server connected", "server", name, "tools", len(state.toolNames))
	}
}

// connectServer opens one connection, runs the MCP handshake, and registers
// the advertised tools.
func (m *Manager) connectServer(ctx context.Context, name string, cfg config.MCPServerConfig, reg *tools.Registry) (*serverState, error) {
	client, err := createClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	// SSE and streamable HTTP need an explicit Start; stdio auto-starts.
	if cfg.Command == "" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "blackcat", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	state := &serverState{client: client}
	for _, def := range listed.Tools {
		bridged := newBridgeTool(name, def, client)
		if reg.Get(bridged.Name()) != nil {
			slog.Warn("MCP tool name collision, skipping", "server", name, "tool", bridged.Name())
			continue
		}
		reg.Register(bridged)
		state.toolNames = append(state.toolNames, bridged.Name())
	}
	return state, nil
}

// Close tears down every connected server. Errors are swallowed: shutdown
// noise from dying subprocesses is expected.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, state := range m.connected {
		_ = state.client.Close()
		delete(m.connected, name)
		slog.Debug("MCP server closed", "server", name)
	}
}

// ToolNames returns all currently registered MCP tool names (status surface).
func (m *Manager) ToolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, state := range m.connected {
		names = append(names, state.toolNames...)
	}
	return names
}

// createClient picks the transport from the config shape: a command means
// stdio, a URL means streamable HTTP.
func createClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch {
	case cfg.Command != "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case cfg.URL != "":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("server config needs either a command or a url")
	}
}
