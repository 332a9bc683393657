package agent

import (
	"context"

	"github.com/blackcat-ai/blackcat/internal/mcp"
	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// AgentFactory creates per-request CoreAgent and SubAgent instances.
// It holds construction-time dependencies; created agents are lightweight
// objects that own only what they need for one execution.
type AgentFactory struct {
	provider    schema.LLMProvider
	settings    schema.AgentSettings // CoreAgent settings
	subSettings schema.AgentSettings // SubAgent settings (lower MaxIter, no window)
	coreTools   *tools.Registry      // shared live registry; MCP tools appear here
	subTools    *tools.Registry      // restricted set, never extended by MCP
	mcpManager  *mcp.Manager
	workspace   string
}

// NewFactory constructs an AgentFactory. coreRegistry is the live registry
// MCP tools are added to; subRegistry is the restricted set for subagents.
func NewFactory(
	provider schema.LLMProvider,
	settings, subSettings schema.AgentSettings,
	coreRegistry, subRegistry *tools.Registry,
	mcpManager *mcp.Manager,
	workspace string,
) *AgentFactory {
	return &AgentFactory{
		provider:    provider,
		settings:    settings,
		subSettings: subSettings,
		coreTools:   coreRegistry,
		subTools:    subRegistry,
		mcpManager:  mcpManager,
		workspace:   workspace,
	}
}

// Close shuts down MCP server subprocesses. Called by AgentLoop.Run on exit.
func (f *AgentFactory) Close() {
	if f.mcpManager != nil {
		f.mcpManager.Close()
	}
}

// NewCoreAgent creates a CoreAgent ready to execute one user message.
func (f *AgentFactory) NewCoreAgent() *CoreAgent {
	return &CoreAgent{
		LoopRunner: newLoopRunner(f.provider, f.settings),
		tools:      f.coreTools,
		mcpManager: f.mcpManager,
	}
}

// NewSubAgent creates a SubAgent ready to execute one background task.
func (f *AgentFactory) NewSubAgent() *SubAgent {
	return &SubAgent{
		LoopRunner: newLoopRunner(f.provider, f.subSettings),
		tools:      f.subTools,
		workspace:  f.workspace,
	}
}

// CoreAgent processes a single user-facing request with the full tool set
// and the rich system prompt. Constructed per message by the factory.
type CoreAgent struct {
	LoopRunner

	tools      *tools.Registry
	mcpManager *mcp.Manager
}

// Execute runs one full turn. The conversation must be fully built by the
// caller (system prompt + history + user message). MCP servers connect on
// the first call; a failed connect is retried on the next message.
func (a *CoreAgent) Execute(ctx context.Context, conversation schema.Messages, onProgress func(string)) (string, []string) {
	if a.mcpManager != nil {
		a.mcpManager.ConnectOnce(ctx, a.tools)
	}
	return a.run(ctx, conversation, a.tools, onProgress)
}
