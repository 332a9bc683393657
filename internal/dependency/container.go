// Package dependency wires core blackcat services using go.uber.org/dig.
package dependency

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/dig"

	"github.com/blackcat-ai/blackcat/internal/agent"
	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/cron"
	"github.com/blackcat-ai/blackcat/internal/heartbeat"
	"github.com/blackcat-ai/blackcat/internal/mcp"
	"github.com/blackcat-ai/blackcat/internal/memory"
	"github.com/blackcat-ai/blackcat/internal/providers"
	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/session"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider schema.LLMProvider
	msgBus   *bus.MessageBus
	sessions *session.Manager
	loop     *agent.AgentLoop
	cronSvc  *cron.Service
	daily    *cron.DailySummary
	hb       *heartbeat.Service
	memSvc   schema.MemoryService
}

func (c *Container) Provider() schema.LLMProvider     { return c.provider }
func (c *Container) MessageBus() *bus.MessageBus      { return c.msgBus }
func (c *Container) Sessions() *session.Manager       { return c.sessions }
func (c *Container) AgentLoop() *agent.AgentLoop      { return c.loop }
func (c *Container) CronService() *cron.Service       { return c.cronSvc }
func (c *Container) DailySummary() *cron.DailySummary { return c.daily }
func (c *Container) Heartbeat() *heartbeat.Service    { return c.hb }
func (c *Container) Memory() schema.MemoryService     { return c.memSvc }

// LLMModel is a named string type so dig can distinguish it from plain
// strings when injecting the effective model name into providers that need it.
type LLMModel string

// AgentRegistry wraps the full tool registry used by the main agent loop.
type AgentRegistry struct{ *tools.Registry }

// SubagentRegistry wraps the restricted tool registry used by subagents.
// It must not contain spawn or message tools to prevent recursion and
// unsolicited outbound messages.
type SubagentRegistry struct{ *tools.Registry }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	constructors := []any{
		func() *config.Config { return cfg },
		newProvider,
		resolveLLMModel,
		newMessageBus,
		newSessionManager,
		newCronService,
		newMemoryService,
		newMCPManager,
		newSubAgentToolRegistry,
		newAgentCore,
		newContextManager,
		newSummarizer,
		newAgentLoop,
		newDailySummary,
		newHeartbeat,
	}
	for _, ctor := range constructors {
		if err := d.Provide(ctor); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		msgBus *bus.MessageBus,
		sessions *session.Manager,
		loop *agent.AgentLoop,
		cronSvc *cron.Service,
		daily *cron.DailySummary,
		hb *heartbeat.Service,
		memSvc schema.MemoryService,
	) {
		result = &Container{
			provider: provider,
			msgBus:   msgBus,
			sessions: sessions,
			loop:     loop,
			cronSvc:  cronSvc,
			daily:    daily,
			hb:       hb,
			memSvc:   memSvc,
		}
	})
	if err != nil {
		return nil, err
	}

	// Scheduled jobs run through the agent loop. Delivery of the response,
	// when requested, is handled by the cron service itself.
	result.cronSvc.SetOnJob(func(ctx context.Context, job cron.Job) (string, error) {
		channel := string(bus.ChannelCLI)
		if job.Payload.Channel != nil && *job.Payload.Channel != "" {
			channel = *job.Payload.Channel
		}
		chatID := bus.ChatIdDirect
		if job.Payload.To != nil && *job.Payload.To != "" {
			chatID = *job.Payload.To
		}
		sessionKey := "cron:" + job.ID
		resp := result.loop.ProcessDirect(ctx, job.Payload.Message, sessionKey, channel, chatID)
		return resp, nil
	})

	return result, nil
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	model := cfg.Agents.Defaults.Model
	result := cfg.MatchProvider(model)

	if result.Provider == nil && !isOAuthProvider(result.Name) {
		return nil, fmt.Errorf("no API key configured for model %q, edit %s", model, config.ConfigPath())
	}

	apiKey := ""
	apiBase := ""
	var extraHeaders map[string]string
	if result.Provider != nil {
		apiKey = result.Provider.APIKey
		apiBase = result.Provider.APIBase
		extraHeaders = result.Provider.ExtraHeaders
	}
	if apiBase == "" {
		apiBase = cfg.GetAPIBase(model)
	}
	return providers.New(providers.Params{
		APIKey:       apiKey,
		APIBase:      apiBase,
		ExtraHeaders: extraHeaders,
		DefaultModel: model,
		ProviderName: result.Name,
	}), nil
}

func isOAuthProvider(name string) bool {
	spec := providers.FindByName(name)
	return spec != nil && spec.IsOAuth
}

func resolveLLMModel(cfg *config.Config, p schema.LLMProvider) LLMModel {
	m := cfg.Agents.Defaults.Model
	if m == "" {
		m = p.DefaultModel()
	}
	return LLMModel(m)
}

func newMessageBus() *bus.MessageBus {
	return bus.NewMessageBus(100)
}

func newSessionManager(cfg *config.Config) (*session.Manager, error) {
	return session.NewManager(cfg.WorkspacePath())
}

func newCronService(b *bus.MessageBus) *cron.Service {
	cronPath := filepath.Join(config.DataDir(), "cron", "jobs.json")
	return cron.NewService(cronPath, b)
}

// newMemoryService opens the sqlite-backed semantic memory. A nil service
// is valid: memory tools and fact consolidation are then skipped.
func newMemoryService(cfg *config.Config) (schema.MemoryService, error) {
	if !cfg.Memory.Enabled {
		return nil, nil
	}
	store, err := memory.OpenStore(filepath.Join(cfg.WorkspacePath(), "memory", "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	var embedder memory.Embedder
	emb := cfg.Memory.Embeddings
	if e := memory.NewOpenAIEmbedder(emb.APIKey, emb.APIBase, emb.Model); e != nil {
		embedder = e
	}
	return memory.New(store, embedder), nil
}

func newMCPManager(cfg *config.Config) *mcp.Manager {
	return mcp.NewManager(cfg.Tools.MCPServerConfigs())
}

func newSubAgentToolRegistry(cfg *config.Config, mem schema.MemoryService) SubagentRegistry {
	return SubagentRegistry{tools.BuildRestrictedRegistry(cfg, tools.BuilderDeps{Memory: mem})}
}

// newAgentCore builds the factory, the subagent manager and the full tool
// registry together: the spawn tool needs the manager, the manager needs
// the factory, and the factory holds the live registry MCP tools extend.
func newAgentCore(
	p schema.LLMProvider,
	cfg *config.Config,
	m LLMModel,
	b *bus.MessageBus,
	cronSvc *cron.Service,
	mem schema.MemoryService,
	subReg SubagentRegistry,
	mcpMgr *mcp.Manager,
) (*agent.AgentFactory, *agent.SubagentManager, AgentRegistry) {
	coreReg := tools.BuildRegistry(cfg, tools.BuilderDeps{
		Bus:    b,
		Cron:   cronSvc,
		Memory: mem,
	})

	subSettings := schema.NewAgentSettings(
		string(m),
		10,
		cfg.Agents.Defaults.Temperature,
		cfg.Agents.Defaults.MaxTokens,
		0,
		llmTimeout(cfg),
	)

	factory := agent.NewFactory(p, coreSettings(cfg, m), subSettings, coreReg, subReg.Registry, mcpMgr, cfg.WorkspacePath())
	subMgr := agent.NewSubagentManager(factory, b)
	coreReg.Register(tools.NewSpawnTool(subMgr))

	return factory, subMgr, AgentRegistry{coreReg}
}

func newContextManager(cfg *config.Config) *agent.ContextManager {
	return agent.NewContextManager(cfg.WorkspacePath())
}

func newSummarizer(p schema.LLMProvider, cfg *config.Config) *agent.Summarizer {
	return agent.NewSummarizer(p, cfg.Agents.Defaults.SummarizerModel)
}

func newAgentLoop(
	b *bus.MessageBus,
	factory *agent.AgentFactory,
	cfg *config.Config,
	m LLMModel,
	sessions *session.Manager,
	contextMgr *agent.ContextManager,
	summarizer *agent.Summarizer,
) *agent.AgentLoop {
	return agent.NewAgentLoop(b, factory, coreSettings(cfg, m), sessions, contextMgr, summarizer)
}

func newDailySummary(
	cfg *config.Config,
	sessions *session.Manager,
	summarizer *agent.Summarizer,
	mem schema.MemoryService,
) *cron.DailySummary {
	return cron.NewDailySummary(cfg.WorkspacePath(), sessions, summarizer, mem, cfg.Agents.Defaults.DailySummaryHour)
}

func newHeartbeat(cfg *config.Config, loop *agent.AgentLoop) *heartbeat.Service {
	onHeartbeat := func(ctx context.Context, prompt string) (string, error) {
		resp := loop.ProcessDirect(ctx, prompt, "heartbeat:direct", string(bus.ChannelHeartbeat), bus.ChatIdDirect)
		return resp, nil
	}
	interval := time.Duration(cfg.Agents.Defaults.HeartbeatMinutes) * time.Minute
	return heartbeat.NewService(cfg.WorkspacePath(), onHeartbeat, interval)
}

func coreSettings(cfg *config.Config, m LLMModel) schema.AgentSettings {
	return schema.NewAgentSettings(
		string(m),
		cfg.Agents.Defaults.MaxToolIter,
		cfg.Agents.Defaults.Temperature,
		cfg.Agents.Defaults.MaxTokens,
		cfg.Agents.Defaults.MemoryWindow,
		llmTimeout(cfg),
	)
}

func llmTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Agents.Defaults.LLMTimeout) * time.Second
}
