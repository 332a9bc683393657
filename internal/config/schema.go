// Package config defines the blackcat configuration schema.
//
// The config lives at ~/.blackcat/config.json. JSON keys use camelCase;
// unknown keys inside mcpServers are preserved verbatim so server-specific
// env vars and headers survive load/save round-trips.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey       string            `json:"apiKey"`
	APIBase      string            `json:"apiBase,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty"`
}

// ProvidersConfig holds credentials for all supported LLM providers.
type ProvidersConfig struct {
	Custom     ProviderConfig `json:"custom"`
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	Moonshot   ProviderConfig `json:"moonshot"`
	Zhipu      ProviderConfig `json:"zhipu"`
	VLLM       ProviderConfig `json:"vllm"`
}

// AgentDefaults holds default values for agent behaviour.
type AgentDefaults struct {
	Workspace        string  `json:"workspace"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"maxTokens"`
	Temperature      float64 `json:"temperature"`
	MaxToolIter      int     `json:"maxToolIterations"`
	MemoryWindow     int     `json:"memoryWindow"`
	LLMTimeout       int     `json:"llmTimeout"` // seconds per provider call
	SummarizerModel  string  `json:"summarizerModel,omitempty"`
	DailySummaryHour int     `json:"dailySummaryHour"`
	HeartbeatMinutes int     `json:"heartbeatMinutes"`
}

func defaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Workspace:        "~/.blackcat/workspace",
		Model:            "anthropic/claude-opus-4-5",
		MaxTokens:        8192,
		Temperature:      0.7,
		MaxToolIter:      20,
		MemoryWindow:     50,
		LLMTimeout:       180,
		DailySummaryHour: 3,
		HeartbeatMinutes: 30,
	}
}

// AgentsConfig wraps agent defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

func defaultAgentsConfig() AgentsConfig {
	return AgentsConfig{Defaults: defaultAgentDefaults()}
}

// ---- Channel configs -------------------------------------------------------

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allowFrom"`
	ReplyToMessage bool     `json:"replyToMessage"`
}

func defaultTelegramConfig() TelegramConfig {
	return TelegramConfig{AllowFrom: []string{}}
}

// SlackConfig configures the Slack channel (Socket Mode).
type SlackConfig struct {
	Enabled       bool     `json:"enabled"`
	BotToken      string   `json:"botToken"`
	AppToken      string   `json:"appToken"`
	ReplyInThread bool     `json:"replyInThread"`
	AllowFrom     []string `json:"allowFrom"`
}

func defaultSlackConfig() SlackConfig {
	return SlackConfig{ReplyInThread: true, AllowFrom: []string{}}
}

// WhatsAppConfig configures the WhatsApp channel (local bridge process).
type WhatsAppConfig struct {
	Enabled     bool     `json:"enabled"`
	BridgeURL   string   `json:"bridgeUrl"`
	BridgeToken string   `json:"bridgeToken"`
	AllowFrom   []string `json:"allowFrom"`
}

func defaultWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{BridgeURL: "ws://localhost:3001", AllowFrom: []string{}}
}

// ChannelsConfig groups all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

func defaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		Telegram: defaultTelegramConfig(),
		Slack:    defaultSlackConfig(),
		WhatsApp: defaultWhatsAppConfig(),
	}
}

// ---- Tool configs ----------------------------------------------------------

// WebSearchConfig configures the Brave web-search tool.
type WebSearchConfig struct {
	APIKey     string `json:"apiKey"`
	MaxResults int    `json:"maxResults"`
}

func defaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{MaxResults: 5}
}

// WebToolsConfig groups web-related tool settings.
type WebToolsConfig struct {
	Search WebSearchConfig `json:"search"`
}

// ExecToolConfig configures the shell-exec tool.
type ExecToolConfig struct {
	Timeout int `json:"timeout"` // seconds
}

// MCPServerConfig describes one MCP server connection (stdio or HTTP).
// Parsed lazily from the raw mcpServers subtree.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ToolsConfig groups all tool-level settings.
//
// MCPServers is kept as raw JSON: server entries carry arbitrary env and
// header keys that must round-trip byte-for-byte through load/save.
type ToolsConfig struct {
	Web                 WebToolsConfig             `json:"web"`
	Exec                ExecToolConfig             `json:"exec"`
	RestrictToWorkspace bool                       `json:"restrictToWorkspace"`
	MCPServers          map[string]json.RawMessage `json:"mcpServers"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		Web:        WebToolsConfig{Search: defaultWebSearchConfig()},
		Exec:       ExecToolConfig{Timeout: 60},
		MCPServers: map[string]json.RawMessage{},
	}
}

// MCPServerConfigs parses every mcpServers entry. Entries that fail to
// parse are skipped; their raw bytes remain untouched in the config.
func (t ToolsConfig) MCPServerConfigs() map[string]MCPServerConfig {
	out := make(map[string]MCPServerConfig, len(t.MCPServers))
	for name, raw := range t.MCPServers {
		var sc MCPServerConfig
		if err := json.Unmarshal(raw, &sc); err != nil {
			continue
		}
		out[name] = sc
	}
	return out
}

// ---- Memory config ---------------------------------------------------------

// EmbeddingsConfig configures the OpenAI-compatible embeddings endpoint
// behind semantic memory. When APIKey is empty the vector store degrades
// to keyword recall.
type EmbeddingsConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

// MemoryConfig groups semantic-memory settings.
type MemoryConfig struct {
	Enabled    bool             `json:"enabled"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
}

func defaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Enabled:    true,
		Embeddings: EmbeddingsConfig{Model: "text-embedding-3-small"},
	}
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object, loaded from ~/.blackcat/config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agents:    defaultAgentsConfig(),
		Channels:  defaultChannelsConfig(),
		Providers: ProvidersConfig{},
		Tools:     defaultToolsConfig(),
		Memory:    defaultMemoryConfig(),
	}
}

// WorkspacePath returns the expanded absolute path to the agent workspace.
func (c *Config) WorkspacePath() string {
	ws := c.Agents.Defaults.Workspace
	if ws == "" {
		ws = "~/.blackcat/workspace"
	}
	if len(ws) >= 2 && ws[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			ws = filepath.Join(home, ws[2:])
		}
	}
	return ws
}

// MediaPath returns the directory channel adapters download attachments into.
func (c *Config) MediaPath() string {
	return filepath.Join(c.WorkspacePath(), "media")
}

// ProviderByName returns a pointer to the ProviderConfig field matching the
// given registry name (e.g. "openrouter", "anthropic"). Returns nil if unknown.
func (c *Config) ProviderByName(name string) *ProviderConfig {
	switch name {
	case "custom":
		return &c.Providers.Custom
	case "anthropic":
		return &c.Providers.Anthropic
	case "openai":
		return &c.Providers.OpenAI
	case "openrouter":
		return &c.Providers.OpenRouter
	case "deepseek":
		return &c.Providers.DeepSeek
	case "groq":
		return &c.Providers.Groq
	case "gemini":
		return &c.Providers.Gemini
	case "moonshot":
		return &c.Providers.Moonshot
	case "zhipu":
		return &c.Providers.Zhipu
	case "vllm":
		return &c.Providers.VLLM
	}
	return nil
}
