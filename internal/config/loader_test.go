package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ─── Load ──────────────────────────────────────────────────────────

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != def.Agents.Defaults.Model {
		t.Errorf("expected default model %q, got %q", def.Agents.Defaults.Model, cfg.Agents.Defaults.Model)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"agents": map[string]any{
			"defaults": map[string]any{
				"model":     "openai/gpt-4o",
				"maxTokens": 4096,
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents.Defaults.Model != "openai/gpt-4o" {
		t.Errorf("expected model %q, got %q", "openai/gpt-4o", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxTokens != 4096 {
		t.Errorf("expected maxTokens 4096, got %d", cfg.Agents.Defaults.MaxTokens)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error for invalid JSON (falls back to default), got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != def.Agents.Defaults.Model {
		t.Errorf("expected default model %q, got %q", def.Agents.Defaults.Model, cfg.Agents.Defaults.Model)
	}
}

func TestLoad_PartialConfig_UsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"agents": map[string]any{
			"defaults": map[string]any{
				"model": "custom/model",
			},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Agents.Defaults.Model != "custom/model" {
		t.Errorf("expected model %q, got %q", "custom/model", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.Temperature != def.Agents.Defaults.Temperature {
		t.Errorf("expected default temperature %v, got %v", def.Agents.Defaults.Temperature, cfg.Agents.Defaults.Temperature)
	}
	if cfg.Agents.Defaults.DailySummaryHour != def.Agents.Defaults.DailySummaryHour {
		t.Errorf("expected default dailySummaryHour %d, got %d", def.Agents.Defaults.DailySummaryHour, cfg.Agents.Defaults.DailySummaryHour)
	}
}

// ─── Save ──────────────────────────────────────────────────────────

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := DefaultConfig()
	original.Agents.Defaults.Model = "anthropic/claude-opus-4-5"
	original.Agents.Defaults.MaxTokens = 1234

	if err := Save(&original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Agents.Defaults.Model != original.Agents.Defaults.Model {
		t.Errorf("model mismatch: got %q, want %q", loaded.Agents.Defaults.Model, original.Agents.Defaults.Model)
	}
	if loaded.Agents.Defaults.MaxTokens != original.Agents.Defaults.MaxTokens {
		t.Errorf("maxTokens mismatch: got %d, want %d", loaded.Agents.Defaults.MaxTokens, original.Agents.Defaults.MaxTokens)
	}
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

// ─── mcpServers verbatim round-trip ────────────────────────────────

func TestMCPServers_PreservedVerbatim(t *testing.T) {
	dir := t.TempDir()
	serverBlob := map[string]any{
		"command": "npx",
		"args":    []string{"-y", "@some/mcp-server"},
		"env": map[string]string{
			"WEIRD_Env_Key":   "value",
			"ANOTHER_API_KEY": "secret",
		},
		"headers": map[string]string{"X-Custom-Header": "v"},
	}
	path := writeConfig(t, dir, map[string]any{
		"tools": map[string]any{
			"mcpServers": map[string]any{"files": serverBlob},
		},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	raw, ok := cfg.Tools.MCPServers["files"]
	if !ok {
		t.Fatal("mcpServers entry lost on load")
	}

	want, _ := json.Marshal(serverBlob)
	var a, b any
	if err := json.Unmarshal(raw, &a); err != nil {
		t.Fatalf("raw entry not valid JSON: %v", err)
	}
	if err := json.Unmarshal(want, &b); err != nil {
		t.Fatal(err)
	}
	ra, _ := json.Marshal(a)
	rb, _ := json.Marshal(b)
	if !bytes.Equal(ra, rb) {
		t.Errorf("mcpServers entry changed through load:\n got %s\nwant %s", ra, rb)
	}

	parsed := cfg.Tools.MCPServerConfigs()
	sc, ok := parsed["files"]
	if !ok {
		t.Fatal("MCPServerConfigs dropped entry")
	}
	if sc.Command != "npx" {
		t.Errorf("Command = %q", sc.Command)
	}
	if sc.Env["WEIRD_Env_Key"] != "value" {
		t.Errorf("env key case not preserved: %v", sc.Env)
	}
}

// ─── Provider matching ─────────────────────────────────────────────

func TestMatchProvider_ExplicitPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.DeepSeek.APIKey = "sk-ds"
	cfg.Providers.OpenAI.APIKey = "sk-oa"

	res := cfg.MatchProvider("deepseek/deepseek-chat")
	if res.Name != "deepseek" {
		t.Errorf("matched %q, want deepseek", res.Name)
	}
}

func TestMatchProvider_Keyword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "sk-ant"

	res := cfg.MatchProvider("claude-opus-4-5")
	if res.Name != "anthropic" {
		t.Errorf("matched %q, want anthropic", res.Name)
	}
}

func TestMatchProvider_FallbackFirstConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.Groq.APIKey = "gsk-x"

	res := cfg.MatchProvider("some-unknown-model")
	if res.Name != "groq" {
		t.Errorf("matched %q, want groq", res.Name)
	}
}

func TestGetAPIBase_GatewayDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "sk-or-abc"

	base := cfg.GetAPIBase("openrouter/anthropic/claude-opus-4-5")
	if base != "https://openrouter.ai/api/v1" {
		t.Errorf("GetAPIBase = %q", base)
	}
}
