// Package providers implements LLM backends and the provider registry.
package providers

import "strings"

// ProviderSpec is the metadata record for one LLM provider.
type ProviderSpec struct {
	Name        string   // config field name, e.g. "deepseek"
	Keywords    []string // model-name keywords for matching (lowercase)
	DisplayName string   // shown in `blackcat status`

	// RoutePrefix is the "provider/" prefix stripped from model names
	// before the API call.
	RoutePrefix string

	// Gateway / local detection.
	IsGateway           bool   // routes any model (OpenRouter)
	IsLocal             bool   // local deployment (vLLM)
	DetectByKeyPrefix   string // api_key prefix identifying the gateway
	DetectByBaseKeyword string // substring in api_base identifying the gateway
	DefaultAPIBase      string // fallback base URL when none is configured

	// StripModelPrefix strips everything before the last "/" in the model
	// name before sending (gateways that want bare model names).
	StripModelPrefix bool

	// OAuth-based (no API key; use device flow instead).
	IsOAuth bool

	// Direct provider: any model name is accepted as-is.
	IsDirect bool

	// Provider supports cache_control on content blocks.
	SupportsPromptCaching bool
}

// Label returns the display name, defaulting to Title-cased Name.
func (s ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToTitle(s.Name[:1]) + s.Name[1:]
}

// PROVIDERS is the registry. Order = match priority.
var PROVIDERS = []ProviderSpec{
	{
		Name:        "custom",
		DisplayName: "Custom",
		IsDirect:    true,
	},
	{
		Name:                  "openrouter",
		Keywords:              []string{"openrouter"},
		DisplayName:           "OpenRouter",
		RoutePrefix:           "openrouter",
		IsGateway:             true,
		DetectByKeyPrefix:     "sk-or-",
		DetectByBaseKeyword:   "openrouter",
		DefaultAPIBase:        "https://openrouter.ai/api/v1",
		SupportsPromptCaching: true,
	},
	{
		Name:                  "anthropic",
		Keywords:              []string{"anthropic", "claude"},
		DisplayName:           "Anthropic",
		DefaultAPIBase:        "https://api.anthropic.com/v1",
		SupportsPromptCaching: true,
	},
	{
		Name:        "openai",
		Keywords:    []string{"openai", "gpt"},
		DisplayName: "OpenAI",
	},
	{
		Name:        "deepseek",
		Keywords:    []string{"deepseek"},
		DisplayName: "DeepSeek",
		RoutePrefix: "deepseek",
	},
	{
		Name:        "gemini",
		Keywords:    []string{"gemini"},
		DisplayName: "Gemini",
		RoutePrefix: "gemini",
	},
	{
		Name:        "zhipu",
		Keywords:    []string{"zhipu", "glm", "zai"},
		DisplayName: "Zhipu AI",
		RoutePrefix: "zai",
	},
	{
		Name:           "moonshot",
		Keywords:       []string{"moonshot", "kimi"},
		DisplayName:    "Moonshot",
		RoutePrefix:    "moonshot",
		DefaultAPIBase: "https://api.moonshot.ai/v1",
	},
	{
		Name:        "vllm",
		Keywords:    []string{"vllm"},
		DisplayName: "vLLM/Local",
		RoutePrefix: "hosted_vllm",
		IsLocal:     true,
	},
	{
		Name:        "groq",
		Keywords:    []string{"groq"},
		DisplayName: "Groq",
		RoutePrefix: "groq",
	},
}

// FindByModel matches a standard provider by model-name keyword
// (case-insensitive). Skips gateways and local providers; those are
// matched by api_key/api_base.
func FindByModel(model string) *ProviderSpec {
	modelLower := strings.ToLower(model)
	modelNorm := strings.ReplaceAll(modelLower, "-", "_")
	modelPrefix, _, _ := strings.Cut(modelLower, "/")
	normalizedPrefix := strings.ReplaceAll(modelPrefix, "-", "_")

	var std []int
	for i := range PROVIDERS {
		if !PROVIDERS[i].IsGateway && !PROVIDERS[i].IsLocal {
			std = append(std, i)
		}
	}

	// Prefer explicit provider prefix.
	for _, i := range std {
		spec := &PROVIDERS[i]
		if modelPrefix != "" && normalizedPrefix == spec.Name {
			return spec
		}
	}

	// Keyword match.
	for _, i := range std {
		spec := &PROVIDERS[i]
		for _, kw := range spec.Keywords {
			kw = strings.ToLower(kw)
			kwNorm := strings.ReplaceAll(kw, "-", "_")
			if strings.Contains(modelLower, kw) || strings.Contains(modelNorm, kwNorm) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects the gateway or local provider.
// Priority: (1) explicit provider_name, (2) api_key prefix, (3) api_base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil && (s.IsGateway || s.IsLocal) {
			return s
		}
	}
	for i := range PROVIDERS {
		spec := &PROVIDERS[i]
		if spec.DetectByKeyPrefix != "" && strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKeyword != "" && apiBase != "" && strings.Contains(apiBase, spec.DetectByBaseKeyword) {
			return spec
		}
	}
	return nil
}

// FindByName returns the ProviderSpec whose Name equals name.
func FindByName(name string) *ProviderSpec {
	for i := range PROVIDERS {
		if PROVIDERS[i].Name == name {
			return &PROVIDERS[i]
		}
	}
	return nil
}
