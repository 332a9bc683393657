package schema

import "context"

// ChatOptions configures a single LLM chat request.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func NewChatOptions(model string, maxTokens int, temperature float64) ChatOptions {
	return ChatOptions{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// LLMResponse is the normalised response from any LLM provider.
//
// Provider errors never escape as Go errors past the provider boundary:
// they surface as a response with FinishReason "error" and diagnostic
// content, so the agent loop can keep the turn alive.
type LLMResponse struct {
	Content          *string // nil when the response contains only tool calls
	ToolCalls        []ToolCall
	FinishReason     string
	Usage            map[string]int // "input_tokens", "output_tokens"
	ReasoningContent *string        // thinking block from reasoning models
}

// HasToolCalls reports whether the response contains at least one tool call.
func (r LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LLMProvider is the interface every LLM backend must satisfy.
type LLMProvider interface {
	Chat(ctx context.Context, messages Messages, tools []map[string]any, opts ChatOptions) (LLMResponse, error)
	DefaultModel() string
}
