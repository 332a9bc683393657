package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

const summarizePrompt = `Summarize the following conversation concisely.
Preserve decisions, facts, names, open tasks and anything the assistant
promised to do. Write in third person, past tense.`

const extractFactsPrompt = `From the following conversation, extract durable
facts worth remembering long term: preferences, biographical details,
decisions, ongoing projects. One fact per line, plain prose, no numbering.
If there is nothing worth keeping, reply exactly: nothing to extract`

// Summarizer turns conversation history into summaries and durable facts.
type Summarizer struct {
	provider schema.LLMProvider
	model    string // empty means the provider default
}

func NewSummarizer(provider schema.LLMProvider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

// SummarizeMessages summarizes the conversational messages (system and tool
// records are skipped). prompt overrides the default instruction.
func (s *Summarizer) SummarizeMessages(ctx context.Context, messages schema.Messages, prompt string) (string, error) {
	rendered := renderConversation(messages)
	if rendered == "" {
		return "", fmt.Errorf("nothing to summarize")
	}
	if prompt == "" {
		prompt = summarizePrompt
	}

	return s.complete(ctx, prompt, rendered, 0.3, 1024)
}

// ExtractFacts pulls durable facts out of a conversation. An empty result
// or a "nothing to extract" reply yields the empty string.
func (s *Summarizer) ExtractFacts(ctx context.Context, messages schema.Messages) (string, error) {
	rendered := renderConversation(messages)
	if rendered == "" {
		return "", nil
	}

	out, err := s.complete(ctx, extractFactsPrompt, rendered, 0.2, 512)
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(out), "nothing to extract") {
		return "", nil
	}
	return out, nil
}

// SummarizeSession produces both a summary and extracted facts for one
// session. Failures degrade to a marker string so callers always have a
// non-empty record of what happened.
func (s *Summarizer) SummarizeSession(ctx context.Context, messages schema.Messages, sessionKey string) (summary, facts string) {
	summary, err := s.SummarizeMessages(ctx, messages, "")
	if err != nil {
		slog.Warn("session summary failed", "session", sessionKey, "err", err)
		summary = fmt.Sprintf("[Summary unavailable: %d messages]", messages.Len())
	}
	facts, err = s.ExtractFacts(ctx, messages)
	if err != nil {
		slog.Warn("fact extraction failed", "session", sessionKey, "err", err)
		facts = ""
	}
	return summary, facts
}

func (s *Summarizer) complete(ctx context.Context, instruction, conversation string, temperature float64, maxTokens int) (string, error) {
	model := s.model
	if model == "" {
		model = s.provider.DefaultModel()
	}

	msgs := schema.NewMessages(
		schema.NewSystemMessage(instruction),
		schema.NewUserMessage(conversation),
	)

	resp, err := s.provider.Chat(ctx, msgs, nil, schema.NewChatOptions(model, maxTokens, temperature))
	if err != nil {
		return "", fmt.Errorf("summarizer chat: %w", err)
	}
	if resp.FinishReason == "error" || resp.Content == nil {
		return "", fmt.Errorf("summarizer returned no content")
	}
	return strings.TrimSpace(*resp.Content), nil
}

// renderConversation flattens user/assistant messages to "Role: content"
// lines for the summarizer prompt.
func renderConversation(messages schema.Messages) string {
	var lines []string
	for _, m := range messages.Messages {
		if m.Role == "system" || m.Role == "tool" {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		role := strings.ToUpper(m.Role[:1]) + m.Role[1:]
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}
