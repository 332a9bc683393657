package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

func TestSummarizeMessagesSkipsNonConversational(t *testing.T) {
	provider := &scriptedProvider{steps: []schema.LLMResponse{textResponse("a summary")}}
	s := NewSummarizer(provider, "")

	msgs := schema.NewMessages()
	msgs.AddSystem("system prompt")
	msgs.AddUser("what is the capital of France?")
	msgs.AddToolResult("c1", "web_search", "Paris")
	msgs.AddAssistant(strPtr("Paris."), nil, nil)

	out, err := s.SummarizeMessages(context.Background(), msgs, "")
	if err != nil {
		t.Fatalf("SummarizeMessages: %v", err)
	}
	if out != "a summary" {
		t.Errorf("summary = %q", out)
	}

	rendered := provider.calls[0].Messages[1].Text()
	if strings.Contains(rendered, "system prompt") || strings.Contains(rendered, "web_search") {
		t.Errorf("system/tool records leaked into the summarizer input: %q", rendered)
	}
	if !strings.Contains(rendered, "User: what is the capital") {
		t.Errorf("user turn missing from rendered conversation: %q", rendered)
	}
}

func TestSummarizeMessagesEmptyConversation(t *testing.T) {
	s := NewSummarizer(&scriptedProvider{}, "")
	if _, err := s.SummarizeMessages(context.Background(), schema.NewMessages(), ""); err == nil {
		t.Error("expected an error for an empty conversation")
	}
}

func TestExtractFactsNothingToExtract(t *testing.T) {
	provider := &scriptedProvider{steps: []schema.LLMResponse{textResponse("Nothing to extract")}}
	s := NewSummarizer(provider, "")

	msgs := conversation(2)
	facts, err := s.ExtractFacts(context.Background(), msgs)
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if facts != "" {
		t.Errorf("facts = %q, want empty", facts)
	}
}

func TestExtractFactsReturnsLines(t *testing.T) {
	provider := &scriptedProvider{steps: []schema.LLMResponse{textResponse("Likes tea.\nLives in Berlin.")}}
	s := NewSummarizer(provider, "")

	facts, err := s.ExtractFacts(context.Background(), conversation(2))
	if err != nil {
		t.Fatalf("ExtractFacts: %v", err)
	}
	if !strings.Contains(facts, "Likes tea.") || !strings.Contains(facts, "Lives in Berlin.") {
		t.Errorf("facts = %q", facts)
	}
}

func TestSummarizeSessionDegradesOnError(t *testing.T) {
	s := NewSummarizer(&scriptedProvider{err: context.DeadlineExceeded}, "")

	msgs := conversation(3)
	summary, facts := s.SummarizeSession(context.Background(), msgs, "telegram:chat1")
	if !strings.Contains(summary, "[Summary unavailable: 6 messages]") {
		t.Errorf("summary = %q, want the degradation marker", summary)
	}
	if facts != "" {
		t.Errorf("facts = %q, want empty on failure", facts)
	}
}
