package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// TokenCounter estimates token usage for budget checks. It memoizes one
// encoder per model; models without a known tokenizer fall back to the
// chars/4 heuristic.
type TokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text for model.
func (tc *TokenCounter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	enc := tc.encoder(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages sums token counts over a message list, including tool-call
// arguments via their textual rendering.
func (tc *TokenCounter) CountMessages(msgs schema.Messages, model string) int {
	total := 0
	for _, m := range msgs.Messages {
		total += tc.Count(m.Text(), model)
		for _, call := range m.ToolCalls {
			total += tc.Count(call.Name, model)
		}
	}
	return total
}

func (tc *TokenCounter) encoder(model string) *tiktoken.Tiktoken {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if enc, ok := tc.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	tc.encoders[model] = enc
	return enc
}
