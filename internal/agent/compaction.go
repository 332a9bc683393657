package agent

import (
	"context"
	"log/slog"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// summaryPrefix marks compaction records in the archive; GetHistory keys
// its projection off the system role, not this text.
const summaryPrefix = "[Summary of earlier conversation]\n"

const defaultTokenThreshold = 0.75

// NeedsCompaction reports whether messages should be compacted: either the
// user+assistant count exceeds windowSize, or the total token estimate
// exceeds threshold·maxTokens.
func (cm *ContextManager) NeedsCompaction(messages schema.Messages, windowSize, maxTokens int, model string) bool {
	conversational := 0
	for _, m := range messages.Messages {
		if m.Role == "user" || m.Role == "assistant" {
			conversational++
		}
	}
	if windowSize > 0 && conversational > windowSize {
		return true
	}
	if maxTokens > 0 {
		total := cm.counter.CountMessages(messages, model)
		if float64(total) > defaultTokenThreshold*float64(maxTokens) {
			return true
		}
	}
	return false
}

// PrepareForCompaction splits messages into the old prefix to summarize and
// the recent tail to keep verbatim. A leading system message is split off
// first and returned separately.
func (cm *ContextManager) PrepareForCompaction(messages schema.Messages, keepRecent int) (old, recent []schema.Message, system *schema.Message) {
	msgs := messages.Messages
	if len(msgs) > 0 && msgs[0].Role == "system" {
		s := msgs[0]
		system = &s
		msgs = msgs[1:]
	}

	if keepRecent < 0 {
		keepRecent = 0
	}
	cut := len(msgs) - keepRecent
	if cut < 0 {
		cut = 0
	}
	return msgs[:cut], msgs[cut:], system
}

// CompactIfNeeded compacts messages when the window or token budget is
// exceeded. The second result reports whether compaction happened; on any
// summarizer failure the original messages come back untouched.
func (cm *ContextManager) CompactIfNeeded(
	ctx context.Context,
	messages schema.Messages,
	windowSize, keepRecent, maxTokens int,
	model string,
	summarizer *Summarizer,
) (schema.Messages, bool) {
	if summarizer == nil || !cm.NeedsCompaction(messages, windowSize, maxTokens, model) {
		return messages, false
	}

	old, recent, system := cm.PrepareForCompaction(messages, keepRecent)
	if len(old) == 0 {
		return messages, false
	}

	oldMsgs := schema.NewMessages(old...)
	summary, err := summarizer.SummarizeMessages(ctx, oldMsgs, "")
	if err != nil {
		slog.Warn("compaction summarizer failed, keeping full history", "err", err)
		return messages, false
	}

	rebuilt := schema.NewMessages()
	if system != nil {
		rebuilt.Add(*system)
	}
	rebuilt.AddSystem(summaryPrefix + summary)
	for _, m := range recent {
		rebuilt.Add(m)
	}

	slog.Info("compacted conversation", "summarized", len(old), "kept", len(recent))
	return rebuilt, true
}
