package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/shared/llmutils"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// LoopRunner executes the LLM ↔ tool iteration cycle.
// It is embedded by CoreAgent and SubAgent to share the loop body.
type LoopRunner struct {
	provider schema.LLMProvider
	settings schema.AgentSettings
}

func newLoopRunner(provider schema.LLMProvider, settings schema.AgentSettings) LoopRunner {
	return LoopRunner{provider: provider, settings: settings}
}

// run drives the reason-act cycle up to MaxIter times. An empty final
// content means the loop exhausted its iterations; callers substitute a
// filler. Tool calls within a turn execute serially in provider order.
func (r *LoopRunner) run(ctx context.Context, conversation schema.Messages, reg *tools.Registry, onProgress func(string)) (finalContent string, toolsUsed []string) {
	for i := 0; i < r.settings.MaxIter; i++ {
		resp, err := r.chat(ctx, conversation, reg.Definitions())
		if err != nil {
			slog.Error("LLM call failed", "err", err)
			return "Sorry, I encountered an error calling the LLM: " + err.Error(), toolsUsed
		}

		if !resp.HasToolCalls() {
			content := ""
			if resp.Content != nil {
				content = *resp.Content
			}
			return llmutils.StripThink(content), toolsUsed
		}

		if onProgress != nil {
			if resp.Content != nil {
				if clean := llmutils.StripThink(*resp.Content); clean != "" {
					onProgress(clean)
				}
			}
			onProgress(llmutils.ToolHint(resp.ToolCalls))
		}

		conversation.AddAssistant(resp.Content, resp.ToolCalls, resp.ReasoningContent)

		for _, tc := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, tc.Name)
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("Tool call", "name", tc.Name, "args", llmutils.Truncate(string(argsJSON), 200))

			result, err := reg.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				result = "Error: " + err.Error()
			}
			conversation.AddToolResult(tc.ID, tc.Name, result)
		}
	}

	slog.Warn("max tool iterations reached without a final answer", "max", r.settings.MaxIter)
	return "", toolsUsed
}

// chat wraps one provider call with the configured per-call timeout.
func (r *LoopRunner) chat(ctx context.Context, conversation schema.Messages, defs []map[string]any) (schema.LLMResponse, error) {
	if r.settings.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.LLMTimeout)
		defer cancel()
	}
	return r.provider.Chat(ctx, conversation, defs,
		schema.NewChatOptions(r.settings.Model, r.settings.MaxTokens, r.settings.Temperature))
}
