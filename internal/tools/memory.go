package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// MemoryTool gives the agent explicit control over long-term memory.
type MemoryTool struct {
	memory schema.MemoryService
}

func NewMemoryTool(m schema.MemoryService) *MemoryTool {
	return &MemoryTool{memory: m}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Long-term memory: remember a fact, recall relevant memories, or forget one by id. " +
		"Tags: 'core' for identity-level facts, 'crucial' for important ones, 'default' otherwise."
}

func (t *MemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["remember", "recall", "forget"], "description": "Operation to perform"},
			"content": {"type": "string", "description": "Fact to remember (for remember)"},
			"tag": {"type": "string", "enum": ["core", "crucial", "default"], "description": "Importance tag (default: default)"},
			"query": {"type": "string", "description": "Search query (for recall)"},
			"limit": {"type": "integer", "description": "Max memories to return (default 5)"},
			"id": {"type": "string", "description": "Memory id (for forget)"}
		},
		"required": ["action"]
	}`)
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	switch action {
	case "remember":
		content, _ := args["content"].(string)
		if strings.TrimSpace(content) == "" {
			return "Error: content must not be empty", nil
		}
		tag, _ := args["tag"].(string)
		if tag == "" {
			tag = "default"
		}
		id, err := t.memory.Remember(ctx, content, tag, "agent", "memory_tool")
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		return fmt.Sprintf("Remembered (id %s).", id), nil

	case "recall":
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "Error: query must not be empty", nil
		}
		limit := 5
		if l, ok := args["limit"].(float64); ok && int(l) > 0 {
			limit = int(l)
		}
		records, err := t.memory.Recall(ctx, query, limit)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if len(records) == 0 {
			return "No relevant memories found.", nil
		}
		var b strings.Builder
		for _, r := range records {
			fmt.Fprintf(&b, "[%s] (%s, score %.2f) %s\n", r.ID, r.Tag, r.Score, r.Content)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "forget":
		id, _ := args["id"].(string)
		ok, err := t.memory.Forget(ctx, id)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if !ok {
			return fmt.Sprintf("Error: no memory with id %q", id), nil
		}
		return "Forgotten.", nil

	default:
		return fmt.Sprintf("Error: unknown action %q", action), nil
	}
}
