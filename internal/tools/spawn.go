package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
)

// SpawnTool launches a background subagent for an isolated task. The result
// is announced on the originating conversation when the subagent finishes.
type SpawnTool struct {
	spawner schema.Spawner
}

func NewSpawnTool(s schema.Spawner) *SpawnTool {
	return &SpawnTool{spawner: s}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task independently. Returns immediately with the subagent's id; the result is delivered when it finishes."
}

func (t *SpawnTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "Complete, self-contained task description"},
			"label": {"type": "string", "description": "Optional short label for the task"}
		},
		"required": ["task"]
	}`)
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return "Error: task must not be empty", nil
	}
	label, _ := args["label"].(string)

	originChannel := bus.ChannelCLI
	originChatID := bus.ChatIdDirect
	if tc := TurnCtx(ctx); tc != nil {
		originChannel = tc.Channel
		originChatID = tc.ChatID
	}

	id, err := t.spawner.Spawn(ctx, task, label, originChannel, originChatID)
	if err != nil {
		return fmt.Sprintf("Error: spawn failed: %v", err), nil
	}
	return fmt.Sprintf("Spawned subagent %s. The result will be announced here when it completes.", id), nil
}
