package schema

import (
	"context"

	"github.com/blackcat-ai/blackcat/internal/bus"
)

// Spawner is the interface the spawn tool uses to create background subagents.
// Implemented by agent.SubagentManager. Defined here to avoid an import cycle.
type Spawner interface {
	Spawn(ctx context.Context, task, label string, originChannel bus.Channel, originChatID string) (string, error)
}
