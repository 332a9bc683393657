package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/bus"
)

// MessageTool sends a message to a chat channel mid-turn. After a successful
// send the turn is marked so the agent loop skips its own final reply.
type MessageTool struct {
	bus bus.Bus
}

func NewMessageTool(b bus.Bus) *MessageTool {
	return &MessageTool{bus: b}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user immediately. Use for progress updates during long tasks or to deliver the final answer directly."
}

func (t *MessageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Message text to send"},
			"channel": {"type": "string", "description": "Target channel (defaults to the current conversation's channel)"},
			"chat_id": {"type": "string", "description": "Target chat id (defaults to the current conversation)"}
		},
		"required": ["content"]
	}`)
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "Error: content must not be empty", nil
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)

	tc := TurnCtx(ctx)
	if channel == "" && tc != nil {
		channel = string(tc.Channel)
	}
	if chatID == "" && tc != nil {
		chatID = tc.ChatID
	}
	if channel == "" || chatID == "" {
		return "Error: no target conversation; specify channel and chat_id", nil
	}

	t.bus.PublishOutbound(bus.NewOutboundMessage(bus.Channel(channel), chatID, content))

	// Only a send to the originating conversation counts as the reply.
	if tc != nil && channel == string(tc.Channel) && chatID == tc.ChatID {
		tc.MarkMessageSent()
	}
	return "Message sent.", nil
}
