package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/session"
	"github.com/blackcat-ai/blackcat/internal/shared/llmutils"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// Neutral fillers for turns that end without terminal content.
const (
	fillerSystem = "Background task completed."
	fillerUser   = "I've completed processing but have no response to give."
)

// AgentLoop is the core processing engine.
//
// It is the single consumer of the inbound queue: messages are processed one
// at a time, which serializes all session mutation. Each turn builds the
// prompt, runs the reason-act cycle, persists the session, and publishes at
// most one outbound reply.
type AgentLoop struct {
	bus      bus.Bus
	settings schema.AgentSettings

	contextMgr *ContextManager
	sessions   *session.Manager
	summarizer *Summarizer
	factory    *AgentFactory
}

func NewAgentLoop(
	b bus.Bus,
	factory *AgentFactory,
	settings schema.AgentSettings,
	sessions *session.Manager,
	contextMgr *ContextManager,
	summarizer *Summarizer,
) *AgentLoop {
	return &AgentLoop{
		bus:        b,
		settings:   settings,
		contextMgr: contextMgr,
		sessions:   sessions,
		summarizer: summarizer,
		factory:    factory,
	}
}

// Run consumes the inbound queue until ctx is cancelled.
func (loop *AgentLoop) Run(ctx context.Context) error {
	slog.Info("Agent loop started")

	for {
		select {
		case msg := <-loop.bus.InboundChan():
			loop.handleMessage(ctx, msg)
		case <-ctx.Done():
			slog.Info("Agent loop stopping")
			loop.factory.Close()
			return ctx.Err()
		}
	}
}

// ProcessDirect handles a message outside the bus (CLI one-shot, cron,
// heartbeat). Returns the final text response.
func (loop *AgentLoop) ProcessDirect(ctx context.Context, content, sessKey, channel, chatID string) string {
	msg := bus.NewInboundMessage(bus.Channel(channel), "user", chatID, content)
	resp := loop.routeMessage(ctx, msg, sessKey)
	if resp == nil {
		return ""
	}
	return resp.Content
}

func (loop *AgentLoop) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	resp := loop.routeMessage(ctx, msg, "")

	if resp != nil {
		loop.publish(*resp)
	} else if msg.Channel == bus.ChannelCLI {
		// Signal the CLI that the turn finished even when the message tool
		// already delivered the reply.
		out := bus.NewOutboundMessage(msg.Channel, msg.ChatId, "")
		out.Metadata = msg.Metadata
		loop.publish(out)
	}
}

// routeMessage dispatches one inbound message to the right handler.
// sessionKeyOverride is non-empty only for ProcessDirect callers.
func (loop *AgentLoop) routeMessage(ctx context.Context, msg bus.InboundMessage, sessionKeyOverride string) *bus.OutboundMessage {
	switch msg.Channel {
	case bus.ChannelSystem:
		return loop.handleSystemChannel(ctx, msg)
	default:
		// Scheduler turns (cron, heartbeat) reach the loop only through
		// ProcessDirect; their response goes back to the scheduler, which
		// decides about delivery.
		return loop.handleChatMessage(ctx, msg, sessionKeyOverride)
	}
}

// handleSystemChannel processes scheduler- and subagent-injected messages.
// Their chat id encodes the origin as "origin_channel:origin_chat_id"; the
// reply is routed back to that chat.
func (loop *AgentLoop) handleSystemChannel(ctx context.Context, msg bus.InboundMessage) *bus.OutboundMessage {
	channel, chatID, _ := strings.Cut(msg.ChatId, ":")
	if chatID == "" {
		channel = string(bus.ChannelCLI)
		chatID = msg.ChatId
	}

	slog.Info("Processing system message", "sender", msg.SenderId)

	key := channel + ":" + chatID
	sess := loop.sessions.GetOrCreate(key)

	ctx = tools.WithTurn(ctx, tools.NewTurnContext(bus.Channel(channel), chatID, ""))

	conversation := loop.contextMgr.BuildMessages(
		sess.GetHistory(0), msg.Content, msg.SenderId, channel, chatID,
		nil, loop.contextMgr.Skills().AlwaysSkills(),
		loop.settings.MaxTokens, loop.settings.Model,
	)

	coreAgent := loop.factory.NewCoreAgent()
	final, _ := coreAgent.Execute(ctx, conversation, nil)
	final = llmutils.StringOrDefault(final, fillerSystem)

	sess.AddUser(fmt.Sprintf("[System: %s] %s", msg.SenderId, msg.Content))
	sess.AddAssistant(final, nil)
	loop.saveSession(sess)

	out := bus.NewOutboundMessage(bus.Channel(channel), chatID, final)
	return &out
}

// handleChatMessage runs the full pipeline for user-facing channels:
// slash commands, compaction, the reason-act cycle, persistence, and the
// single-reply decision. Returns nil when the message tool already replied.
func (loop *AgentLoop) handleChatMessage(ctx context.Context, msg bus.InboundMessage, sessionKeyOverride string) (out *bus.OutboundMessage) {
	slog.Info("Processing message",
		"sender", msg.SenderId,
		"channel", msg.Channel,
		"content", msg.Preview(),
	)

	key := llmutils.StringOrDefault(sessionKeyOverride, msg.SessionKey())
	sess := loop.sessions.GetOrCreate(key)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn panicked", "key", key, "panic", r)
			apology := bus.NewOutboundMessage(msg.Channel, msg.ChatId,
				fmt.Sprintf("Sorry, something went wrong while handling your message: %v", r))
			apology.Metadata = msg.Metadata
			out = &apology
		}
	}()

	if resp := loop.handleSlashCommand(msg, sess, key); resp != nil {
		return resp
	}

	loop.compactSession(ctx, sess)

	tc := tools.NewTurnContext(msg.Channel, msg.ChatId, metadataString(msg.Metadata, "message_id"))
	ctx = tools.WithTurn(ctx, tc)

	conversation := loop.contextMgr.BuildMessages(
		sess.GetHistory(0), msg.Content, msg.SenderId, string(msg.Channel), msg.ChatId,
		msg.Media, loop.contextMgr.Skills().AlwaysSkills(),
		loop.settings.MaxTokens, loop.settings.Model,
	)

	coreAgent := loop.factory.NewCoreAgent()
	final, toolsUsed := coreAgent.Execute(ctx, conversation, loop.makeProgressCallback(msg))
	final = llmutils.StringOrDefault(final, fillerUser)

	slog.Info("Response", "channel", msg.Channel, "sender", msg.SenderId, "length", len(final))

	sess.AddUser(msg.Content)
	sess.AddAssistant(final, toolsUsed)
	loop.saveSession(sess)

	// The message tool already delivered the reply; don't repeat it.
	if tc.Sent() {
		return nil
	}

	reply := bus.NewOutboundMessage(msg.Channel, msg.ChatId, final)
	reply.Metadata = msg.Metadata
	return &reply
}

// compactSession folds the old prefix of an oversized session into a
// summary record. Failures leave the archive untouched.
func (loop *AgentLoop) compactSession(ctx context.Context, sess *session.Session) {
	if loop.summarizer == nil {
		return
	}

	history := sess.GetHistory(0)
	window := loop.settings.MemoryWindow
	if !loop.contextMgr.NeedsCompaction(history, window, loop.settings.MaxTokens, loop.settings.Model) {
		return
	}

	old, recent, _ := loop.contextMgr.PrepareForCompaction(history, window)
	if len(old) == 0 {
		return
	}

	summary, err := loop.summarizer.SummarizeMessages(ctx, schema.NewMessages(old...), "")
	if err != nil {
		slog.Warn("session compaction failed, keeping full history", "key", sess.Key, "err", err)
		return
	}

	sess.Compact(summaryPrefix+summary, recent)
	loop.saveSession(sess)
	slog.Info("session compacted", "key", sess.Key, "summarized", len(old), "kept", len(recent))
}

// handleSlashCommand intercepts /new and /help. Returns non-nil when the
// command was handled.
func (loop *AgentLoop) handleSlashCommand(msg bus.InboundMessage, sess *session.Session, key string) *bus.OutboundMessage {
	switch strings.TrimSpace(strings.ToLower(msg.Content)) {
	case "/new":
		return loop.handleCmdNew(msg, sess, key)
	case "/help":
		out := bus.NewOutboundMessage(msg.Channel, msg.ChatId,
			"blackcat commands:\n/new — Start a new conversation\n/help — Show available commands")
		out.Metadata = msg.Metadata
		return &out
	}
	return nil
}

// handleCmdNew archives the old conversation behind a summary record and
// starts fresh.
func (loop *AgentLoop) handleCmdNew(msg bus.InboundMessage, sess *session.Session, key string) *bus.OutboundMessage {
	archived := sess.Snapshot()
	sess.Clear()
	loop.saveSession(sess)
	loop.sessions.Invalidate(key)

	if loop.summarizer != nil && archived.Len() >= 2 {
		go func() {
			summary, _ := loop.summarizer.SummarizeMessages(context.Background(), archived, "")
			if summary != "" {
				slog.Info("archived session summarized", "key", key, "length", len(summary))
			}
		}()
	}

	out := bus.NewOutboundMessage(msg.Channel, msg.ChatId, "New session started.")
	out.Metadata = msg.Metadata
	return &out
}

// makeProgressCallback pushes intermediate output to the outbound bus so
// clients can display streaming progress.
func (loop *AgentLoop) makeProgressCallback(msg bus.InboundMessage) func(string) {
	return func(content string) {
		if content == "" {
			return
		}
		meta := map[string]any{"_progress": true}
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		out := bus.NewOutboundMessage(msg.Channel, msg.ChatId, content)
		out.Metadata = meta
		loop.publish(out)
	}
}

func (loop *AgentLoop) publish(out bus.OutboundMessage) {
	loop.bus.PublishOutbound(out)
}

func (loop *AgentLoop) saveSession(sess *session.Session) {
	if err := loop.sessions.Save(sess); err != nil {
		slog.Error("session save failed", "key", sess.Key, "err", err)
	}
}

func metadataString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
