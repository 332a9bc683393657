package tools

import (
	"context"

	"github.com/blackcat-ai/blackcat/internal/bus"
)

type turnCtxKey struct{}

// TurnContext carries per-turn routing state down to tools through the
// context. MessageSent is closed by the message tool after a direct send so
// the agent loop can suppress its own duplicate reply.
type TurnContext struct {
	Channel bus.Channel
	ChatID  string
	MsgID   string

	MessageSent chan struct{}
}

// NewTurnContext builds a TurnContext for one inbound message.
func NewTurnContext(channel bus.Channel, chatID, msgID string) *TurnContext {
	return &TurnContext{
		Channel:     channel,
		ChatID:      chatID,
		MsgID:       msgID,
		MessageSent: make(chan struct{}),
	}
}

// WithTurn attaches a TurnContext to ctx.
func WithTurn(ctx context.Context, tc *TurnContext) context.Context {
	return context.WithValue(ctx, turnCtxKey{}, tc)
}

// TurnCtx extracts the TurnContext from ctx, or nil if none is attached.
func TurnCtx(ctx context.Context) *TurnContext {
	tc, _ := ctx.Value(turnCtxKey{}).(*TurnContext)
	return tc
}

// MarkMessageSent records that a tool already delivered a reply this turn.
// Tools run serially within a turn, so the guarded close is race-free.
func (tc *TurnContext) MarkMessageSent() {
	select {
	case <-tc.MessageSent:
	default:
		close(tc.MessageSent)
	}
}

// Sent reports whether a reply was already delivered this turn.
func (tc *TurnContext) Sent() bool {
	select {
	case <-tc.MessageSent:
		return true
	default:
		return false
	}
}
