package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/session"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// ─── Test doubles ───

// scriptedProvider replays a fixed sequence of responses and records every
// conversation it was called with.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []schema.LLMResponse
	err   error
	calls []schema.Messages
}

func (p *scriptedProvider) Chat(_ context.Context, messages schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages.Clone())
	if p.err != nil {
		return schema.LLMResponse{}, p.err
	}
	if len(p.steps) == 0 {
		content := "done"
		return schema.LLMResponse{Content: &content, FinishReason: "stop"}, nil
	}
	resp := p.steps[0]
	p.steps = p.steps[1:]
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func textResponse(s string) schema.LLMResponse {
	return schema.LLMResponse{Content: &s, FinishReason: "stop"}
}

func toolCallResponse(id, name string, args map[string]any) schema.LLMResponse {
	return schema.LLMResponse{
		ToolCalls:    []schema.ToolCall{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

// recordingTool records execution arguments and returns a fixed result.
type recordingTool struct {
	mu       sync.Mutex
	executed []map[string]any
	result   string
}

func (t *recordingTool) Name() string        { return "record" }
func (t *recordingTool) Description() string { return "records its arguments" }
func (t *recordingTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (t *recordingTool) Execute(_ context.Context, params map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, params)
	return t.result, nil
}

// ─── Fixture ───

type loopFixture struct {
	loop     *AgentLoop
	bus      *bus.MessageBus
	sessions *session.Manager
	provider *scriptedProvider
}

func newLoopFixture(t *testing.T, provider *scriptedProvider, reg *tools.Registry, memoryWindow int) *loopFixture {
	t.Helper()

	workspace := t.TempDir()
	sessions, err := session.NewManager(workspace)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}

	settings := schema.NewAgentSettings("test-model", 5, 0.7, 0, memoryWindow, 0)
	b := bus.NewMessageBus(16)
	factory := NewFactory(provider, settings, settings, reg, reg, nil, workspace)
	loop := NewAgentLoop(b, factory, settings, sessions, NewContextManager(workspace), NewSummarizer(provider, ""))

	return &loopFixture{loop: loop, bus: b, sessions: sessions, provider: provider}
}

func (f *loopFixture) takeOutbound(t *testing.T) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-f.bus.OutboundChan():
		return msg
	default:
		t.Fatal("no outbound message published")
		return bus.OutboundMessage{}
	}
}

// ─── Plain turns ───

func TestHandleMessageEchoesReply(t *testing.T) {
	f := newLoopFixture(t, &scriptedProvider{steps: []schema.LLMResponse{textResponse("Hello there!")}}, nil, 0)

	msg := bus.NewInboundMessage(bus.ChannelTelegram, "alice", "chat1", "hi")
	f.loop.handleMessage(context.Background(), msg)

	out := f.takeOutbound(t)
	if out.Channel != bus.ChannelTelegram || out.ChatId != "chat1" || out.Content != "Hello there!" {
		t.Errorf("unexpected reply: %+v", out)
	}

	hist := f.sessions.GetOrCreate("telegram:chat1").GetHistory(0)
	if hist.Len() != 2 {
		t.Fatalf("session has %d messages, want 2", hist.Len())
	}
	if hist.Messages[0].Role != "user" || hist.Messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", hist.Messages[0].Role, hist.Messages[1].Role)
	}
}

func TestHandleMessageToolCallThenAnswer(t *testing.T) {
	tool := &recordingTool{result: "tool output"}
	provider := &scriptedProvider{steps: []schema.LLMResponse{
		toolCallResponse("c1", "record", map[string]any{"text": "hi"}),
		textResponse("final answer"),
	}}
	f := newLoopFixture(t, provider, tools.NewRegistry(tool), 0)

	msg := bus.NewInboundMessage(bus.ChannelCLI, "user", bus.ChatIdDirect, "do the thing")
	f.loop.handleMessage(context.Background(), msg)

	if out := f.takeOutbound(t); out.Content != "final answer" {
		t.Errorf("reply = %q, want final answer", out.Content)
	}
	if len(tool.executed) != 1 || tool.executed[0]["text"] != "hi" {
		t.Errorf("tool executed with %v", tool.executed)
	}

	// Second provider call must carry the tool result back.
	if provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2", provider.callCount())
	}
	second := provider.calls[1]
	last := second.Messages[second.Len()-1]
	if last.Role != "tool" || !strings.Contains(last.Text(), "tool output") {
		t.Errorf("tool result not fed back: %+v", last)
	}
}

func TestHandleMessageMaxIterFiller(t *testing.T) {
	tool := &recordingTool{result: "again"}
	var steps []schema.LLMResponse
	for i := 0; i < 10; i++ {
		steps = append(steps, toolCallResponse("c", "record", map[string]any{"text": "x"}))
	}
	f := newLoopFixture(t, &scriptedProvider{steps: steps}, tools.NewRegistry(tool), 0)

	msg := bus.NewInboundMessage(bus.ChannelSlack, "u1", "C1", "loop forever")
	f.loop.handleMessage(context.Background(), msg)

	if out := f.takeOutbound(t); out.Content != fillerUser {
		t.Errorf("reply = %q, want the neutral filler", out.Content)
	}
}

// ─── Slash commands ───

func TestSlashHelp(t *testing.T) {
	f := newLoopFixture(t, &scriptedProvider{}, nil, 0)

	msg := bus.NewInboundMessage(bus.ChannelTelegram, "alice", "chat1", "/help")
	f.loop.handleMessage(context.Background(), msg)

	out := f.takeOutbound(t)
	if !strings.Contains(out.Content, "/new") {
		t.Errorf("help text missing commands: %q", out.Content)
	}
	if f.provider.callCount() != 0 {
		t.Error("slash command should not reach the LLM")
	}
}

func TestSlashNewClearsSession(t *testing.T) {
	f := newLoopFixture(t, &scriptedProvider{steps: []schema.LLMResponse{textResponse("hi")}}, nil, 0)

	msg := bus.NewInboundMessage(bus.ChannelTelegram, "alice", "chat1", "hello")
	f.loop.handleMessage(context.Background(), msg)
	f.takeOutbound(t)

	clear := bus.NewInboundMessage(bus.ChannelTelegram, "alice", "chat1", "/new")
	f.loop.handleMessage(context.Background(), clear)

	if out := f.takeOutbound(t); !strings.Contains(out.Content, "New session") {
		t.Errorf("unexpected /new reply: %q", out.Content)
	}
	if n := f.sessions.GetOrCreate("telegram:chat1").Len(); n != 0 {
		t.Errorf("session has %d messages after /new, want 0", n)
	}
}

// ─── Direct processing ───

func TestProcessDirectReturnsResponse(t *testing.T) {
	f := newLoopFixture(t, &scriptedProvider{steps: []schema.LLMResponse{textResponse("scheduled result")}}, nil, 0)

	resp := f.loop.ProcessDirect(context.Background(), "run the job", "cron:job1", "cron", bus.ChatIdDirect)
	if resp != "scheduled result" {
		t.Errorf("ProcessDirect = %q, want scheduled result", resp)
	}

	// The scheduler owns delivery; nothing goes to the bus.
	select {
	case out := <-f.bus.OutboundChan():
		t.Fatalf("unexpected outbound for a direct turn: %+v", out)
	default:
	}

	if f.sessions.GetOrCreate("cron:job1").Len() != 2 {
		t.Error("direct turn not persisted under the override key")
	}
}

// ─── System channel ───

func TestSystemChannelRoutesToOrigin(t *testing.T) {
	f := newLoopFixture(t, &scriptedProvider{steps: []schema.LLMResponse{textResponse("relayed")}}, nil, 0)

	msg := bus.NewInboundMessage(bus.ChannelSystem, "subagent", "telegram:chat9", "task finished")
	f.loop.handleMessage(context.Background(), msg)

	out := f.takeOutbound(t)
	if out.Channel != bus.ChannelTelegram || out.ChatId != "chat9" {
		t.Errorf("reply routed to %s:%s, want telegram:chat9", out.Channel, out.ChatId)
	}
	if out.Content != "relayed" {
		t.Errorf("reply = %q", out.Content)
	}
}

// ─── CLI turn-finished signal ───

func TestCLITurnFinishedSignal(t *testing.T) {
	// A turn where the message tool already replied returns nil; the CLI
	// still needs an empty outbound so the REPL unblocks. Simulate via a
	// sent turn context by using the message tool path indirectly: the
	// scheduler channels never get this treatment.
	f := newLoopFixture(t, &scriptedProvider{steps: []schema.LLMResponse{textResponse("hi")}}, nil, 0)

	msg := bus.NewInboundMessage(bus.ChannelCLI, "user", bus.ChatIdDirect, "hello")
	f.loop.handleMessage(context.Background(), msg)

	if out := f.takeOutbound(t); out.Content != "hi" {
		t.Errorf("cli reply = %q", out.Content)
	}
}

// ─── Compaction during a turn ───

func TestHandleMessageCompactsLongSession(t *testing.T) {
	provider := &scriptedProvider{steps: []schema.LLMResponse{
		textResponse("Earlier they discussed many things."), // summarizer call
		textResponse("fresh reply"),
	}}
	f := newLoopFixture(t, provider, nil, 4)

	sess := f.sessions.GetOrCreate("telegram:long")
	for i := 0; i < 10; i++ {
		sess.AddUser("question")
		sess.AddAssistant("answer", nil)
	}

	msg := bus.NewInboundMessage(bus.ChannelTelegram, "alice", "long", "latest")
	f.loop.handleMessage(context.Background(), msg)

	if out := f.takeOutbound(t); out.Content != "fresh reply" {
		t.Errorf("reply = %q", out.Content)
	}

	hist := sess.GetHistory(0)
	// Projection: summary record, 4 kept verbatim, then the new exchange.
	if hist.Len() != 7 {
		t.Fatalf("history length %d, want 7", hist.Len())
	}
	first := hist.Messages[0]
	if first.Role != "system" || !strings.HasPrefix(first.Text(), summaryPrefix) {
		t.Errorf("projection does not start at the summary: %+v", first)
	}
	if !strings.Contains(first.Text(), "Earlier they discussed") {
		t.Errorf("summary content missing: %q", first.Text())
	}
}

func TestCompactionFailureKeepsHistory(t *testing.T) {
	provider := &scriptedProvider{err: context.DeadlineExceeded}
	f := newLoopFixture(t, provider, nil, 4)

	sess := f.sessions.GetOrCreate("telegram:long")
	for i := 0; i < 10; i++ {
		sess.AddUser("question")
		sess.AddAssistant("answer", nil)
	}

	f.loop.compactSession(context.Background(), sess)

	if sess.GetHistory(0).Len() != 20 {
		t.Errorf("history mutated after failed compaction: %d", sess.GetHistory(0).Len())
	}
}
