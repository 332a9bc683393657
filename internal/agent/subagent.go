package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/shared/llmutils"
	"github.com/blackcat-ai/blackcat/internal/tools"
)

// SenderSubagent identifies subagent-injected system messages on the bus.
const SenderSubagent = "subagent"

// SubagentManager runs background tasks as detached agent instances.
// Each subagent carries the restricted tool set (no message/spawn/cron) and
// reports back through a system-channel inbound message.
type SubagentManager struct {
	factory *AgentFactory
	bus     bus.Bus

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewSubagentManager(factory *AgentFactory, b bus.Bus) *SubagentManager {
	return &SubagentManager{
		factory: factory,
		bus:     b,
		running: make(map[string]context.CancelFunc),
	}
}

// Spawn starts a background subagent goroutine and returns immediately.
// Implements schema.Spawner.
func (sm *SubagentManager) Spawn(ctx context.Context, task, label string, originChannel bus.Channel, originChatID string) (string, error) {
	taskID := uuid.NewString()[:8]
	label = llmutils.Truncate(llmutils.StringOrDefault(label, task), 30)

	subctx, cancel := context.WithCancel(context.Background()) // detached from the caller's turn

	sm.mu.Lock()
	sm.running[taskID] = cancel
	sm.mu.Unlock()

	go func() {
		defer func() {
			sm.mu.Lock()
			delete(sm.running, taskID)
			sm.mu.Unlock()
			cancel()
		}()
		sm.runSubagent(subctx, taskID, task, label, originChannel, originChatID)
	}()

	slog.Info("Spawned subagent", "id", taskID, "label", label)
	return taskID, nil
}

// RunningCount reports the number of live subagents (status surface).
func (sm *SubagentManager) RunningCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.running)
}

// StopAll cancels every running subagent.
func (sm *SubagentManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, cancel := range sm.running {
		cancel()
		delete(sm.running, id)
	}
}

func (sm *SubagentManager) runSubagent(ctx context.Context, taskID, task, label string, originChannel bus.Channel, originChatID string) {
	slog.Info("Subagent starting", "id", taskID, "label", label)

	subAgent := sm.factory.NewSubAgent()
	conversation := schema.NewMessages(
		schema.NewSystemMessage(subAgent.buildSystemPrompt()),
		schema.NewUserMessage(task),
	)

	result, _ := subAgent.Execute(ctx, conversation, nil)
	status := "completed successfully"
	if result == "" {
		result = "Task completed but no final response was generated."
	}
	if strings.HasPrefix(result, "Sorry, I encountered an error") {
		status = "failed"
		slog.Error("Subagent failed", "id", taskID, "result", result)
	} else {
		slog.Info("Subagent completed", "id", taskID)
	}

	sm.announceResult(label, task, result, status, originChannel, originChatID)
}

// announceResult injects the outcome as a system-channel inbound message.
// The agent loop decodes the compound chat id back to the origin chat and
// relays a natural-language version of the result there.
func (sm *SubagentManager) announceResult(label, task, result, status string, originChannel bus.Channel, originChatID string) {
	content := fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like "subagent" or task IDs.`,
		label, status, task, result)

	sm.bus.PublishInbound(bus.NewInboundMessage(bus.ChannelSystem, SenderSubagent, string(originChannel)+":"+originChatID, content))
}

// SubAgent handles a single background task with the restricted tool set
// and no session history. Constructed per spawn by the factory.
type SubAgent struct {
	LoopRunner
	tools     *tools.Registry
	workspace string
}

// Execute runs the task conversation to completion.
func (a *SubAgent) Execute(ctx context.Context, conversation schema.Messages, onProgress func(string)) (string, []string) {
	return a.run(ctx, conversation, a.tools, onProgress)
}

func (a *SubAgent) buildSystemPrompt() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	tz, _ := time.Now().Zone()
	if tz == "" {
		tz = "UTC"
	}
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "macOS"
	}

	return strings.Join([]string{
		"# Subagent",
		"",
		"## Current Time",
		now + " (" + tz + ")",
		"",
		"You are a subagent spawned by the main agent to complete a specific task.",
		"",
		"## Rules",
		"1. Stay focused - complete only the assigned task, nothing else",
		"2. Your final response will be reported back to the main agent",
		"3. Do not initiate conversations or take on side tasks",
		"4. Be concise but informative in your findings",
		"",
		"## What You Can Do",
		"- Read and write files in the workspace",
		"- Execute shell commands",
		"- Search the web and fetch web pages",
		"",
		"## What You Cannot Do",
		"- Send messages directly to users (no message tool available)",
		"- Spawn other subagents",
		"- Access the main agent's conversation history",
		"",
		"## Workspace",
		"Your workspace is at: " + a.workspace,
		"Skills are available at: " + a.workspace + "/skills/",
		"OS: " + osName + " " + runtime.GOARCH,
		"",
		"When you have completed the task, provide a clear summary of your findings or actions.",
	}, "\n")
}
