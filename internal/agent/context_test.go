package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

func writeWorkspaceFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(workspace, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const testIdentity = `
[trust]
default = 0.2

[trust.known]
alice = 1.0
bob = 0.8
carol = 0.5

[autonomy]
[autonomy.free]
read_file = true
web_search = true
[autonomy.requires_confirmation]
exec = true
`

// ─── Trust ───

func TestTrustLevels(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "IDENTITY.toml", testIdentity)
	cm := NewContextManager(workspace)

	cases := []struct {
		author string
		want   TrustLevel
	}{
		{"alice", TrustTrusted},
		{"Alice", TrustTrusted}, // case-insensitive lookup
		{"bob", TrustHigh},
		{"carol", TrustModerate},
		{"mallory", TrustLow}, // falls back to default score
	}
	for _, tc := range cases {
		if got := cm.Identity().TrustLevelFor(tc.author); got != tc.want {
			t.Errorf("TrustLevelFor(%q) = %s, want %s", tc.author, got, tc.want)
		}
	}
}

func TestTrustUnknownWithoutPolicy(t *testing.T) {
	cm := NewContextManager(t.TempDir())
	if got := cm.Identity().TrustLevelFor("anyone"); got != TrustUnknown {
		t.Errorf("TrustLevelFor without policy = %s, want unknown", got)
	}
}

func TestSystemPromptTrustGating(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "IDENTITY.toml", testIdentity)
	cm := NewContextManager(workspace)

	trusted := cm.BuildSystemPrompt("alice", "telegram", "chat1", nil)
	if !strings.Contains(trusted, "fully trusted") {
		t.Error("trusted author should get the autonomous trust block")
	}

	stranger := cm.BuildSystemPrompt("mallory", "telegram", "chat2", nil)
	if !strings.Contains(stranger, "not trusted") {
		t.Error("low-trust author should get the restrictive trust block")
	}
	if strings.Contains(stranger, "fully trusted") {
		t.Error("low-trust prompt leaked the autonomous block")
	}
}

func TestAllowedToolsMergeForTrusted(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "IDENTITY.toml", testIdentity)
	cm := NewContextManager(workspace)

	auto, confirm := cm.Identity().AllowedTools("alice")
	if len(confirm) != 0 {
		t.Errorf("trusted author should need no confirmations, got %v", confirm)
	}
	joined := strings.Join(auto, ",")
	if !strings.Contains(joined, "exec") || !strings.Contains(joined, "read_file") {
		t.Errorf("trusted author should get the merged action list, got %v", auto)
	}

	auto, confirm = cm.Identity().AllowedTools("carol")
	if strings.Contains(strings.Join(auto, ","), "exec") {
		t.Errorf("moderate author got exec as autonomous: %v", auto)
	}
	if !strings.Contains(strings.Join(confirm, ","), "exec") {
		t.Errorf("moderate author should need confirmation for exec: %v", confirm)
	}
}

// ─── Prompt assembly ───

func TestSystemPromptIncludesWorkspaceFiles(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "SOUL.md", "# Soul\nI am a test agent.")
	writeWorkspaceFile(t, workspace, "memory/MEMORY.md", "The user prefers tea.")
	today := time.Now().Format("2006-01-02")
	writeWorkspaceFile(t, workspace, "memory/"+today+".md", "Talked about birds.")

	cm := NewContextManager(workspace)
	prompt := cm.BuildSystemPrompt("alice", "cli", "direct", nil)

	for _, want := range []string{"I am a test agent.", "The user prefers tea.", "Talked about birds.", "## Environment"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildMessagesOrder(t *testing.T) {
	cm := NewContextManager(t.TempDir())

	history := schema.NewMessages()
	history.AddUser("earlier question")
	history.AddAssistant(strPtr("earlier answer"), nil, nil)

	msgs := cm.BuildMessages(history, "new question", "alice", "cli", "direct", nil, nil, 0, "test-model")

	if msgs.Len() != 4 {
		t.Fatalf("message count %d, want 4", msgs.Len())
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, want := range wantRoles {
		if msgs.Messages[i].Role != want {
			t.Errorf("message %d role %s, want %s", i, msgs.Messages[i].Role, want)
		}
	}
	if msgs.Messages[3].Text() != "new question" {
		t.Errorf("final user message = %q", msgs.Messages[3].Text())
	}
}

func TestBuildUserContentFallsBackOnNonImage(t *testing.T) {
	workspace := t.TempDir()
	cm := NewContextManager(workspace)

	doc := filepath.Join(workspace, "notes.txt")
	if err := os.WriteFile(doc, []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := cm.BuildUserContent("see attachment", []string{doc}); got != "see attachment" {
		t.Errorf("non-image media should fall back to plain text, got %T", got)
	}
}

// ─── Compaction policy ───

func conversation(pairs int) schema.Messages {
	msgs := schema.NewMessages()
	for i := 0; i < pairs; i++ {
		msgs.AddUser("question")
		msgs.AddAssistant(strPtr("answer"), nil, nil)
	}
	return msgs
}

func strPtr(s string) *string { return &s }

func TestNeedsCompaction(t *testing.T) {
	cm := NewContextManager(t.TempDir())

	if cm.NeedsCompaction(conversation(2), 10, 0, "test-model") {
		t.Error("short conversation should not need compaction")
	}
	if !cm.NeedsCompaction(conversation(6), 10, 0, "test-model") {
		t.Error("12 conversational messages with window 10 should compact")
	}
	if cm.NeedsCompaction(conversation(6), 0, 0, "test-model") {
		t.Error("window 0 disables the count trigger")
	}
}

func TestPrepareForCompactionSplitsSystemHead(t *testing.T) {
	cm := NewContextManager(t.TempDir())

	msgs := schema.NewMessages()
	msgs.AddSystem("prompt")
	msgs.Append(conversation(5))

	old, recent, system := cm.PrepareForCompaction(msgs, 4)
	if system == nil || system.Role != "system" {
		t.Fatal("system head not split off")
	}
	if len(old) != 6 || len(recent) != 4 {
		t.Errorf("split %d/%d, want 6/4", len(old), len(recent))
	}
}

func TestCompactIfNeeded(t *testing.T) {
	cm := NewContextManager(t.TempDir())
	provider := &scriptedProvider{steps: []schema.LLMResponse{textResponse("They talked at length.")}}
	summarizer := NewSummarizer(provider, "")

	msgs := conversation(10)
	out, compacted := cm.CompactIfNeeded(context.Background(), msgs, 4, 4, 0, "test-model", summarizer)
	if !compacted {
		t.Fatal("expected compaction")
	}
	// Summary record plus the four kept messages.
	if out.Len() != 5 {
		t.Fatalf("compacted length %d, want 5", out.Len())
	}
	if !strings.Contains(out.Messages[0].Text(), "They talked at length.") {
		t.Errorf("summary missing: %q", out.Messages[0].Text())
	}

	// A failing summarizer leaves the input untouched.
	failing := NewSummarizer(&scriptedProvider{err: context.DeadlineExceeded}, "")
	same, compacted := cm.CompactIfNeeded(context.Background(), msgs, 4, 4, 0, "test-model", failing)
	if compacted || same.Len() != msgs.Len() {
		t.Error("failed summarizer must not mutate the conversation")
	}
}
