package session

import (
	"sync"
	"time"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// Session holds one conversation's messages and metadata.
//
// The message list is append-only: compaction is recorded by appending a
// system-role summary record, never by rewriting earlier entries. The
// compaction-aware view lives in GetHistory.
type Session struct {
	Key       string
	Messages  schema.Messages
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any

	mu sync.Mutex
}

// NewSession creates an empty session for key.
func NewSession(key string) *Session {
	return &Session{
		Key:       key,
		Messages:  schema.NewMessages(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Metadata:  map[string]any{},
	}
}

// AddUser appends a user message to the session.
func (s *Session) AddUser(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddUser(content)
	s.UpdatedAt = time.Now()
}

// AddAssistant appends an assistant message to the session.
func (s *Session) AddAssistant(content string, toolsUsed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := content
	s.Messages.Add(schema.Message{
		Role:      "assistant",
		Content:   &c,
		ToolsUsed: toolsUsed,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// AddSystem appends a system message (compaction summaries).
func (s *Session) AddSystem(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddSystem(content)
	s.UpdatedAt = time.Now()
}

// Add appends an arbitrary message (tool results, assistant tool calls).
func (s *Session) Add(msg schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.Add(msg)
	s.UpdatedAt = time.Now()
}

// GetHistory returns the compaction-aware view of the archive, capped to the
// last maxMessages entries.
//
// The view starts at the most recent system-role message when one exists:
// everything before it has been folded into that summary, so the raw prefix
// is never replayed to the LLM. The cap applies after the projection, which
// keeps the summary inside the window.
func (s *Session) GetHistory(maxMessages int) schema.Messages {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.Messages.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "system" {
			msgs = msgs[i:]
			break
		}
	}
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	out := schema.NewMessages()
	out.Messages = append(out.Messages, msgs...)
	return out
}

// Compact appends a summary record followed by verbatim copies of the
// recent tail. The projection in GetHistory then starts at the summary, so
// the view becomes [summary, recent…] while the raw archive keeps growing.
func (s *Session) Compact(summary string, recent []schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddSystem(summary)
	for _, m := range recent {
		s.Messages.Add(m)
	}
	s.UpdatedAt = time.Now()
}

// Len returns the number of messages in the raw archive.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages.Messages)
}

// Clear empties the in-memory archive. Persistence happens on the next Save.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = schema.NewMessages()
	s.UpdatedAt = time.Now()
}

// Snapshot returns an independent copy of the current message list.
func (s *Session) Snapshot() schema.Messages {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Messages.Clone()
}
