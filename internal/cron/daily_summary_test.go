package cron

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/session"
)

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) SummarizeSession(ctx context.Context, messages schema.Messages, sessionKey string) (string, string) {
	f.calls++
	return "talked about " + sessionKey, "user likes tea\nuser lives in Lisbon"
}

type fakeMemory struct {
	remembered []string
}

func (f *fakeMemory) Remember(ctx context.Context, content, tag, author, source string) (string, error) {
	if tag != "default" || author != "daily_summary" || source != "consolidation" {
		return "", nil
	}
	f.remembered = append(f.remembered, content)
	return "id", nil
}

func (f *fakeMemory) Recall(ctx context.Context, query string, limit int) ([]schema.MemoryRecord, error) {
	return nil, nil
}

func (f *fakeMemory) Forget(ctx context.Context, id string) (bool, error) { return false, nil }

func newWorkspace(t *testing.T) (string, *session.Manager) {
	t.Helper()
	ws := t.TempDir()
	mgr, err := session.NewManager(ws)
	if err != nil {
		t.Fatal(err)
	}
	return ws, mgr
}

func seedSession(t *testing.T, mgr *session.Manager, key string, pairs int) {
	t.Helper()
	sess := mgr.GetOrCreate(key)
	for i := 0; i < pairs; i++ {
		sess.AddUser("hello")
		sess.AddAssistant("hi there", nil)
	}
	if err := mgr.Save(sess); err != nil {
		t.Fatal(err)
	}
}

// ─── RunOnce ───

func TestRunOnceWritesJournalAndFacts(t *testing.T) {
	ws, mgr := newWorkspace(t)
	seedSession(t, mgr, "cli:alice", 2)

	sum := &fakeSummarizer{}
	mem := &fakeMemory{}
	d := NewDailySummary(ws, mgr, sum, mem, 3)

	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	d.RunOnce(context.Background(), now)

	journal, err := os.ReadFile(filepath.Join(ws, "memory", "2026-08-24.md"))
	if err != nil {
		t.Fatalf("journal not written: %v", err)
	}
	text := string(journal)
	if !strings.Contains(text, "## Conversation Summaries") {
		t.Error("journal missing summaries section")
	}
	if !strings.Contains(text, "### cli:alice") || !strings.Contains(text, "talked about cli:alice") {
		t.Error("journal missing session block")
	}

	longTerm, err := os.ReadFile(filepath.Join(ws, "memory", "MEMORY.md"))
	if err != nil {
		t.Fatalf("long-term memory not written: %v", err)
	}
	if !strings.Contains(string(longTerm), "## Updates from 2026-08-24") {
		t.Error("long-term memory missing dated updates header")
	}
	if !strings.Contains(string(longTerm), "user likes tea") {
		t.Error("long-term memory missing fact")
	}

	if len(mem.remembered) != 2 {
		t.Errorf("vector memory got %d facts, want 2", len(mem.remembered))
	}
}

func TestRunOnceSkipsShortSessions(t *testing.T) {
	ws, mgr := newWorkspace(t)

	sess := mgr.GetOrCreate("cli:short")
	sess.AddUser("just one message")
	if err := mgr.Save(sess); err != nil {
		t.Fatal(err)
	}

	sum := &fakeSummarizer{}
	d := NewDailySummary(ws, mgr, sum, nil, 3)
	d.RunOnce(context.Background(), time.Now())

	if sum.calls != 0 {
		t.Errorf("summarizer called %d times for a 1-message session, want 0", sum.calls)
	}
}

// ─── Hourly gate ───

func TestMaybeRunGates(t *testing.T) {
	ws, mgr := newWorkspace(t)
	seedSession(t, mgr, "cli:bob", 2)

	sum := &fakeSummarizer{}
	d := NewDailySummary(ws, mgr, sum, nil, 3)

	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	d.maybeRun(context.Background(), day.Add(2*time.Hour)) // wrong hour
	if sum.calls != 0 {
		t.Fatal("should not run outside the configured hour")
	}

	d.maybeRun(context.Background(), day.Add(3*time.Hour))
	if sum.calls != 1 {
		t.Fatalf("expected one run at the configured hour, got %d", sum.calls)
	}

	d.maybeRun(context.Background(), day.Add(3*time.Hour+30*time.Minute)) // same day re-entry
	if sum.calls != 1 {
		t.Fatal("same-day re-entry must be a no-op")
	}

	d.maybeRun(context.Background(), day.AddDate(0, 0, 1).Add(3*time.Hour)) // next day
	if sum.calls != 2 {
		t.Fatalf("expected a second run the next day, got %d", sum.calls)
	}
}

func TestNewDailySummaryDefaultHour(t *testing.T) {
	d := NewDailySummary(t.TempDir(), nil, nil, nil, -1)
	if d.hour != 3 {
		t.Errorf("hour = %d, want 3", d.hour)
	}
}
