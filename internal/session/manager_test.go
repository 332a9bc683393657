package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// ─── GetOrCreate / Save ────────────────────────────────────────────

func TestGetOrCreate_New(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("cli:direct")
	if s.Key != "cli:direct" {
		t.Errorf("Key = %q", s.Key)
	}
	if s.Len() != 0 {
		t.Errorf("new session has %d messages", s.Len())
	}
}

func TestGetOrCreate_Cached(t *testing.T) {
	m := newTestManager(t)
	a := m.GetOrCreate("cli:direct")
	a.AddUser("hello")
	b := m.GetOrCreate("cli:direct")
	if a != b {
		t.Error("expected same session instance from cache")
	}
}

func TestSaveAndReload(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("telegram:123")
	s.AddUser("hi")
	s.AddAssistant("hello there", []string{"read_file"})

	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m.Invalidate("telegram:123")
	reloaded := m.GetOrCreate("telegram:123")
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded %d messages, want 2", reloaded.Len())
	}
	msgs := reloaded.Snapshot().Messages
	if msgs[0].Role != "user" || msgs[0].Text() != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Text() != "hello there" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if len(msgs[1].ToolsUsed) != 1 || msgs[1].ToolsUsed[0] != "read_file" {
		t.Errorf("tools_used = %v", msgs[1].ToolsUsed)
	}
}

func TestSave_MetadataFirstLine(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("cli:direct")
	s.AddUser("x")
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(m.sessionsDir, "cli_direct.jsonl"))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.Contains(first, `"_type":"metadata"`) {
		t.Errorf("first line is not metadata: %s", first)
	}
	if !strings.Contains(first, `"key":"cli:direct"`) {
		t.Errorf("metadata missing key: %s", first)
	}
}

func TestSave_PreservesMessageTimestamps(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("cli:direct")
	s.AddUser("first")

	// Pin the append-time stamp, then save twice; the second save must not
	// restamp the first message.
	stamped := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s.Messages.Messages[0].Timestamp = stamped

	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	s.AddUser("second")
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}

	m.Invalidate("cli:direct")
	msgs := m.GetOrCreate("cli:direct").Snapshot().Messages
	if len(msgs) != 2 {
		t.Fatalf("reloaded %d messages, want 2", len(msgs))
	}
	if !msgs[0].Timestamp.Equal(stamped) {
		t.Errorf("timestamp rewritten on save: %v, want %v", msgs[0].Timestamp, stamped)
	}
	if msgs[1].Timestamp.IsZero() {
		t.Error("append did not stamp the second message")
	}
}

func TestLoad_CorruptedLinesSkipped(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.sessionsDir, "cli_direct.jsonl")
	content := `{"_type":"metadata","key":"cli:direct","created_at":"2026-08-20T00:00:00Z"}
{"role":"user","content":"ok","timestamp":"2026-08-20T00:00:01Z"}
{garbage line
{"role":"assistant","content":"fine","timestamp":"2026-08-20T00:00:02Z"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := m.GetOrCreate("cli:direct")
	if s.Len() != 2 {
		t.Errorf("loaded %d messages, want 2 (corrupt line skipped)", s.Len())
	}
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)
	s := m.GetOrCreate("cli:gone")
	s.AddUser("x")
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("cli:gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.sessionsDir, "cli_gone.jsonl")); !os.IsNotExist(err) {
		t.Error("session file still exists after Delete")
	}
}

func TestListSessions(t *testing.T) {
	m := newTestManager(t)
	for _, key := range []string{"cli:a", "cli:b"} {
		s := m.GetOrCreate(key)
		s.AddUser("x")
		if err := m.Save(s); err != nil {
			t.Fatal(err)
		}
	}
	infos := m.ListSessions()
	if len(infos) != 2 {
		t.Fatalf("ListSessions returned %d entries", len(infos))
	}
	keys := map[string]bool{}
	for _, i := range infos {
		keys[i.Key] = true
	}
	if !keys["cli:a"] || !keys["cli:b"] {
		t.Errorf("keys = %v", keys)
	}
}

// ─── GetHistory projection ─────────────────────────────────────────

func TestGetHistory_Cap(t *testing.T) {
	s := NewSession("cli:direct")
	for i := 0; i < 10; i++ {
		s.AddUser("u")
		s.AddAssistant("a", nil)
	}
	h := s.GetHistory(4)
	if h.Len() != 4 {
		t.Errorf("history length = %d, want 4", h.Len())
	}
}

func TestGetHistory_StartsAtLastSystemMarker(t *testing.T) {
	s := NewSession("cli:direct")
	s.AddUser("old-1")
	s.AddAssistant("old-2", nil)
	s.AddSystem("[Summary of earlier conversation]\nS")
	s.AddUser("new-1")
	s.AddAssistant("new-2", nil)

	h := s.GetHistory(50)
	if h.Len() != 3 {
		t.Fatalf("history length = %d, want 3", h.Len())
	}
	if h.Messages[0].Role != "system" {
		t.Errorf("view does not start at summary: %+v", h.Messages[0])
	}
	if h.Messages[1].Text() != "new-1" {
		t.Errorf("old prefix leaked into view: %+v", h.Messages[1])
	}
}

func TestGetHistory_FilterThenCap(t *testing.T) {
	// The cap applies after the projection so the summary survives it.
	s := NewSession("cli:direct")
	for i := 0; i < 6; i++ {
		s.AddUser("old")
	}
	s.AddSystem("summary")
	for i := 0; i < 6; i++ {
		s.AddUser("new")
	}

	h := s.GetHistory(4)
	if h.Len() != 4 {
		t.Fatalf("history length = %d, want 4", h.Len())
	}
	for _, msg := range h.Messages {
		if msg.Text() == "old" {
			t.Error("pre-summary message leaked past projection")
		}
	}
}

func TestGetHistory_ArchiveNeverShrinks(t *testing.T) {
	s := NewSession("cli:direct")
	for i := 0; i < 8; i++ {
		s.AddUser("u")
	}
	s.AddSystem("summary")
	s.AddUser("tail")

	if got := s.GetHistory(3).Len(); got > s.Len() {
		t.Errorf("view (%d) longer than archive (%d)", got, s.Len())
	}
	if s.Len() != 10 {
		t.Errorf("archive length = %d, want 10", s.Len())
	}
}

func TestGetHistory_Empty(t *testing.T) {
	s := NewSession("cli:direct")
	if got := s.GetHistory(10).Len(); got != 0 {
		t.Errorf("empty session history length = %d", got)
	}
}

// ─── safeFilename ──────────────────────────────────────────────────

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"telegram_123":  "telegram_123",
		`a<b>c:d"e/f`:   "a_b_c_d_e_f",
		`x\y|z?w*v`:     "x_y_z_w_v",
		"  spaced  ":    "spaced",
	}
	for in, want := range cases {
		if got := safeFilename(in); got != want {
			t.Errorf("safeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
