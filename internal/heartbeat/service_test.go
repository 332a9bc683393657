package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeHeartbeat(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "HEARTBEAT.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ─── Emptiness ───

func TestIsHeartbeatEmpty(t *testing.T) {
	cases := []struct {
		name    string
		content string
		empty   bool
	}{
		{"blank", "   \n\t\n", true},
		{"unparseable", "[tasks\nactive = broken", true},
		{"no tasks section", "title = \"hello\"\n", true},
		{"empty active", "[tasks]\nactive = []\n", true},
		{"completed only", "[[tasks.completed]]\nname = \"done\"\n", true},
		{"active entry", "[[tasks.active]]\nname = \"water plants\"\n", false},
		{"list entry", "[[tasks.list]]\nname = \"check mail\"\n", false},
		{"active table", "[tasks.active]\nmorning = \"stretch\"\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isHeartbeatEmpty(tc.content); got != tc.empty {
				t.Errorf("isHeartbeatEmpty = %v, want %v", got, tc.empty)
			}
		})
	}
}

// ─── Acknowledgement ───

func TestIsAck(t *testing.T) {
	acks := []string{"HEARTBEAT_OK", "heartbeat_ok", "HeartbeatOK", "\nHEARTBEAT_OK\n"}
	for _, s := range acks {
		if !IsAck(s) {
			t.Errorf("IsAck(%q) = false, want true", s)
		}
	}
	notAcks := []string{"", "ok", "HEARTBEAT_OK done", "I watered the plants"}
	for _, s := range notAcks {
		if IsAck(s) {
			t.Errorf("IsAck(%q) = true, want false", s)
		}
	}
}

// ─── Check ───

func TestCheckSkipsWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	called := false
	s := NewService(dir, func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "HEARTBEAT_OK", nil
	}, time.Minute)

	// No file at all.
	s.check(context.Background())
	if called {
		t.Fatal("callback should not fire without a heartbeat file")
	}

	writeHeartbeat(t, dir, "[tasks]\nactive = []\n")
	s.check(context.Background())
	if called {
		t.Fatal("callback should not fire for an empty task file")
	}
}

func TestCheckInvokesCallbackWithTasks(t *testing.T) {
	dir := t.TempDir()
	var got string
	s := NewService(dir, func(ctx context.Context, prompt string) (string, error) {
		got = prompt
		return "HEARTBEAT_OK", nil
	}, time.Minute)

	writeHeartbeat(t, dir, "[[tasks.active]]\nname = \"check the backups\"\n")
	s.check(context.Background())

	if got == "" {
		t.Fatal("callback should fire for active tasks")
	}
	if !strings.Contains(got, "Heartbeat check") || !strings.Contains(got, "check the backups") {
		t.Errorf("prompt missing instruction or task body: %q", got)
	}
}

func TestDefaultInterval(t *testing.T) {
	s := NewService(t.TempDir(), nil, 0)
	if s.interval != 30*time.Minute {
		t.Errorf("interval = %v, want 30m", s.interval)
	}
}
