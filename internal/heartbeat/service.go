// Package heartbeat periodically pokes the agent with the contents of
// HEARTBEAT.toml so recurring tasks make progress without user messages.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Prompt is the fixed instruction sent on every active heartbeat.
const Prompt = "Heartbeat check. Review the tasks below from HEARTBEAT.toml and make progress " +
	"on any that need attention. If nothing needs action right now, reply with exactly HEARTBEAT_OK.\n\n"

// ackToken is the reply meaning "nothing to do".
const ackToken = "heartbeatok"

// OnHeartbeatFunc runs one heartbeat turn and returns the agent's reply.
type OnHeartbeatFunc func(ctx context.Context, prompt string) (string, error)

// Service wakes on an interval, reads HEARTBEAT.toml, and invokes the
// callback when the file holds active tasks.
type Service struct {
	workspace   string
	onHeartbeat OnHeartbeatFunc
	interval    time.Duration
}

// NewService creates a heartbeat Service. interval defaults to 30 minutes
// when zero.
func NewService(workspace string, onHeartbeat OnHeartbeatFunc, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		workspace:   workspace,
		onHeartbeat: onHeartbeat,
		interval:    interval,
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("heartbeat started", "interval", s.interval)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			slog.Info("heartbeat stopped")
			return ctx.Err()
		}
	}
}

func (s *Service) check(ctx context.Context) {
	path := filepath.Join(s.workspace, "HEARTBEAT.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		// No file means no heartbeat configured.
		return
	}

	if isHeartbeatEmpty(string(data)) {
		return
	}

	slog.Info("heartbeat: active tasks found")
	if s.onHeartbeat == nil {
		return
	}

	reply, err := s.onHeartbeat(ctx, Prompt+string(data))
	if err != nil {
		slog.Error("heartbeat turn failed", "err", err)
		return
	}
	if IsAck(reply) {
		slog.Debug("heartbeat acknowledged, nothing to do")
	}
}

// IsAck reports whether a reply is the HEARTBEAT_OK acknowledgement.
// Case- and underscore-insensitive, so HEARTBEAT_OK, heartbeat_ok, and
// HeartbeatOK all count.
func IsAck(reply string) bool {
	norm := strings.ToLower(strings.TrimSpace(reply))
	norm = strings.ReplaceAll(norm, "_", "")
	return norm == ackToken
}

// isHeartbeatEmpty reports whether the file gives the agent nothing to do:
// blank, unparseable, or no entries under [tasks.active] or [tasks.list].
// Completed tasks don't count as work.
func isHeartbeatEmpty(content string) bool {
	if strings.TrimSpace(content) == "" {
		return true
	}

	var doc map[string]any
	if err := toml.Unmarshal([]byte(content), &doc); err != nil {
		return true
	}

	tasks, ok := doc["tasks"].(map[string]any)
	if !ok {
		return true
	}
	return !hasEntries(tasks["active"]) && !hasEntries(tasks["list"])
}

// hasEntries reports whether a TOML value holds at least one task.
func hasEntries(v any) bool {
	switch t := v.(type) {
	case []map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return false
	}
}
