package cron

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blackcat-ai/blackcat/internal/schema"
	"github.com/blackcat-ai/blackcat/internal/session"
)

const summariesHeader = "## Conversation Summaries"

// SessionSource is the slice of the session store the consolidator needs.
type SessionSource interface {
	ListSessions() []session.SessionInfo
	GetOrCreate(key string) *session.Session
}

// SessionSummarizer condenses one session into a summary and durable facts.
type SessionSummarizer interface {
	SummarizeSession(ctx context.Context, messages schema.Messages, sessionKey string) (summary, facts string)
}

// DailySummary consolidates every session once per day into the daily
// journal and the long-term memory file. Wakes hourly; runs when the hour
// matches and it has not already run today.
type DailySummary struct {
	workspace  string
	sessions   SessionSource
	summarizer SessionSummarizer
	memory     schema.MemoryService // optional
	hour       int

	lastRunDate string
}

// NewDailySummary creates the consolidator. hour defaults to 3 (03:00) when
// out of range. memory may be nil.
func NewDailySummary(workspace string, sessions SessionSource, summarizer SessionSummarizer, memory schema.MemoryService, hour int) *DailySummary {
	if hour < 0 || hour > 23 {
		hour = 3
	}
	return &DailySummary{
		workspace:  workspace,
		sessions:   sessions,
		summarizer: summarizer,
		memory:     memory,
		hour:       hour,
	}
}

// Start runs the hourly wake loop until ctx is cancelled.
func (d *DailySummary) Start(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	slog.Info("daily summary started", "hour", d.hour)

	for {
		select {
		case <-ticker.C:
			d.maybeRun(ctx, time.Now())
		case <-ctx.Done():
			slog.Info("daily summary stopped")
			return ctx.Err()
		}
	}
}

// maybeRun runs the consolidation when the hour matches and today has not
// been processed yet. Re-entry on the same day is a no-op.
func (d *DailySummary) maybeRun(ctx context.Context, now time.Time) {
	today := now.Format("2006-01-02")
	if now.Hour() != d.hour || d.lastRunDate == today {
		return
	}
	d.lastRunDate = today
	d.RunOnce(ctx, now)
}

// RunOnce consolidates all sessions immediately (also the CLI surface for
// manual runs).
func (d *DailySummary) RunOnce(ctx context.Context, now time.Time) {
	date := now.Format("2006-01-02")
	slog.Info("daily summary running", "date", date)

	var allFacts []string
	summarized := 0

	for _, info := range d.sessions.ListSessions() {
		sess := d.sessions.GetOrCreate(info.Key)
		history := sess.GetHistory(0)
		if history.Len() < 2 {
			continue
		}

		summary, facts := d.summarizer.SummarizeSession(ctx, history, info.Key)
		if summary != "" {
			d.appendJournal(date, info.Key, summary)
			summarized++
		}
		if facts != "" {
			allFacts = append(allFacts, facts)
		}
	}

	if len(allFacts) > 0 {
		d.appendLongTerm(date, strings.Join(allFacts, "\n"))
		d.storeFacts(ctx, allFacts)
	}

	slog.Info("daily summary done", "date", date, "sessions", summarized, "facts", len(allFacts))
}

// appendJournal adds one session block to today's journal entry, creating
// the summaries section on first use.
func (d *DailySummary) appendJournal(date, sessionKey, summary string) {
	path := filepath.Join(d.workspace, "memory", date+".md")

	existing, _ := os.ReadFile(path)
	var b strings.Builder
	if len(existing) == 0 {
		b.WriteString("# " + date + "\n\n")
	}
	if !strings.Contains(string(existing), summariesHeader) {
		b.WriteString(summariesHeader + "\n\n")
	}
	b.WriteString("### " + sessionKey + "\n\n" + strings.TrimSpace(summary) + "\n\n")

	if err := appendFile(path, b.String()); err != nil {
		slog.Error("journal append failed", "path", path, "err", err)
	}
}

// appendLongTerm records the day's facts in the long-term memory file.
func (d *DailySummary) appendLongTerm(date, facts string) {
	path := filepath.Join(d.workspace, "memory", "MEMORY.md")
	block := fmt.Sprintf("\n## Updates from %s\n\n%s\n", date, strings.TrimSpace(facts))
	if err := appendFile(path, block); err != nil {
		slog.Error("long-term memory append failed", "path", path, "err", err)
	}
}

// storeFacts writes each fact line to vector memory when one is configured.
func (d *DailySummary) storeFacts(ctx context.Context, factBlocks []string) {
	if d.memory == nil {
		return
	}
	for _, block := range factBlocks {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, err := d.memory.Remember(ctx, line, "default", "daily_summary", "consolidation"); err != nil {
				slog.Warn("fact store failed", "err", err)
			}
		}
	}
}

func appendFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
