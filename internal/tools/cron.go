package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
)

// CronTool manages scheduled reminders and recurring agent tasks.
type CronTool struct {
	service schema.CronService
}

func NewCronTool(s schema.CronService) *CronTool {
	return &CronTool{service: s}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled tasks: add a reminder or recurring task, list, remove, enable or disable. " +
		"Provide exactly one of every_seconds (interval), cron_expr (cron schedule) or at (one-shot time, RFC3339 or 'YYYY-MM-DD HH:MM' local)."
}

func (t *CronTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["add", "list", "remove", "enable", "disable"], "description": "Operation to perform"},
			"message": {"type": "string", "description": "Task message processed by the agent when the job fires"},
			"name": {"type": "string", "description": "Human-readable job name"},
			"every_seconds": {"type": "integer", "description": "Run every N seconds"},
			"cron_expr": {"type": "string", "description": "Standard 5-field cron expression"},
			"tz": {"type": "string", "description": "IANA timezone for cron_expr (defaults to local)"},
			"at": {"type": "string", "description": "One-shot time, RFC3339 or 'YYYY-MM-DD HH:MM' local"},
			"deliver": {"type": "boolean", "description": "Deliver the message directly to the chat instead of processing it with the agent"},
			"job_id": {"type": "string", "description": "Job id for remove/enable/disable"}
		},
		"required": ["action"]
	}`)
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list()
	case "remove":
		id, _ := args["job_id"].(string)
		if !t.service.RemoveJob(id) {
			return fmt.Sprintf("Error: no job with id %q", id), nil
		}
		return fmt.Sprintf("Removed job %s", id), nil
	case "enable", "disable":
		id, _ := args["job_id"].(string)
		if !t.service.EnableJob(id, action == "enable") {
			return fmt.Sprintf("Error: no job with id %q", id), nil
		}
		return fmt.Sprintf("Job %s %sd", id, action), nil
	default:
		return fmt.Sprintf("Error: unknown action %q", action), nil
	}
}

func (t *CronTool) add(ctx context.Context, args map[string]any) (string, error) {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return "Error: message must not be empty for add", nil
	}

	name, _ := args["name"].(string)
	if name == "" {
		name = message
	}
	if runes := []rune(name); len(runes) > 30 {
		name = string(runes[:30])
	}

	deliver, _ := args["deliver"].(bool)
	channel := bus.ChannelCLI
	chatID := bus.ChatIdDirect
	if tc := TurnCtx(ctx); tc != nil {
		channel = tc.Channel
		chatID = tc.ChatID
	}

	var (
		kind           string
		everyMs        int64
		cronExpr, tz   string
		atMs           int64
		deleteAfterRun bool
	)

	switch {
	case args["every_seconds"] != nil:
		secs, ok := args["every_seconds"].(float64)
		if !ok || secs <= 0 {
			return "Error: every_seconds must be a positive number", nil
		}
		kind = "every"
		everyMs = int64(secs * 1000)
	case args["cron_expr"] != nil:
		kind = "cron"
		cronExpr, _ = args["cron_expr"].(string)
		tz, _ = args["tz"].(string)
		if strings.TrimSpace(cronExpr) == "" {
			return "Error: cron_expr must not be empty", nil
		}
	case args["at"] != nil:
		atStr, _ := args["at"].(string)
		when, err := parseAtTime(atStr)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		kind = "at"
		atMs = when.UnixMilli()
		deleteAfterRun = true
	default:
		return "Error: provide one of every_seconds, cron_expr or at", nil
	}

	id, err := t.service.AddJob(name, message, kind, everyMs, cronExpr, tz, atMs, deliver, channel, chatID, deleteAfterRun)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Added job %s (%s)", id, name), nil
}

func (t *CronTool) list() (string, error) {
	jobs := t.service.ListJobs(true)
	if len(jobs) == 0 {
		return "No scheduled jobs.", nil
	}
	var b strings.Builder
	for _, j := range jobs {
		state := "enabled"
		if !j.Enabled {
			state = "disabled"
		}
		next := "-"
		if j.NextRun > 0 {
			next = time.UnixMilli(j.NextRun).Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%s  %-30s  %-5s  %-8s  next: %s\n", j.ID, j.Name, j.Kind, state, next)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// parseAtTime accepts RFC3339 or a handful of local formats.
func parseAtTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (use RFC3339 or 'YYYY-MM-DD HH:MM')", s)
}
