package schema

import "github.com/blackcat-ai/blackcat/internal/bus"

// CronJobSummary is a lightweight view of a scheduled job used by the cron tool.
type CronJobSummary struct {
	ID      string
	Name    string
	Kind    string // "every", "cron", or "at"
	Enabled bool
	NextRun int64 // epoch ms; 0 when unarmed
}

// CronService is the interface the cron tool uses to manage scheduled jobs.
// Implemented by cron.Service. Defined here to avoid an import cycle.
type CronService interface {
	AddJob(
		name, message, kind string,
		everyMs int64, cronExpr, tz string, atMs int64,
		deliver bool, channel bus.Channel, to string, deleteAfterRun bool,
	) (id string, err error)
	ListJobs(includeDisabled bool) []CronJobSummary
	RemoveJob(id string) bool
	EnableJob(id string, enabled bool) bool
}
