// Package cron manages scheduled agent tasks.
//
// Jobs persist in a single jobs.json catalog:
//
//	{ "version": 1, "jobs": [ { "id":"…", "name":"…", "enabled":true,
//	    "schedule":{"kind":"every","everyMs":…},
//	    "payload":{"kind":"agent_turn","message":"…","deliver":false},
//	    "state":{"nextRunAtMs":…,"lastRunAtMs":…,"runCount":…,"lastStatus":"ok"},
//	    "createdAtMs":…, "updatedAtMs":…, "deleteAfterRun":false } ] }
//
// One dispatcher goroutine wakes on the earliest nextRunAtMs. The next run
// time is persisted before the callback runs, so a crash mid-execution never
// re-fires the same slot (at-most-once). Missed fires collapse into one
// catch-up execution per job.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	robfigcron "github.com/robfig/cron/v3"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/schema"
)

// ---------------------------------------------------------------------------
// Data types

type Schedule struct {
	Kind    string  `json:"kind"`              // "every" | "cron" | "at"
	AtMs    *int64  `json:"atMs,omitempty"`    // one-shot
	EveryMs *int64  `json:"everyMs,omitempty"` // interval
	Expr    *string `json:"expr,omitempty"`    // 5-field cron expression
	TZ      *string `json:"tz,omitempty"`      // IANA timezone
}

type Payload struct {
	Kind    string  `json:"kind"` // "agent_turn"
	Message string  `json:"message"`
	Deliver bool    `json:"deliver"`
	Channel *string `json:"channel,omitempty"`
	To      *string `json:"to,omitempty"`
}

type JobState struct {
	NextRunAtMs *int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64  `json:"lastRunAtMs,omitempty"`
	RunCount    int64   `json:"runCount"`
	LastStatus  *string `json:"lastStatus,omitempty"`
	LastError   *string `json:"lastError,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

type catalog struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// ---------------------------------------------------------------------------
// Service

// OnJobFunc executes a fired job and returns the agent's response text.
// Injected by the runtime so the engine never references the agent directly.
type OnJobFunc func(ctx context.Context, job Job) (string, error)

// Service manages scheduled jobs. It implements schema.CronService.
type Service struct {
	storePath string
	bus       bus.Bus // outbound delivery for deliver=true jobs; may be nil
	onJob     OnJobFunc

	mu     sync.Mutex
	store  catalog
	loaded bool
	kick   chan struct{} // wakes the dispatcher after catalog mutations
}

// NewService creates a cron Service persisting to storePath (jobs.json).
func NewService(storePath string, b bus.Bus) *Service {
	return &Service{
		storePath: storePath,
		bus:       b,
		kick:      make(chan struct{}, 1),
	}
}

// SetOnJob registers the callback executed when a job fires.
// Must be set before Start.
func (s *Service) SetOnJob(fn OnJobFunc) { s.onJob = fn }

// Start loads the catalog, recomputes next-run times, and runs the dispatch
// loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.loadLocked()
	s.recomputeNextRunsLocked()
	s.saveLocked()
	jobs := len(s.store.Jobs)
	s.mu.Unlock()

	slog.Info("cron started", "jobs", jobs)

	for {
		wait := s.untilNextDue()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("cron stopping")
			return ctx.Err()
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// AddJob creates a job, persists the catalog, and wakes the dispatcher.
// Implements schema.CronService.
func (s *Service) AddJob(
	name, message, kind string,
	everyMs int64, cronExpr, tz string, atMs int64,
	deliver bool, channel bus.Channel, to string, deleteAfterRun bool,
) (string, error) {
	sched := Schedule{Kind: kind}
	switch kind {
	case "every":
		if everyMs <= 0 {
			return "", fmt.Errorf("every-job needs a positive interval")
		}
		sched.EveryMs = &everyMs
	case "cron":
		if _, err := parseCronExpr(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		sched.Expr = &cronExpr
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
			}
			sched.TZ = &tz
		}
	case "at":
		sched.AtMs = &atMs
	default:
		return "", fmt.Errorf("unknown schedule kind %q", kind)
	}

	payload := Payload{Kind: "agent_turn", Message: message, Deliver: deliver}
	if channel != "" {
		ch := string(channel)
		payload.Channel = &ch
	}
	if to != "" {
		payload.To = &to
	}

	now := nowMs()
	job := Job{
		ID:             uuid.NewString()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       sched,
		Payload:        payload,
		State:          JobState{NextRunAtMs: computeNextRun(sched, now)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}

	s.mu.Lock()
	s.loadLocked()
	s.store.Jobs = append(s.store.Jobs, job)
	s.saveLocked()
	s.mu.Unlock()
	s.wake()

	slog.Info("cron job added", "name", name, "id", job.ID, "kind", kind)
	return job.ID, nil
}

// ListJobs returns job summaries. Implements schema.CronService.
func (s *Service) ListJobs(includeDisabled bool) []schema.CronJobSummary {
	var out []schema.CronJobSummary
	for _, j := range s.ListAllJobs(includeDisabled) {
		next := int64(0)
		if j.State.NextRunAtMs != nil {
			next = *j.State.NextRunAtMs
		}
		out = append(out, schema.CronJobSummary{
			ID:      j.ID,
			Name:    j.Name,
			Kind:    j.Schedule.Kind,
			Enabled: j.Enabled,
			NextRun: next,
		})
	}
	return out
}

// RemoveJob deletes a job by id. Implements schema.CronService.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	s.loadLocked()
	before := len(s.store.Jobs)
	filtered := s.store.Jobs[:0]
	for _, j := range s.store.Jobs {
		if j.ID != id {
			filtered = append(filtered, j)
		}
	}
	s.store.Jobs = filtered
	removed := len(filtered) < before
	if removed {
		s.saveLocked()
	}
	s.mu.Unlock()
	if removed {
		s.wake()
	}
	return removed
}

// EnableJob toggles a job. Implements schema.CronService.
func (s *Service) EnableJob(id string, enabled bool) bool {
	s.mu.Lock()
	s.loadLocked()
	found := false
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != id {
			continue
		}
		found = true
		s.store.Jobs[i].Enabled = enabled
		s.store.Jobs[i].UpdatedAtMs = nowMs()
		if enabled {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(s.store.Jobs[i].Schedule, nowMs())
		} else {
			s.store.Jobs[i].State.NextRunAtMs = nil
		}
		break
	}
	if found {
		s.saveLocked()
	}
	s.mu.Unlock()
	if found {
		s.wake()
	}
	return found
}

// ListAllJobs returns jobs sorted by next run time (CLI surface).
func (s *Service) ListAllJobs(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	var jobs []Job
	for _, j := range s.store.Jobs {
		if includeDisabled || j.Enabled {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		a, b := int64(1<<62), int64(1<<62)
		if jobs[i].State.NextRunAtMs != nil {
			a = *jobs[i].State.NextRunAtMs
		}
		if jobs[k].State.NextRunAtMs != nil {
			b = *jobs[k].State.NextRunAtMs
		}
		if a == b {
			return jobs[i].ID < jobs[k].ID
		}
		return a < b
	})
	return jobs
}

// RunJob executes a job immediately. force runs it even when disabled.
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	s.mu.Lock()
	s.loadLocked()
	var job *Job
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == id {
			if !force && !s.store.Jobs[i].Enabled {
				s.mu.Unlock()
				return false
			}
			j := s.store.Jobs[i]
			job = &j
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return false
	}
	s.executeJob(ctx, *job)
	return true
}

// ---------------------------------------------------------------------------
// Dispatch loop

const idleWait = time.Hour

// untilNextDue returns the wait until the earliest enabled nextRunAtMs.
func (s *Service) untilNextDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := int64(0)
	for _, j := range s.store.Jobs {
		if !j.Enabled || j.State.NextRunAtMs == nil {
			continue
		}
		if earliest == 0 || *j.State.NextRunAtMs < earliest {
			earliest = *j.State.NextRunAtMs
		}
	}
	if earliest == 0 {
		return idleWait
	}
	wait := time.Until(time.UnixMilli(earliest))
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue executes every job whose slot has arrived, in lexicographic job-id
// order. State (including the next slot) is persisted before each callback
// runs. Missed occurrences collapse into this single execution.
func (s *Service) fireDue(ctx context.Context) {
	now := nowMs()

	s.mu.Lock()
	var due []Job
	for i := range s.store.Jobs {
		j := &s.store.Jobs[i]
		if !j.Enabled || j.State.NextRunAtMs == nil || *j.State.NextRunAtMs > now {
			continue
		}

		j.State.LastRunAtMs = &now
		j.State.RunCount++
		j.UpdatedAtMs = now
		if j.Schedule.Kind == "at" {
			j.Enabled = false
			j.State.NextRunAtMs = nil
		} else {
			j.State.NextRunAtMs = computeNextRun(j.Schedule, now)
		}
		due = append(due, *j)
	}
	if len(due) > 0 {
		s.saveLocked()
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].ID < due[k].ID })
	for _, job := range due {
		s.executeJob(ctx, job)
	}
}

// executeJob runs one job through the callback, records the outcome, and
// delivers the result when the payload asks for it.
func (s *Service) executeJob(ctx context.Context, job Job) {
	slog.Info("cron job firing", "name", job.Name, "id", job.ID)

	status := "ok"
	var lastErr *string
	var response string

	if s.onJob != nil {
		var err error
		response, err = s.onJob(ctx, job)
		if err != nil {
			status = "error"
			e := err.Error()
			lastErr = &e
			slog.Error("cron job failed", "name", job.Name, "err", err)
		}
	}

	if job.Payload.Deliver && job.Payload.To != nil && s.bus != nil {
		channel := string(bus.ChannelCLI)
		if job.Payload.Channel != nil {
			channel = *job.Payload.Channel
		}
		content := response
		if content == "" {
			content = job.Payload.Message
		}
		s.bus.PublishOutbound(bus.NewOutboundMessage(bus.Channel(channel), *job.Payload.To, content))
	}

	s.mu.Lock()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}
		s.store.Jobs[i].State.LastStatus = &status
		s.store.Jobs[i].State.LastError = lastErr

		if job.Schedule.Kind == "at" && job.DeleteAfterRun {
			filtered := s.store.Jobs[:0]
			for _, j := range s.store.Jobs {
				if j.ID != job.ID {
					filtered = append(filtered, j)
				}
			}
			s.store.Jobs = filtered
		}
		break
	}
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Service) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// ---------------------------------------------------------------------------
// Persistence

func (s *Service) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		s.store = catalog{Version: 1}
		return
	}
	if err != nil {
		slog.Warn("cron catalog unreadable, starting empty", "err", err)
		s.store = catalog{Version: 1}
		return
	}
	var st catalog
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("cron catalog malformed, starting empty", "err", err)
		s.store = catalog{Version: 1}
		return
	}
	if st.Version == 0 {
		st.Version = 1
	}
	s.store = st
}

func (s *Service) saveLocked() {
	if s.store.Version == 0 {
		s.store.Version = 1
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		slog.Warn("cron catalog mkdir failed", "err", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Warn("cron catalog marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(s.storePath, append(data, '\n'), 0o644); err != nil {
		slog.Warn("cron catalog write failed", "err", err)
	}
}

// recomputeNextRunsLocked re-arms enabled jobs after a restart. Jobs whose
// slot passed while the process was down keep the stale timestamp so the
// dispatcher fires one catch-up execution.
func (s *Service) recomputeNextRunsLocked() {
	now := nowMs()
	for i := range s.store.Jobs {
		j := &s.store.Jobs[i]
		if !j.Enabled {
			continue
		}
		if j.State.NextRunAtMs == nil {
			j.State.NextRunAtMs = computeNextRun(j.Schedule, now)
		}
		if j.Schedule.Kind == "at" && j.Schedule.AtMs != nil && *j.Schedule.AtMs <= now && j.State.RunCount > 0 {
			// Already fired in a previous life; never re-fire a one-shot.
			j.Enabled = false
			j.State.NextRunAtMs = nil
		}
	}
}

// ---------------------------------------------------------------------------
// Schedule arithmetic

func nowMs() int64 { return time.Now().UnixMilli() }

var cronParser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
)

func parseCronExpr(expr string) (robfigcron.Schedule, error) {
	return cronParser.Parse(expr)
}

// computeNextRun returns the next fire time for a schedule, or nil when the
// schedule can never fire again.
func computeNextRun(sched Schedule, nowMs int64) *int64 {
	switch sched.Kind {
	case "at":
		if sched.AtMs != nil && *sched.AtMs > nowMs {
			v := *sched.AtMs
			return &v
		}
	case "every":
		if sched.EveryMs != nil && *sched.EveryMs > 0 {
			v := nowMs + *sched.EveryMs
			return &v
		}
	case "cron":
		if sched.Expr != nil {
			loc := time.Local
			if sched.TZ != nil && *sched.TZ != "" {
				if l, err := time.LoadLocation(*sched.TZ); err == nil {
					loc = l
				}
			}
			parsed, err := parseCronExpr(*sched.Expr)
			if err == nil {
				next := parsed.Next(time.UnixMilli(nowMs).In(loc)).UnixMilli()
				return &next
			}
		}
	}
	return nil
}
