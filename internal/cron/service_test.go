package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(filepath.Join(t.TempDir(), "jobs.json"), nil)
}

func mustAdd(t *testing.T, s *Service, name, kind string, everyMs, atMs int64, expr string) string {
	t.Helper()
	id, err := s.AddJob(name, "do the thing", kind, everyMs, expr, "", atMs, false, "", "", kind == "at")
	if err != nil {
		t.Fatalf("AddJob(%s): %v", name, err)
	}
	return id
}

func findJob(t *testing.T, s *Service, id string) Job {
	t.Helper()
	for _, j := range s.ListAllJobs(true) {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %s not found", id)
	return Job{}
}

// forceDue rewinds a job's next-run slot so the dispatcher sees it as due.
func forceDue(s *Service, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	past := time.Now().Add(-time.Second).UnixMilli()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == id {
			s.store.Jobs[i].State.NextRunAtMs = &past
		}
	}
}

// ─── AddJob ───

func TestAddJobEvery(t *testing.T) {
	s := newTestService(t)
	id, err := s.AddJob("tick", "ping", "every", 60_000, "", "", 0, false, "", "", false)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	job := findJob(t, s, id)
	if !job.Enabled {
		t.Error("new job should be enabled")
	}
	if job.Schedule.EveryMs == nil || *job.Schedule.EveryMs != 60_000 {
		t.Error("interval not persisted")
	}
	if job.State.NextRunAtMs == nil {
		t.Fatal("next run not computed")
	}
	if next := *job.State.NextRunAtMs; next <= time.Now().UnixMilli() {
		t.Errorf("next run %d should be in the future", next)
	}
}

func TestAddJobAt(t *testing.T) {
	s := newTestService(t)
	at := time.Now().Add(time.Hour).UnixMilli()
	id, err := s.AddJob("once", "remind me", "at", 0, "", "", at, false, "", "", true)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	job := findJob(t, s, id)
	if !job.DeleteAfterRun {
		t.Error("at-job should carry deleteAfterRun")
	}
	if job.State.NextRunAtMs == nil || *job.State.NextRunAtMs != at {
		t.Error("at-job should fire exactly at its timestamp")
	}
}

func TestAddJobCron(t *testing.T) {
	s := newTestService(t)
	id, err := s.AddJob("daily", "morning brief", "cron", 0, "0 9 * * *", "", 0, false, "", "", false)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	job := findJob(t, s, id)
	if job.State.NextRunAtMs == nil {
		t.Fatal("cron job needs a next run")
	}
	next := time.UnixMilli(*job.State.NextRunAtMs)
	if next.Minute() != 0 || next.Hour() != 9 {
		t.Errorf("next run %v should land on 09:00", next)
	}
}

func TestAddJobRejectsBadInput(t *testing.T) {
	s := newTestService(t)
	if _, err := s.AddJob("x", "m", "weekly", 0, "", "", 0, false, "", "", false); err == nil {
		t.Error("unknown kind should be rejected")
	}
	if _, err := s.AddJob("x", "m", "every", 0, "", "", 0, false, "", "", false); err == nil {
		t.Error("zero interval should be rejected")
	}
	if _, err := s.AddJob("x", "m", "cron", 0, "not a cron", "", 0, false, "", "", false); err == nil {
		t.Error("bad expression should be rejected")
	}
	if _, err := s.AddJob("x", "m", "cron", 0, "0 9 * * *", "Mars/Olympus", 0, false, "", "", false); err == nil {
		t.Error("unknown timezone should be rejected")
	}
}

// ─── List / Remove / Enable ───

func TestListJobsFiltersDisabled(t *testing.T) {
	s := newTestService(t)
	a := mustAdd(t, s, "a", "every", 1000, 0, "")
	b := mustAdd(t, s, "b", "every", 1000, 0, "")
	s.EnableJob(b, false)

	enabled := s.ListJobs(false)
	if len(enabled) != 1 || enabled[0].ID != a {
		t.Errorf("expected only %s, got %v", a, enabled)
	}
	if all := s.ListJobs(true); len(all) != 2 {
		t.Errorf("expected 2 with disabled, got %d", len(all))
	}
}

func TestRemoveJob(t *testing.T) {
	s := newTestService(t)
	id := mustAdd(t, s, "gone", "every", 1000, 0, "")

	if !s.RemoveJob(id) {
		t.Error("remove should report true for an existing job")
	}
	if s.RemoveJob(id) {
		t.Error("remove should report false for a missing job")
	}
	if len(s.ListAllJobs(true)) != 0 {
		t.Error("job should be gone")
	}
}

func TestEnableJobRearmsSchedule(t *testing.T) {
	s := newTestService(t)
	id := mustAdd(t, s, "toggle", "every", 60_000, 0, "")

	s.EnableJob(id, false)
	if j := findJob(t, s, id); j.Enabled || j.State.NextRunAtMs != nil {
		t.Error("disabling should clear the next run slot")
	}

	s.EnableJob(id, true)
	if j := findJob(t, s, id); !j.Enabled || j.State.NextRunAtMs == nil {
		t.Error("re-enabling should recompute the next run slot")
	}

	if s.EnableJob("nope", true) {
		t.Error("unknown id should report false")
	}
}

func TestListAllJobsSortedByNextRun(t *testing.T) {
	s := newTestService(t)
	late := mustAdd(t, s, "late", "at", 0, time.Now().Add(2*time.Hour).UnixMilli(), "")
	soon := mustAdd(t, s, "soon", "at", 0, time.Now().Add(time.Minute).UnixMilli(), "")

	jobs := s.ListAllJobs(true)
	if len(jobs) != 2 || jobs[0].ID != soon || jobs[1].ID != late {
		t.Errorf("expected [%s %s], got %v", soon, late, jobs)
	}
}

// ─── Persistence ───

func TestCatalogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s1 := NewService(path, nil)
	id, err := s1.AddJob("persist", "hello", "every", 5000, "", "", 0, true, "telegram", "12345", false)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("catalog not written: %v", err)
	}
	var st catalog
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("catalog not valid JSON: %v", err)
	}
	if st.Version != 1 {
		t.Errorf("version = %d, want 1", st.Version)
	}

	s2 := NewService(path, nil)
	job := findJob(t, s2, id)
	if job.Name != "persist" || !job.Payload.Deliver {
		t.Error("reloaded job lost fields")
	}
	if job.Payload.To == nil || *job.Payload.To != "12345" {
		t.Error("delivery target lost")
	}
}

func TestLoadMissingAndMalformedCatalog(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "absent", "jobs.json"), nil)
	if jobs := s.ListAllJobs(true); len(jobs) != 0 {
		t.Errorf("missing catalog should load empty, got %d jobs", len(jobs))
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s2 := NewService(path, nil)
	if jobs := s2.ListAllJobs(true); len(jobs) != 0 {
		t.Errorf("malformed catalog should load empty, got %d jobs", len(jobs))
	}
}

// ─── Schedule arithmetic ───

func TestComputeNextRun(t *testing.T) {
	now := time.Now().UnixMilli()

	every := int64(30_000)
	if next := computeNextRun(Schedule{Kind: "every", EveryMs: &every}, now); next == nil || *next != now+30_000 {
		t.Error("every schedule should fire one interval out")
	}

	future := now + 10_000
	if next := computeNextRun(Schedule{Kind: "at", AtMs: &future}, now); next == nil || *next != future {
		t.Error("future at-schedule should fire at its timestamp")
	}
	past := now - 10_000
	if next := computeNextRun(Schedule{Kind: "at", AtMs: &past}, now); next != nil {
		t.Error("expired at-schedule should never fire")
	}

	expr := "*/5 * * * *"
	next := computeNextRun(Schedule{Kind: "cron", Expr: &expr}, now)
	if next == nil {
		t.Fatal("cron schedule should produce a next run")
	}
	if m := time.UnixMilli(*next).Minute(); m%5 != 0 {
		t.Errorf("next minute %d should be a multiple of 5", m)
	}

	if next := computeNextRun(Schedule{Kind: "bogus"}, now); next != nil {
		t.Error("unknown kind should produce no next run")
	}
}

// ─── Execution ───

func TestFireDueUpdatesState(t *testing.T) {
	s := newTestService(t)
	var fired []string
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) {
		fired = append(fired, job.ID)
		return "done", nil
	})

	id := mustAdd(t, s, "tick", "every", 60_000, 0, "")
	forceDue(s, id)
	s.fireDue(context.Background())

	if len(fired) != 1 || fired[0] != id {
		t.Fatalf("expected one fire of %s, got %v", id, fired)
	}
	job := findJob(t, s, id)
	if job.State.RunCount != 1 {
		t.Errorf("runCount = %d, want 1", job.State.RunCount)
	}
	if job.State.LastRunAtMs == nil {
		t.Error("lastRunAt not recorded")
	}
	if job.State.LastStatus == nil || *job.State.LastStatus != "ok" {
		t.Error("lastStatus should be ok")
	}
	if job.State.NextRunAtMs == nil || *job.State.NextRunAtMs <= time.Now().Add(-time.Second).UnixMilli() {
		t.Error("interval job should re-arm after firing")
	}
}

func TestFireDueLexicographicOrder(t *testing.T) {
	s := newTestService(t)
	var order []string
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) {
		order = append(order, job.ID)
		return "", nil
	})

	a := mustAdd(t, s, "one", "every", 60_000, 0, "")
	b := mustAdd(t, s, "two", "every", 60_000, 0, "")
	forceDue(s, a)
	forceDue(s, b)
	s.fireDue(context.Background())

	want0, want1 := a, b
	if b < a {
		want0, want1 = b, a
	}
	if len(order) != 2 || order[0] != want0 || order[1] != want1 {
		t.Errorf("fire order %v, want [%s %s]", order, want0, want1)
	}
}

func TestAtJobFiresOnceAndDisables(t *testing.T) {
	s := newTestService(t)
	fires := 0
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) {
		fires++
		return "reminder sent", nil
	})

	at := time.Now().Add(time.Minute).UnixMilli()
	id, err := s.AddJob("remind", "water the plants", "at", 0, "", "", at, false, "", "", false)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	forceDue(s, id)
	s.fireDue(context.Background())
	s.fireDue(context.Background())

	if fires != 1 {
		t.Fatalf("one-shot fired %d times, want 1", fires)
	}
	job := findJob(t, s, id)
	if job.Enabled {
		t.Error("one-shot should disable itself after firing")
	}
	if job.State.RunCount != 1 {
		t.Errorf("runCount = %d, want 1", job.State.RunCount)
	}
	if job.State.NextRunAtMs != nil {
		t.Error("one-shot should have no next run after firing")
	}
}

func TestAtJobDeleteAfterRun(t *testing.T) {
	s := newTestService(t)
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) { return "", nil })

	id := mustAdd(t, s, "ephemeral", "at", 0, time.Now().Add(time.Minute).UnixMilli(), "")
	forceDue(s, id)
	s.fireDue(context.Background())

	for _, j := range s.ListAllJobs(true) {
		if j.ID == id {
			t.Fatal("deleteAfterRun job should be removed from the catalog")
		}
	}
}

func TestFireDueRecordsError(t *testing.T) {
	s := newTestService(t)
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) {
		return "", context.DeadlineExceeded
	})

	id := mustAdd(t, s, "broken", "every", 60_000, 0, "")
	forceDue(s, id)
	s.fireDue(context.Background())

	job := findJob(t, s, id)
	if job.State.LastStatus == nil || *job.State.LastStatus != "error" {
		t.Error("failed job should record error status")
	}
	if job.State.LastError == nil {
		t.Error("failed job should record the error text")
	}
	if job.State.NextRunAtMs == nil {
		t.Error("a failing interval job still re-arms")
	}
}

func TestRunJobRespectsDisabled(t *testing.T) {
	s := newTestService(t)
	fires := 0
	s.SetOnJob(func(ctx context.Context, job Job) (string, error) {
		fires++
		return "", nil
	})

	id := mustAdd(t, s, "manual", "every", 60_000, 0, "")
	s.EnableJob(id, false)

	if s.RunJob(context.Background(), id, false) {
		t.Error("disabled job should not run without force")
	}
	if !s.RunJob(context.Background(), id, true) {
		t.Error("force should run a disabled job")
	}
	if fires != 1 {
		t.Errorf("fires = %d, want 1", fires)
	}
	if s.RunJob(context.Background(), "missing", true) {
		t.Error("unknown id should report false")
	}
}

func TestRecomputeSkipsSpentOneShot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s1 := NewService(path, nil)
	s1.SetOnJob(func(ctx context.Context, job Job) (string, error) { return "", nil })

	at := time.Now().Add(time.Minute).UnixMilli()
	id, err := s1.AddJob("once", "m", "at", 0, "", "", at, false, "", "", false)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	forceDue(s1, id)
	s1.fireDue(context.Background())

	// Restart: the spent one-shot must stay disabled even though its
	// timestamp is in the past.
	s2 := NewService(path, nil)
	s2.mu.Lock()
	s2.loadLocked()
	s2.recomputeNextRunsLocked()
	s2.mu.Unlock()

	job := findJob(t, s2, id)
	if job.Enabled || job.State.NextRunAtMs != nil {
		t.Error("spent one-shot must not re-arm on restart")
	}
	if job.State.RunCount != 1 {
		t.Errorf("runCount = %d, want 1", job.State.RunCount)
	}
}
