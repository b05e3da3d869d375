package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (r *fakeRunner) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRunner) Run(_ context.Context, req history.Request) (history.RunResult, error) {
	r.record("run " + req.Station)
	return history.RunResult{}, r.fail
}

func (r *fakeRunner) Resume(_ context.Context, name history.LogName, gapFill bool) (history.RunResult, error) {
	r.record("resume " + name.String())
	return history.RunResult{}, r.fail
}

func (r *fakeRunner) GapFill(_ context.Context, name history.LogName) (history.GapFillResult, error) {
	r.record("gapfill " + name.String())
	return history.GapFillResult{Log: name, Complete: true}, r.fail
}

func day(t *testing.T, s string) history.Date {
	t.Helper()
	d, err := history.ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestQueueRunsInSubmissionOrder(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner)

	harvest, err := q.SubmitHarvest(history.Request{Station: "ksfo", Start: day(t, "2019-06-01"), End: day(t, "2019-06-03")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, _ := history.ParseLogName("KOAK_2019-01-01_2019-01-31.csv")
	gap := q.SubmitGapFill(name)
	q.SubmitResume(name)

	if harvest.Log != "KSFO_2019-06-01_2019-06-03.csv" || harvest.Request.Station != "KSFO" {
		t.Fatalf("unexpected harvest job %+v", harvest)
	}
	if n := q.Pending(); n != 3 {
		t.Fatalf("expected 3 pending jobs, got %d", n)
	}

	if n := q.RunPending(context.Background()); n != 3 {
		t.Fatalf("expected 3 jobs to run, got %d", n)
	}
	want := []string{"run KSFO", "gapfill KOAK_2019-01-01_2019-01-31.csv", "resume KOAK_2019-01-01_2019-01-31.csv"}
	for i, call := range want {
		if runner.calls[i] != call {
			t.Fatalf("expected calls %v, got %v", want, runner.calls)
		}
	}

	job, err := q.Get(gap.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusSucceeded || job.GapFill == nil || !job.GapFill.Complete {
		t.Fatalf("unexpected job state %+v", job)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatalf("expected timestamps on a finished job")
	}
	if q.Pending() != 0 || len(q.List()) != 3 {
		t.Fatalf("expected empty queue and 3 listed jobs")
	}
}

func TestQueueRecordsFailure(t *testing.T) {
	runner := &fakeRunner{fail: errors.New("fetch KSFO: 503")}
	q := NewQueue(runner)

	job, err := q.SubmitHarvest(history.Request{Station: "KSFO", Start: day(t, "2019-06-01"), End: day(t, "2019-06-01")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q.RunPending(context.Background())

	job, _ = q.Get(job.ID)
	if job.Status != StatusFailed || job.Error != "fetch KSFO: 503" {
		t.Fatalf("unexpected job state %+v", job)
	}
}

func TestQueueRejectsInvalidHarvest(t *testing.T) {
	q := NewQueue(&fakeRunner{})
	_, err := q.SubmitHarvest(history.Request{Station: "KSFO", Start: day(t, "2019-06-03"), End: day(t, "2019-06-01")})
	if !errors.Is(err, history.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if q.Pending() != 0 {
		t.Fatalf("nothing should be queued")
	}
}

func TestQueueStopsWhenCancelled(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner)
	q.SubmitGapFill(history.LogName{Station: "KSFO", Start: day(t, "2019-06-01"), End: day(t, "2019-06-01")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := q.RunPending(ctx); n != 0 {
		t.Fatalf("expected no jobs to run, got %d", n)
	}
	if q.Pending() != 1 {
		t.Fatalf("job should stay queued")
	}
}

func TestQueueGetUnknown(t *testing.T) {
	if _, err := NewQueue(&fakeRunner{}).Get(uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEnqueueDaily(t *testing.T) {
	q := NewQueue(&fakeRunner{})
	s := New(q, time.Second, []string{"KSFO", "KOAK"}, "06:00")
	defer s.Stop()

	s.EnqueueDaily(time.Date(2020, time.March, 1, 6, 0, 0, 0, time.UTC))

	jobs := q.List()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Log != "KSFO_2020-02-29_2020-02-29.csv" || jobs[1].Log != "KOAK_2020-02-29_2020-02-29.csv" {
		t.Fatalf("unexpected jobs %s, %s", jobs[0].Log, jobs[1].Log)
	}
}

func TestSchedulerDrainsQueue(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner)
	q.SubmitGapFill(history.LogName{Station: "KSFO", Start: day(t, "2019-06-01"), End: day(t, "2019-06-01")})

	s := New(q, 10*time.Millisecond, nil, "")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for q.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if q.Pending() != 0 {
		t.Fatalf("scheduler did not drain the queue")
	}
}
