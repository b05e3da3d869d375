package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

type JobKind string

const (
	KindHarvest JobKind = "harvest"
	KindResume  JobKind = "resume"
	KindGapFill JobKind = "gapfill"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job is one queued unit of work and, once run, its outcome.
type Job struct {
	ID          uuid.UUID              `json:"id"`
	Kind        JobKind                `json:"kind"`
	Log         string                 `json:"log"`
	Request     *history.Request       `json:"request,omitempty"`
	Status      JobStatus              `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Run         *history.RunResult     `json:"run,omitempty"`
	GapFill     *history.GapFillResult `json:"gapFill,omitempty"`
	SubmittedAt time.Time              `json:"submittedAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	FinishedAt  *time.Time             `json:"finishedAt,omitempty"`

	name history.LogName
}

// Runner executes jobs. *history.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req history.Request) (history.RunResult, error)
	Resume(ctx context.Context, name history.LogName, gapFill bool) (history.RunResult, error)
	GapFill(ctx context.Context, name history.LogName) (history.GapFillResult, error)
}

// Queue holds submitted jobs and runs them strictly one at a time in
// submission order.
type Queue struct {
	mu      sync.Mutex
	runMu   sync.Mutex
	runner  Runner
	jobs    map[uuid.UUID]*Job
	order   []uuid.UUID
	pending []uuid.UUID
}

// NewQueue creates an empty queue.
func NewQueue(runner Runner) *Queue {
	return &Queue{
		runner: runner,
		jobs:   make(map[uuid.UUID]*Job),
	}
}

// SubmitHarvest queues a harvest (and gap-fill unless skipped).
func (q *Queue) SubmitHarvest(req history.Request) (Job, error) {
	name, err := history.NewLogName(req.Station, req.Start, req.End)
	if err != nil {
		return Job{}, err
	}
	req.Station = name.Station
	return q.submit(&Job{Kind: KindHarvest, Request: &req, name: name}), nil
}

// SubmitResume queues the continuation of an interrupted log.
func (q *Queue) SubmitResume(name history.LogName) Job {
	return q.submit(&Job{Kind: KindResume, name: name})
}

// SubmitGapFill queues a gap-fill of an existing log.
func (q *Queue) SubmitGapFill(name history.LogName) Job {
	return q.submit(&Job{Kind: KindGapFill, name: name})
}

func (q *Queue) submit(job *Job) Job {
	job.ID = uuid.New()
	job.Log = job.name.String()
	job.Status = StatusQueued
	job.SubmittedAt = time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.pending = append(q.pending, job.ID)
	log.Printf("scheduler: queued %s job %s for %s", job.Kind, job.ID, job.Log)
	return *job
}

// Get returns a snapshot of a job.
func (q *Queue) Get(id uuid.UUID) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns snapshots of all jobs in submission order.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Pending returns the number of jobs waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunPending runs queued jobs until the queue is empty or ctx is done, and
// returns how many it ran. Concurrent callers are serialized.
func (q *Queue) RunPending(ctx context.Context) int {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	ran := 0
	for ctx.Err() == nil {
		job := q.next()
		if job == nil {
			break
		}
		q.execute(ctx, job)
		ran++
	}
	return ran
}

func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	job := q.jobs[id]
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	return job
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	log.Printf("scheduler: running %s job %s for %s", job.Kind, job.ID, job.Log)

	var (
		run *history.RunResult
		gap *history.GapFillResult
		err error
	)
	switch job.Kind {
	case KindHarvest:
		var res history.RunResult
		res, err = q.runner.Run(ctx, *job.Request)
		run = &res
	case KindResume:
		var res history.RunResult
		res, err = q.runner.Resume(ctx, job.name, true)
		run = &res
	case KindGapFill:
		var res history.GapFillResult
		res, err = q.runner.GapFill(ctx, job.name)
		gap = &res
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Run = run
	job.GapFill = gap
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		log.Printf("ERROR: scheduler: %s job %s failed: %v", job.Kind, job.ID, err)
		return
	}
	job.Status = StatusSucceeded
	log.Printf("scheduler: %s job %s completed", job.Kind, job.ID)
}
