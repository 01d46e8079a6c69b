package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/oppsync/internal/types"
)

// observerTimeout bounds each observer call after a job terminates.
const observerTimeout = 30 * time.Second

// Observer is told about every job once it is terminal.
type Observer interface {
	JobFinished(ctx context.Context, report types.JobReport) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, report types.JobReport) error

// JobFinished calls f.
func (f ObserverFunc) JobFinished(ctx context.Context, report types.JobReport) error {
	return f(ctx, report)
}

// Spec describes a job to start.
type Spec struct {
	Name     string
	Trigger  types.TriggerKind
	Records  []types.Record
	Pipeline *Pipeline

	// OnSuccess runs after every record has an outcome and the threshold
	// passed, before the job is marked terminal. An error fails the job.
	OnSuccess func(ctx context.Context) error
}

// Runner starts jobs and keeps them addressable until reaped.
type Runner struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	observers []Observer
	wg        sync.WaitGroup

	// Now is the runner clock. Defaults to time.Now.
	Now func() time.Time
}

// NewRunner returns a runner notifying the given observers.
func NewRunner(observers ...Observer) *Runner {
	return &Runner{
		jobs:      make(map[string]*Job),
		observers: observers,
		Now:       time.Now,
	}
}

// AddObserver registers an observer for jobs started afterwards.
func (r *Runner) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Start registers a CREATED job and runs it in the background. The job
// runs on ctx; callers serving a request should detach it first.
func (r *Runner) Start(ctx context.Context, spec Spec) *Job {
	job := newJob(ulid.Make().String(), spec.Name, spec.Trigger, len(spec.Records), r.Now().UTC())

	r.mu.Lock()
	r.jobs[job.id] = job
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, job, spec)
		r.notify(ctx, job, observers)
	}()
	return job
}

func (r *Runner) run(ctx context.Context, job *Job, spec Spec) {
	job.markRunning()
	slog.Info("job started",
		"component", "batch",
		"job", job.name,
		"job_id", job.id,
		"trigger", job.trigger,
		"records", len(spec.Records),
	)

	var g errgroup.Group
	g.SetLimit(spec.Pipeline.opts.Workers)
	for i, rec := range spec.Records {
		g.Go(func() error {
			o := spec.Pipeline.Process(ctx, rec)
			job.record(i, o)
			if o.Outcome == types.OutcomeErrored {
				slog.Warn("record errored",
					"component", "batch",
					"job", job.name,
					"job_id", job.id,
					"source_id", o.SourceID,
					"attempts", o.Attempts,
					"error", o.Error,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	counts := job.Counts()
	status, reason := types.JobSucceeded, ""
	if spec.Pipeline.opts.Exceeded(counts.Errored, counts.Total) {
		status = types.JobFailed
		reason = fmt.Sprintf("%s: %d of %d records errored", ErrThresholdExceeded, counts.Errored, counts.Total)
	} else if spec.OnSuccess != nil {
		if err := spec.OnSuccess(ctx); err != nil {
			status = types.JobFailed
			reason = fmt.Sprintf("on success: %v", err)
		}
	}
	job.finish(status, reason, r.Now().UTC())

	level := slog.LevelInfo
	if status == types.JobFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "job finished",
		"component", "batch",
		"job", job.name,
		"job_id", job.id,
		"status", status,
		"skipped", counts.Skipped,
		"written", counts.Written,
		"errored", counts.Errored,
		"reason", reason,
	)
}

func (r *Runner) notify(ctx context.Context, job *Job, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	report := job.Snapshot()
	for _, o := range observers {
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observerTimeout)
		if err := o.JobFinished(octx, report); err != nil {
			slog.Error("job observer failed",
				"component", "batch",
				"job", job.name,
				"job_id", job.id,
				"error", err,
			)
		}
		cancel()
	}
}

// Job returns a live job by ID.
func (r *Runner) Job(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

// Jobs returns live jobs, newest first.
func (r *Runner) Jobs() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].startedAt.Equal(out[b].startedAt) {
			return out[a].id > out[b].id
		}
		return out[a].startedAt.After(out[b].startedAt)
	})
	return out
}

// Running returns the number of non-terminal jobs.
func (r *Runner) Running() int {
	n := 0
	for _, j := range r.Jobs() {
		if !j.Status().Terminal() {
			n++
		}
	}
	return n
}

// Forget drops a terminal job from the registry. Running jobs are kept.
func (r *Runner) Forget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !j.Status().Terminal() {
		return false
	}
	delete(r.jobs, id)
	return true
}

// Reap forgets every terminal job that finished before cutoff and
// returns how many were removed.
func (r *Runner) Reap(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if j.terminalBefore(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// Wait blocks until every started job has terminated and been observed.
func (r *Runner) Wait() {
	r.wg.Wait()
}
