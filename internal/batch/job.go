package batch

import (
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/oppsync/internal/types"
)

// Job is one execution of the pipeline over a fixed record set.
// State moves CREATED -> RUNNING -> SUCCEEDED | FAILED and never back.
type Job struct {
	id      string
	name    string
	trigger types.TriggerKind

	mu         sync.RWMutex
	status     types.JobStatus
	outcomes   []types.RecordOutcome
	recorded   []bool
	counts     types.OutcomeCounts
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time

	done chan struct{}
}

func newJob(id, name string, trigger types.TriggerKind, size int, now time.Time) *Job {
	return &Job{
		id:        id,
		name:      name,
		trigger:   trigger,
		status:    types.JobCreated,
		outcomes:  make([]types.RecordOutcome, size),
		recorded:  make([]bool, size),
		startedAt: now,
		done:      make(chan struct{}),
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Name returns the job definition name.
func (j *Job) Name() string { return j.name }

// Trigger returns how the job was started.
func (j *Job) Trigger() types.TriggerKind { return j.trigger }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the current state.
func (j *Job) Status() types.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// IsSuccessful reports whether the job terminated with SUCCEEDED.
func (j *Job) IsSuccessful() bool {
	return j.Status() == types.JobSucceeded
}

// Counts returns the outcome counts recorded so far.
func (j *Job) Counts() types.OutcomeCounts {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.counts
}

// Snapshot returns the observable state, including recorded outcomes in
// record order.
func (j *Job) Snapshot() types.JobReport {
	j.mu.RLock()
	defer j.mu.RUnlock()

	r := types.JobReport{
		ID:        j.id,
		Name:      j.name,
		Trigger:   j.trigger,
		Status:    j.status,
		Counts:    j.counts,
		Error:     j.errMsg,
		StartedAt: j.startedAt,
	}
	if !j.finishedAt.IsZero() {
		f := j.finishedAt
		r.FinishedAt = &f
	}
	for i, o := range j.outcomes {
		if j.recorded[i] {
			r.Outcomes = append(r.Outcomes, o)
		}
	}
	return r
}

// AwaitTermination blocks until the job is terminal, the timeout elapses
// (ErrJobTimeout) or ctx ends. A non-positive timeout waits on ctx alone.
// Giving up never cancels the job's writes.
func (j *Job) AwaitTermination(ctx context.Context, timeout time.Duration) (types.JobStatus, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-j.done:
		return j.Status(), nil
	case <-expired:
		return j.Status(), ErrJobTimeout
	case <-ctx.Done():
		return j.Status(), ctx.Err()
	}
}

func (j *Job) markRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = types.JobRunning
}

func (j *Job) record(i int, o types.RecordOutcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[i] = o
	j.recorded[i] = true
	j.counts.Add(o)
}

func (j *Job) finish(status types.JobStatus, errMsg string, now time.Time) {
	j.mu.Lock()
	j.status = status
	j.errMsg = errMsg
	j.finishedAt = now
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) terminalBefore(cutoff time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.Terminal() && j.finishedAt.Before(cutoff)
}
