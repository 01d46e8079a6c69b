package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/outbound"
	"github.com/hyperengineering/oppsync/internal/types"
)

// Pusher turns pushed notifications into one-record batch jobs.
type Pusher struct {
	bindings     map[string]*Binding
	runner       *batch.Runner
	awaitTimeout time.Duration
	orgID        string
}

// NewPusher creates a pusher. awaitTimeout bounds how long Push waits for
// each record's job; orgID, when set, is the only organization accepted.
func NewPusher(runner *batch.Runner, awaitTimeout time.Duration, orgID string, bindings ...*Binding) *Pusher {
	p := &Pusher{
		bindings:     make(map[string]*Binding, len(bindings)),
		runner:       runner,
		awaitTimeout: awaitTimeout,
		orgID:        orgID,
	}
	for _, b := range bindings {
		p.bindings[b.Config.Name] = b
	}
	return p
}

// Push decodes payload and runs every contained record as its own job of
// jobName, then waits for each job up to the await timeout. A payload that
// cannot be decoded fails with outbound.ErrDecode before any job starts.
// Results are returned in payload order.
func (p *Pusher) Push(ctx context.Context, jobName string, payload []byte, contentType string) ([]types.PushResult, error) {
	b, ok := p.bindings[jobName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobName)
	}

	msg, err := outbound.Decode(payload, contentType)
	if err != nil {
		return nil, err
	}
	if p.orgID != "" && msg.OrganizationID != p.orgID {
		return nil, fmt.Errorf("%w: %q", ErrOrganizationNotAllowed, msg.OrganizationID)
	}

	detached := context.WithoutCancel(ctx)
	jobs := make([]*batch.Job, len(msg.Records))
	for i, rec := range msg.Records {
		jobs[i] = p.runner.Start(detached, batch.Spec{
			Name:     jobName,
			Trigger:  types.TriggerPush,
			Records:  []types.Record{rec},
			Pipeline: b.Pipeline,
		})
	}

	results := make([]types.PushResult, len(jobs))
	deadline := time.Now().Add(p.awaitTimeout)
	for i, job := range jobs {
		rec := msg.Records[i]
		res := types.PushResult{Name: rec.Name(), SourceID: rec.ID, JobID: job.ID()}

		status, err := job.AwaitTermination(ctx, p.remaining(deadline))
		res.Status = status
		if err != nil {
			res.Error = err.Error()
			if !errors.Is(err, batch.ErrJobTimeout) {
				slog.Warn("push await interrupted",
					"component", "trigger",
					"job", jobName,
					"job_id", job.ID(),
					"error", err,
				)
			}
		}
		if snap := job.Snapshot(); len(snap.Outcomes) == 1 {
			o := snap.Outcomes[0]
			res.Outcome, res.Action, res.TargetID = o.Outcome, o.Action, o.TargetID
			if res.Error == "" {
				res.Error = o.Error
			}
			if res.Error == "" {
				res.Error = snap.Error
			}
		}
		results[i] = res
	}

	slog.Info("push processed",
		"component", "trigger",
		"job", jobName,
		"format", msg.Format,
		"records", len(msg.Records),
	)
	return results, nil
}

// remaining is the share of the await budget left at this point. A
// non-positive await timeout waits on the caller's context alone.
func (p *Pusher) remaining(deadline time.Time) time.Duration {
	if p.awaitTimeout <= 0 {
		return 0
	}
	return max(time.Until(deadline), time.Nanosecond)
}

// Succeeded reports whether every result's job succeeded.
func Succeeded(results []types.PushResult) bool {
	for _, r := range results {
		if r.Status != types.JobSucceeded {
			return false
		}
	}
	return true
}
