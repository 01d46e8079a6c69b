package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/types"
	"github.com/hyperengineering/oppsync/internal/watermark"
)

// Poller runs one job on a schedule: read the watermark, page through the
// source, start a batch job whose success advances the watermark.
type Poller struct {
	binding    *Binding
	source     query.Source
	runner     *batch.Runner
	watermarks *watermark.Store

	mu      sync.Mutex
	polling bool       // between the lock check and job start
	current *batch.Job // last job started; busy until terminal
}

// NewPoller creates a poller for a bound job.
func NewPoller(b *Binding, source query.Source, runner *batch.Runner, wm *watermark.Store) *Poller {
	return &Poller{binding: b, source: source, runner: runner, watermarks: wm}
}

// Name returns the job name.
func (p *Poller) Name() string {
	return p.binding.Config.Name
}

// PollOnce reads every change since the watermark and starts a job for
// it. It returns ErrPollInProgress while an earlier job of this poller is
// still running. The job runs detached from ctx's cancellation.
func (p *Poller) PollOnce(ctx context.Context) (*batch.Job, error) {
	if !p.acquire() {
		return nil, ErrPollInProgress
	}

	name := p.Name()
	spec, err := p.binding.Builder.Build(ctx, name)
	if err != nil {
		p.release(nil)
		return nil, err
	}

	res, err := query.Pager{Source: p.source, MaxPages: p.binding.Config.MaxPages}.All(ctx, spec)
	if err != nil {
		p.release(nil)
		return nil, fmt.Errorf("poll %s: %w", name, err)
	}
	switch {
	case res.Stalled():
		slog.Error("poll truncated within one timestamp, watermark cannot advance",
			"component", "trigger",
			"job", name,
			"pages", res.Pages,
			"records", len(res.Records),
			"since", spec.Since,
		)
	case res.Truncated:
		slog.Warn("poll truncated at page limit",
			"component", "trigger",
			"job", name,
			"pages", res.Pages,
			"records", len(res.Records),
		)
	}

	job := p.runner.Start(context.WithoutCancel(ctx), batch.Spec{
		Name:     name,
		Trigger:  types.TriggerPoll,
		Records:  res.Records,
		Pipeline: p.binding.Pipeline,
		OnSuccess: func(ctx context.Context) error {
			ts, ok := res.Watermark()
			if !ok {
				return nil
			}
			_, err := p.watermarks.Set(ctx, name, ts)
			return err
		},
	})

	p.release(job)

	slog.Debug("poll started job",
		"component", "trigger",
		"job", name,
		"job_id", job.ID(),
		"since", spec.Since,
		"records", len(res.Records),
	)
	return job, nil
}

// acquire reserves the poller unless a poll is being prepared or the last
// job has not reached a terminal state.
func (p *Poller) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polling || (p.current != nil && !p.current.Status().Terminal()) {
		return false
	}
	p.polling = true
	return true
}

// release ends the reservation. A nil job keeps the previous one current.
func (p *Poller) release(job *batch.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polling = false
	if job != nil {
		p.current = job
	}
}

// Run polls after the start delay and then at the poll frequency until ctx
// is cancelled. A tick that finds the previous job still running is skipped.
func (p *Poller) Run(ctx context.Context) {
	cfg := p.binding.Config
	slog.Info("poller started",
		"component", "worker",
		"worker", "poller",
		"job", cfg.Name,
		"frequency", cfg.PollFrequency.Std().String(),
		"start_delay", cfg.PollStartDelay.Std().String(),
	)

	delay := time.NewTimer(cfg.PollStartDelay.Std())
	defer delay.Stop()
	select {
	case <-ctx.Done():
		p.stopped()
		return
	case <-delay.C:
	}
	p.tick(ctx)

	ticker := time.NewTicker(cfg.PollFrequency.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stopped()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	_, err := p.PollOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPollInProgress):
		slog.Warn("skipping poll, previous job still running",
			"component", "worker",
			"worker", "poller",
			"job", p.Name(),
		)
	case ctx.Err() != nil:
		// shutting down
	default:
		slog.Error("poll failed",
			"component", "worker",
			"worker", "poller",
			"job", p.Name(),
			"error", err,
		)
	}
}

func (p *Poller) stopped() {
	slog.Info("poller stopped",
		"component", "worker",
		"worker", "poller",
		"job", p.Name(),
		"reason", "context_cancelled",
	)
}
