package batch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/transform"
	"github.com/hyperengineering/oppsync/internal/types"
	"github.com/hyperengineering/oppsync/internal/upsert"
	"github.com/hyperengineering/oppsync/internal/validation"
)

// Options tunes record processing and the job failure threshold.
type Options struct {
	Workers            int
	WriteTimeout       time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	MaxWritesPerSecond float64 // 0 means unlimited
	MaxFailedRecords   int     // -1 means unlimited
	MaxFailedPercent   float64 // takes precedence when > 0
}

// OptionsFromConfig extracts runner options from a job definition.
func OptionsFromConfig(j config.JobConfig) Options {
	return Options{
		Workers:            j.Workers,
		WriteTimeout:       j.WriteTimeout.Std(),
		MaxRetries:         j.MaxRetries,
		RetryBaseDelay:     j.RetryBaseDelay.Std(),
		MaxWritesPerSecond: j.MaxWritesPerSecond,
		MaxFailedRecords:   j.MaxFailedRecords,
		MaxFailedPercent:   j.MaxFailedPercent,
	}
}

// Exceeded reports whether errored out of total records fails the job.
func (o Options) Exceeded(errored, total int) bool {
	if errored == 0 {
		return false
	}
	if o.MaxFailedPercent > 0 {
		return float64(errored)*100/float64(total) > o.MaxFailedPercent
	}
	if o.MaxFailedRecords < 0 {
		return false
	}
	return errored > o.MaxFailedRecords
}

// Pipeline runs one record through validation, the stage and the upsert.
// A pipeline is built once per job definition so that its rate limit is
// shared by every job of that name.
type Pipeline struct {
	stage    *transform.Stage
	resolver *upsert.Resolver
	limiter  *rate.Limiter
	opts     Options
}

// NewPipeline returns a pipeline with the given stage, resolver and options.
func NewPipeline(stage *transform.Stage, resolver *upsert.Resolver, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	limit := rate.Inf
	burst := 1
	if opts.MaxWritesPerSecond > 0 {
		limit = rate.Limit(opts.MaxWritesPerSecond)
		burst = max(1, int(opts.MaxWritesPerSecond))
	}
	return &Pipeline{
		stage:    stage,
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, burst),
		opts:     opts,
	}
}

// Options returns the pipeline options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Process handles one record and returns its outcome. It never returns
// an error: failures are captured in the outcome.
func (p *Pipeline) Process(ctx context.Context, rec types.Record) types.RecordOutcome {
	out := types.RecordOutcome{SourceID: rec.ID, Name: rec.Name()}

	if err := validation.CheckRecord(rec); err != nil {
		out.Outcome = types.OutcomeErrored
		out.Error = err.Error()
		return out
	}

	mapped, ok := p.stage.Apply(rec)
	if !ok {
		out.Outcome = types.OutcomeSkipped
		return out
	}

	type written struct {
		decision upsert.Decision
		id       string
	}
	backoff := retry.WithMaxRetries(uint64(p.opts.MaxRetries), retry.NewExponential(p.retryBase()))
	res, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (written, error) {
		out.Attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			return written{}, err
		}
		wctx, cancel := p.writeContext(ctx)
		defer cancel()

		d, id, err := p.resolver.Upsert(wctx, mapped)
		if err != nil {
			if org.IsTransient(err) && ctx.Err() == nil {
				return written{}, retry.RetryableError(err)
			}
			return written{}, err
		}
		return written{decision: d, id: id}, nil
	})
	if err != nil {
		out.Outcome = types.OutcomeErrored
		out.Error = err.Error()
		return out
	}

	out.Outcome = types.OutcomeWritten
	out.Action = res.decision.Action
	out.TargetID = res.id
	return out
}

func (p *Pipeline) retryBase() time.Duration {
	if p.opts.RetryBaseDelay > 0 {
		return p.opts.RetryBaseDelay
	}
	return 100 * time.Millisecond
}

func (p *Pipeline) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.WriteTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.WriteTimeout)
	}
	return context.WithCancel(ctx)
}
