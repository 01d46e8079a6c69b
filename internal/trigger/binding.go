// Package trigger starts batch jobs, either by polling the source org for
// changes since a job's watermark or from pushed change notifications.
package trigger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/filter"
	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/transform"
	"github.com/hyperengineering/oppsync/internal/upsert"
	"github.com/hyperengineering/oppsync/internal/watermark"
)

var (
	// ErrUnknownJob is returned for a job name absent from the config.
	ErrUnknownJob = errors.New("unknown job")

	// ErrPollInProgress is returned while a previous poll of the same job
	// has not reached a terminal state.
	ErrPollInProgress = errors.New("poll already in progress")

	// ErrOrganizationNotAllowed rejects a push from an organization other
	// than the configured one.
	ErrOrganizationNotAllowed = errors.New("organization not allowed")
)

// Binding is one configured job wired to the target org. It is built once
// per job so that every job of that name shares a pipeline and rate limit.
type Binding struct {
	Config   config.JobConfig
	Pipeline *batch.Pipeline
	Builder  *query.Builder
}

// Bind compiles the job's filter and wires stage, resolver and pipeline.
// The job's default watermark offset is registered with wm.
func Bind(cfg config.JobConfig, target org.Client, wm *watermark.Store) (*Binding, error) {
	pred, err := filter.New(cfg.Filter.Expression, cfg.Filter.Predicate, cfg.Filter.Params)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", cfg.Name, err)
	}
	mapping := transform.Mapping{Shared: cfg.Mapping.Shared, Renamed: cfg.Mapping.Renamed}
	stage := transform.NewStage(pred, mapping)
	resolver := upsert.NewResolver(target, cfg.BusinessKey)

	wm.SetDefaultOffset(cfg.Name, cfg.WatermarkDefaultOffset.Std())

	return &Binding{
		Config:   cfg,
		Pipeline: batch.NewPipeline(stage, resolver, batch.OptionsFromConfig(cfg)),
		Builder: &query.Builder{
			Object:     cfg.Object,
			Fields:     queryFields(cfg.Fields, mapping.SourceFields()),
			PageSize:   cfg.PageSize,
			Watermarks: wm,
		},
	}, nil
}

// queryFields is the union of the configured fields and the fields the
// mapping reads, so a mapped field is never silently absent.
func queryFields(configured, mapped []string) []string {
	seen := make(map[string]bool, len(configured)+len(mapped))
	var out []string
	for _, f := range append(append([]string(nil), configured...), mapped...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
