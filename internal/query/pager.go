package query

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/oppsync/internal/types"
)

// Source runs one page of a query.
type Source interface {
	Query(ctx context.Context, spec Spec) ([]types.Record, error)
}

// Pager walks every page of a spec.
type Pager struct {
	Source   Source
	MaxPages int // 0 means unbounded
}

// Result is the outcome of a full paged read.
type Result struct {
	Records   []types.Record
	Pages     int
	Truncated bool // MaxPages reached before the source ran dry
}

// All reads pages until a short page, an empty page, or MaxPages.
// Records are de-duplicated by Id, so a source that only honors the
// timestamp half of the cursor yields each record once.
func (p Pager) All(ctx context.Context, spec Spec) (Result, error) {
	var res Result
	seen := make(map[string]bool)

	for {
		if p.MaxPages > 0 && res.Pages >= p.MaxPages {
			res.Truncated = true
			return res, nil
		}

		page, err := p.Source.Query(ctx, spec)
		if err != nil {
			return res, fmt.Errorf("query page %d: %w", res.Pages+1, err)
		}
		res.Pages++

		fresh := 0
		for _, r := range page {
			if r.ID != "" && seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			res.Records = append(res.Records, r)
			fresh++
		}

		if len(page) == 0 || spec.Limit <= 0 || len(page) < spec.Limit || fresh == 0 {
			return res, nil
		}
		spec = spec.Next(page[len(page)-1])
	}
}

// Watermark returns the timestamp a poll may safely advance to after
// processing the result. For a complete read that is the newest
// LastModifiedDate. For a truncated read, records sharing the newest
// timestamp may remain unread, so the watermark stops just below it and
// those records are read again next time. ok is false when nothing can
// be advanced.
func (r Result) Watermark() (time.Time, bool) {
	var newest time.Time
	for _, rec := range r.Records {
		if rec.LastModifiedDate.After(newest) {
			newest = rec.LastModifiedDate
		}
	}
	if newest.IsZero() {
		return time.Time{}, false
	}
	if !r.Truncated {
		return newest, true
	}

	var below time.Time
	for _, rec := range r.Records {
		ts := rec.LastModifiedDate
		if ts.Before(newest) && ts.After(below) {
			below = ts
		}
	}
	return below, !below.IsZero()
}

// Stalled reports a truncated read whose records all share one timestamp.
// Its watermark cannot advance, so every later poll reads the same window
// until max_pages or the page size is raised.
func (r Result) Stalled() bool {
	if !r.Truncated || len(r.Records) == 0 {
		return false
	}
	_, ok := r.Watermark()
	return !ok
}
