// Package query builds incremental source queries from a job's watermark
// and pages through the results with a keyset cursor.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/oppsync/internal/types"
)

// soqlTime is the SOQL datetime literal layout.
const soqlTime = "2006-01-02T15:04:05.000Z"

// Cursor is the (LastModifiedDate, Id) position of the last record of a page.
type Cursor struct {
	LastModifiedDate time.Time
	ID               string
}

// Spec selects records modified strictly after Since, ordered by
// LastModifiedDate then Id, resuming after the cursor when set.
type Spec struct {
	Object string
	Fields []string
	Since  time.Time
	After  *Cursor
	Limit  int
}

// Matches reports whether the record falls inside the query window.
// Limit and ordering are the caller's concern.
func (s Spec) Matches(r types.Record) bool {
	if !r.LastModifiedDate.After(s.Since) {
		return false
	}
	if s.After == nil {
		return true
	}
	return Less(Cursor{LastModifiedDate: s.After.LastModifiedDate, ID: s.After.ID}, Position(r))
}

// Next returns the query for the page following the one that ended with last.
func (s Spec) Next(last types.Record) Spec {
	next := s
	c := Position(last)
	next.After = &c
	return next
}

// Position returns the keyset position of a record.
func Position(r types.Record) Cursor {
	return Cursor{LastModifiedDate: r.LastModifiedDate, ID: r.ID}
}

// Less orders cursors by timestamp, then by Id.
func Less(a, b Cursor) bool {
	if !a.LastModifiedDate.Equal(b.LastModifiedDate) {
		return a.LastModifiedDate.Before(b.LastModifiedDate)
	}
	return a.ID < b.ID
}

// SOQL renders the query as a SOQL statement.
func (s Spec) SOQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.selectFields(), ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.Object)
	fmt.Fprintf(&b, " WHERE LastModifiedDate > %s", s.Since.UTC().Format(soqlTime))
	if s.After != nil {
		ts := s.After.LastModifiedDate.UTC().Format(soqlTime)
		fmt.Fprintf(&b, " AND (LastModifiedDate > %s OR (LastModifiedDate = %s AND Id > '%s'))",
			ts, ts, strings.ReplaceAll(s.After.ID, "'", `\'`))
	}
	b.WriteString(" ORDER BY LastModifiedDate ASC, Id ASC")
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String()
}

// selectFields always includes Id and LastModifiedDate, which the
// cursor and watermark depend on.
func (s Spec) selectFields() []string {
	fields := []string{types.FieldID}
	seen := map[string]bool{types.FieldID: true, types.FieldLastModifiedDate: true}
	for _, f := range s.Fields {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return append(fields, types.FieldLastModifiedDate)
}

// WatermarkReader supplies the current watermark for a job.
type WatermarkReader interface {
	Get(ctx context.Context, jobName string) (time.Time, error)
}

// Builder produces the first-page spec for a job.
type Builder struct {
	Object     string
	Fields     []string
	PageSize   int
	Watermarks WatermarkReader
}

// Build reads the job's watermark and returns the first-page spec.
func (b *Builder) Build(ctx context.Context, jobName string) (Spec, error) {
	since, err := b.Watermarks.Get(ctx, jobName)
	if err != nil {
		return Spec{}, fmt.Errorf("read watermark for %s: %w", jobName, err)
	}
	return Spec{
		Object: b.Object,
		Fields: b.Fields,
		Since:  since,
		Limit:  b.PageSize,
	}, nil
}
