package query

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/oppsync/internal/types"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func rec(id string, offset time.Duration) types.Record {
	r := types.NewRecord(map[string]any{types.FieldName: "opp-" + id})
	r.ID = id
	r.LastModifiedDate = base.Add(offset)
	return r
}

type fixedWatermark struct {
	ts  time.Time
	err error
}

func (f fixedWatermark) Get(context.Context, string) (time.Time, error) {
	return f.ts, f.err
}

// sliceSource answers queries from a fixed record set the way an org does.
type sliceSource struct {
	records      []types.Record
	ignoreCursor bool // honor only the watermark, as a timestamp-only org would
	calls        int
}

func (s *sliceSource) Query(_ context.Context, spec Spec) ([]types.Record, error) {
	s.calls++
	sorted := append([]types.Record(nil), s.records...)
	sort.Slice(sorted, func(i, j int) bool { return Less(Position(sorted[i]), Position(sorted[j])) })

	var out []types.Record
	for _, r := range sorted {
		if s.ignoreCursor {
			if !r.LastModifiedDate.After(spec.Since) {
				continue
			}
			if spec.After != nil && r.LastModifiedDate.Before(spec.After.LastModifiedDate) {
				continue
			}
		} else if !spec.Matches(r) {
			continue
		}
		out = append(out, r)
		if spec.Limit > 0 && len(out) == spec.Limit {
			break
		}
	}
	return out, nil
}

func TestBuilder_Build(t *testing.T) {
	b := &Builder{
		Object:     "Opportunity",
		Fields:     []string{"Name", "Amount"},
		PageSize:   2,
		Watermarks: fixedWatermark{ts: base},
	}

	spec, err := b.Build(context.Background(), "amount-sync")
	require.NoError(t, err)
	assert.Equal(t, "Opportunity", spec.Object)
	assert.Equal(t, base, spec.Since)
	assert.Equal(t, 2, spec.Limit)
	assert.Nil(t, spec.After)
}

func TestBuilder_WatermarkError(t *testing.T) {
	boom := errors.New("db closed")
	b := &Builder{Watermarks: fixedWatermark{err: boom}}

	_, err := b.Build(context.Background(), "amount-sync")
	require.ErrorIs(t, err, boom)
}

func TestSpec_MatchesIsStrict(t *testing.T) {
	spec := Spec{Since: base}

	assert.False(t, spec.Matches(rec("a", 0)), "record at the watermark must be excluded")
	assert.True(t, spec.Matches(rec("b", time.Millisecond)))
}

func TestSpec_NextKeepsSameTimestampRows(t *testing.T) {
	spec := Spec{Since: base, Limit: 2}
	next := spec.Next(rec("b", time.Second))

	require.NotNil(t, next.After)
	assert.Nil(t, spec.After, "Next must not mutate the receiver")
	assert.False(t, next.Matches(rec("a", time.Second)), "already-read row at boundary")
	assert.False(t, next.Matches(rec("b", time.Second)), "boundary row itself")
	assert.True(t, next.Matches(rec("c", time.Second)), "unread row sharing the boundary timestamp")
	assert.True(t, next.Matches(rec("a", 2*time.Second)))
}

func TestSpec_SOQL(t *testing.T) {
	first := Spec{
		Object: "Opportunity",
		Fields: []string{"Name", "Amount", "Id", "StageName"},
		Since:  base,
		Limit:  200,
	}
	next := first.Next(rec("006xx0000001", 1500*time.Millisecond))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "soql_first_page", []byte(first.SOQL()+"\n"))
	g.Assert(t, "soql_next_page", []byte(next.SOQL()+"\n"))
}

func TestPager_NoSkipNoDuplicateAcrossBoundary(t *testing.T) {
	// Five rows, three sharing one timestamp, page size two: the shared
	// timestamp straddles a page boundary.
	src := &sliceSource{records: []types.Record{
		rec("a", 1*time.Second),
		rec("b", 2*time.Second),
		rec("c", 2*time.Second),
		rec("d", 2*time.Second),
		rec("e", 3*time.Second),
	}}

	res, err := Pager{Source: src}.All(context.Background(), Spec{Since: base, Limit: 2})
	require.NoError(t, err)

	ids := make([]string, len(res.Records))
	for i, r := range res.Records {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, 3, res.Pages)
	assert.False(t, res.Truncated)
}

func TestPager_TimestampOnlySourceDeduplicated(t *testing.T) {
	src := &sliceSource{ignoreCursor: true, records: []types.Record{
		rec("a", 1*time.Second),
		rec("b", 2*time.Second),
		rec("c", 2*time.Second),
		rec("d", 3*time.Second),
	}}

	res, err := Pager{Source: src, MaxPages: 10}.All(context.Background(), Spec{Since: base, Limit: 3})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range res.Records {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s returned more than once", id)
	}
	assert.Len(t, seen, 4)
}

func TestPager_MaxPagesTruncates(t *testing.T) {
	src := &sliceSource{records: []types.Record{
		rec("a", 1*time.Second),
		rec("b", 2*time.Second),
		rec("c", 2*time.Second),
		rec("d", 3*time.Second),
	}}

	res, err := Pager{Source: src, MaxPages: 1}.All(context.Background(), Spec{Since: base, Limit: 2})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Records, 2)

	// b shares its timestamp with unread c, so the watermark stops at a.
	wm, ok := res.Watermark()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), wm)
}

func TestPager_SourceError(t *testing.T) {
	boom := errors.New("org unavailable")
	_, err := Pager{Source: errSource{boom}}.All(context.Background(), Spec{Limit: 5})
	require.ErrorIs(t, err, boom)
}

type errSource struct{ err error }

func (e errSource) Query(context.Context, Spec) ([]types.Record, error) { return nil, e.err }

func TestResult_Watermark(t *testing.T) {
	_, ok := Result{}.Watermark()
	assert.False(t, ok, "empty result cannot advance")

	full := Result{Records: []types.Record{rec("a", 3*time.Second), rec("b", time.Second)}}
	wm, ok := full.Watermark()
	require.True(t, ok)
	assert.Equal(t, base.Add(3*time.Second), wm)

	sameTS := Result{Truncated: true, Records: []types.Record{rec("a", time.Second), rec("b", time.Second)}}
	_, ok = sameTS.Watermark()
	assert.False(t, ok, "truncated page of one timestamp cannot advance")
	assert.True(t, sameTS.Stalled())

	assert.False(t, Result{Truncated: true}.Stalled(), "empty read is not stalled")
	assert.False(t, Result{Records: sameTS.Records}.Stalled(), "complete read is not stalled")
	mixed := Result{Truncated: true, Records: []types.Record{rec("a", time.Second), rec("b", 2*time.Second)}}
	assert.False(t, mixed.Stalled())
}
