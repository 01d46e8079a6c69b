package org

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/types"
)

func opp(name string, amount float64) types.Record {
	return types.NewRecord(map[string]any{
		types.FieldName:      name,
		types.FieldAmount:    amount,
		types.FieldStageName: "Prospecting",
	})
}

func frozenClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemory_InsertAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	m.Now = frozenClock(now)

	in := opp("Deal", 100)
	in.ID = "caller-supplied"
	id, err := m.Insert(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, "caller-supplied", id)

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, now, got.LastModifiedDate)
	assert.Equal(t, "Deal", got.Name())
	assert.Equal(t, Stats{Inserts: 1}, m.Stats())
}

func TestMemory_TimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Now = frozenClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))

	a, _ := m.Insert(ctx, opp("a", 1))
	b, _ := m.Insert(ctx, opp("b", 1))
	ra, _ := m.Get(ctx, a)
	rb, _ := m.Get(ctx, b)
	assert.True(t, rb.LastModifiedDate.After(ra.LastModifiedDate))
}

func TestMemory_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.Insert(ctx, opp("Deal", 100))
	require.NoError(t, err)
	before, _ := m.Get(ctx, id)

	patch := types.NewRecord(map[string]any{types.FieldStageName: "Closed Won"})
	require.NoError(t, m.Update(ctx, id, patch))

	after, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Closed Won", after.Fields[types.FieldStageName])
	assert.Equal(t, 100.0, after.Fields[types.FieldAmount], "untouched field kept")
	assert.True(t, after.LastModifiedDate.After(before.LastModifiedDate))
	assert.Equal(t, id, after.ID)
}

func TestMemory_UpdateMissing(t *testing.T) {
	err := NewMemory().Update(context.Background(), "nope", opp("x", 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Find(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Insert(ctx, opp("dup", 1))
	_, _ = m.Insert(ctx, opp("dup", 2))
	_, _ = m.Insert(ctx, opp("solo", 5000))

	dups, err := m.Find(ctx, types.FieldName, "dup")
	require.NoError(t, err)
	assert.Len(t, dups, 2)

	byAmount, err := m.Find(ctx, types.FieldAmount, "5000")
	require.NoError(t, err)
	require.Len(t, byAmount, 1)
	assert.Equal(t, "solo", byAmount[0].Name())

	none, err := m.Find(ctx, types.FieldName, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_QueryWindowAndProjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	m.Now = frozenClock(start)

	for _, n := range []string{"a", "b", "c"} {
		_, err := m.Insert(ctx, opp(n, 1))
		require.NoError(t, err)
	}

	got, err := m.Query(ctx, query.Spec{Since: start, Fields: []string{types.FieldName}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2, "first record sits on the watermark and is excluded")
	assert.Equal(t, "b", got[0].Name())
	assert.Equal(t, "c", got[1].Name())
	_, hasAmount := got[0].Fields[types.FieldAmount]
	assert.False(t, hasAmount, "unrequested fields are projected away")
	assert.NotEmpty(t, got[0].ID)
}

func TestMemory_FaultInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailNext(OpInsert, 2, Transient(errors.New("503")))

	_, err := m.Insert(ctx, opp("x", 1))
	assert.True(t, IsTransient(err))
	_, err = m.Insert(ctx, opp("x", 1))
	assert.True(t, IsTransient(err))
	_, err = m.Insert(ctx, opp("x", 1))
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_WriteDelayHonorsContext(t *testing.T) {
	m := NewMemory()
	m.SetWriteDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Insert(ctx, opp("slow", 1))
	require.Error(t, err)
	assert.True(t, IsTransient(err), "deadline counts as transient")
	assert.Zero(t, m.Len())
}

func TestMatches(t *testing.T) {
	r := opp("Deal", 10000)
	r.ID = "006A"

	assert.True(t, Matches(r, types.FieldName, "Deal"))
	assert.True(t, Matches(r, types.FieldAmount, 10000))
	assert.True(t, Matches(r, types.FieldID, "006A"))
	assert.False(t, Matches(r, types.FieldName, "deal"))
	assert.False(t, Matches(r, types.FieldIndustry, "Education"))
	assert.True(t, Matches(r, types.FieldIndustry, nil))
}

func TestTransient(t *testing.T) {
	assert.Nil(t, Transient(nil))
	cause := errors.New("reset by peer")
	err := Transient(cause)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsTransient(ErrNotFound))
}
