package upsert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/types"
	"github.com/hyperengineering/oppsync/internal/validation"
)

func mapped(name, stage string) types.Record {
	return types.NewRecord(map[string]any{
		types.FieldName:      name,
		types.FieldStageName: stage,
	})
}

func TestResolve_InsertWhenAbsent(t *testing.T) {
	r := NewResolver(org.NewMemory(), "")

	d, err := r.Resolve(context.Background(), mapped("new deal", "Prospecting"))
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: types.ActionInsert}, d)
	assert.Equal(t, types.FieldName, r.Key())
}

func TestResolve_UpdateWhenPresent(t *testing.T) {
	ctx := context.Background()
	target := org.NewMemory()
	id, err := target.Insert(ctx, mapped("existing", "Prospecting"))
	require.NoError(t, err)

	d, err := NewResolver(target, types.FieldName).Resolve(ctx, mapped("existing", "Closed Won"))
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: types.ActionUpdate, ExistingID: id}, d)
}

func TestResolve_Ambiguous(t *testing.T) {
	ctx := context.Background()
	target := org.NewMemory()
	_, _ = target.Insert(ctx, mapped("twin", "a"))
	_, _ = target.Insert(ctx, mapped("twin", "b"))

	_, err := NewResolver(target, "").Resolve(ctx, mapped("twin", "c"))
	require.ErrorIs(t, err, ErrAmbiguousKey)
	assert.Contains(t, err.Error(), "2 target records")
}

func TestResolve_MissingKey(t *testing.T) {
	r := NewResolver(org.NewMemory(), "")

	for _, rec := range []types.Record{
		types.NewRecord(map[string]any{types.FieldStageName: "x"}),
		types.NewRecord(map[string]any{types.FieldName: "  "}),
		types.NewRecord(map[string]any{types.FieldName: nil}),
	} {
		_, err := r.Resolve(context.Background(), rec)
		assert.ErrorIs(t, err, ErrMissingKey)
		assert.ErrorIs(t, err, validation.ErrInvalidRecord, "missing key is a validation failure")
	}
}

func TestResolve_FindErrorPropagates(t *testing.T) {
	target := org.NewMemory()
	target.FailNext(org.OpFind, 1, org.Transient(errors.New("timeout")))

	_, err := NewResolver(target, "").Resolve(context.Background(), mapped("x", "y"))
	assert.True(t, org.IsTransient(err))
}

func TestApply_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	target := org.NewMemory()
	r := NewResolver(target, "")

	id, err := r.Apply(ctx, mapped("deal", "Prospecting"), Decision{Action: types.ActionInsert})
	require.NoError(t, err)
	found, _ := target.Find(ctx, types.FieldName, "deal")
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	got, err := r.Apply(ctx, mapped("deal", "NewStage"), Decision{Action: types.ActionUpdate, ExistingID: id})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	rec, err := target.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "NewStage", rec.Fields[types.FieldStageName])
}

func TestApply_UpdateMissingTarget(t *testing.T) {
	_, err := NewResolver(org.NewMemory(), "").Apply(context.Background(), mapped("x", "y"),
		Decision{Action: types.ActionUpdate, ExistingID: "gone"})
	assert.ErrorIs(t, err, org.ErrNotFound)
}

func TestApply_UnknownAction(t *testing.T) {
	_, err := NewResolver(org.NewMemory(), "").Apply(context.Background(), mapped("x", "y"), Decision{})
	assert.Error(t, err)
}

func TestUpsert_SameKeyConcurrentlyInsertsOnce(t *testing.T) {
	ctx := context.Background()
	target := org.NewMemory()
	r := NewResolver(target, "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Upsert(ctx, mapped("contended", "Prospecting"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, target.Len())
	stats := target.Stats()
	assert.Equal(t, 1, stats.Inserts)
	assert.Equal(t, 9, stats.Updates)
}
