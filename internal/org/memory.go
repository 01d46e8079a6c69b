package org

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/types"
)

// Op names an org operation for fault injection.
type Op string

const (
	OpQuery  Op = "query"
	OpFind   Op = "find"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// Stats counts successful writes against a Memory org.
type Stats struct {
	Inserts int
	Updates int
}

type fault struct {
	remaining int
	err       error
}

// Memory is an in-process org. It stamps LastModifiedDate on every write
// and keeps timestamps strictly increasing so keyset paging is exact.
type Memory struct {
	mu      sync.Mutex
	records map[string]types.Record
	faults  map[Op]*fault
	stats   Stats
	last    time.Time
	delay   time.Duration

	// Now is the org clock. Defaults to time.Now.
	Now func() time.Time
}

// NewMemory returns an empty in-memory org.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]types.Record),
		faults:  make(map[Op]*fault),
		Now:     time.Now,
	}
}

// FailNext makes the next n calls of op return err.
func (m *Memory) FailNext(op Op, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = &fault{remaining: n, err: err}
}

// SetWriteDelay makes inserts and updates block for d or until ctx ends.
func (m *Memory) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Stats returns write counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Get returns a record by ID.
func (m *Memory) Get(_ context.Context, id string) (types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return types.Record{}, ErrNotFound
	}
	return r.Clone(), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Query returns records inside the query window in keyset order.
func (m *Memory) Query(_ context.Context, spec query.Spec) ([]types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpQuery); err != nil {
		return nil, err
	}

	var out []types.Record
	for _, r := range m.records {
		if spec.Matches(r) {
			out = append(out, project(r, spec.Fields))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return query.Less(query.Position(out[i]), query.Position(out[j]))
	})
	if spec.Limit > 0 && len(out) > spec.Limit {
		out = out[:spec.Limit]
	}
	return out, nil
}

// Find returns every record whose field equals value, ordered by ID.
func (m *Memory) Find(_ context.Context, field string, value any) ([]types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpFind); err != nil {
		return nil, err
	}

	var out []types.Record
	for _, r := range m.records {
		if Matches(r, field, value) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Insert stores a new record and returns its assigned ID. Any ID on the
// input is ignored.
func (m *Memory) Insert(ctx context.Context, r types.Record) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpInsert); err != nil {
		return "", err
	}

	stored := types.NewRecord(r.Fields)
	delete(stored.Fields, types.FieldID)
	delete(stored.Fields, types.FieldLastModifiedDate)
	stored.ID = ulid.Make().String()
	stored.LastModifiedDate = m.tick()
	m.records[stored.ID] = stored
	m.stats.Inserts++
	return stored.ID, nil
}

// Update merges the given fields into an existing record.
func (m *Memory) Update(ctx context.Context, id string, r types.Record) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(OpUpdate); err != nil {
		return err
	}

	existing, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range r.Fields {
		if k == types.FieldID || k == types.FieldLastModifiedDate {
			continue
		}
		existing.Fields[k] = v
	}
	existing.LastModifiedDate = m.tick()
	m.records[id] = existing
	m.stats.Updates++
	return nil
}

// tick returns the next modification timestamp. Caller holds mu.
func (m *Memory) tick() time.Time {
	now := m.Now().UTC().Truncate(time.Millisecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return now
}

// injected consumes one pending fault for op. Caller holds mu.
func (m *Memory) injected(op Op) error {
	f := m.faults[op]
	if f == nil || f.remaining == 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (m *Memory) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// project keeps only the requested fields. An empty list keeps everything.
func project(r types.Record, fields []string) types.Record {
	if len(fields) == 0 {
		return r.Clone()
	}
	out := types.Record{ID: r.ID, LastModifiedDate: r.LastModifiedDate, Fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		if v, ok := r.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	return out
}
