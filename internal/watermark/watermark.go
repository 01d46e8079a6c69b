// Package watermark tracks the last-synchronized timestamp of each job.
package watermark

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultOffset is the grace interval subtracted from now for a job that
// has never completed a poll.
const DefaultOffset = 10 * time.Second

// Backend persists watermarks. Load reports ok=false when no value exists.
type Backend interface {
	LoadWatermark(ctx context.Context, jobName string) (ts time.Time, ok bool, err error)
	SaveWatermark(ctx context.Context, jobName string, ts time.Time) error
	DeleteWatermark(ctx context.Context, jobName string) error
}

// Store serves per-job watermarks. Set never moves a watermark backwards.
type Store struct {
	backend Backend
	offsets map[string]time.Duration
	mu      sync.Mutex // serializes read-compare-write in Set

	// Now is the clock used for default watermarks. Defaults to time.Now.
	Now func() time.Time
}

// NewStore returns a Store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		offsets: make(map[string]time.Duration),
		Now:     time.Now,
	}
}

// SetDefaultOffset overrides the grace interval for one job.
// Call before the store is shared.
func (s *Store) SetDefaultOffset(jobName string, offset time.Duration) {
	s.offsets[jobName] = offset
}

// Default returns the watermark used for a job with no stored value.
func (s *Store) Default(jobName string) time.Time {
	offset, ok := s.offsets[jobName]
	if !ok {
		offset = DefaultOffset
	}
	return s.Now().UTC().Add(-offset)
}

// Get returns the stored watermark, or the default when none exists.
func (s *Store) Get(ctx context.Context, jobName string) (time.Time, error) {
	ts, ok, err := s.backend.LoadWatermark(ctx, jobName)
	if err != nil {
		return time.Time{}, fmt.Errorf("load watermark %s: %w", jobName, err)
	}
	if !ok {
		return s.Default(jobName), nil
	}
	return ts, nil
}

// Stored returns the persisted watermark without applying the default.
func (s *Store) Stored(ctx context.Context, jobName string) (time.Time, bool, error) {
	return s.backend.LoadWatermark(ctx, jobName)
}

// Set persists ts unless it is older than the stored value.
// It reports whether the stored value changed.
func (s *Store) Set(ctx context.Context, jobName string, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.backend.LoadWatermark(ctx, jobName)
	if err != nil {
		return false, fmt.Errorf("load watermark %s: %w", jobName, err)
	}
	if ok && !ts.After(current) {
		return false, nil
	}
	if err := s.backend.SaveWatermark(ctx, jobName, ts.UTC()); err != nil {
		return false, fmt.Errorf("save watermark %s: %w", jobName, err)
	}
	return true, nil
}

// Reset removes the stored value; the next Get returns the default.
func (s *Store) Reset(ctx context.Context, jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.DeleteWatermark(ctx, jobName); err != nil {
		return fmt.Errorf("reset watermark %s: %w", jobName, err)
	}
	return nil
}

// MemoryBackend keeps watermarks in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]time.Time
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]time.Time)}
}

func (m *MemoryBackend) LoadWatermark(_ context.Context, jobName string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.values[jobName]
	return ts, ok, nil
}

func (m *MemoryBackend) SaveWatermark(_ context.Context, jobName string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[jobName] = ts
	return nil
}

func (m *MemoryBackend) DeleteWatermark(_ context.Context, jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, jobName)
	return nil
}
