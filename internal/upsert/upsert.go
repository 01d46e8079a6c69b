// Package upsert decides between insert and update on the target org by
// business key and issues the write.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/types"
	"github.com/hyperengineering/oppsync/internal/validation"
)

var (
	// ErrAmbiguousKey means more than one target record carries the key.
	ErrAmbiguousKey = errors.New("ambiguous business key")

	// ErrMissingKey means the mapped record has no business key value.
	// It is a validation failure and is never retried.
	ErrMissingKey = fmt.Errorf("%w: business key missing", validation.ErrInvalidRecord)
)

// Decision is the resolved write for one record.
type Decision struct {
	Action     types.Action
	ExistingID string
}

const lockStripes = 64

// Resolver matches mapped records to target records by business key.
type Resolver struct {
	target org.Client
	key    string
	locks  [lockStripes]sync.Mutex
}

// NewResolver returns a resolver matching on key (Name when empty).
func NewResolver(target org.Client, key string) *Resolver {
	if key == "" {
		key = types.FieldName
	}
	return &Resolver{target: target, key: key}
}

// Key returns the business key field.
func (r *Resolver) Key() string {
	return r.key
}

// Resolve looks the record up on the target. Zero matches is INSERT,
// one is UPDATE with the found Id, more than one is ErrAmbiguousKey.
func (r *Resolver) Resolve(ctx context.Context, mapped types.Record) (Decision, error) {
	value, err := r.keyValue(mapped)
	if err != nil {
		return Decision{}, err
	}

	matches, err := r.target.Find(ctx, r.key, value)
	if err != nil {
		return Decision{}, fmt.Errorf("find by %s: %w", r.key, err)
	}
	switch len(matches) {
	case 0:
		return Decision{Action: types.ActionInsert}, nil
	case 1:
		return Decision{Action: types.ActionUpdate, ExistingID: matches[0].ID}, nil
	default:
		return Decision{}, fmt.Errorf("%w: %d target records with %s=%v", ErrAmbiguousKey, len(matches), r.key, value)
	}
}

// Apply issues the write the decision calls for and returns the target Id.
func (r *Resolver) Apply(ctx context.Context, mapped types.Record, d Decision) (string, error) {
	switch d.Action {
	case types.ActionInsert:
		id, err := r.target.Insert(ctx, mapped)
		if err != nil {
			return "", fmt.Errorf("insert: %w", err)
		}
		return id, nil
	case types.ActionUpdate:
		if err := r.target.Update(ctx, d.ExistingID, mapped); err != nil {
			return "", fmt.Errorf("update %s: %w", d.ExistingID, err)
		}
		return d.ExistingID, nil
	default:
		return "", fmt.Errorf("unknown upsert action %q", d.Action)
	}
}

// Upsert resolves and applies under a per-key lock, so two records with
// the same key in one batch cannot both decide INSERT.
func (r *Resolver) Upsert(ctx context.Context, mapped types.Record) (Decision, string, error) {
	value, err := r.keyValue(mapped)
	if err != nil {
		return Decision{}, "", err
	}
	mu := r.lockFor(value)
	mu.Lock()
	defer mu.Unlock()

	d, err := r.Resolve(ctx, mapped)
	if err != nil {
		return Decision{}, "", err
	}
	id, err := r.Apply(ctx, mapped, d)
	return d, id, err
}

func (r *Resolver) keyValue(mapped types.Record) (any, error) {
	value, ok := mapped.Get(r.key)
	if !ok || value == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, r.key)
	}
	if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, r.key)
	}
	return value, nil
}

func (r *Resolver) lockFor(value any) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprint(h, value)
	return &r.locks[h.Sum32()%lockStripes]
}
