// Package org defines the client contract for a source or target
// organization and an in-memory implementation.
package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/oppsync/internal/query"
	"github.com/hyperengineering/oppsync/internal/types"
)

// Sentinel errors for org operations.
var (
	// ErrTransient marks a failure worth retrying (timeouts, throttling,
	// connection resets).
	ErrTransient = errors.New("transient org error")

	// ErrNotFound is returned when a record ID does not exist.
	ErrNotFound = errors.New("record not found")
)

// Client is the contract the synchronizer uses against an org.
// Connection management and authentication belong to the implementation.
type Client interface {
	Query(ctx context.Context, spec query.Spec) ([]types.Record, error)
	Find(ctx context.Context, field string, value any) ([]types.Record, error)
	Insert(ctx context.Context, r types.Record) (string, error)
	Update(ctx context.Context, id string, r types.Record) error
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried.
// Context deadline errors count as transient: the write timed out.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Matches reports whether the record's field equals value. Numbers
// compare numerically, so 5000 matches "5000" and 5000.0.
func Matches(r types.Record, field string, value any) bool {
	got, ok := r.Get(field)
	if !ok {
		return value == nil
	}
	if gn, ok := types.Number(got); ok {
		if vn, ok := types.Number(value); ok {
			return gn == vn
		}
	}
	return fmt.Sprint(got) == fmt.Sprint(value)
}
