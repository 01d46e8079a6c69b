// Package filter decides whether a source record qualifies for sync.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/oppsync/internal/types"
)

var (
	// ErrInvalidExpression indicates a filter expression failed to compile.
	ErrInvalidExpression = errors.New("invalid filter expression")

	// ErrUnknownPredicate indicates a predicate name has no registration.
	ErrUnknownPredicate = errors.New("unknown predicate")

	// ErrInvalidParams indicates predicate parameters are missing or mistyped.
	ErrInvalidParams = errors.New("invalid predicate params")
)

// Predicate is a pure qualification rule over a record.
type Predicate interface {
	Match(r types.Record) bool
}

// Func adapts a function to Predicate.
type Func func(r types.Record) bool

// Match calls f(r).
func (f Func) Match(r types.Record) bool { return f(r) }

// Always qualifies every record.
func Always() Predicate {
	return Func(func(types.Record) bool { return true })
}

// AmountAbove qualifies records whose Amount is strictly greater than threshold.
// A missing or non-numeric Amount does not qualify.
func AmountAbove(threshold float64) Predicate {
	return Func(func(r types.Record) bool {
		amount, ok := types.Number(r.Fields[types.FieldAmount])
		return ok && amount > threshold
	})
}

// IndustryHeadcount qualifies records whose Industry is one of industries
// and whose NumberOfEmployees is strictly greater than minEmployees.
func IndustryHeadcount(industries []string, minEmployees float64) Predicate {
	allowed := make(map[string]bool, len(industries))
	for _, i := range industries {
		allowed[i] = true
	}
	return Func(func(r types.Record) bool {
		industry, _ := r.Fields[types.FieldIndustry].(string)
		if !allowed[industry] {
			return false
		}
		employees, ok := types.Number(r.Fields[types.FieldNumberOfEmployees])
		return ok && employees > minEmployees
	})
}

// All qualifies a record when every predicate does. All() is Always().
func All(ps ...Predicate) Predicate {
	return Func(func(r types.Record) bool {
		for _, p := range ps {
			if !p.Match(r) {
				return false
			}
		}
		return true
	})
}

// Any qualifies a record when at least one predicate does.
func Any(ps ...Predicate) Predicate {
	return Func(func(r types.Record) bool {
		for _, p := range ps {
			if p.Match(r) {
				return true
			}
		}
		return false
	})
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return Func(func(r types.Record) bool { return !p.Match(r) })
}

// New builds the predicate for a job: a CUE expression, a registered
// predicate name with params, or Always when neither is given.
func New(expression, name string, params map[string]any) (Predicate, error) {
	expression = strings.TrimSpace(expression)
	switch {
	case expression != "" && name != "":
		return nil, fmt.Errorf("%w: expression and predicate are mutually exclusive", ErrInvalidExpression)
	case expression != "":
		return Compile(expression)
	case name != "":
		factory, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPredicate, name)
		}
		return factory(params)
	default:
		return Always(), nil
	}
}
