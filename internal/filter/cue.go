package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/hyperengineering/oppsync/internal/types"
)

// cuePredicate qualifies a record when unifying it with a CUE constraint
// yields a concrete value without conflicts.
type cuePredicate struct {
	mu         sync.Mutex // cue.Context is not safe for concurrent use
	ctx        *cue.Context
	constraint cue.Value
	source     string
}

// Compile parses a CUE constraint over record fields, for example
//
//	Amount: >5000
//	Industry: "Education" | "Government", NumberOfEmployees: >5000
//
// A field the constraint names but the record lacks stays non-concrete,
// so such records never qualify.
func Compile(expr string) (Predicate, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(expr, cue.Filename("filter.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, fmt.Errorf("%w: %q must constrain fields, e.g. Amount: >5000", ErrInvalidExpression, expr)
	}
	return &cuePredicate{ctx: ctx, constraint: v, source: expr}, nil
}

func (p *cuePredicate) Match(r types.Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := p.ctx.Encode(cueFields(r))
	if data.Err() != nil {
		return false
	}
	return p.constraint.Unify(data).Validate(cue.Concrete(true)) == nil
}

func (p *cuePredicate) String() string {
	return p.source
}

// numericFields are normalized to numbers so that decoded payloads
// carrying "10000" compare the same as 10000.
var numericFields = map[string]bool{
	types.FieldAmount:            true,
	types.FieldNumberOfEmployees: true,
	types.FieldProbability:       true,
}

func cueFields(r types.Record) map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		switch n := v.(type) {
		case json.Number:
			if f, err := n.Float64(); err == nil {
				v = cueNumber(f)
			}
		case float64:
			v = cueNumber(n)
		case string:
			if numericFields[k] {
				if f, ok := types.Number(n); ok {
					v = cueNumber(f)
				}
			}
		}
		out[k] = v
	}
	if r.ID != "" {
		out[types.FieldID] = r.ID
	}
	return out
}

// cueNumber hands whole values to CUE as int so both int and number
// constraints accept them.
func cueNumber(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}
