// Package transform applies a job's filter and field mapping to source records.
package transform

import (
	"sort"

	"github.com/hyperengineering/oppsync/internal/filter"
	"github.com/hyperengineering/oppsync/internal/types"
)

// Mapping maps source fields onto target fields. Shared fields keep their
// name; Renamed maps source name to target name. Everything else is dropped.
type Mapping struct {
	Shared  []string
	Renamed map[string]string
}

// TargetFields returns the target-side field names, sorted.
func (m Mapping) TargetFields() []string {
	seen := make(map[string]bool)
	for _, f := range m.Shared {
		seen[f] = true
	}
	for _, f := range m.Renamed {
		seen[f] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SourceFields returns the source-side field names the mapping reads, sorted.
func (m Mapping) SourceFields() []string {
	seen := make(map[string]bool)
	for _, f := range m.Shared {
		seen[f] = true
	}
	for f := range m.Renamed {
		seen[f] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Stage is the pure filter-then-map step of the pipeline.
type Stage struct {
	Predicate filter.Predicate
	Mapping   Mapping
}

// NewStage returns a stage. A nil predicate qualifies every record.
func NewStage(p filter.Predicate, m Mapping) *Stage {
	if p == nil {
		p = filter.Always()
	}
	return &Stage{Predicate: p, Mapping: m}
}

// Apply returns the mapped record and true when r qualifies, or false
// when the predicate rejects it. A rejected record is a skip, not an error.
// The mapped record carries no Id: identity on the target is resolved later.
func (s *Stage) Apply(r types.Record) (types.Record, bool) {
	if !s.Predicate.Match(r) {
		return types.Record{}, false
	}

	out := types.Record{Fields: make(map[string]any, len(s.Mapping.Shared)+len(s.Mapping.Renamed))}
	for _, f := range s.Mapping.Shared {
		if v, ok := r.Fields[f]; ok {
			out.Fields[f] = v
		}
	}
	for src, dst := range s.Mapping.Renamed {
		if v, ok := r.Fields[src]; ok {
			out.Fields[dst] = v
		}
	}
	return out, true
}
