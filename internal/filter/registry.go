package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a predicate from config params.
type Factory func(params map[string]any) (Predicate, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

func init() {
	Register("all", func(map[string]any) (Predicate, error) {
		return Always(), nil
	})
	Register("amount-threshold", func(params map[string]any) (Predicate, error) {
		threshold, err := paramNumber(params, "threshold")
		if err != nil {
			return nil, err
		}
		return AmountAbove(threshold), nil
	})
	Register("industry-headcount", func(params map[string]any) (Predicate, error) {
		industries, err := paramStrings(params, "industries")
		if err != nil {
			return nil, err
		}
		minEmployees, err := paramNumber(params, "min_employees")
		if err != nil {
			return nil, err
		}
		return IndustryHeadcount(industries, minEmployees), nil
	})
}

// Register adds a named predicate factory.
// Panics if the name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := factories[name]; exists {
		panic("predicate already registered: " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Names returns registered predicate names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func paramNumber(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParams, key)
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParams, key, v)
}

func paramStrings(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidParams, key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidParams, key)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", ErrInvalidParams, key, v)
}
