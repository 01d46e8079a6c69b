package trigger

import (
	"context"
	"fmt"
	"sync"
)

// Scheduler owns one poller per configured job.
type Scheduler struct {
	pollers map[string]*Poller
	order   []string
}

// NewScheduler returns a scheduler over the given pollers.
func NewScheduler(pollers ...*Poller) *Scheduler {
	s := &Scheduler{pollers: make(map[string]*Poller, len(pollers))}
	for _, p := range pollers {
		s.pollers[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	return s
}

// Poller returns the poller for a job name.
func (s *Scheduler) Poller(name string) (*Poller, error) {
	p, ok := s.pollers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return p, nil
}

// Names returns job names in configuration order.
func (s *Scheduler) Names() []string {
	return append([]string(nil), s.order...)
}

// Run starts every poller and blocks until all of them have stopped.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range s.order {
		p := s.pollers[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	wg.Wait()
}
