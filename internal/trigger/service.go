package trigger

import (
	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/org"
	"github.com/hyperengineering/oppsync/internal/watermark"
)

// Service is every configured job wired to the source and target orgs.
type Service struct {
	Runner     *batch.Runner
	Watermarks *watermark.Store
	Scheduler  *Scheduler
	Pusher     *Pusher
}

// NewService binds each job in cfg and builds its poller and push route.
func NewService(cfg *config.Config, source, target org.Client, wm *watermark.Store, runner *batch.Runner) (*Service, error) {
	bindings := make([]*Binding, 0, len(cfg.Jobs))
	pollers := make([]*Poller, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		b, err := Bind(j, target, wm)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
		pollers = append(pollers, NewPoller(b, source, runner, wm))
	}

	return &Service{
		Runner:     runner,
		Watermarks: wm,
		Scheduler:  NewScheduler(pollers...),
		Pusher:     NewPusher(runner, cfg.Push.AwaitTimeout.Std(), cfg.Push.OrganizationID, bindings...),
	}, nil
}
