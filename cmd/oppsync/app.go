package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/oppsync/internal/archive"
	"github.com/hyperengineering/oppsync/internal/batch"
	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/store"
	"github.com/hyperengineering/oppsync/internal/trigger"
	"github.com/hyperengineering/oppsync/internal/watermark"
)

// app is the wired synchronizer shared by serve and the one-shot commands.
type app struct {
	cfg    *config.Config
	state  *store.SQLiteStore
	source *store.SQLiteStore
	target *store.SQLiteStore
	runner *batch.Runner
	svc    *trigger.Service
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// openApp opens the state and org databases and binds every job.
func openApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	if a.state, err = store.NewSQLiteStore(cfg.State.Path); err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	slog.Info("store initialized", "component", "store", "path", cfg.State.Path)

	if a.source, err = store.NewSQLiteStore(cfg.Orgs.Source.Path); err != nil {
		a.Close()
		return nil, fmt.Errorf("open source org: %w", err)
	}
	if a.target, err = store.NewSQLiteStore(cfg.Orgs.Target.Path); err != nil {
		a.Close()
		return nil, fmt.Errorf("open target org: %w", err)
	}

	archiver, err := archive.New(cfg.Archive)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner = batch.NewRunner(a.state, archiver)
	wm := watermark.NewStore(a.state)
	if a.svc, err = trigger.NewService(cfg, a.source, a.target, wm, a.runner); err != nil {
		a.Close()
		return nil, err
	}
	slog.Info("jobs bound", "component", "trigger", "jobs", a.svc.Scheduler.Names())
	return a, nil
}

// Close waits for running jobs, then closes every database.
func (a *app) Close() error {
	if a.runner != nil {
		a.runner.Wait()
	}
	var errs []error
	for _, s := range []*store.SQLiteStore{a.target, a.source, a.state} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}
