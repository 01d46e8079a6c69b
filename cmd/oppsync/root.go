package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/api"
	"github.com/hyperengineering/oppsync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "oppsync",
	Short:        "oppsync - Opportunity synchronizer between two orgs",
	Long:         "Run the synchronizer service, or drive one-shot polls, job history, watermarks and local org records.",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides OPPSYNC_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watermarkCmd)
	rootCmd.AddCommand(orgCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logFile := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if logFile != nil {
		defer logFile.Close()
	}
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	a, err := openApp(cfg)
	if err != nil {
		return err
	}

	handler := api.NewHandler(a.svc, a.state, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	var wg sync.WaitGroup
	startWorker(ctx, &wg, "scheduler", a.svc.Scheduler.Run)
	reaper := worker.NewReapCoordinator(a.runner, a.state,
		cfg.Worker.ReapInterval.Std(),
		cfg.Worker.JobRetention.Std(),
		cfg.Worker.HistoryLimit)
	startWorker(ctx, &wg, "reaper", reaper.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error after Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Pollers stop ticking; jobs already started finish before the stores close.
	wg.Wait()
	if err := a.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
