// Command etl runs the CSV pipeline: once (the default), on a cron
// schedule, on changes to the raw directory, or behind the HTTP API.
//
// Exit codes: 0 success, 1 failure or crash, 130 interrupted. Long-running
// modes exit 0 after draining the active run on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/flatetl/internal/config"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/trigger"
	"github.com/JonMunkholm/flatetl/internal/web"
)

const (
	exitSuccess     = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("unexpected crash", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			code = exitFailure
		}
	}()

	fl, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitFailure
	}

	// Load .env file if it exists; variables already set win
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return exitFailure
	}
	fl.apply(cfg)

	closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Pipeline.LogDir)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		return exitFailure
	}
	defer closer.Close()

	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		return exitFailure
	}
	defer a.Close()

	m := selectMode(fl, cfg)
	if m.once {
		return runOnce(ctx, a)
	}
	return serve(ctx, a, cfg, m)
}

// runOnce executes a single pipeline pass.
func runOnce(ctx context.Context, a *app) int {
	run, err := a.pipeline.Run(ctx)
	switch {
	case ctx.Err() != nil:
		slog.Warn("pipeline interrupted")
		return exitInterrupted
	case err != nil, !run.Success:
		return exitFailure
	default:
		return exitSuccess
	}
}

// serve runs the configured triggers until a signal arrives, then drains
// the active run.
func serve(ctx context.Context, a *app, cfg *config.Config, m mode) int {
	logger := logging.FromContext(ctx)
	guard := trigger.NewGuard(cfg.Schedule.MaxWait)
	runFn := func(ctx context.Context) { a.pipeline.RunOnce(ctx) }

	if m.cron != "" {
		sched, err := trigger.NewScheduler(m.cron, guard, runFn)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			return exitFailure
		}
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start schedule", "error", err)
			return exitFailure
		}
		defer func() { <-sched.Stop().Done() }()
	}

	if m.watch {
		if err := os.MkdirAll(cfg.Pipeline.RawDir, 0o755); err != nil {
			logger.Error("failed to create raw directory", "error", err)
			return exitFailure
		}
		w, err := trigger.NewWatcher(cfg.Pipeline.RawDir, cfg.Pipeline.FilePattern, cfg.Schedule.WatchDebounce, guard, runFn)
		if err != nil {
			logger.Error("failed to watch raw directory", "error", err)
			return exitFailure
		}
		defer w.Close()
		go w.Run(ctx)
	}

	var server *web.Server
	serverErr := make(chan error, 1)
	if m.serve {
		opts := web.Options{
			ReportDir:      cfg.ReportDir(),
			TrustedProxies: cfg.Server.TrustedProxies,
			APIKeys:        cfg.Server.APIKeys,
			RequestTimeout: cfg.Server.RequestTimeout,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    cfg.Server.IdleTimeout,
		}
		if a.ledger != nil {
			opts.History = a.ledger
		}
		server = web.NewServer(ctx, a.pipeline, guard, opts)
		go func() {
			if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	code := exitSuccess
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
		code = exitFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
	if guard.Running() {
		logger.Info("waiting for active run to finish", "trigger", guard.Status().Trigger)
		if err := guard.WaitForDrain(shutdownCtx); err != nil {
			logger.Warn("active run did not finish in time", "error", err)
		}
	}
	return code
}
