// Package main is the entry point of the progression background worker.
//
// The worker runs the periodic eligibility sweep: every active practitioner
// is re-assessed and, when a threshold has been reached, a promotion request
// is opened for the academy staff to decide.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dojo-hub/progression-engine/config"
	"github.com/dojo-hub/progression-engine/internal/bootstrap"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/scheduler"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker has nothing to do")
		return nil
	}
	log.Info("starting progression worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.Duration("sweep_interval", cfg.Scheduler.EligibilitySweepInterval),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. BACKENDS
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		log.Info("closing backends...")
		app.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := setupScheduler(cfg, app, log)
	if err != nil {
		return fmt.Errorf("failed to setup scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	metricsServer := startMetricsServer(cfg, app, log)

	log.Info("worker started successfully")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler", logger.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop metrics server", logger.Err(err))
		}
	}

	log.Info("worker stopped")
	return nil
}

func setupScheduler(cfg *config.Config, app *bootstrap.App, log *logger.Logger) (*scheduler.Scheduler, error) {
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log.With(logger.Component("scheduler")).Slog()
	schedConfig.Timezone = cfg.App.Location
	if cfg.Scheduler.MaxConcurrentJobs > 0 {
		schedConfig.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
	}
	schedConfig.JobTimeout = cfg.Scheduler.JobTimeout

	sched := scheduler.NewScheduler(schedConfig)

	sweep := app.NewSweepJob(app.NewEvaluateEligibility())
	if err := sched.Register(sweep, scheduler.NewIntervalSchedule(cfg.Scheduler.EligibilitySweepInterval)); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweep.Name(), err)
	}

	sched.OnJobComplete(func(result scheduler.JobResult) {
		fields := []logger.Field{
			logger.String("job", result.JobName),
			logger.Latency(result.Duration),
			logger.Bool("manual", result.Manual),
		}
		if result.Success {
			log.Info("job completed", fields...)
			return
		}
		log.Error("job failed", append(fields, logger.Err(result.Error))...)
	})

	return sched, nil
}

// startMetricsServer exposes the worker's registry for scraping.
func startMetricsServer(cfg *config.Config, app *bootstrap.App, log *logger.Logger) *http.Server {
	if !cfg.Observability.MetricsEnabled || cfg.Observability.MetricsPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", logger.Err(err))
		}
	}()
	log.Info("metrics server listening", logger.String("addr", srv.Addr))
	return srv
}

// setupLogger configures structured logging from the observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  level,
		Format: cfg.Observability.LogFormat,
	})
	return log.With(logger.String("service", cfg.App.Name+"-worker"))
}
