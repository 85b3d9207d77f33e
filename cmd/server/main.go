// Package main is the entry point of the progression API server.
//
// The server exposes enrollment, attendance, eligibility, promotions and the
// approval workflow over HTTP. Background sweeps run in cmd/worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dojo-hub/progression-engine/config"
	"github.com/dojo-hub/progression-engine/internal/application/command"
	"github.com/dojo-hub/progression-engine/internal/application/query"
	"github.com/dojo-hub/progression-engine/internal/bootstrap"
	httpserver "github.com/dojo-hub/progression-engine/internal/interface/http"
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
	log.Info("starting progression API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. BACKENDS & APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		log.Info("closing backends...")
		app.Close()
	}()

	eligibility := app.NewEvaluateEligibility()
	attendance := command.NewRecordAttendanceHandler(app.Promoter, app.Recorder, cfg.Features,
		app.EligibilityCache(), command.RecordAttendanceConfig{SystemActor: cfg.Progression.SystemActor})
	decide := command.NewDecideRequestHandler(app.Promoter, app.Authorizer)
	upcoming := query.NewListUpcomingHandler(app.Store.Practitioners(), eligibility, cfg.Scheduler.SweepConcurrency)

	deps := httpserver.Dependencies{
		Enroll:           command.NewEnrollPractitionerHandler(app.Promoter),
		RecordAttendance: attendance,
		ApplyPromotion:   command.NewApplyPromotionHandler(app.Promoter, app.Authorizer),
		RequestPromotion: command.NewRequestPromotionHandler(app.Promoter),
		DecideRequest:    decide,
		BulkDecide:       command.NewBulkDecideHandler(decide),
		SetThresholds:    app.NewSetThresholds(),

		EvaluateEligibility: eligibility,
		GetHistory:          query.NewGetHistoryHandler(app.Store, app.Catalog),
		ListRequests:        query.NewListRequestsHandler(app.Store.Requests()),
		GetRequest:          query.NewGetRequestHandler(app.Store.Requests()),
		ListUpcoming:        upcoming,
		ListBelts:           query.NewListBeltsHandler(app.Catalog),
		GetAcademyStats:     query.NewGetAcademyStatsHandler(app.Stats, app.Catalog),

		Logger:        log.With(logger.Component("http")),
		Metrics:       app.Metrics,
		Gatherer:      app.Registry,
		HealthChecker: app.Health,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.EnableMetrics = cfg.HTTP.EnableMetrics && cfg.Observability.MetricsEnabled
	httpConfig.APIKeyHeader = cfg.HTTP.APIKeyHeader
	httpConfig.APIKeyHashes = cfg.HTTP.APIKeyHashes
	httpConfig.ActorHeader = cfg.HTTP.ActorHeader

	if len(httpConfig.APIKeyHashes) == 0 {
		log.Warn("no API key hashes configured, API authentication disabled")
	}

	server, err := httpserver.NewServer(httpConfig, deps)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server error", logger.Err(err))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}
	log.Info("shutdown completed")
	return nil
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
	return log.With(logger.String("service", cfg.App.Name))
}
