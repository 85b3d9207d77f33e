// Package http exposes the progression engine over a JSON REST API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dojo-hub/progression-engine/internal/application/command"
	"github.com/dojo-hub/progression-engine/internal/application/query"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/metrics"
	"github.com/dojo-hub/progression-engine/internal/interface/http/handlers"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes bounds request bodies of the API routes.
	MaxBodyBytes int64

	// EnableMetrics - expose the Prometheus /metrics endpoint.
	EnableMetrics bool

	// APIKeyHeader - header carrying the staff API key.
	APIKeyHeader string

	// APIKeyHashes - bcrypt hashes of accepted API keys. Empty disables authentication.
	APIKeyHashes []string

	// ActorHeader - header naming the staff member acting through the API.
	ActorHeader string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		MaxBodyBytes:   64 << 10,
		EnableMetrics:  true,
		APIKeyHeader:   "X-API-Key",
		ActorHeader:    "X-Actor-ID",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	Enroll           *command.EnrollPractitionerHandler
	RecordAttendance *command.RecordAttendanceHandler
	ApplyPromotion   *command.ApplyPromotionHandler
	RequestPromotion *command.RequestPromotionHandler
	DecideRequest    *command.DecideRequestHandler
	BulkDecide       *command.BulkDecideHandler
	SetThresholds    *command.SetThresholdsHandler

	// Query Handlers (CQRS Read Side)
	EvaluateEligibility *query.EvaluateEligibilityHandler
	GetHistory          *query.GetHistoryHandler
	ListRequests        *query.ListRequestsHandler
	GetRequest          *query.GetRequestHandler
	ListUpcoming        *query.ListUpcomingHandler
	ListBelts           *query.ListBeltsHandler
	GetAcademyStats     *query.GetAcademyStatsHandler

	Logger        *logger.Logger
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	s := &Server{
		config: config,
		deps:   deps,
		router: chi.NewRouter(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if s.deps.HealthChecker == nil {
		s.deps.HealthChecker = handlers.NewNoopHealthChecker()
	}

	auth, err := handlers.NewAPIKeyAuth(config.APIKeyHeader, config.APIKeyHashes)
	if err != nil {
		return nil, err
	}
	s.setupRoutes(auth)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes(auth *handlers.APIKeyAuth) {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.RequestLogger(s.logger, s.deps.Metrics))

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth) // Kubernetes alias
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	if s.config.EnableMetrics && s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(handlers.SecurityHeadersMiddleware)
		r.Use(handlers.NoCacheMiddleware)
		r.Use(handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
		r.Use(auth.Middleware)
		r.Use(handlers.ActorMiddleware(s.config.ActorHeader))

		r.Get("/belts", s.handleListBelts)

		r.Post("/practitioners", s.handleEnroll)
		r.Route("/practitioners/{id}", func(r chi.Router) {
			r.Get("/eligibility", s.handleEligibility)
			r.Get("/history", s.handleHistory)
			r.Post("/attendance", s.handleRecordAttendance)

			r.Group(func(r chi.Router) {
				r.Use(handlers.RequireActor)
				r.Post("/promotions", s.handleApplyPromotion)
				r.Post("/promotion-requests", s.handleRequestPromotion)
			})
		})

		r.Get("/promotion-requests", s.handleListRequests)
		r.Get("/promotion-requests/{id}", s.handleGetRequest)
		r.With(handlers.RequireActor).Post("/promotion-requests/{id}/decision", s.handleDecideRequest)
		r.With(handlers.RequireActor).Post("/promotion-requests/decisions", s.handleBulkDecide)

		r.Route("/academies/{id}", func(r chi.Router) {
			r.Get("/upcoming", s.handleListUpcoming)
			r.Get("/stats", s.handleAcademyStats)
			r.With(handlers.RequireActor).Put("/thresholds/{belt}", s.handleSetThresholds)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
