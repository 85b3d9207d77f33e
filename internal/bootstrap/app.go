// Package bootstrap assembles the progression engine from configuration.
// Both the API server and the worker build their object graph here.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dojo-hub/progression-engine/config"
	"github.com/dojo-hub/progression-engine/internal/application/command"
	"github.com/dojo-hub/progression-engine/internal/application/eventhandler"
	"github.com/dojo-hub/progression-engine/internal/application/query"
	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/external/academy"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/lock"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/messaging"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/metrics"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/dojo-hub/progression-engine/internal/interface/http/handlers"
	"github.com/dojo-hub/progression-engine/pkg/logger"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// EventBus is the bus every component publishes to.
type EventBus interface {
	shared.EventBus
	Close() error
}

// eligibilityCache is what the query side, the invalidation handler and the
// threshold command share.
type eligibilityCache interface {
	query.EligibilityCache
	eventhandler.EligibilityCache
	command.CacheFlusher
}

// App is the assembled engine.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   *handlers.CompositeHealthChecker
	Clock    timeutil.Clock

	Catalog    *belt.Registry
	Store      progression.Store
	Ledger     progression.AttendanceLedger
	Recorder   progression.AttendanceRecorder
	Thresholds progression.ThresholdSource
	Overrides  progression.ThresholdWriter
	Stats      progression.StatsReader
	Directory  progression.Directory
	Authorizer progression.Authorizer
	Locker     progression.Locker
	Bus        EventBus

	Assessor *progression.Assessor
	Promoter *command.Promoter

	// redis and cache are nil when Redis is disabled or unreachable.
	redis   *redis.Cache
	cache   eligibilityCache
	closers []func()
}

// New connects the configured backends and wires the application layer.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	policy, err := PolicyFromConfig(cfg.Progression)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
		Health:   handlers.NewCompositeHealthChecker(cfg.App.Version),
		Clock:    timeutil.SystemClock{Location: cfg.App.Location},
		Catalog:  belt.NewRegistry(belt.DefaultCatalog()),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		return nil, err
	}
	a.openDirectory()
	if err := a.openBus(); err != nil {
		return nil, err
	}

	features := cfg.Features
	a.Assessor = progression.NewAssessor(policy, a.Ledger, a.Directory,
		progression.WithThresholdSource(a.Thresholds),
		progression.WithTimeBasedDegrees(func(academyID string) bool {
			return features.IsEnabled(config.FeatureTimeBasedDegrees, academyID)
		}),
	)
	a.Promoter = command.NewPromoter(command.PromoterDeps{
		Store:       a.Store,
		Catalog:     a.Catalog,
		Assessor:    a.Assessor,
		Locker:      a.Locker,
		Publisher:   a.Bus,
		Metrics:     a.Metrics,
		Clock:       a.Clock,
		Logger:      log.With(logger.Component("promoter")),
		LockTimeout: cfg.Progression.LockTimeout,
	})

	var inv eventhandler.EligibilityCache
	if a.cache != nil {
		inv = a.cache
	}
	if err := eventhandler.Register(a.Bus, inv, log.Slog()); err != nil {
		return nil, fmt.Errorf("register event handlers: %w", err)
	}
	return a, nil
}

// PolicyFromConfig builds the progression policy from configured thresholds.
func PolicyFromConfig(c config.ProgressionConfig) (progression.Policy, error) {
	mode, err := progression.ParseAgeMode(c.AgeMode)
	if err != nil {
		return progression.Policy{}, err
	}
	return progression.Policy{
		Defaults: belt.Requirements{
			ClassesPerDegree:    c.ClassesPerDegree,
			ClassesForPromotion: c.ClassesForPromotion,
			MinMonthsPerDegree:  c.MinMonthsPerDegree,
			MinMonthsInBelt:     c.MinMonthsInBelt,
			MonthsPerDegree:     c.MonthsPerTimeDegree,
		},
		AgeGate: progression.DefaultAgeGate(mode, c.JuvenileFromAge, c.AdultFromAge, c.JuvenileMaxAdultRank),
	}, nil
}

func (a *App) openStore(ctx context.Context) error {
	dbCfg := a.Config.Database
	if dbCfg.URL == "" {
		a.Logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := memory.NewStore()
		a.Store, a.Ledger, a.Recorder = mem, mem, mem
		a.Thresholds, a.Overrides, a.Stats = mem, mem, mem
		return nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = dbCfg.URL
	pgCfg.MaxConns = int32(dbCfg.MaxOpenConns)
	pgCfg.MinConns = int32(dbCfg.MaxIdleConns)
	pgCfg.MaxConnLifetime = dbCfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = dbCfg.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	if dbCfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	attendance := postgres.NewAttendanceRepository(conn)
	a.Store = postgres.NewStore(conn)
	a.Ledger, a.Recorder = attendance, attendance
	thresholds := postgres.NewThresholdRepository(conn)
	a.Thresholds, a.Overrides = thresholds, thresholds
	a.Stats = postgres.NewStatsRepository(conn)
	a.Health.AddCheck("postgres", handlers.NewPingCheck(conn))
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	rc, pc := a.Config.Redis, a.Config.Progression
	if rc.Disabled {
		a.Locker = lock.NewKeyed()
		return nil
	}

	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolTimeout:  rc.ReadTimeout + time.Second,
	})
	if err != nil {
		if pc.LockBackend == "redis" {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Logger.Warn("redis unavailable, eligibility cache disabled", logger.Err(err))
		a.Locker = lock.NewKeyed()
		return nil
	}
	a.redis = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	if pc.LockBackend == "redis" {
		a.Health.AddCheck("redis", handlers.NewPingCheck(cache))
	} else {
		a.Health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}

	a.cache = redis.NewEligibilityCache(cache, pc.EligibilityCacheTTL)
	if pc.LockBackend == "redis" {
		a.Locker = redis.NewLocker(cache, pc.LockTTL)
	} else {
		a.Locker = lock.NewKeyed()
	}
	return nil
}

func (a *App) openDirectory() {
	dc := a.Config.Directory
	if !dc.Enabled() {
		a.Directory = progression.NewRepositoryDirectory(a.Store.Practitioners())
		a.Authorizer = academy.NewStaticAuthorizer(a.Config.Progression.GrantorIDs)
		return
	}

	clientCfg := academy.DefaultClientConfig(dc.BaseURL)
	clientCfg.APIKey = dc.APIKey
	clientCfg.Timeout = dc.RequestTimeout
	clientCfg.MaxRetries = dc.MaxRetries
	clientCfg.RetryBaseDelay = dc.RetryBaseDelay
	clientCfg.RetryMaxDelay = dc.RetryMaxDelay
	clientCfg.BreakerThreshold = dc.CircuitBreakerThreshold
	clientCfg.BreakerTimeout = dc.CircuitBreakerTimeout
	clientCfg.Logger = a.Logger.Slog().With("component", "directory")

	client := academy.NewClient(clientCfg)
	a.Directory, a.Authorizer = client, client
	a.Health.AddCheck("directory", handlers.NewDirectoryCheck(client))
}

func (a *App) openBus() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = true
	local.Logger = a.Logger.Slog()
	local.Metrics = a.Metrics

	if a.redis == nil {
		bus := messaging.NewInMemoryEventBus(local)
		a.Bus = bus
		a.closers = append(a.closers, func() { _ = bus.Close() })
		return nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisPubSub(a.redis.Client()),
		LocalBusConfig: local,
		Logger:         a.Logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	a.Bus = bus
	a.closers = append(a.closers, func() { _ = bus.Close() })
	return nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// EligibilityCache returns the shared cache, or nil without Redis.
func (a *App) EligibilityCache() query.EligibilityCache {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

// NewEvaluateEligibility builds the eligibility query handler.
func (a *App) NewEvaluateEligibility() *query.EvaluateEligibilityHandler {
	return query.NewEvaluateEligibilityHandler(a.Store.Practitioners(), a.Catalog, a.Assessor,
		a.EligibilityCache(), a.Metrics, a.Clock)
}

// NewSetThresholds builds the academy threshold command. Without Redis there
// is no shared cache to flush.
func (a *App) NewSetThresholds() *command.SetThresholdsHandler {
	var flusher command.CacheFlusher
	if a.cache != nil {
		flusher = a.cache
	}
	return command.NewSetThresholdsHandler(a.Catalog, a.Assessor.Policy(), a.Overrides, flusher,
		a.Logger.With(logger.Component("thresholds")))
}

// NewRequestOpener adapts the request command for the sweep job.
func (a *App) NewRequestOpener() jobs.RequestOpener {
	requests := command.NewRequestPromotionHandler(a.Promoter)
	return jobs.RequestOpenerFunc(func(ctx context.Context, practitionerID, actor string) error {
		_, err := requests.Handle(ctx, command.RequestPromotionCommand{
			PractitionerID: practitionerID,
			ActorID:        actor,
			Note:           "opened by eligibility sweep",
		})
		return err
	})
}

// NewSweepMarker returns the Redis marker when available so announcements
// are de-duplicated across workers.
func (a *App) NewSweepMarker() jobs.SweepMarker {
	ttl := a.Config.Scheduler.SweepNotifyTTL
	if a.redis != nil {
		return redis.NewSweepMarker(a.redis, ttl)
	}
	return jobs.NewMemorySweepMarker(ttl, a.Clock)
}

// NewSweepJob builds the eligibility sweep.
func (a *App) NewSweepJob(evaluator jobs.Evaluator) *jobs.EligibilitySweepJob {
	return jobs.NewEligibilitySweepJob(jobs.SweepDeps{
		Practitioners: a.Store.Practitioners(),
		Evaluator:     evaluator,
		Marker:        a.NewSweepMarker(),
		Publisher:     a.Bus,
		Opener:        a.NewRequestOpener(),
		Features:      a.Config.Features,
		Metrics:       a.Metrics,
		Clock:         a.Clock,
		Logger:        a.Logger.Slog().With("component", "sweep"),
	}, jobs.SweepConfig{
		Concurrency: a.Config.Scheduler.SweepConcurrency,
		SystemActor: a.Config.Progression.SystemActor,
	})
}
