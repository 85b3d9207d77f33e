// Package jobs contains the background jobs run by the worker scheduler.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/metrics"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ELIGIBILITY SWEEP JOB
// Walks every active practitioner, evaluates eligibility and announces each
// new promotion target once. Optionally opens a promotion request for it.
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator returns the current assessment of a practitioner.
type Evaluator interface {
	Evaluate(ctx context.Context, practitionerID string) (progression.Assessment, error)
}

// SweepMarker remembers which targets were already announced.
type SweepMarker interface {
	// MarkNew records the target and reports whether it was not seen before.
	MarkNew(ctx context.Context, practitionerID, target string) (bool, error)
	// Unmark forgets the target so the next sweep handles it again.
	Unmark(ctx context.Context, practitionerID, target string) error
}

// RequestOpener opens a PENDING promotion request on behalf of actor.
type RequestOpener interface {
	OpenRequest(ctx context.Context, practitionerID, actor string) error
}

// RequestOpenerFunc adapts a function to RequestOpener.
type RequestOpenerFunc func(ctx context.Context, practitionerID, actor string) error

// OpenRequest implements RequestOpener.
func (f RequestOpenerFunc) OpenRequest(ctx context.Context, practitionerID, actor string) error {
	return f(ctx, practitionerID, actor)
}

// FeatureChecker reports per-academy feature flags.
type FeatureChecker interface {
	IsEnabled(name, academyID string) bool
}

// SweepConfig contains configuration for the sweep job.
type SweepConfig struct {
	// Concurrency bounds evaluations in flight.
	Concurrency int

	// PageSize is the number of practitioners loaded per page.
	PageSize int

	// AutoRequestFeature is the flag enabling request creation.
	AutoRequestFeature string

	// SystemActor is recorded as requester of auto-opened requests.
	SystemActor string
}

// DefaultSweepConfig returns default configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency:        8,
		PageSize:           200,
		AutoRequestFeature: "progression.sweep_auto_request",
		SystemActor:        "system",
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Evaluated int64
	Eligible  int64
	Announced int64
	Requested int64
	Skipped   int64
}

// EligibilitySweepJob implements scheduler.Job.
type EligibilitySweepJob struct {
	practitioners progression.PractitionerRepository
	evaluator     Evaluator
	marker        SweepMarker
	publisher     shared.EventPublisher
	opener        RequestOpener
	features      FeatureChecker
	metrics       *metrics.Metrics
	clock         timeutil.Clock
	logger        *slog.Logger
	config        SweepConfig

	lastStats atomic.Pointer[SweepStats]
}

// SweepDeps groups the collaborators of the sweep job. Opener, Features and
// Metrics may be nil.
type SweepDeps struct {
	Practitioners progression.PractitionerRepository
	Evaluator     Evaluator
	Marker        SweepMarker
	Publisher     shared.EventPublisher
	Opener        RequestOpener
	Features      FeatureChecker
	Metrics       *metrics.Metrics
	Clock         timeutil.Clock
	Logger        *slog.Logger
}

// NewEligibilitySweepJob creates a new sweep job.
func NewEligibilitySweepJob(deps SweepDeps, config SweepConfig) *EligibilitySweepJob {
	defaults := DefaultSweepConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.AutoRequestFeature == "" {
		config.AutoRequestFeature = defaults.AutoRequestFeature
	}
	if config.SystemActor == "" {
		config.SystemActor = defaults.SystemActor
	}
	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Marker == nil {
		deps.Marker = NewMemorySweepMarker(24*time.Hour, deps.Clock)
	}

	return &EligibilitySweepJob{
		practitioners: deps.Practitioners,
		evaluator:     deps.Evaluator,
		marker:        deps.Marker,
		publisher:     deps.Publisher,
		opener:        deps.Opener,
		features:      deps.Features,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		logger:        deps.Logger.With("job", "eligibility_sweep"),
		config:        config,
	}
}

// Name returns the job name.
func (j *EligibilitySweepJob) Name() string {
	return "eligibility_sweep"
}

// Description returns the job description.
func (j *EligibilitySweepJob) Description() string {
	return "Evaluates active practitioners and announces new promotion eligibility"
}

// LastStats returns the statistics of the last completed sweep.
func (j *EligibilitySweepJob) LastStats() (SweepStats, bool) {
	s := j.lastStats.Load()
	if s == nil {
		return SweepStats{}, false
	}
	return *s, true
}

// Run executes one sweep.
func (j *EligibilitySweepJob) Run(ctx context.Context) error {
	start := time.Now()
	stats := &SweepStats{}

	opts := progression.DefaultListOptions().WithLimit(j.config.PageSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := j.practitioners.List(ctx, opts)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		if err := j.sweepPage(ctx, page, stats); err != nil {
			return err
		}

		if len(page) < opts.Limit {
			break
		}
		opts.AfterID = page[len(page)-1].ID
	}

	j.metrics.ObserveSweep(time.Since(start))
	j.lastStats.Store(stats)
	j.logger.Info("sweep completed",
		"evaluated", stats.Evaluated,
		"eligible", stats.Eligible,
		"announced", stats.Announced,
		"requested", stats.Requested,
		"skipped", stats.Skipped,
		"duration", time.Since(start).String(),
	)
	return nil
}

func (j *EligibilitySweepJob) sweepPage(ctx context.Context, page []*progression.Practitioner, stats *SweepStats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, p := range page {
		g.Go(func() error {
			if err := j.sweepOne(gctx, p.ID, stats); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				// One broken practitioner must not stop the sweep.
				atomic.AddInt64(&stats.Skipped, 1)
				j.logger.Warn("practitioner skipped", "practitioner_id", p.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (j *EligibilitySweepJob) sweepOne(ctx context.Context, practitionerID string, stats *SweepStats) error {
	a, err := j.evaluator.Evaluate(ctx, practitionerID)
	if err != nil {
		return err
	}
	atomic.AddInt64(&stats.Evaluated, 1)
	j.metrics.IncSweepDetection(string(a.Outcome))

	if !a.Eligible() {
		return nil
	}
	atomic.AddInt64(&stats.Eligible, 1)

	target := a.Target()
	isNew, err := j.marker.MarkNew(ctx, practitionerID, target)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}
	atomic.AddInt64(&stats.Announced, 1)

	event := shared.NewEligibilityDetectedEvent(practitionerID, a.AcademyID, string(a.Outcome), target, j.clock.Now())
	if err := j.publisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish eligibility event", "practitioner_id", practitionerID, "error", err)
	}

	if j.opener == nil || j.features == nil || !j.features.IsEnabled(j.config.AutoRequestFeature, a.AcademyID) {
		return nil
	}
	if err := j.opener.OpenRequest(ctx, practitionerID, j.config.SystemActor); err != nil {
		if errors.Is(err, shared.ErrAlreadyPending) {
			return nil
		}
		// The request was not opened: leave the target for the next sweep.
		if uerr := j.marker.Unmark(context.WithoutCancel(ctx), practitionerID, target); uerr != nil {
			return errors.Join(err, uerr)
		}
		return err
	}
	atomic.AddInt64(&stats.Requested, 1)
	return nil
}
