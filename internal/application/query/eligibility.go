// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/metrics"
	"github.com/dojo-hub/progression-engine/pkg/logger"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ELIGIBILITY QUERY
// Read-only and safe to poll. Concurrent evaluations of one practitioner are
// collapsed into one, and results are cached per practitioner version and
// catalog version.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateEligibilityQuery identifies the practitioner to evaluate.
type EvaluateEligibilityQuery struct {
	PractitionerID string
}

// Validate validates the query.
func (q EvaluateEligibilityQuery) Validate() error {
	if strings.TrimSpace(q.PractitionerID) == "" {
		return errors.New("practitioner_id is required")
	}
	return nil
}

// EligibilityDTO is the evaluation result as exposed to callers.
type EligibilityDTO struct {
	PractitionerID string `json:"practitioner_id"`
	AcademyID      string `json:"academy_id,omitempty"`
	CurrentBelt    string `json:"current_belt"`
	CurrentDegree  int    `json:"current_degree"`

	Outcome    progression.Outcome `json:"outcome"`
	Reason     string              `json:"reason,omitempty"`
	NextDegree int                 `json:"next_degree,omitempty"`
	NextBelt   string              `json:"next_belt,omitempty"`
	Target     string              `json:"target,omitempty"`

	ClassesAttended int     `json:"classes_attended"`
	ClassesRequired int     `json:"classes_required"`
	ClassesMissing  int     `json:"classes_missing"`
	MonthsElapsed   int     `json:"months_elapsed"`
	MonthsRequired  int     `json:"months_required"`
	Progress        float64 `json:"progress"`

	Age          int               `json:"age"`
	Requirements belt.Requirements `json:"requirements"`
	CycleStart   time.Time         `json:"cycle_start"`
	EvaluatedAt  time.Time         `json:"evaluated_at"`
	Cached       bool              `json:"cached"`
}

// NewEligibilityDTO converts an assessment.
func NewEligibilityDTO(a progression.Assessment, cached bool) EligibilityDTO {
	missing := a.ClassesRequired - a.ClassesAttended
	if missing < 0 {
		missing = 0
	}
	return EligibilityDTO{
		PractitionerID:  a.PractitionerID,
		AcademyID:       a.AcademyID,
		CurrentBelt:     a.CurrentBelt,
		CurrentDegree:   a.CurrentDegree,
		Outcome:         a.Outcome,
		Reason:          a.Reason,
		NextDegree:      a.NextDegree,
		NextBelt:        a.NextBelt.Code,
		Target:          a.Target(),
		ClassesAttended: a.ClassesAttended,
		ClassesRequired: a.ClassesRequired,
		ClassesMissing:  missing,
		MonthsElapsed:   a.MonthsElapsed,
		MonthsRequired:  a.MonthsRequired,
		Progress:        a.Progress(),
		Age:             a.Age,
		Requirements:    a.Requirements,
		CycleStart:      a.CycleStart,
		EvaluatedAt:     a.EvaluatedAt,
		Cached:          cached,
	}
}

// EligibilityCache stores assessments keyed by practitioner, valid only for
// the practitioner version and catalog version they were computed at.
type EligibilityCache interface {
	Get(ctx context.Context, practitionerID string, version, catalogVersion int64) (progression.Assessment, bool, error)
	Put(ctx context.Context, a progression.Assessment, catalogVersion int64) error
}

// EvaluateEligibilityHandler handles the EvaluateEligibilityQuery.
type EvaluateEligibilityHandler struct {
	practitioners progression.PractitionerRepository
	catalog       *belt.Registry
	assessor      *progression.Assessor
	cache         EligibilityCache
	metrics       *metrics.Metrics
	clock         timeutil.Clock

	group singleflight.Group
}

// NewEvaluateEligibilityHandler creates a new handler. cache and m may be nil.
func NewEvaluateEligibilityHandler(
	practitioners progression.PractitionerRepository,
	catalog *belt.Registry,
	assessor *progression.Assessor,
	cache EligibilityCache,
	m *metrics.Metrics,
	clock timeutil.Clock,
) *EvaluateEligibilityHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &EvaluateEligibilityHandler{
		practitioners: practitioners,
		catalog:       catalog,
		assessor:      assessor,
		cache:         cache,
		metrics:       m,
		clock:         clock,
	}
}

// Handle evaluates the practitioner.
func (h *EvaluateEligibilityHandler) Handle(ctx context.Context, q EvaluateEligibilityQuery) (*EligibilityDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "EvaluateEligibility", shared.ErrValidation, err.Error(), nil)
	}
	a, cached, err := h.evaluate(ctx, q.PractitionerID)
	if err != nil {
		return nil, err
	}
	dto := NewEligibilityDTO(a, cached)
	return &dto, nil
}

// Evaluate returns the assessment of a practitioner.
func (h *EvaluateEligibilityHandler) Evaluate(ctx context.Context, practitionerID string) (progression.Assessment, error) {
	a, _, err := h.evaluate(ctx, practitionerID)
	return a, err
}

type evaluation struct {
	assessment progression.Assessment
	cached     bool
}

func (h *EvaluateEligibilityHandler) evaluate(ctx context.Context, practitionerID string) (progression.Assessment, bool, error) {
	p, err := h.practitioners.GetByID(ctx, practitionerID)
	if err != nil {
		return progression.Assessment{}, false, err
	}

	catalogVersion := h.catalog.Version()
	key := p.ID + ":" + strconv.FormatInt(p.Version, 10) + ":" + strconv.FormatInt(catalogVersion, 10)

	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		if a, ok := h.fromCache(ctx, p, catalogVersion); ok {
			return evaluation{assessment: a, cached: true}, nil
		}

		start := time.Now()
		a, err := h.assessor.Assess(ctx, h.catalog.Current(), p, h.clock.Now())
		if err != nil {
			return nil, err
		}
		h.metrics.ObserveEvaluation(string(a.Outcome), time.Since(start))

		if h.cache != nil {
			if err := h.cache.Put(ctx, a, catalogVersion); err != nil {
				logger.FromContext(ctx).Warn("eligibility cache write failed", logger.PractitionerID(p.ID), logger.Err(err))
			}
		}
		return evaluation{assessment: a}, nil
	})
	if err != nil {
		return progression.Assessment{}, false, err
	}
	ev := v.(evaluation)
	return ev.assessment, ev.cached, nil
}

func (h *EvaluateEligibilityHandler) fromCache(ctx context.Context, p *progression.Practitioner, catalogVersion int64) (progression.Assessment, bool) {
	if h.cache == nil {
		return progression.Assessment{}, false
	}
	a, ok, err := h.cache.Get(ctx, p.ID, p.Version, catalogVersion)
	switch {
	case err != nil:
		h.metrics.IncCache("error")
		logger.FromContext(ctx).Warn("eligibility cache read failed", logger.PractitionerID(p.ID), logger.Err(err))
		return progression.Assessment{}, false
	case ok:
		h.metrics.IncCache("hit")
		return a, true
	default:
		h.metrics.IncCache("miss")
		return progression.Assessment{}, false
	}
}
