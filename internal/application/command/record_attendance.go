package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dojo-hub/progression-engine/config"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTENDANCE COMMAND
// Appends an attended class to the ledger. When the class makes the
// practitioner eligible for a degree and the academy has automatic degrees
// enabled, the degree is granted (or, with approval required, requested) on
// the spot. Belts are never granted automatically.
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttendanceCommand contains the data of one attended class.
type RecordAttendanceCommand struct {
	PractitionerID string
	ClassID        string
	RecordedBy     string

	// AttendedAt defaults to now.
	AttendedAt time.Time
}

// Validate validates the command.
func (c RecordAttendanceCommand) Validate() error {
	if strings.TrimSpace(c.PractitionerID) == "" {
		return errors.New("record_attendance: practitioner_id is required")
	}
	return nil
}

// RecordAttendanceResult contains the result of recording attendance.
type RecordAttendanceResult struct {
	// Recorded is false when the practitioner already attended that day.
	Recorded bool

	Eligibility progression.Assessment

	// AutoGranted is set when a degree was granted automatically.
	AutoGranted *PromotionOutcome
	// AutoRequested is set when a degree request was opened automatically.
	AutoRequested *progression.PromotionRequest
}

// FeatureChecker reports per-academy feature toggles.
type FeatureChecker interface {
	IsEnabled(featureName, academyID string) bool
}

// CacheInvalidator drops cached eligibility of a practitioner.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, practitionerID string) error
}

// RecordAttendanceConfig configures the handler.
type RecordAttendanceConfig struct {
	// SystemActor is recorded as the grantor of automatic degrees.
	SystemActor string
}

// RecordAttendanceHandler handles the RecordAttendanceCommand.
type RecordAttendanceHandler struct {
	promoter  *Promoter
	requester *RequestPromotionHandler
	recorder  progression.AttendanceRecorder
	features  FeatureChecker
	cache     CacheInvalidator
	config    RecordAttendanceConfig
}

// NewRecordAttendanceHandler creates a new RecordAttendanceHandler.
// features and cache may be nil.
func NewRecordAttendanceHandler(
	promoter *Promoter,
	recorder progression.AttendanceRecorder,
	features FeatureChecker,
	cache CacheInvalidator,
	cfg RecordAttendanceConfig,
) *RecordAttendanceHandler {
	if cfg.SystemActor == "" {
		cfg.SystemActor = "system"
	}
	return &RecordAttendanceHandler{
		promoter:  promoter,
		requester: NewRequestPromotionHandler(promoter),
		recorder:  recorder,
		features:  features,
		cache:     cache,
		config:    cfg,
	}
}

// Handle records the class and runs automatic degree grants. Failure of the
// automatic grant is logged and does not fail the recording.
func (h *RecordAttendanceHandler) Handle(ctx context.Context, cmd RecordAttendanceCommand) (*RecordAttendanceResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RecordAttendance", shared.ErrValidation, err.Error(), nil)
	}

	p := h.promoter
	now := p.clock.Now()
	at := cmd.AttendedAt
	if at.IsZero() {
		at = now
	}
	log := logger.FromContext(ctx).With(logger.PractitionerID(cmd.PractitionerID))

	pr, err := p.store.Practitioners().GetByID(ctx, cmd.PractitionerID)
	if err != nil {
		return nil, err
	}

	recorded, err := h.recorder.RecordAttendance(ctx, progression.AttendanceEntry{
		ID:             uuid.NewString(),
		PractitionerID: pr.ID,
		AttendedAt:     at,
		ClassID:        cmd.ClassID,
		RecordedBy:     cmd.RecordedBy,
	})
	if err != nil {
		return nil, err
	}

	result := &RecordAttendanceResult{Recorded: recorded}
	if !recorded {
		return result, nil
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, pr.ID); err != nil {
			log.Warn("eligibility cache invalidation failed", logger.Err(err))
		}
	}

	a, err := p.assessor.Assess(ctx, p.catalog.Current(), pr, now)
	if err != nil {
		return nil, err
	}
	result.Eligibility = a

	if perr := p.publisher.Publish(shared.NewAttendanceRecordedEvent(pr.ID, a.ClassesAttended, at)); perr != nil {
		log.Warn("publish event failed", logger.Err(perr))
	}

	if a.Outcome != progression.EligibleForDegree || !h.enabled(config.FeatureAutoDegree, a.AcademyID) {
		return result, nil
	}

	if h.enabled(config.FeatureApprovalRequired, a.AcademyID) {
		req, err := h.requester.Handle(ctx, RequestPromotionCommand{
			PractitionerID: pr.ID,
			ActorID:        h.config.SystemActor,
			Note:           "opened on attendance",
		})
		switch {
		case err == nil:
			result.AutoRequested = req
		case errors.Is(err, shared.ErrAlreadyPending):
		default:
			log.Warn("automatic degree request failed", logger.Err(err))
		}
		return result, nil
	}

	outcome, err := p.Apply(ctx, Promotion{
		PractitionerID: pr.ID,
		Actor:          h.config.SystemActor,
		Kind:           progression.KindDegree,
		Origin:         progression.OriginAutomatic,
		Note:           "granted on attendance",
	})
	if err != nil {
		log.Warn("automatic degree grant failed", logger.Err(err))
		return result, nil
	}
	result.AutoGranted = outcome
	return result, nil
}

func (h *RecordAttendanceHandler) enabled(feature, academyID string) bool {
	return h.features != nil && h.features.IsEnabled(feature, academyID)
}
