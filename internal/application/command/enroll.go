package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL PRACTITIONER COMMAND
// Creates progression state for a new practitioner, at the lowest belt of the
// enrollment category for their age unless a starting belt is given
// (practitioners transferring from another academy keep their rank).
// ══════════════════════════════════════════════════════════════════════════════

// EnrollPractitionerCommand contains the data to enroll a practitioner.
type EnrollPractitionerCommand struct {
	PractitionerID string
	AcademyID      string
	DateOfBirth    time.Time

	// BeltCode is the optional starting belt.
	BeltCode string

	// EnrolledAt defaults to now.
	EnrolledAt time.Time
}

// Validate validates the command.
func (c EnrollPractitionerCommand) Validate() error {
	if strings.TrimSpace(c.PractitionerID) == "" {
		return errors.New("enroll: practitioner_id is required")
	}
	if strings.TrimSpace(c.AcademyID) == "" {
		return errors.New("enroll: academy_id is required")
	}
	return nil
}

// EnrollPractitionerHandler handles the EnrollPractitionerCommand.
type EnrollPractitionerHandler struct {
	promoter *Promoter
}

// NewEnrollPractitionerHandler creates a new EnrollPractitionerHandler.
func NewEnrollPractitionerHandler(promoter *Promoter) *EnrollPractitionerHandler {
	return &EnrollPractitionerHandler{promoter: promoter}
}

// Handle enrolls the practitioner. It fails with ErrAlreadyEnrolled for a
// known practitioner and ErrInvalidTarget for a starting belt that does not
// exist or is not selectable at the practitioner's age.
func (h *EnrollPractitionerHandler) Handle(ctx context.Context, cmd EnrollPractitionerCommand) (*progression.Practitioner, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "Enroll", shared.ErrValidation, err.Error(), nil)
	}

	p := h.promoter
	now := p.clock.Now()
	at := cmd.EnrolledAt
	if at.IsZero() {
		at = now
	}

	start, err := h.startingBelt(p.catalog.Current(), cmd, at)
	if err != nil {
		return nil, err
	}

	pr, err := progression.Enroll(progression.EnrollParams{
		ID:          cmd.PractitionerID,
		AcademyID:   cmd.AcademyID,
		DateOfBirth: cmd.DateOfBirth,
		Active:      true,
		Belt:        start,
		At:          at,
	})
	if err != nil {
		return nil, err
	}

	if err := p.store.Practitioners().Create(ctx, pr); err != nil {
		return nil, err
	}

	if perr := p.publisher.Publish(shared.NewPractitionerEnrolledEvent(pr.ID, pr.AcademyID, pr.BeltCode, at)); perr != nil {
		logger.FromContext(ctx).Warn("publish event failed", logger.PractitionerID(pr.ID), logger.Err(perr))
	}
	p.logger.Info("practitioner enrolled",
		logger.PractitionerID(pr.ID),
		logger.AcademyID(pr.AcademyID),
		logger.BeltCode(pr.BeltCode),
	)
	return pr, nil
}

func (h *EnrollPractitionerHandler) startingBelt(c *belt.Catalog, cmd EnrollPractitionerCommand, at time.Time) (belt.Definition, error) {
	policy := h.promoter.assessor.Policy()

	if cmd.BeltCode == "" {
		def, ok := policy.EnrollmentBelt(c, cmd.DateOfBirth, at)
		if !ok {
			return belt.Definition{}, shared.ErrInvalidTarget.WithOp("Enroll").
				WithMessage("no belt in the catalog is selectable at this age")
		}
		return def, nil
	}

	def, ok := c.Get(strings.ToUpper(cmd.BeltCode))
	if !ok || !def.Active {
		return belt.Definition{}, shared.ErrInvalidTarget.WithOp("Enroll").
			WithMessage(fmt.Sprintf("unknown belt %s", cmd.BeltCode))
	}
	if allowed, reason := h.promoter.assessor.Evaluator().AllowsBelt(cmd.DateOfBirth, at, def); !allowed {
		return belt.Definition{}, shared.ErrInvalidTarget.WithOp("Enroll").
			WithMessage(fmt.Sprintf("%s not selectable: %s", def.Code, reason))
	}
	return def, nil
}
