package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY PROMOTION COMMAND
// Direct path for authorized staff, bypassing the approval workflow.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyPromotionCommand contains the data to apply a promotion.
type ApplyPromotionCommand struct {
	PractitionerID string
	ActorID        string
	Kind           progression.Kind

	// TargetBelt optionally pins the belt of a BELT promotion.
	TargetBelt string
	Note       string
}

// Validate validates the command.
func (c ApplyPromotionCommand) Validate() error {
	if strings.TrimSpace(c.PractitionerID) == "" {
		return errors.New("apply_promotion: practitioner_id is required")
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return errors.New("apply_promotion: actor_id is required")
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("apply_promotion: unknown kind %q", c.Kind)
	}
	return nil
}

// ApplyPromotionHandler handles the ApplyPromotionCommand.
type ApplyPromotionHandler struct {
	promoter   *Promoter
	authorizer progression.Authorizer
}

// NewApplyPromotionHandler creates a new ApplyPromotionHandler.
func NewApplyPromotionHandler(promoter *Promoter, authorizer progression.Authorizer) *ApplyPromotionHandler {
	return &ApplyPromotionHandler{promoter: promoter, authorizer: authorizer}
}

// Handle authorizes the actor and applies the promotion.
func (h *ApplyPromotionHandler) Handle(ctx context.Context, cmd ApplyPromotionCommand) (*PromotionOutcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "ApplyPromotion", shared.ErrValidation, err.Error(), nil)
	}

	if err := authorize(ctx, h.authorizer, cmd.ActorID, cmd.PractitionerID); err != nil {
		return nil, err
	}

	return h.promoter.Apply(ctx, Promotion{
		PractitionerID: cmd.PractitionerID,
		Actor:          cmd.ActorID,
		Kind:           cmd.Kind,
		TargetBelt:     cmd.TargetBelt,
		Origin:         progression.OriginManual,
		Note:           cmd.Note,
	})
}

// authorize asks the identity collaborator whether actor may grant or decide
// promotions for practitionerID.
func authorize(ctx context.Context, authorizer progression.Authorizer, actorID, practitionerID string) error {
	ok, err := authorizer.CanGrantPromotion(ctx, actorID, practitionerID)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", actorID, err)
	}
	if !ok {
		return shared.ErrUnauthorizedActor.WithMessage(fmt.Sprintf("actor %s may not promote %s", actorID, practitionerID))
	}
	return nil
}
