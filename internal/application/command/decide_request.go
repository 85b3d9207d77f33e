package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECIDE REQUEST COMMAND
// PENDING -> APPROVED applies the promotion in the same unit of work;
// PENDING -> REJECTED leaves rank and history untouched.
// ══════════════════════════════════════════════════════════════════════════════

// DecideRequestCommand contains the reviewer's decision.
type DecideRequestCommand struct {
	RequestID string
	ActorID   string
	Decision  progression.Decision
	Note      string
}

// Validate validates the command.
func (c DecideRequestCommand) Validate() error {
	if strings.TrimSpace(c.RequestID) == "" {
		return errors.New("decide_request: request_id is required")
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return errors.New("decide_request: actor_id is required")
	}
	if c.Decision != progression.DecisionApprove && c.Decision != progression.DecisionReject {
		return fmt.Errorf("decide_request: unknown decision %q", c.Decision)
	}
	return nil
}

// DecideRequestResult is the decided request and, on approval, the promotion.
type DecideRequestResult struct {
	Request   *progression.PromotionRequest
	Promotion *PromotionOutcome
}

// DecideRequestHandler handles the DecideRequestCommand.
type DecideRequestHandler struct {
	promoter   *Promoter
	authorizer progression.Authorizer
}

// NewDecideRequestHandler creates a new DecideRequestHandler.
func NewDecideRequestHandler(promoter *Promoter, authorizer progression.Authorizer) *DecideRequestHandler {
	return &DecideRequestHandler{promoter: promoter, authorizer: authorizer}
}

// Handle records the decision. A failed approval leaves the request PENDING.
func (h *DecideRequestHandler) Handle(ctx context.Context, cmd DecideRequestCommand) (*DecideRequestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "DecideRequest", shared.ErrValidation, err.Error(), nil)
	}

	req, err := h.promoter.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, shared.ErrRequestDecided.WithMessage(fmt.Sprintf("request %s is %s", req.ID, req.Status))
	}

	if err := authorize(ctx, h.authorizer, cmd.ActorID, req.PractitionerID); err != nil {
		return nil, err
	}

	if cmd.Decision == progression.DecisionApprove {
		outcome, err := h.promoter.Apply(ctx, Promotion{
			PractitionerID: req.PractitionerID,
			Actor:          cmd.ActorID,
			Kind:           req.Kind,
			Origin:         progression.OriginApproval,
			Note:           cmd.Note,
			Request:        req,
		})
		if err != nil {
			return nil, err
		}
		return &DecideRequestResult{Request: outcome.Request, Promotion: outcome}, nil
	}

	rejected, err := h.reject(ctx, req.ID, req.PractitionerID, cmd)
	if err != nil {
		return nil, err
	}
	return &DecideRequestResult{Request: rejected}, nil
}

func (h *DecideRequestHandler) reject(ctx context.Context, requestID, practitionerID string, cmd DecideRequestCommand) (*progression.PromotionRequest, error) {
	p := h.promoter

	release, err := p.locker.Acquire(ctx, progression.LockKey(practitionerID), p.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	now := p.clock.Now()
	var req *progression.PromotionRequest
	err = progression.WithinUnitOfWork(ctx, p.store, func(uow progression.UnitOfWork) error {
		var err error
		req, err = uow.Requests().GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := req.Reject(cmd.ActorID, now, cmd.Note); err != nil {
			return err
		}
		return uow.Requests().Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.IncRequestTransition(string(req.Status))
	if perr := p.publisher.Publish(shared.NewRequestDecidedEvent(req.PractitionerID, req.ID, string(req.Status), req.DecidedBy, now)); perr != nil {
		logger.FromContext(ctx).Warn("publish event failed", logger.PromotionRequestID(req.ID), logger.Err(perr))
	}
	p.logger.Info("promotion request rejected",
		logger.PractitionerID(req.PractitionerID),
		logger.PromotionRequestID(req.ID),
		logger.Actor(cmd.ActorID),
	)
	return req, nil
}
