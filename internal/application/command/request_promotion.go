package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/metrics"
	"github.com/dojo-hub/progression-engine/pkg/logger"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PROMOTION COMMAND
// Opens a PENDING request for the promotion the practitioner is currently
// eligible for. At most one request per practitioner may be pending.
// ══════════════════════════════════════════════════════════════════════════════

// RequestPromotionCommand contains the data to open a request.
type RequestPromotionCommand struct {
	PractitionerID string
	ActorID        string
	Note           string
}

// Validate validates the command.
func (c RequestPromotionCommand) Validate() error {
	if strings.TrimSpace(c.PractitionerID) == "" {
		return errors.New("request_promotion: practitioner_id is required")
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return errors.New("request_promotion: actor_id is required")
	}
	return nil
}

// RequestPromotionHandler handles the RequestPromotionCommand.
type RequestPromotionHandler struct {
	store       progression.Store
	catalog     *belt.Registry
	assessor    *progression.Assessor
	locker      progression.Locker
	publisher   shared.EventPublisher
	metrics     *metrics.Metrics
	clock       timeutil.Clock
	lockTimeout time.Duration
}

// NewRequestPromotionHandler creates a new RequestPromotionHandler.
// It shares the promoter's collaborators so requests and promotions of one
// practitioner are serialized by the same lock.
func NewRequestPromotionHandler(p *Promoter) *RequestPromotionHandler {
	return &RequestPromotionHandler{
		store:       p.store,
		catalog:     p.catalog,
		assessor:    p.assessor,
		locker:      p.locker,
		publisher:   p.publisher,
		metrics:     p.metrics,
		clock:       p.clock,
		lockTimeout: p.lockTimeout,
	}
}

// Handle opens the request. It fails with ErrNotEligible when there is
// nothing to request and ErrAlreadyPending when a request awaits review.
func (h *RequestPromotionHandler) Handle(ctx context.Context, cmd RequestPromotionCommand) (*progression.PromotionRequest, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RequestPromotion", shared.ErrValidation, err.Error(), nil)
	}

	release, err := h.locker.Acquire(ctx, progression.LockKey(cmd.PractitionerID), h.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	now := h.clock.Now()
	var req *progression.PromotionRequest

	err = progression.WithinUnitOfWork(ctx, h.store, func(uow progression.UnitOfWork) error {
		pr, err := uow.Practitioners().GetByID(ctx, cmd.PractitionerID)
		if err != nil {
			return err
		}

		pending, err := uow.Requests().FindPending(ctx, pr.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			return shared.ErrAlreadyPending.WithMessage(fmt.Sprintf("request %s awaits review", pending.ID))
		}

		a, err := h.assessor.Assess(ctx, h.catalog.Current(), pr, now)
		if err != nil {
			return err
		}

		req, err = progression.NewPromotionRequest(progression.NewRequestParams{
			ID:           uuid.NewString(),
			Practitioner: pr,
			Result:       a.Result,
			RequestedBy:  cmd.ActorID,
			Note:         cmd.Note,
			At:           now,
		})
		if err != nil {
			return err
		}
		return uow.Requests().Create(ctx, req)
	})
	if err != nil {
		if code := shared.Code(err); code != "" {
			h.metrics.IncConflict(code)
		}
		return nil, err
	}

	h.metrics.IncRequestTransition(string(req.Status))
	target := req.Target()
	if perr := h.publisher.Publish(shared.NewPromotionRequestedEvent(req.PractitionerID, req.ID, string(req.Kind), target, req.RequestedBy, now)); perr != nil {
		logger.FromContext(ctx).Warn("publish event failed", logger.PromotionRequestID(req.ID), logger.Err(perr))
	}

	logger.FromContext(ctx).Info("promotion requested",
		logger.PractitionerID(req.PractitionerID),
		logger.PromotionRequestID(req.ID),
		logger.String("target", target),
		logger.Actor(cmd.ActorID),
	)
	return req, nil
}
