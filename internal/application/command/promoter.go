// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
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
// PROMOTER
// The one place that changes a practitioner's rank. Every path (direct apply,
// approval, automatic degree) goes through Apply, which holds the
// practitioner's lock, re-evaluates from fresh data and writes state and
// history in a single unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// Promotion describes one rank change to attempt.
type Promotion struct {
	PractitionerID string
	Actor          string
	Kind           progression.Kind

	// TargetBelt optionally names the belt a BELT promotion must reach.
	TargetBelt string

	Origin progression.Origin
	Note   string

	// Request is the PENDING request being approved, if any.
	Request *progression.PromotionRequest
}

// PromotionOutcome is the committed result of a promotion.
type PromotionOutcome struct {
	Practitioner *progression.Practitioner        `json:"-"`
	Kind         progression.Kind                 `json:"kind"`
	Degree       *progression.DegreeGrantRecord   `json:"degree,omitempty"`
	Belt         *progression.BeltPromotionRecord `json:"belt,omitempty"`
	Request      *progression.PromotionRequest    `json:"-"`
	AppliedAt    time.Time                        `json:"applied_at"`
}

// Record returns the history record written by the promotion.
func (o *PromotionOutcome) Record() progression.Record {
	if o.Degree != nil {
		return *o.Degree
	}
	return *o.Belt
}

// PromoterDeps contains the collaborators of a Promoter.
type PromoterDeps struct {
	Store     progression.Store
	Catalog   *belt.Registry
	Assessor  *progression.Assessor
	Locker    progression.Locker
	Publisher shared.EventPublisher
	Metrics   *metrics.Metrics
	Clock     timeutil.Clock
	Logger    *logger.Logger

	// LockTimeout bounds the wait for the practitioner's lock.
	LockTimeout time.Duration
}

// Promoter applies promotions.
type Promoter struct {
	store       progression.Store
	catalog     *belt.Registry
	assessor    *progression.Assessor
	locker      progression.Locker
	publisher   shared.EventPublisher
	metrics     *metrics.Metrics
	clock       timeutil.Clock
	logger      *logger.Logger
	lockTimeout time.Duration
}

// NewPromoter creates a Promoter.
func NewPromoter(deps PromoterDeps) *Promoter {
	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.LockTimeout <= 0 {
		deps.LockTimeout = 5 * time.Second
	}
	return &Promoter{
		store:       deps.Store,
		catalog:     deps.Catalog,
		assessor:    deps.Assessor,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		clock:       deps.Clock,
		logger:      deps.Logger,
		lockTimeout: deps.LockTimeout,
	}
}

// Apply performs the promotion. It fails with ErrBusy when the practitioner's
// lock cannot be taken in time, ErrStaleIneligible when fresh data no longer
// supports the promotion, ErrInvalidTarget for a target belt that is not the
// next selectable belt, and ErrAlreadyPending when a request awaits review
// and the promotion is not its approval.
func (p *Promoter) Apply(ctx context.Context, promo Promotion) (*PromotionOutcome, error) {
	log := p.logger.With(
		logger.PractitionerID(promo.PractitionerID),
		logger.Actor(promo.Actor),
		logger.PromotionKind(string(promo.Kind)),
	)

	outcome, err := p.apply(ctx, promo)
	if err != nil {
		if code := shared.Code(err); code != "" {
			p.metrics.IncConflict(code)
		}
		log.Warn("promotion refused", logger.Err(err))
		return nil, err
	}

	p.metrics.IncPromotion(string(outcome.Kind), string(promo.Origin))
	if outcome.Request != nil {
		p.metrics.IncRequestTransition(string(outcome.Request.Status))
	}
	p.publish(ctx, outcome, promo)

	log.Info("promotion applied",
		logger.BeltCode(outcome.Practitioner.BeltCode),
		logger.Degree(outcome.Practitioner.Degree),
		logger.String("origin", string(promo.Origin)),
	)
	return outcome, nil
}

func (p *Promoter) apply(ctx context.Context, promo Promotion) (*PromotionOutcome, error) {
	if !promo.Kind.IsValid() {
		return nil, shared.ErrInvalidTarget.WithMessage(fmt.Sprintf("unknown promotion kind %q", promo.Kind))
	}

	release, err := p.locker.Acquire(ctx, progression.LockKey(promo.PractitionerID), p.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	now := p.clock.Now()
	catalog := p.catalog.Current()
	var outcome *PromotionOutcome

	err = progression.WithinUnitOfWork(ctx, p.store, func(uow progression.UnitOfWork) error {
		pr, err := uow.Practitioners().GetByID(ctx, promo.PractitionerID)
		if err != nil {
			return err
		}

		req, err := p.checkPending(ctx, uow, promo)
		if err != nil {
			return err
		}

		if err := p.checkTarget(catalog, pr, promo, now); err != nil {
			return err
		}

		a, err := p.assessor.Assess(ctx, catalog, pr, now)
		if err != nil {
			return err
		}
		if err := checkStillEligible(a, promo.Kind, req); err != nil {
			return err
		}

		expected := pr.Version
		grant := progression.GrantParams{
			RecordID: uuid.NewString(),
			At:       now,
			Actor:    promo.Actor,
			Origin:   promo.Origin,
			Note:     promo.Note,
		}
		if req != nil {
			grant.RequestID = req.ID
		}

		outcome = &PromotionOutcome{Kind: promo.Kind, AppliedAt: now}
		switch promo.Kind {
		case progression.KindDegree:
			current, _ := catalog.Get(pr.BeltCode)
			rec, err := pr.ApplyDegree(current, grant)
			if err != nil {
				return err
			}
			if err := uow.History().AppendDegreeGrant(ctx, rec); err != nil {
				return err
			}
			outcome.Degree = &rec
		case progression.KindBelt:
			rec, err := pr.ApplyBelt(a.NextBelt, grant)
			if err != nil {
				return err
			}
			if err := uow.History().AppendBeltPromotion(ctx, rec); err != nil {
				return err
			}
			outcome.Belt = &rec
		}

		if err := uow.Practitioners().Update(ctx, pr, expected); err != nil {
			if errors.Is(err, shared.ErrConcurrentModification) {
				return shared.ErrBusy.Wrap(err)
			}
			return err
		}

		if req != nil {
			if err := req.Approve(promo.Actor, now, promo.Note); err != nil {
				return err
			}
			if err := uow.Requests().Update(ctx, req); err != nil {
				return err
			}
			outcome.Request = req
		}

		outcome.Practitioner = pr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// checkPending loads the request being approved, or refuses a direct
// promotion while another request is pending.
func (p *Promoter) checkPending(ctx context.Context, uow progression.UnitOfWork, promo Promotion) (*progression.PromotionRequest, error) {
	if promo.Request != nil {
		req, err := uow.Requests().GetByID(ctx, promo.Request.ID)
		if err != nil {
			return nil, err
		}
		if !req.IsPending() {
			return nil, shared.ErrRequestDecided.WithMessage(fmt.Sprintf("request %s is %s", req.ID, req.Status))
		}
		return req, nil
	}

	pending, err := uow.Requests().FindPending(ctx, promo.PractitionerID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, shared.ErrAlreadyPending.WithMessage(fmt.Sprintf("request %s awaits review", pending.ID))
	}
	return nil, nil
}

// checkTarget validates an explicit target belt against the catalog: it must
// be the successor of the current belt and selectable at the present age.
func (p *Promoter) checkTarget(catalog *belt.Catalog, pr *progression.Practitioner, promo Promotion, now time.Time) error {
	if promo.TargetBelt == "" {
		return nil
	}
	if promo.Kind == progression.KindDegree {
		if promo.TargetBelt != pr.BeltCode {
			return shared.ErrInvalidTarget.WithMessage(fmt.Sprintf("degrees are granted in the current belt %s", pr.BeltCode))
		}
		return nil
	}

	target, ok := catalog.Get(promo.TargetBelt)
	if !ok {
		return shared.ErrInvalidTarget.WithMessage(fmt.Sprintf("unknown belt %s", promo.TargetBelt))
	}
	next, ok := catalog.NextBelt(pr.BeltCode)
	if !ok || next.Code != target.Code {
		return shared.ErrInvalidTarget.WithMessage(fmt.Sprintf("%s is not the next belt after %s", target.Code, pr.BeltCode))
	}
	if allowed, reason := p.assessor.Evaluator().AllowsBelt(pr.DateOfBirth, now, target); !allowed {
		return shared.ErrInvalidTarget.WithMessage(fmt.Sprintf("%s not selectable: %s", target.Code, reason))
	}
	return nil
}

func checkStillEligible(a progression.Assessment, kind progression.Kind, req *progression.PromotionRequest) error {
	got, ok := a.Kind()
	if !ok || got != kind {
		reason := a.Reason
		if ok {
			reason = fmt.Sprintf("now %s", a.Outcome)
		}
		return shared.ErrStaleIneligible.WithMessage(fmt.Sprintf("no longer eligible for %s: %s", kind, reason))
	}
	if req == nil {
		return nil
	}
	if kind == progression.KindDegree && (req.TargetBelt != a.CurrentBelt || req.TargetDegree != a.NextDegree) {
		return shared.ErrStaleIneligible.WithMessage(fmt.Sprintf("request targets %s, practitioner is now at %s", req.Target(), a.Target()))
	}
	if kind == progression.KindBelt && req.TargetBelt != a.NextBelt.Code {
		return shared.ErrStaleIneligible.WithMessage(fmt.Sprintf("request targets %s, practitioner is now at %s", req.Target(), a.Target()))
	}
	return nil
}

// publish emits the committed events. Failures are logged: the promotion is durable.
func (p *Promoter) publish(ctx context.Context, o *PromotionOutcome, promo Promotion) {
	var events []shared.Event
	switch {
	case o.Degree != nil:
		events = append(events, shared.NewDegreeGrantedEvent(o.Degree.PractitionerID, o.Degree.BeltCode,
			o.Degree.Degree, o.Degree.GrantedBy, string(o.Degree.Origin), o.AppliedAt))
	case o.Belt != nil:
		events = append(events, shared.NewBeltPromotedEvent(o.Belt.PractitionerID, o.Belt.FromBelt,
			o.Belt.ToBelt, o.Belt.PromotedBy, string(o.Belt.Origin), o.AppliedAt))
	}
	if o.Request != nil {
		events = append(events, shared.NewRequestDecidedEvent(o.Request.PractitionerID, o.Request.ID,
			string(o.Request.Status), o.Request.DecidedBy, o.AppliedAt))
	}

	for _, e := range events {
		if err := p.publisher.Publish(e); err != nil {
			logger.FromContext(ctx).Warn("publish event failed",
				logger.String("event", string(e.EventType())),
				logger.PractitionerID(promo.PractitionerID),
				logger.Err(err))
		}
	}
}
