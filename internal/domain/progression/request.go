package progression

import (
	"fmt"
	"strings"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// RequestStatus is the state of a promotion request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// ParseRequestStatus parses a status, case-insensitively.
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case RequestPending, RequestApproved, RequestRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// Decision is the reviewer's verdict on a request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ParseDecision accepts APPROVE/APPROVED and REJECT/REJECTED.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE", "APPROVED":
		return DecisionApprove, nil
	case "REJECT", "REJECTED":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// PromotionRequest is a promotion routed through review.
// PENDING -> APPROVED and PENDING -> REJECTED are the only transitions.
type PromotionRequest struct {
	ID             string
	PractitionerID string
	AcademyID      string
	Kind           Kind

	// Target computed when the request was opened.
	TargetBelt   string
	TargetDegree int

	Status      RequestStatus
	RequestedBy string
	Note        string
	CreatedAt   time.Time

	DecidedAt    time.Time
	DecidedBy    string
	DecisionNote string
}

// NewRequestParams contains parameters for opening a request.
type NewRequestParams struct {
	ID           string
	Practitioner *Practitioner
	Result       Result
	RequestedBy  string
	Note         string
	At           time.Time
}

// NewPromotionRequest opens a PENDING request for the target of an eligible result.
func NewPromotionRequest(params NewRequestParams) (*PromotionRequest, error) {
	kind, ok := params.Result.Kind()
	if !ok {
		return nil, shared.ErrNotEligible.WithMessage(fmt.Sprintf("practitioner is not eligible: %s", params.Result.Reason))
	}
	if params.ID == "" {
		return nil, shared.WrapError("progression", "NewPromotionRequest", shared.ErrInvalidID, "request id is required", nil)
	}

	p := params.Practitioner
	r := &PromotionRequest{
		ID:             params.ID,
		PractitionerID: p.ID,
		AcademyID:      p.AcademyID,
		Kind:           kind,
		Status:         RequestPending,
		RequestedBy:    params.RequestedBy,
		Note:           params.Note,
		CreatedAt:      params.At,
	}
	if kind == KindDegree {
		r.TargetBelt = p.BeltCode
		r.TargetDegree = params.Result.NextDegree
	} else {
		r.TargetBelt = params.Result.NextBelt.Code
	}
	return r, nil
}

// IsPending reports whether the request awaits a decision.
func (r *PromotionRequest) IsPending() bool {
	return r.Status == RequestPending
}

// Target renders the request target the same way Result.Target does.
func (r *PromotionRequest) Target() string {
	if r.Kind == KindDegree {
		return fmt.Sprintf("%s:%s:%d", KindDegree, r.TargetBelt, r.TargetDegree)
	}
	return fmt.Sprintf("%s:%s", KindBelt, r.TargetBelt)
}

// Approve moves a pending request to APPROVED.
func (r *PromotionRequest) Approve(actor string, at time.Time, note string) error {
	return r.decide(RequestApproved, actor, at, note)
}

// Reject moves a pending request to REJECTED.
func (r *PromotionRequest) Reject(actor string, at time.Time, note string) error {
	return r.decide(RequestRejected, actor, at, note)
}

func (r *PromotionRequest) decide(to RequestStatus, actor string, at time.Time, note string) error {
	if !r.IsPending() {
		return shared.ErrRequestDecided.WithMessage(fmt.Sprintf("request %s is already %s", r.ID, r.Status))
	}
	r.Status = to
	r.DecidedBy = actor
	r.DecidedAt = at
	r.DecisionNote = note
	return nil
}

// Clone creates a copy of the request.
func (r *PromotionRequest) Clone() *PromotionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
