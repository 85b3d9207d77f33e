package query

import (
	"context"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST REQUESTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultRequestLimit = 50
	maxRequestLimit     = 200
)

// ListRequestsQuery filters promotion requests. Empty fields match everything.
type ListRequestsQuery struct {
	PractitionerID string
	AcademyID      string
	Status         string
	Limit          int
	Offset         int
}

// RequestDTO is a promotion request as exposed to callers.
type RequestDTO struct {
	ID             string                    `json:"id"`
	PractitionerID string                    `json:"practitioner_id"`
	AcademyID      string                    `json:"academy_id,omitempty"`
	Kind           progression.Kind          `json:"kind"`
	TargetBelt     string                    `json:"target_belt"`
	TargetDegree   int                       `json:"target_degree,omitempty"`
	Target         string                    `json:"target"`
	Status         progression.RequestStatus `json:"status"`
	RequestedBy    string                    `json:"requested_by"`
	Note           string                    `json:"note,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	DecidedAt      *time.Time                `json:"decided_at,omitempty"`
	DecidedBy      string                    `json:"decided_by,omitempty"`
	DecisionNote   string                    `json:"decision_note,omitempty"`
}

// NewRequestDTO converts a promotion request.
func NewRequestDTO(r *progression.PromotionRequest) RequestDTO {
	dto := RequestDTO{
		ID:             r.ID,
		PractitionerID: r.PractitionerID,
		AcademyID:      r.AcademyID,
		Kind:           r.Kind,
		TargetBelt:     r.TargetBelt,
		TargetDegree:   r.TargetDegree,
		Target:         r.Target(),
		Status:         r.Status,
		RequestedBy:    r.RequestedBy,
		Note:           r.Note,
		CreatedAt:      r.CreatedAt,
		DecidedBy:      r.DecidedBy,
		DecisionNote:   r.DecisionNote,
	}
	if !r.DecidedAt.IsZero() {
		at := r.DecidedAt
		dto.DecidedAt = &at
	}
	return dto
}

// ListRequestsHandler handles the ListRequestsQuery.
type ListRequestsHandler struct {
	requests progression.RequestRepository
}

// NewListRequestsHandler creates a new handler.
func NewListRequestsHandler(requests progression.RequestRepository) *ListRequestsHandler {
	return &ListRequestsHandler{requests: requests}
}

// Handle lists requests, oldest first.
func (h *ListRequestsHandler) Handle(ctx context.Context, q ListRequestsQuery) ([]RequestDTO, error) {
	filter := progression.RequestFilter{
		PractitionerID: q.PractitionerID,
		AcademyID:      q.AcademyID,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
	if q.Status != "" {
		status, err := progression.ParseRequestStatus(q.Status)
		if err != nil {
			return nil, shared.WrapError("query", "ListRequests", shared.ErrValidation, err.Error(), nil)
		}
		filter.Status = status
	}
	if filter.Offset < 0 {
		return nil, shared.WrapError("query", "ListRequests", shared.ErrValidation, "offset must not be negative", nil)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultRequestLimit
	}
	if filter.Limit > maxRequestLimit {
		filter.Limit = maxRequestLimit
	}

	requests, err := h.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RequestDTO, 0, len(requests))
	for _, r := range requests {
		out = append(out, NewRequestDTO(r))
	}
	return out, nil
}

// GetRequestHandler loads a single request.
type GetRequestHandler struct {
	requests progression.RequestRepository
}

// NewGetRequestHandler creates a new handler.
func NewGetRequestHandler(requests progression.RequestRepository) *GetRequestHandler {
	return &GetRequestHandler{requests: requests}
}

// Handle returns the request or ErrRequestNotFound.
func (h *GetRequestHandler) Handle(ctx context.Context, requestID string) (*RequestDTO, error) {
	if requestID == "" {
		return nil, shared.WrapError("query", "GetRequest", shared.ErrValidation, "request_id is required", nil)
	}
	r, err := h.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	dto := NewRequestDTO(r)
	return &dto, nil
}
