package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dojo-hub/progression-engine/internal/application/command"
	"github.com/dojo-hub/progression-engine/internal/application/query"
	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListBelts(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.ListBelts.Handle(r.Context(), query.ListBeltsQuery{
		Category:        r.URL.Query().Get("category"),
		IncludeInactive: getQueryParamBool(r, "include_inactive"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTITIONERS
// ══════════════════════════════════════════════════════════════════════════════

type enrollRequest struct {
	PractitionerID string `json:"practitioner_id"`
	AcademyID      string `json:"academy_id"`
	DateOfBirth    string `json:"date_of_birth"`
	Belt           string `json:"belt"`
	EnrolledAt     string `json:"enrolled_at"`
}

type practitionerResponse struct {
	ID           string    `json:"id"`
	AcademyID    string    `json:"academy_id"`
	Active       bool      `json:"active"`
	Belt         string    `json:"belt"`
	Degree       int       `json:"degree"`
	BeltSince    time.Time `json:"belt_since"`
	EnrolledBelt string    `json:"enrolled_belt"`
	EnrolledAt   time.Time `json:"enrolled_at"`
	Version      int64     `json:"version"`
}

func newPractitionerResponse(p *progression.Practitioner) practitionerResponse {
	return practitionerResponse{
		ID:           p.ID,
		AcademyID:    p.AcademyID,
		Active:       p.Active,
		Belt:         p.BeltCode,
		Degree:       p.Degree,
		BeltSince:    p.BeltSince,
		EnrolledBelt: p.EnrolledBelt,
		EnrolledAt:   p.EnrolledAt,
		Version:      p.Version,
	}
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	dob, err := parseDate("date_of_birth", req.DateOfBirth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	enrolledAt, err := parseDate("enrolled_at", req.EnrolledAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.deps.Enroll.Handle(r.Context(), command.EnrollPractitionerCommand{
		PractitionerID: req.PractitionerID,
		AcademyID:      req.AcademyID,
		DateOfBirth:    dob,
		BeltCode:       req.Belt,
		EnrolledAt:     enrolledAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newPractitionerResponse(p))
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.EvaluateEligibility.Handle(r.Context(), query.EvaluateEligibilityQuery{
		PractitionerID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetHistory.Handle(r.Context(), query.GetHistoryQuery{
		PractitionerID: chi.URLParam(r, "id"),
		Verify:         getQueryParamBool(r, "verify"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type attendanceRequest struct {
	ClassID    string `json:"class_id"`
	AttendedAt string `json:"attended_at"`
}

type attendanceResponse struct {
	Recorded      bool                      `json:"recorded"`
	Eligibility   *query.EligibilityDTO     `json:"eligibility,omitempty"`
	AutoGranted   *command.PromotionOutcome `json:"auto_granted,omitempty"`
	AutoRequested *query.RequestDTO         `json:"auto_requested,omitempty"`
}

func (s *Server) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	at, err := parseDate("attended_at", req.AttendedAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.RecordAttendance.Handle(r.Context(), command.RecordAttendanceCommand{
		PractitionerID: chi.URLParam(r, "id"),
		ClassID:        req.ClassID,
		RecordedBy:     handlers.ActorFromContext(r.Context()),
		AttendedAt:     at,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := attendanceResponse{Recorded: result.Recorded, AutoGranted: result.AutoGranted}
	if result.Recorded {
		dto := query.NewEligibilityDTO(result.Eligibility, false)
		resp.Eligibility = &dto
	}
	if result.AutoRequested != nil {
		dto := query.NewRequestDTO(result.AutoRequested)
		resp.AutoRequested = &dto
	}

	status := http.StatusCreated
	if !result.Recorded {
		status = http.StatusOK
	}
	writeJSON(w, r, status, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTIONS
// ══════════════════════════════════════════════════════════════════════════════

type applyPromotionRequest struct {
	Kind       string `json:"kind"`
	TargetBelt string `json:"target_belt"`
	Note       string `json:"note"`
}

type promotionResponse struct {
	Practitioner practitionerResponse      `json:"practitioner"`
	Promotion    *command.PromotionOutcome `json:"promotion"`
	Request      *query.RequestDTO         `json:"request,omitempty"`
}

func newPromotionResponse(o *command.PromotionOutcome) promotionResponse {
	resp := promotionResponse{Practitioner: newPractitionerResponse(o.Practitioner), Promotion: o}
	if o.Request != nil {
		dto := query.NewRequestDTO(o.Request)
		resp.Request = &dto
	}
	return resp
}

func (s *Server) handleApplyPromotion(w http.ResponseWriter, r *http.Request) {
	var req applyPromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	kind, err := progression.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, r, shared.WrapError("http", "ApplyPromotion", shared.ErrValidation, err.Error(), nil))
		return
	}

	outcome, err := s.deps.ApplyPromotion.Handle(r.Context(), command.ApplyPromotionCommand{
		PractitionerID: chi.URLParam(r, "id"),
		ActorID:        handlers.ActorFromContext(r.Context()),
		Kind:           kind,
		TargetBelt:     req.TargetBelt,
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newPromotionResponse(outcome))
}

type requestPromotionRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleRequestPromotion(w http.ResponseWriter, r *http.Request) {
	var req requestPromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.deps.RequestPromotion.Handle(r.Context(), command.RequestPromotionCommand{
		PractitionerID: chi.URLParam(r, "id"),
		ActorID:        handlers.ActorFromContext(r.Context()),
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewRequestDTO(created))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := getQueryParamInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	requests, err := s.deps.ListRequests.Handle(r.Context(), query.ListRequestsQuery{
		PractitionerID: q.Get("practitioner_id"),
		AcademyID:      q.Get("academy_id"),
		Status:         q.Get("status"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, requests, &ResponseMeta{Count: len(requests), Limit: limit, Offset: offset})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.GetRequest.Handle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, req)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

type decisionResponse struct {
	Request   query.RequestDTO   `json:"request"`
	Promotion *promotionResponse `json:"promotion,omitempty"`
}

func (s *Server) handleDecideRequest(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	decision, err := progression.ParseDecision(req.Decision)
	if err != nil {
		s.writeError(w, r, shared.WrapError("http", "DecideRequest", shared.ErrValidation, err.Error(), nil))
		return
	}

	result, err := s.deps.DecideRequest.Handle(r.Context(), command.DecideRequestCommand{
		RequestID: chi.URLParam(r, "id"),
		ActorID:   handlers.ActorFromContext(r.Context()),
		Decision:  decision,
		Note:      req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := decisionResponse{Request: query.NewRequestDTO(result.Request)}
	if result.Promotion != nil {
		p := newPromotionResponse(result.Promotion)
		resp.Promotion = &p
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type bulkDecisionRequest struct {
	RequestIDs []string `json:"request_ids"`
	Decision   string   `json:"decision"`
	Note       string   `json:"note"`
}

type bulkDecisionItem struct {
	RequestID string             `json:"request_id"`
	Success   bool               `json:"success"`
	Request   *query.RequestDTO  `json:"request,omitempty"`
	Promotion *promotionResponse `json:"promotion,omitempty"`
	Error     *APIError          `json:"error,omitempty"`
}

type bulkDecisionResponse struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Items     []bulkDecisionItem `json:"items"`
}

// handleBulkDecide answers 200 even when some items fail; each item carries
// the error code a single decision would have returned.
func (s *Server) handleBulkDecide(w http.ResponseWriter, r *http.Request) {
	var req bulkDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	decision := progression.DecisionApprove
	if req.Decision != "" {
		d, err := progression.ParseDecision(req.Decision)
		if err != nil {
			s.writeError(w, r, shared.WrapError("http", "BulkDecide", shared.ErrValidation, err.Error(), nil))
			return
		}
		decision = d
	}

	result, err := s.deps.BulkDecide.Handle(r.Context(), command.BulkDecideCommand{
		RequestIDs: req.RequestIDs,
		ActorID:    handlers.ActorFromContext(r.Context()),
		Decision:   decision,
		Note:       req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := bulkDecisionResponse{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Items:     make([]bulkDecisionItem, 0, len(result.Items)),
	}
	for _, it := range result.Items {
		item := bulkDecisionItem{RequestID: it.RequestID, Success: it.Err == nil}
		if it.Err != nil {
			_, code, message := errorResponse(it.Err)
			item.Error = &APIError{Code: code, Message: message}
		} else {
			dto := query.NewRequestDTO(it.Result.Request)
			item.Request = &dto
			if it.Result.Promotion != nil {
				p := newPromotionResponse(it.Result.Promotion)
				item.Promotion = &p
			}
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleAcademyStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetAcademyStats.Handle(r.Context(), query.GetAcademyStatsQuery{
		AcademyID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var req belt.Requirements
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.SetThresholds.Handle(r.Context(), command.SetThresholdsCommand{
		AcademyID:    chi.URLParam(r, "id"),
		BeltCode:     chi.URLParam(r, "belt"),
		ActorID:      handlers.ActorFromContext(r.Context()),
		Requirements: req,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleListUpcoming(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := s.deps.ListUpcoming.Handle(r.Context(), query.ListUpcomingQuery{
		AcademyID:    chi.URLParam(r, "id"),
		Limit:        limit,
		EligibleOnly: getQueryParamBool(r, "eligible_only"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, rows, &ResponseMeta{Count: len(rows), Limit: limit})
}
