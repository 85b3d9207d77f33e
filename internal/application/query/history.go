package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetHistoryQuery requests the promotion history of a practitioner.
type GetHistoryQuery struct {
	PractitionerID string

	// Verify replays the history and compares it with the stored state.
	Verify bool
}

// Validate validates the query.
func (q GetHistoryQuery) Validate() error {
	if strings.TrimSpace(q.PractitionerID) == "" {
		return errors.New("practitioner_id is required")
	}
	return nil
}

// HistoryEntryDTO is one history entry, degree grant or belt promotion.
type HistoryEntryDTO struct {
	ID        string             `json:"id"`
	Sequence  int64              `json:"sequence"`
	Kind      progression.Kind   `json:"kind"`
	Belt      string             `json:"belt,omitempty"`
	Degree    int                `json:"degree,omitempty"`
	FromBelt  string             `json:"from_belt,omitempty"`
	ToBelt    string             `json:"to_belt,omitempty"`
	At        time.Time          `json:"at"`
	Actor     string             `json:"actor"`
	Origin    progression.Origin `json:"origin"`
	RequestID string             `json:"request_id,omitempty"`
	Note      string             `json:"note,omitempty"`
}

// HistoryDTO is the full history of a practitioner.
type HistoryDTO struct {
	PractitionerID string            `json:"practitioner_id"`
	EnrolledBelt   string            `json:"enrolled_belt"`
	EnrolledAt     time.Time         `json:"enrolled_at"`
	CurrentBelt    string            `json:"current_belt"`
	CurrentDegree  int               `json:"current_degree"`
	Entries        []HistoryEntryDTO `json:"entries"`

	// Consistent is set only when verification was requested.
	Consistent *bool  `json:"consistent,omitempty"`
	Mismatch   string `json:"mismatch,omitempty"`
}

// GetHistoryHandler handles the GetHistoryQuery.
type GetHistoryHandler struct {
	repos   progression.Repositories
	catalog *belt.Registry
}

// NewGetHistoryHandler creates a new handler. Verification checks the history
// against the current catalog.
func NewGetHistoryHandler(repos progression.Repositories, catalog *belt.Registry) *GetHistoryHandler {
	return &GetHistoryHandler{repos: repos, catalog: catalog}
}

// Handle returns the history in sequence order.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*HistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetHistory", shared.ErrValidation, err.Error(), nil)
	}

	p, err := h.repos.Practitioners().GetByID(ctx, q.PractitionerID)
	if err != nil {
		return nil, err
	}
	records, err := h.repos.History().ListByPractitioner(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	dto := &HistoryDTO{
		PractitionerID: p.ID,
		EnrolledBelt:   p.EnrolledBelt,
		EnrolledAt:     p.EnrolledAt,
		CurrentBelt:    p.BeltCode,
		CurrentDegree:  p.Degree,
		Entries:        make([]HistoryEntryDTO, 0, len(records)),
	}
	for _, rec := range records {
		dto.Entries = append(dto.Entries, toHistoryEntry(rec))
	}

	if q.Verify {
		ok := true
		if err := progression.VerifyProjection(h.catalog.Current(), p, records); err != nil {
			ok = false
			dto.Mismatch = err.Error()
		}
		dto.Consistent = &ok
	}
	return dto, nil
}

func toHistoryEntry(rec progression.Record) HistoryEntryDTO {
	switch r := rec.(type) {
	case progression.DegreeGrantRecord:
		return HistoryEntryDTO{
			ID: r.ID, Sequence: r.Sequence, Kind: progression.KindDegree,
			Belt: r.BeltCode, Degree: r.Degree,
			At: r.GrantedAt, Actor: r.GrantedBy, Origin: r.Origin,
			RequestID: r.RequestID, Note: r.Note,
		}
	case progression.BeltPromotionRecord:
		return HistoryEntryDTO{
			ID: r.ID, Sequence: r.Sequence, Kind: progression.KindBelt,
			Belt: r.ToBelt, FromBelt: r.FromBelt, ToBelt: r.ToBelt,
			At: r.PromotedAt, Actor: r.PromotedBy, Origin: r.Origin,
			RequestID: r.RequestID, Note: r.Note,
		}
	default:
		return HistoryEntryDTO{Sequence: rec.Seq(), Kind: rec.RecordKind(), At: rec.At()}
	}
}
