package query

import (
	"context"
	"errors"
	"strings"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMY STATISTICS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAcademyStatsQuery names the academy to summarize.
type GetAcademyStatsQuery struct {
	AcademyID string
}

// Validate validates the query.
func (q GetAcademyStatsQuery) Validate() error {
	if strings.TrimSpace(q.AcademyID) == "" {
		return errors.New("academy_id is required")
	}
	return nil
}

// DegreeCountDTO is the number of active practitioners at one degree.
type DegreeCountDTO struct {
	Degree int `json:"degree"`
	Count  int `json:"count"`
}

// BeltCountDTO is the distribution of active practitioners over one belt.
type BeltCountDTO struct {
	Belt     string           `json:"belt"`
	Name     string           `json:"name,omitempty"`
	Category belt.Category    `json:"category,omitempty"`
	Total    int              `json:"total"`
	Degrees  []DegreeCountDTO `json:"degrees"`
}

// AcademyStatsDTO summarizes one academy.
type AcademyStatsDTO struct {
	AcademyID string         `json:"academy_id"`
	Active    int            `json:"active"`
	Inactive  int            `json:"inactive"`
	Belts     []BeltCountDTO `json:"belts"`
	Pending   int            `json:"pending_requests"`
	Approved  int            `json:"approved_requests"`
	Rejected  int            `json:"rejected_requests"`
}

// GetAcademyStatsHandler handles the GetAcademyStatsQuery.
type GetAcademyStatsHandler struct {
	stats   progression.StatsReader
	catalog *belt.Registry
}

// NewGetAcademyStatsHandler creates a new handler.
func NewGetAcademyStatsHandler(stats progression.StatsReader, catalog *belt.Registry) *GetAcademyStatsHandler {
	return &GetAcademyStatsHandler{stats: stats, catalog: catalog}
}

// Handle lists belts in catalog order. Belts no longer in the catalog come last.
func (h *GetAcademyStatsHandler) Handle(ctx context.Context, q GetAcademyStatsQuery) (*AcademyStatsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetAcademyStats", shared.ErrValidation, err.Error(), nil)
	}

	st, err := h.stats.AcademyStats(ctx, q.AcademyID)
	if err != nil {
		return nil, err
	}

	byBelt := make(map[string]*BeltCountDTO)
	var unknown []string
	for _, rc := range st.Ranks {
		row, ok := byBelt[rc.BeltCode]
		if !ok {
			row = &BeltCountDTO{Belt: rc.BeltCode}
			byBelt[rc.BeltCode] = row
			unknown = append(unknown, rc.BeltCode)
		}
		row.Total += rc.Count
		row.Degrees = append(row.Degrees, DegreeCountDTO{Degree: rc.Degree, Count: rc.Count})
	}

	out := &AcademyStatsDTO{
		AcademyID: st.AcademyID,
		Active:    st.Active,
		Inactive:  st.Inactive,
		Belts:     make([]BeltCountDTO, 0, len(byBelt)),
		Pending:   st.Requests[progression.RequestPending],
		Approved:  st.Requests[progression.RequestApproved],
		Rejected:  st.Requests[progression.RequestRejected],
	}

	placed := make(map[string]bool, len(byBelt))
	for _, def := range h.catalog.Current().All() {
		row, ok := byBelt[def.Code]
		if !ok {
			continue
		}
		row.Name, row.Category = def.Name, def.Category
		out.Belts = append(out.Belts, *row)
		placed[def.Code] = true
	}
	for _, code := range unknown {
		if !placed[code] {
			out.Belts = append(out.Belts, *byBelt[code])
		}
	}
	return out, nil
}
