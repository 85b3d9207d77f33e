package query

import (
	"context"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST BELTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListBeltsQuery filters the catalog.
type ListBeltsQuery struct {
	// Category restricts the result to one age category. Empty means all.
	Category        string
	IncludeInactive bool
}

// BeltsDTO is the catalog as exposed to callers.
type BeltsDTO struct {
	Version int64             `json:"version"`
	Belts   []belt.Definition `json:"belts"`
}

// ListBeltsHandler handles the ListBeltsQuery.
type ListBeltsHandler struct {
	catalog *belt.Registry
}

// NewListBeltsHandler creates a new handler.
func NewListBeltsHandler(catalog *belt.Registry) *ListBeltsHandler {
	return &ListBeltsHandler{catalog: catalog}
}

// Handle returns belts in catalog order.
func (h *ListBeltsHandler) Handle(_ context.Context, q ListBeltsQuery) (*BeltsDTO, error) {
	var category belt.Category
	if q.Category != "" {
		c, err := belt.ParseCategory(q.Category)
		if err != nil {
			return nil, shared.WrapError("query", "ListBelts", shared.ErrValidation, err.Error(), nil)
		}
		category = c
	}

	version := h.catalog.Version()
	all := h.catalog.Current().All()
	belts := make([]belt.Definition, 0, len(all))
	for _, def := range all {
		if category != "" && def.Category != category {
			continue
		}
		if !def.Active && !q.IncludeInactive {
			continue
		}
		belts = append(belts, def)
	}
	return &BeltsDTO{Version: version, Belts: belts}, nil
}
