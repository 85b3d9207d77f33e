// Package progression contains the belt and degree progression model: the
// practitioner's current rank, the append-only promotion history it is derived
// from, the eligibility rules and the approval workflow.
package progression

import (
	"fmt"
	"strings"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// Practitioner is the progression view of an enrolled practitioner.
// Its rank fields are a projection of the history records and change only
// through ApplyDegree and ApplyBelt.
type Practitioner struct {
	ID          string
	AcademyID   string
	DateOfBirth time.Time
	Active      bool

	// Classes since the last degree are not stored: the attendance ledger
	// counts them from CycleStart.
	BeltCode string
	Degree   int

	// BeltSince is the date of the last belt change (enrollment for the first belt).
	BeltSince time.Time
	// LastDegreeAt is zero until the first degree in any belt.
	LastDegreeAt time.Time

	EnrolledBelt string
	EnrolledAt   time.Time

	// Version counts applied promotions; it doubles as the sequence of the last
	// history record and as the compare-and-swap token of the store.
	Version int64

	UpdatedAt time.Time
}

// EnrollParams contains parameters for creating progression state.
type EnrollParams struct {
	ID          string
	AcademyID   string
	DateOfBirth time.Time
	Active      bool
	Belt        belt.Definition
	At          time.Time
}

// Enroll creates progression state at the given starting belt with no degrees.
func Enroll(params EnrollParams) (*Practitioner, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, shared.WrapError("progression", "Enroll", shared.ErrInvalidID, "practitioner id is required", nil)
	}
	if params.Belt.IsZero() {
		return nil, shared.WrapError("progression", "Enroll", shared.ErrInvalidInput, "starting belt is required", nil)
	}
	if params.At.IsZero() {
		return nil, shared.WrapError("progression", "Enroll", shared.ErrInvalidInput, "enrollment date is required", nil)
	}

	return &Practitioner{
		ID:           id,
		AcademyID:    params.AcademyID,
		DateOfBirth:  params.DateOfBirth,
		Active:       params.Active,
		BeltCode:     params.Belt.Code,
		BeltSince:    params.At,
		EnrolledBelt: params.Belt.Code,
		EnrolledAt:   params.At,
		UpdatedAt:    params.At,
	}, nil
}

// CycleStart is the anchor from which classes and time toward the next
// degree are counted: the later of the last belt change and the last degree.
func (p *Practitioner) CycleStart() time.Time {
	if p.LastDegreeAt.After(p.BeltSince) {
		return p.LastDegreeAt
	}
	return p.BeltSince
}

// GrantParams describes who grants a promotion and why.
type GrantParams struct {
	RecordID  string
	At        time.Time
	Actor     string
	Origin    Origin
	RequestID string
	Note      string
}

// ApplyDegree grants the next degree of the current belt and returns the
// history record to append in the same unit of work.
func (p *Practitioner) ApplyDegree(current belt.Definition, g GrantParams) (DegreeGrantRecord, error) {
	if current.Code != p.BeltCode {
		return DegreeGrantRecord{}, shared.ErrInvalidTarget.WithOp("ApplyDegree").
			WithMessage(fmt.Sprintf("belt %s is not the current belt %s", current.Code, p.BeltCode))
	}
	if p.Degree >= current.MaxDegrees {
		return DegreeGrantRecord{}, shared.ErrInvalidDegree.WithOp("ApplyDegree").
			WithMessage(fmt.Sprintf("belt %s allows at most %d degrees", current.Code, current.MaxDegrees))
	}

	p.Degree++
	p.LastDegreeAt = g.At
	p.Version++
	p.UpdatedAt = g.At

	return DegreeGrantRecord{
		ID:             g.RecordID,
		PractitionerID: p.ID,
		Sequence:       p.Version,
		BeltCode:       current.Code,
		Degree:         p.Degree,
		GrantedAt:      g.At,
		GrantedBy:      g.Actor,
		Origin:         g.Origin,
		RequestID:      g.RequestID,
		Note:           g.Note,
	}, nil
}

// ApplyBelt moves the practitioner to the next belt and returns the history
// record to append in the same unit of work. The caller validates that next
// is the catalog successor allowed for the practitioner's age.
func (p *Practitioner) ApplyBelt(next belt.Definition, g GrantParams) (BeltPromotionRecord, error) {
	if next.IsZero() || next.Code == p.BeltCode {
		return BeltPromotionRecord{}, shared.ErrInvalidTarget.WithOp("ApplyBelt").
			WithMessage("target belt must differ from the current belt")
	}

	from := p.BeltCode
	p.BeltCode = next.Code
	p.Degree = 0
	p.BeltSince = g.At
	p.Version++
	p.UpdatedAt = g.At

	return BeltPromotionRecord{
		ID:             g.RecordID,
		PractitionerID: p.ID,
		Sequence:       p.Version,
		FromBelt:       from,
		ToBelt:         next.Code,
		PromotedAt:     g.At,
		PromotedBy:     g.Actor,
		Origin:         g.Origin,
		RequestID:      g.RequestID,
		Note:           g.Note,
	}, nil
}

// CheckDegreeBound verifies 0 <= Degree <= MaxDegrees for the current belt.
func (p *Practitioner) CheckDegreeBound(c *belt.Catalog) error {
	def, err := c.Find(p.BeltCode)
	if err != nil {
		return err
	}
	if p.Degree < 0 || p.Degree > def.MaxDegrees {
		return shared.ErrInvalidDegree.WithMessage(fmt.Sprintf("degree %d outside 0..%d for %s", p.Degree, def.MaxDegrees, def.Code))
	}
	return nil
}

// Clone creates a deep copy of the practitioner.
func (p *Practitioner) Clone() *Practitioner {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
