package progression

import (
	"fmt"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// Replay rebuilds the rank fields of a practitioner from the enrollment point
// and the history records. Records may be given in any order; they are applied
// in sequence order and must form a gapless chain starting at 1. Degrees must
// stay within the belt's maximum and promotions must move forward along the
// catalog's progression.
//
// Only the structural fields are produced: BeltCode, Degree, BeltSince,
// LastDegreeAt and Version. Profile fields are not part of the history.
func Replay(c *belt.Catalog, practitionerID, enrolledBelt string, enrolledAt time.Time, records []Record) (*Practitioner, error) {
	p := &Practitioner{
		ID:           practitionerID,
		BeltCode:     enrolledBelt,
		BeltSince:    enrolledAt,
		EnrolledBelt: enrolledBelt,
		EnrolledAt:   enrolledAt,
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	for _, rec := range sorted {
		if rec.Seq() != p.Version+1 {
			return nil, replayError(rec, fmt.Sprintf("expected sequence %d", p.Version+1))
		}

		switch r := rec.(type) {
		case DegreeGrantRecord:
			if r.BeltCode != p.BeltCode {
				return nil, replayError(rec, fmt.Sprintf("degree granted in %s while holding %s", r.BeltCode, p.BeltCode))
			}
			if r.Degree != p.Degree+1 {
				return nil, replayError(rec, fmt.Sprintf("degree %d does not follow %d", r.Degree, p.Degree))
			}
			def, ok := c.Get(r.BeltCode)
			if !ok {
				return nil, replayError(rec, fmt.Sprintf("unknown belt %s", r.BeltCode))
			}
			if r.Degree > def.MaxDegrees {
				return nil, replayError(rec, fmt.Sprintf("degree %d exceeds %d for %s", r.Degree, def.MaxDegrees, def.Code))
			}
			p.Degree = r.Degree
			p.LastDegreeAt = r.GrantedAt
		case BeltPromotionRecord:
			if r.FromBelt != p.BeltCode {
				return nil, replayError(rec, fmt.Sprintf("promotion from %s while holding %s", r.FromBelt, p.BeltCode))
			}
			if !c.Precedes(r.FromBelt, r.ToBelt) {
				return nil, replayError(rec, fmt.Sprintf("%s does not lead to %s", r.FromBelt, r.ToBelt))
			}
			p.BeltCode = r.ToBelt
			p.Degree = 0
			p.BeltSince = r.PromotedAt
		}

		p.Version = rec.Seq()
		p.UpdatedAt = rec.At()
	}

	return p, nil
}

// VerifyProjection checks that the stored state is within the catalog bounds
// and matches the replayed history.
func VerifyProjection(c *belt.Catalog, p *Practitioner, records []Record) error {
	if err := p.CheckDegreeBound(c); err != nil {
		return err
	}
	replayed, err := Replay(c, p.ID, p.EnrolledBelt, p.EnrolledAt, records)
	if err != nil {
		return err
	}
	if replayed.BeltCode != p.BeltCode ||
		replayed.Degree != p.Degree ||
		replayed.Version != p.Version ||
		!replayed.BeltSince.Equal(p.BeltSince) ||
		!replayed.LastDegreeAt.Equal(p.LastDegreeAt) {
		return shared.WrapError("progression", "VerifyProjection", shared.ErrInvalidState,
			fmt.Sprintf("state %s/%d@v%d does not match history %s/%d@v%d",
				p.BeltCode, p.Degree, p.Version, replayed.BeltCode, replayed.Degree, replayed.Version), nil)
	}
	return nil
}

func replayError(rec Record, msg string) error {
	return shared.WrapError("progression", "Replay", shared.ErrInvalidState,
		fmt.Sprintf("record %d (%s): %s", rec.Seq(), rec.RecordKind(), msg), nil)
}
