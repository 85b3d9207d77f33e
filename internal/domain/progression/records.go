package progression

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the kind of promotion.
type Kind string

const (
	KindDegree Kind = "DEGREE"
	KindBelt   Kind = "BELT"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindDegree || k == KindBelt
}

// ParseKind parses a promotion kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("unknown promotion kind %q", s)
	}
	return k, nil
}

// Origin tells how a promotion was applied.
type Origin string

const (
	OriginManual    Origin = "MANUAL"    // direct apply by staff
	OriginAutomatic Origin = "AUTOMATIC" // degree granted on attendance
	OriginApproval  Origin = "APPROVAL"  // approved promotion request
)

// Record is an immutable history entry. The only implementations are
// DegreeGrantRecord and BeltPromotionRecord.
type Record interface {
	RecordKind() Kind
	Seq() int64
	At() time.Time
	Practitioner() string
	isRecord()
}

// DegreeGrantRecord records one degree grant.
type DegreeGrantRecord struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"practitioner_id"`
	Sequence       int64     `json:"sequence"`
	BeltCode       string    `json:"belt"`
	Degree         int       `json:"degree"`
	GrantedAt      time.Time `json:"granted_at"`
	GrantedBy      string    `json:"granted_by"`
	Origin         Origin    `json:"origin"`
	RequestID      string    `json:"request_id,omitempty"`
	Note           string    `json:"note,omitempty"`
}

func (r DegreeGrantRecord) RecordKind() Kind     { return KindDegree }
func (r DegreeGrantRecord) Seq() int64           { return r.Sequence }
func (r DegreeGrantRecord) At() time.Time        { return r.GrantedAt }
func (r DegreeGrantRecord) Practitioner() string { return r.PractitionerID }
func (DegreeGrantRecord) isRecord()              {}

// BeltPromotionRecord records one belt change.
type BeltPromotionRecord struct {
	ID             string    `json:"id"`
	PractitionerID string    `json:"practitioner_id"`
	Sequence       int64     `json:"sequence"`
	FromBelt       string    `json:"from_belt"`
	ToBelt         string    `json:"to_belt"`
	PromotedAt     time.Time `json:"promoted_at"`
	PromotedBy     string    `json:"promoted_by"`
	Origin         Origin    `json:"origin"`
	RequestID      string    `json:"request_id,omitempty"`
	Note           string    `json:"note,omitempty"`
}

func (r BeltPromotionRecord) RecordKind() Kind     { return KindBelt }
func (r BeltPromotionRecord) Seq() int64           { return r.Sequence }
func (r BeltPromotionRecord) At() time.Time        { return r.PromotedAt }
func (r BeltPromotionRecord) Practitioner() string { return r.PractitionerID }
func (BeltPromotionRecord) isRecord()              {}

// SortRecords orders records by sequence, which is also application order.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Seq() < records[j].Seq()
	})
}
