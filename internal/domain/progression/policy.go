package progression

import (
	"fmt"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGE GATE
// ══════════════════════════════════════════════════════════════════════════════

// AgeMode selects how age is computed from a date of birth.
type AgeMode string

const (
	// AgeByCalendarYear counts the years the practitioner turns in the current year.
	AgeByCalendarYear AgeMode = "calendar_year"
	// AgeByBirthday counts completed years.
	AgeByBirthday AgeMode = "exact_birthday"
)

// ParseAgeMode parses an age mode.
func ParseAgeMode(s string) (AgeMode, error) {
	switch AgeMode(s) {
	case AgeByCalendarYear, AgeByBirthday:
		return AgeMode(s), nil
	}
	return "", fmt.Errorf("unknown age mode %q", s)
}

// AgeBand is one age range with the categories it may hold.
type AgeBand struct {
	Name   string
	MinAge int // inclusive
	MaxAge int // inclusive; negative means no upper bound

	// EnrollCategory is where a new practitioner of this age starts.
	EnrollCategory belt.Category

	Allowed []belt.Category

	// MaxRank caps the rank within an allowed category; missing means no cap.
	MaxRank map[belt.Category]int
}

// Contains reports whether age falls into the band.
func (b AgeBand) Contains(age int) bool {
	if age < b.MinAge {
		return false
	}
	return b.MaxAge < 0 || age <= b.MaxAge
}

// Allows checks whether a belt may be held in this band. When it may not,
// reason is ReasonCategoryTransition for a category outside the band and
// ReasonAgeRestricted for a rank above the band's cap.
func (b AgeBand) Allows(def belt.Definition) (ok bool, reason string) {
	allowed := false
	for _, c := range b.Allowed {
		if c == def.Category {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, ReasonCategoryTransition
	}
	if limit, capped := b.MaxRank[def.Category]; capped && def.Rank > limit {
		return false, ReasonAgeRestricted
	}
	return true, ""
}

// AgeGate maps a date of birth to the band of belts a practitioner may hold.
type AgeGate struct {
	Mode  AgeMode
	Bands []AgeBand
}

// DefaultAgeGate builds the standard three bands:
// under juvenileFrom holds kids and juvenile belts, juvenileFrom to adultFrom-1
// holds adult belts up to juvenileMaxAdultRank, adultFrom and over holds adult belts.
func DefaultAgeGate(mode AgeMode, juvenileFrom, adultFrom, juvenileMaxAdultRank int) AgeGate {
	return AgeGate{
		Mode: mode,
		Bands: []AgeBand{
			{
				Name:           "kids",
				MinAge:         0,
				MaxAge:         juvenileFrom - 1,
				EnrollCategory: belt.CategoryKids,
				Allowed:        []belt.Category{belt.CategoryKids, belt.CategoryJuvenile},
			},
			{
				Name:           "juvenile",
				MinAge:         juvenileFrom,
				MaxAge:         adultFrom - 1,
				EnrollCategory: belt.CategoryAdult,
				Allowed:        []belt.Category{belt.CategoryAdult},
				MaxRank:        map[belt.Category]int{belt.CategoryAdult: juvenileMaxAdultRank},
			},
			{
				Name:           "adult",
				MinAge:         adultFrom,
				MaxAge:         -1,
				EnrollCategory: belt.CategoryAdult,
				Allowed:        []belt.Category{belt.CategoryAdult},
			},
		},
	}
}

// Age computes the practitioner's age at now.
func (g AgeGate) Age(dateOfBirth, now time.Time) int {
	if g.Mode == AgeByBirthday {
		return timeutil.AgeByBirthday(dateOfBirth, now)
	}
	return timeutil.AgeByCalendarYear(dateOfBirth, now)
}

// BandFor returns the band containing age.
func (g AgeGate) BandFor(age int) (AgeBand, bool) {
	for _, b := range g.Bands {
		if b.Contains(age) {
			return b, true
		}
	}
	return AgeBand{}, false
}

// BandAt is BandFor(Age(dateOfBirth, now)). An unknown date of birth falls
// into the open-ended band.
func (g AgeGate) BandAt(dateOfBirth, now time.Time) (AgeBand, int, bool) {
	if dateOfBirth.IsZero() {
		for _, b := range g.Bands {
			if b.MaxAge < 0 {
				return b, b.MinAge, true
			}
		}
	}
	age := g.Age(dateOfBirth, now)
	band, ok := g.BandFor(age)
	return band, age, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy holds the configured defaults every belt inherits from.
type Policy struct {
	Defaults belt.Requirements
	AgeGate  AgeGate
}

// DefaultPolicy returns the standard policy: 20 classes per degree and per
// belt, 24 months in belt, calendar-year age with bands at 16 and 18.
func DefaultPolicy() Policy {
	return Policy{
		Defaults: belt.Requirements{
			ClassesPerDegree:    20,
			ClassesForPromotion: 20,
			MinMonthsInBelt:     24,
			MonthsPerDegree:     36,
		},
		AgeGate: DefaultAgeGate(AgeByCalendarYear, 16, 18, 3),
	}
}

// Requirements resolves the thresholds of a belt. Precedence, highest first:
// the academy override, the belt definition, the policy default.
func (p Policy) Requirements(def belt.Definition, override belt.Requirements) belt.Requirements {
	return override.Merge(def.Requirements).Merge(p.Defaults)
}

// EnrollmentBelt picks the starting belt for a practitioner of the given age:
// the lowest active rank of the band's enroll category, else of any allowed category.
func (p Policy) EnrollmentBelt(c *belt.Catalog, dateOfBirth, now time.Time) (belt.Definition, bool) {
	band, _, ok := p.AgeGate.BandAt(dateOfBirth, now)
	if !ok {
		return belt.Definition{}, false
	}
	if def, ok := c.Lowest(band.EnrollCategory); ok {
		return def, true
	}
	for _, cat := range band.Allowed {
		if def, ok := c.Lowest(cat); ok {
			return def, true
		}
	}
	return belt.Definition{}, false
}
