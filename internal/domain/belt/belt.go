// Package belt holds the belt catalog: the closed, validated set of ranks a
// practitioner can hold, ordered per age category.
package belt

import (
	"fmt"
	"strings"
)

// Category is the age category a belt belongs to.
type Category string

const (
	CategoryKids     Category = "KIDS"
	CategoryJuvenile Category = "JUVENILE"
	CategoryAdult    Category = "ADULT"
)

// Categories lists all categories in pathway order.
var Categories = []Category{CategoryKids, CategoryJuvenile, CategoryAdult}

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryKids, CategoryJuvenile, CategoryAdult:
		return true
	}
	return false
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown belt category %q", s)
	}
	return c, nil
}

// DefaultMaxDegrees is used when a definition does not set MaxDegrees.
const DefaultMaxDegrees = 4

// Requirements are the thresholds attached to a belt. A zero value means
// "inherit the configured default".
type Requirements struct {
	// Classes attended since the last degree needed for the next degree.
	ClassesPerDegree int `json:"classes_per_degree,omitempty"`

	// Classes attended since the last degree needed to leave the belt at max degrees.
	ClassesForPromotion int `json:"classes_for_promotion,omitempty"`

	// Minimum whole months since the last degree before another degree.
	MinMonthsPerDegree int `json:"min_months_per_degree,omitempty"`

	// Minimum whole months in the belt before promotion to the next belt.
	MinMonthsInBelt int `json:"min_months_in_belt,omitempty"`

	// Degrees are granted by time in grade instead of classes.
	DegreeByTime    bool `json:"degree_by_time,omitempty"`
	MonthsPerDegree int  `json:"months_per_degree,omitempty"`
}

// Validate rejects negative thresholds. Zero means "inherit" for Merge.
func (r Requirements) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"classes_per_degree", r.ClassesPerDegree},
		{"classes_for_promotion", r.ClassesForPromotion},
		{"min_months_per_degree", r.MinMonthsPerDegree},
		{"min_months_in_belt", r.MinMonthsInBelt},
		{"months_per_degree", r.MonthsPerDegree},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
	}
	return nil
}

// Merge returns r with every zero field taken from fallback.
func (r Requirements) Merge(fallback Requirements) Requirements {
	out := r
	if out.ClassesPerDegree == 0 {
		out.ClassesPerDegree = fallback.ClassesPerDegree
	}
	if out.ClassesForPromotion == 0 {
		out.ClassesForPromotion = fallback.ClassesForPromotion
	}
	if out.MinMonthsPerDegree == 0 {
		out.MinMonthsPerDegree = fallback.MinMonthsPerDegree
	}
	if out.MinMonthsInBelt == 0 {
		out.MinMonthsInBelt = fallback.MinMonthsInBelt
	}
	if !out.DegreeByTime {
		out.DegreeByTime = fallback.DegreeByTime
	}
	if out.MonthsPerDegree == 0 {
		out.MonthsPerDegree = fallback.MonthsPerDegree
	}
	return out
}

// Definition is one belt rank.
type Definition struct {
	Code       string   `json:"code"`
	Name       string   `json:"name"`
	Rank       int      `json:"rank"`
	ColorHex   string   `json:"color_hex"`
	Category   Category `json:"category"`
	MaxDegrees int      `json:"max_degrees"`
	Active     bool     `json:"active"`

	Requirements Requirements `json:"requirements"`

	// PromotesTo names the belt of another category that follows this one when
	// it is the last rank of its own category.
	PromotesTo string `json:"promotes_to,omitempty"`
}

// IsZero reports whether d is the zero Definition.
func (d Definition) IsZero() bool {
	return d.Code == ""
}

// HasDegrees reports whether the belt carries degrees at all.
func (d Definition) HasDegrees() bool {
	return d.MaxDegrees > 0
}

// Compare orders two belts of the same category by rank.
// ok is false when the belts belong to different categories.
func Compare(a, b Definition) (cmp int, ok bool) {
	if a.Category != b.Category {
		return 0, false
	}
	switch {
	case a.Rank < b.Rank:
		return -1, true
	case a.Rank > b.Rank:
		return 1, true
	}
	return 0, true
}
