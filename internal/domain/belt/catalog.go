package belt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// Catalog is an immutable, validated set of belt definitions.
// It is safe for concurrent use without locking.
type Catalog struct {
	byCode     map[string]Definition
	byCategory map[Category][]Definition // active only, ascending rank
	all        []Definition              // every definition, by category then rank
}

// NewCatalog validates defs and builds a catalog.
func NewCatalog(defs []Definition) (*Catalog, error) {
	var problems []string

	byCode := make(map[string]Definition, len(defs))
	ranks := make(map[Category]map[int]string)

	for i, d := range defs {
		d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
		d.PromotesTo = strings.ToUpper(strings.TrimSpace(d.PromotesTo))

		if d.Code == "" {
			problems = append(problems, fmt.Sprintf("definition #%d has no code", i))
			continue
		}
		if _, dup := byCode[d.Code]; dup {
			problems = append(problems, fmt.Sprintf("duplicate belt code %s", d.Code))
			continue
		}
		if !d.Category.IsValid() {
			problems = append(problems, fmt.Sprintf("belt %s has unknown category %q", d.Code, d.Category))
		}
		if d.MaxDegrees < 0 {
			problems = append(problems, fmt.Sprintf("belt %s has negative max degrees", d.Code))
		}
		if d.Rank <= 0 {
			problems = append(problems, fmt.Sprintf("belt %s must have a positive rank", d.Code))
		}
		if err := d.Requirements.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("belt %s: %v", d.Code, err))
		}
		if ranks[d.Category] == nil {
			ranks[d.Category] = make(map[int]string)
		}
		if other, taken := ranks[d.Category][d.Rank]; taken {
			problems = append(problems, fmt.Sprintf("belts %s and %s share rank %d in %s", other, d.Code, d.Rank, d.Category))
		}
		ranks[d.Category][d.Rank] = d.Code
		byCode[d.Code] = d
	}

	for _, d := range byCode {
		if d.PromotesTo == "" {
			continue
		}
		next, ok := byCode[d.PromotesTo]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("belt %s promotes to unknown belt %s", d.Code, d.PromotesTo))
		case next.Category == d.Category:
			problems = append(problems, fmt.Sprintf("belt %s promotes within its own category; rank order already covers it", d.Code))
		}
	}

	if len(byCode) == 0 && len(problems) == 0 {
		problems = append(problems, "catalog is empty")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, shared.ErrInvalidCatalog.Wrap(errors.New(strings.Join(problems, "; ")))
	}

	c := &Catalog{
		byCode:     byCode,
		byCategory: make(map[Category][]Definition),
		all:        make([]Definition, 0, len(byCode)),
	}
	for _, d := range byCode {
		c.all = append(c.all, d)
		if d.Active {
			c.byCategory[d.Category] = append(c.byCategory[d.Category], d)
		}
	}
	sortDefinitions(c.all)
	for cat := range c.byCategory {
		sortDefinitions(c.byCategory[cat])
	}

	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. Intended for seeds and tests.
func MustCatalog(defs []Definition) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic(err)
	}
	return c
}

func sortDefinitions(defs []Definition) {
	order := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		order[c] = i
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return order[defs[i].Category] < order[defs[j].Category]
		}
		return defs[i].Rank < defs[j].Rank
	})
}

// Get returns the definition for code, active or not.
func (c *Catalog) Get(code string) (Definition, bool) {
	d, ok := c.byCode[strings.ToUpper(code)]
	return d, ok
}

// Find returns the definition or a BELT_NOT_FOUND error.
func (c *Catalog) Find(code string) (Definition, error) {
	d, ok := c.Get(code)
	if !ok {
		return Definition{}, shared.ErrBeltNotFound.WithMessage(fmt.Sprintf("belt %s not found", code))
	}
	return d, nil
}

// All returns every definition ordered by category then rank.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.all))
	copy(out, c.all)
	return out
}

// BeltsForCategory returns the active belts of a category in ascending rank.
func (c *Catalog) BeltsForCategory(category Category) []Definition {
	src := c.byCategory[category]
	out := make([]Definition, len(src))
	copy(out, src)
	return out
}

// Lowest returns the lowest active rank of a category.
func (c *Catalog) Lowest(category Category) (Definition, bool) {
	belts := c.byCategory[category]
	if len(belts) == 0 {
		return Definition{}, false
	}
	return belts[0], true
}

// NextBelt returns the belt that follows code: the next active rank of the same
// category, else the cross-category successor. ok is false at a terminal rank.
func (c *Catalog) NextBelt(code string) (Definition, bool) {
	current, ok := c.Get(code)
	if !ok {
		return Definition{}, false
	}

	for _, d := range c.byCategory[current.Category] {
		if d.Rank > current.Rank {
			return d, true
		}
	}

	if current.PromotesTo != "" {
		if next, ok := c.byCode[current.PromotesTo]; ok && next.Active {
			return next, true
		}
	}
	return Definition{}, false
}

// Precedes reports whether `to` is reachable from `from` by following NextBelt.
func (c *Catalog) Precedes(from, to string) bool {
	seen := make(map[string]bool)
	cur := strings.ToUpper(from)
	target := strings.ToUpper(to)
	for !seen[cur] {
		seen[cur] = true
		next, ok := c.NextBelt(cur)
		if !ok {
			return false
		}
		if next.Code == target {
			return true
		}
		cur = next.Code
	}
	return false
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.byCode)
}
