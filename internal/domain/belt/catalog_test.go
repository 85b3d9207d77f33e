package belt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func TestDefaultCatalog_IsValid(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, 11, c.Len())

	adult := c.BeltsForCategory(CategoryAdult)
	require.Len(t, adult, 7)
	for i := 1; i < len(adult); i++ {
		assert.Less(t, adult[i-1].Rank, adult[i].Rank)
	}
	assert.Empty(t, c.BeltsForCategory(CategoryJuvenile))

	lowest, ok := c.Lowest(CategoryKids)
	require.True(t, ok)
	assert.Equal(t, "GREY", lowest.Code)
}

func TestCatalog_NextBelt(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		from     string
		wantCode string
		wantOK   bool
	}{
		{"WHITE", "BLUE", true},
		{"brown", "BLACK", true},
		{"ORANGE", "GREEN", true},
		{"GREEN", "BLUE", true},
		{"RED", "", false},
		{"UNKNOWN", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			next, ok := c.NextBelt(tt.from)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, next.Code)
		})
	}
}

func TestCatalog_NextBeltSkipsInactive(t *testing.T) {
	defs := DefaultDefinitions()
	for i := range defs {
		if defs[i].Code == "PURPLE" {
			defs[i].Active = false
		}
	}
	c := MustCatalog(defs)

	next, ok := c.NextBelt("BLUE")
	require.True(t, ok)
	assert.Equal(t, "BROWN", next.Code)

	_, ok = c.Get("PURPLE")
	assert.True(t, ok, "inactive belts stay resolvable for history")
}

func TestCatalog_Precedes(t *testing.T) {
	c := DefaultCatalog()
	assert.True(t, c.Precedes("WHITE", "BLACK"))
	assert.True(t, c.Precedes("GREY", "PURPLE"))
	assert.False(t, c.Precedes("BLACK", "BLUE"))
	assert.False(t, c.Precedes("BLUE", "BLUE"))
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
		msg  string
	}{
		{"empty", nil, "catalog is empty"},
		{"duplicate code", []Definition{
			{Code: "A", Rank: 1, Category: CategoryAdult},
			{Code: "a", Rank: 2, Category: CategoryAdult},
		}, "duplicate belt code A"},
		{"duplicate rank", []Definition{
			{Code: "A", Rank: 1, Category: CategoryAdult},
			{Code: "B", Rank: 1, Category: CategoryAdult},
		}, "share rank 1"},
		{"unknown category", []Definition{
			{Code: "A", Rank: 1, Category: "SENIOR"},
		}, "unknown category"},
		{"bad successor", []Definition{
			{Code: "A", Rank: 1, Category: CategoryKids, PromotesTo: "Z"},
		}, "promotes to unknown belt Z"},
		{"negative requirement", []Definition{
			{Code: "A", Rank: 1, Category: CategoryAdult, Requirements: Requirements{MinMonthsInBelt: -1}},
		}, "min_months_in_belt must not be negative"},
		{"same category successor", []Definition{
			{Code: "A", Rank: 1, Category: CategoryKids, PromotesTo: "B"},
			{Code: "B", Rank: 2, Category: CategoryKids},
		}, "promotes within its own category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrInvalidCatalog)
			assert.True(t, shared.IsValidation(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNewCatalog_SameRankAcrossCategories(t *testing.T) {
	_, err := NewCatalog([]Definition{
		{Code: "A", Rank: 1, Category: CategoryAdult, Active: true},
		{Code: "K", Rank: 1, Category: CategoryKids, Active: true},
	})
	assert.NoError(t, err)
}

func TestCompare(t *testing.T) {
	c := DefaultCatalog()
	white, _ := c.Get("WHITE")
	blue, _ := c.Get("BLUE")
	grey, _ := c.Get("GREY")

	cmp, ok := Compare(white, blue)
	assert.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = Compare(white, grey)
	assert.False(t, ok)
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(DefaultCatalog())
	before := r.Current()

	defs := DefaultDefinitions()
	for i := range defs {
		if defs[i].Code == "WHITE" {
			defs[i].MaxDegrees = 2
		}
	}
	_, err := r.Replace(defs)
	require.NoError(t, err)

	white, _ := r.Current().Get("WHITE")
	assert.Equal(t, 2, white.MaxDegrees)
	oldWhite, _ := before.Get("WHITE")
	assert.Equal(t, 4, oldWhite.MaxDegrees)
	assert.Equal(t, int64(2), r.Version())

	_, err = r.Replace(nil)
	assert.Error(t, err)
	assert.Equal(t, int64(2), r.Version())
}

func TestRequirements_Merge(t *testing.T) {
	got := Requirements{ClassesPerDegree: 30}.Merge(Requirements{ClassesPerDegree: 20, MinMonthsInBelt: 24})
	assert.Equal(t, Requirements{ClassesPerDegree: 30, MinMonthsInBelt: 24}, got)
}

func TestCatalog_Find(t *testing.T) {
	c := DefaultCatalog()

	blue, err := c.Find("blue")
	require.NoError(t, err)
	assert.Equal(t, "BLUE", blue.Code)

	_, err = c.Find("MAUVE")
	assert.ErrorIs(t, err, shared.ErrBeltNotFound)
	assert.True(t, shared.IsNotFound(err))
}

func TestRequirements_Validate(t *testing.T) {
	assert.NoError(t, Requirements{}.Validate())
	assert.NoError(t, Requirements{ClassesPerDegree: 30, DegreeByTime: true, MonthsPerDegree: 36}.Validate())
	assert.EqualError(t, Requirements{ClassesForPromotion: -5}.Validate(), "classes_for_promotion must not be negative")
}
