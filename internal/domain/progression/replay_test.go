package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func enrollWhite(t *testing.T, at time.Time) (*Practitioner, *belt.Catalog) {
	t.Helper()
	c := belt.DefaultCatalog()
	white, _ := c.Get("WHITE")
	p, err := Enroll(EnrollParams{ID: "p-1", AcademyID: "a-1", DateOfBirth: adultDOB, Active: true, Belt: white, At: at})
	require.NoError(t, err)
	return p, c
}

func grant(at time.Time) GrantParams {
	return GrantParams{At: at, Actor: "coach-1", Origin: OriginManual}
}

func TestEnroll(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	p, _ := enrollWhite(t, start)

	assert.Equal(t, "WHITE", p.BeltCode)
	assert.Zero(t, p.Degree)
	assert.Zero(t, p.Version)
	assert.Equal(t, start, p.CycleStart())

	_, err := Enroll(EnrollParams{ID: " ", At: start})
	assert.True(t, shared.IsValidation(err))
}

func TestApplyDegree_Bounded(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	p, c := enrollWhite(t, start)
	white, _ := c.Get("WHITE")

	for i := 1; i <= white.MaxDegrees; i++ {
		rec, err := p.ApplyDegree(white, grant(start.AddDate(0, i, 0)))
		require.NoError(t, err)
		assert.Equal(t, i, rec.Degree)
		assert.Equal(t, int64(i), rec.Sequence)
		assert.Equal(t, start.AddDate(0, i, 0), p.CycleStart())
	}

	_, err := p.ApplyDegree(white, grant(start.AddDate(1, 0, 0)))
	assert.ErrorIs(t, err, shared.ErrInvalidDegree)
	assert.Equal(t, 4, p.Degree)
	assert.NoError(t, p.CheckDegreeBound(c))

	blue, _ := c.Get("BLUE")
	_, err = p.ApplyDegree(blue, grant(start.AddDate(1, 0, 0)))
	assert.ErrorIs(t, err, shared.ErrInvalidTarget)
}

func TestApplyBelt_ResetsDegree(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	p, c := enrollWhite(t, start)
	white, _ := c.Get("WHITE")
	blue, _ := c.Get("BLUE")

	_, err := p.ApplyDegree(white, grant(start.AddDate(0, 3, 0)))
	require.NoError(t, err)

	promotedAt := start.AddDate(1, 0, 0)
	rec, err := p.ApplyBelt(blue, grant(promotedAt))
	require.NoError(t, err)

	assert.Equal(t, "WHITE", rec.FromBelt)
	assert.Equal(t, "BLUE", rec.ToBelt)
	assert.Equal(t, int64(2), rec.Sequence)
	assert.Equal(t, "BLUE", p.BeltCode)
	assert.Zero(t, p.Degree)
	assert.Equal(t, promotedAt, p.BeltSince)
	assert.Equal(t, promotedAt, p.CycleStart())

	_, err = p.ApplyBelt(blue, grant(promotedAt))
	assert.ErrorIs(t, err, shared.ErrInvalidTarget)
}

func TestReplay_ReproducesState(t *testing.T) {
	start := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	p, c := enrollWhite(t, start)

	var records []Record
	at := start
	for _, code := range []string{"WHITE", "BLUE"} {
		def, _ := c.Get(code)
		if code != p.BeltCode {
			at = at.AddDate(0, 1, 0)
			rec, err := p.ApplyBelt(def, grant(at))
			require.NoError(t, err)
			records = append(records, rec)
		}
		for i := 0; i < def.MaxDegrees; i++ {
			at = at.AddDate(0, 2, 0)
			rec, err := p.ApplyDegree(def, grant(at))
			require.NoError(t, err)
			records = append(records, rec)
		}
	}

	// Shuffle order; replay sorts by sequence.
	reversed := make([]Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	got, err := Replay(c, p.ID, p.EnrolledBelt, p.EnrolledAt, reversed)
	require.NoError(t, err)
	assert.Equal(t, p.BeltCode, got.BeltCode)
	assert.Equal(t, p.Degree, got.Degree)
	assert.Equal(t, p.Version, got.Version)
	assert.Equal(t, p.BeltSince, got.BeltSince)
	assert.Equal(t, p.LastDegreeAt, got.LastDegreeAt)

	assert.NoError(t, VerifyProjection(c, p, records))

	tampered := p.Clone()
	tampered.Degree = 1
	assert.ErrorIs(t, VerifyProjection(c, tampered, records), shared.ErrInvalidState)

	tampered.Degree = 9
	assert.ErrorIs(t, VerifyProjection(c, tampered, records), shared.ErrInvalidDegree)
}

func TestReplay_RejectsBrokenHistory(t *testing.T) {
	at := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	c := belt.DefaultCatalog()

	tests := []struct {
		name     string
		enrolled string
		records  []Record
	}{
		{"sequence gap", "WHITE", []Record{
			DegreeGrantRecord{Sequence: 2, BeltCode: "WHITE", Degree: 1, GrantedAt: at},
		}},
		{"degree skip", "WHITE", []Record{
			DegreeGrantRecord{Sequence: 1, BeltCode: "WHITE", Degree: 2, GrantedAt: at},
		}},
		{"degree in wrong belt", "WHITE", []Record{
			DegreeGrantRecord{Sequence: 1, BeltCode: "BLUE", Degree: 1, GrantedAt: at},
		}},
		{"degree past maximum", "WHITE", []Record{
			DegreeGrantRecord{Sequence: 1, BeltCode: "WHITE", Degree: 1, GrantedAt: at},
			DegreeGrantRecord{Sequence: 2, BeltCode: "WHITE", Degree: 2, GrantedAt: at},
			DegreeGrantRecord{Sequence: 3, BeltCode: "WHITE", Degree: 3, GrantedAt: at},
			DegreeGrantRecord{Sequence: 4, BeltCode: "WHITE", Degree: 4, GrantedAt: at},
			DegreeGrantRecord{Sequence: 5, BeltCode: "WHITE", Degree: 5, GrantedAt: at},
		}},
		{"promotion from wrong belt", "WHITE", []Record{
			BeltPromotionRecord{Sequence: 1, FromBelt: "BLUE", ToBelt: "PURPLE", PromotedAt: at},
		}},
		{"promotion backwards", "BLUE", []Record{
			BeltPromotionRecord{Sequence: 1, FromBelt: "BLUE", ToBelt: "WHITE", PromotedAt: at},
		}},
		{"promotion to own belt", "WHITE", []Record{
			BeltPromotionRecord{Sequence: 1, FromBelt: "WHITE", ToBelt: "WHITE", PromotedAt: at},
		}},
		{"promotion into kids track", "WHITE", []Record{
			BeltPromotionRecord{Sequence: 1, FromBelt: "WHITE", ToBelt: "GREY", PromotedAt: at},
		}},
		{"promotion to unknown belt", "WHITE", []Record{
			BeltPromotionRecord{Sequence: 1, FromBelt: "WHITE", ToBelt: "PLAID", PromotedAt: at},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Replay(c, "p-1", tt.enrolled, at, tt.records)
			assert.ErrorIs(t, err, shared.ErrInvalidState)
		})
	}
}

func TestVerifyProjection_TamperedPromotion(t *testing.T) {
	start := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	p, c := enrollWhite(t, start)
	blue, _ := c.Get("BLUE")

	rec, err := p.ApplyBelt(blue, grant(start.AddDate(1, 0, 0)))
	require.NoError(t, err)
	require.NoError(t, VerifyProjection(c, p, []Record{rec}))

	// Stored state and history agree, but the recorded step runs backwards.
	rec.FromBelt, rec.ToBelt = "BLUE", "WHITE"
	forged := p.Clone()
	forged.EnrolledBelt = "BLUE"
	forged.BeltCode = "WHITE"

	err = VerifyProjection(c, forged, []Record{rec})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Contains(t, err.Error(), "BLUE does not lead to WHITE")
}

func TestReplay_Empty(t *testing.T) {
	at := time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)
	p, err := Replay(belt.DefaultCatalog(), "p-1", "WHITE", at, nil)
	require.NoError(t, err)
	assert.Equal(t, "WHITE", p.BeltCode)
	assert.Zero(t, p.Degree)
	assert.Zero(t, p.Version)
}
