package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func TestNewPromotionRequest(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := holder("WHITE", 2, 6)

	r, err := NewPromotionRequest(NewRequestParams{
		ID:           "r-1",
		Practitioner: p,
		Result:       Result{Outcome: EligibleForDegree, NextDegree: 3},
		RequestedBy:  "coach-1",
		At:           at,
	})
	require.NoError(t, err)
	assert.Equal(t, KindDegree, r.Kind)
	assert.Equal(t, "WHITE", r.TargetBelt)
	assert.Equal(t, 3, r.TargetDegree)
	assert.Equal(t, "DEGREE:WHITE:3", r.Target())
	assert.True(t, r.IsPending())

	blue, _ := belt.DefaultCatalog().Get("BLUE")
	r, err = NewPromotionRequest(NewRequestParams{
		ID:           "r-2",
		Practitioner: holder("WHITE", 4, 12),
		Result:       Result{Outcome: EligibleForBelt, NextBelt: blue},
		At:           at,
	})
	require.NoError(t, err)
	assert.Equal(t, KindBelt, r.Kind)
	assert.Equal(t, "BELT:BLUE", r.Target())

	_, err = NewPromotionRequest(NewRequestParams{
		ID:           "r-3",
		Practitioner: p,
		Result:       Result{Outcome: NotEligible, Reason: ReasonInsufficientClasses},
		At:           at,
	})
	assert.ErrorIs(t, err, shared.ErrNotEligible)
	assert.Contains(t, err.Error(), ReasonInsufficientClasses)
}

func TestPromotionRequest_Transitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newReq := func() *PromotionRequest {
		r, err := NewPromotionRequest(NewRequestParams{
			ID:           "r-1",
			Practitioner: holder("WHITE", 0, 6),
			Result:       Result{Outcome: EligibleForDegree, NextDegree: 1},
			At:           at,
		})
		require.NoError(t, err)
		return r
	}

	t.Run("approve is terminal", func(t *testing.T) {
		r := newReq()
		require.NoError(t, r.Approve("coach-1", at.Add(time.Hour), "ok"))
		assert.Equal(t, RequestApproved, r.Status)
		assert.Equal(t, "coach-1", r.DecidedBy)
		assert.True(t, r.Status.IsTerminal())

		assert.ErrorIs(t, r.Reject("coach-2", at, ""), shared.ErrRequestDecided)
		assert.ErrorIs(t, r.Approve("coach-2", at, ""), shared.ErrRequestDecided)
		assert.Equal(t, "coach-1", r.DecidedBy)
	})

	t.Run("reject is terminal", func(t *testing.T) {
		r := newReq()
		require.NoError(t, r.Reject("coach-1", at, "not yet"))
		assert.Equal(t, RequestRejected, r.Status)
		assert.Equal(t, "not yet", r.DecisionNote)
		assert.ErrorIs(t, r.Approve("coach-1", at, ""), shared.ErrRequestDecided)
	})
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{
		"approve":  DecisionApprove,
		"APPROVED": DecisionApprove,
		"reject":   DecisionReject,
		"Rejected": DecisionReject,
	} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseDecision("maybe")
	assert.Error(t, err)
}
