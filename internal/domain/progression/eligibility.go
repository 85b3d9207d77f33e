package progression

import (
	"fmt"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// Outcome is the result class of an eligibility evaluation.
type Outcome string

const (
	NotEligible       Outcome = "NOT_ELIGIBLE"
	EligibleForDegree Outcome = "ELIGIBLE_FOR_DEGREE"
	EligibleForBelt   Outcome = "ELIGIBLE_FOR_BELT"
)

// Reasons attached to NOT_ELIGIBLE.
const (
	ReasonInsufficientClasses = "insufficient classes"
	ReasonInsufficientTime    = "insufficient time in grade"
	ReasonTerminalRank        = "terminal rank"
	ReasonCategoryTransition  = "category transition required"
	ReasonAgeRestricted       = "age restricted"
	ReasonInactive            = "inactive practitioner"
	ReasonUnknownBelt         = "unknown belt"
	ReasonUnknownAge          = "age outside every band"
)

// Result is the verdict of the evaluator together with the progress figures
// used to reach it.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`

	NextDegree int             `json:"next_degree,omitempty"`
	NextBelt   belt.Definition `json:"-"`

	ClassesAttended int `json:"classes_attended"`
	ClassesRequired int `json:"classes_required"`
	MonthsElapsed   int `json:"months_elapsed"`
	MonthsRequired  int `json:"months_required"`
}

// Eligible reports whether the outcome is one of the ELIGIBLE_FOR_* values.
func (r Result) Eligible() bool {
	return r.Outcome == EligibleForDegree || r.Outcome == EligibleForBelt
}

// Kind returns the promotion kind an eligible result points at.
func (r Result) Kind() (Kind, bool) {
	switch r.Outcome {
	case EligibleForDegree:
		return KindDegree, true
	case EligibleForBelt:
		return KindBelt, true
	}
	return "", false
}

// Target is a stable textual form of what the result allows: "DEGREE:<belt>:<n>"
// or "BELT:<code>". Empty when not eligible.
func (r Result) Target(currentBelt string) string {
	switch r.Outcome {
	case EligibleForDegree:
		return fmt.Sprintf("%s:%s:%d", KindDegree, currentBelt, r.NextDegree)
	case EligibleForBelt:
		return fmt.Sprintf("%s:%s", KindBelt, r.NextBelt.Code)
	}
	return ""
}

// Progress is the share of the binding threshold already met, in [0, 1].
func (r Result) Progress() float64 {
	var parts []float64
	if r.ClassesRequired > 0 {
		parts = append(parts, ratio(r.ClassesAttended, r.ClassesRequired))
	}
	if r.MonthsRequired > 0 {
		parts = append(parts, ratio(r.MonthsElapsed, r.MonthsRequired))
	}
	if len(parts) == 0 {
		if r.Eligible() {
			return 1
		}
		return 0
	}
	lowest := parts[0]
	for _, p := range parts[1:] {
		if p < lowest {
			lowest = p
		}
	}
	return lowest
}

func ratio(have, need int) float64 {
	if have >= need {
		return 1
	}
	if have <= 0 {
		return 0
	}
	return float64(have) / float64(need)
}

// Input is everything one evaluation reads. It is a snapshot: the evaluator
// never fetches anything itself.
type Input struct {
	Catalog      *belt.Catalog
	Practitioner *Practitioner

	// Profile data, which may be fresher than the copy on Practitioner.
	DateOfBirth time.Time
	Active      bool

	// Requirements resolved for the current belt.
	Requirements belt.Requirements

	// ClassesInCycle counts classes attended after Practitioner.CycleStart().
	ClassesInCycle int

	Now time.Time
}

// Evaluator decides the next promotion a practitioner qualifies for.
// It is pure: the same input always yields the same result.
type Evaluator struct {
	gate AgeGate
}

// NewEvaluator creates an evaluator using the given age gate.
func NewEvaluator(gate AgeGate) *Evaluator {
	return &Evaluator{gate: gate}
}

// AgeGate returns the evaluator's age gate.
func (e *Evaluator) AgeGate() AgeGate {
	return e.gate
}

// Evaluate applies the rules in order:
//  1. an inactive practitioner or an unknown belt is never eligible;
//  2. below max degrees the next degree is considered, by classes or by
//     time, unless the age band no longer allows the current category;
//  3. at max degrees the next belt is considered: terminal rank, then the age
//     gate, then classes and months in belt.
func (e *Evaluator) Evaluate(in Input) Result {
	p := in.Practitioner
	current, ok := in.Catalog.Get(p.BeltCode)
	if !ok {
		return Result{Outcome: NotEligible, Reason: ReasonUnknownBelt}
	}
	if !in.Active {
		return Result{Outcome: NotEligible, Reason: ReasonInactive}
	}

	req := in.Requirements
	if p.Degree < current.MaxDegrees {
		if reason := e.categoryBlock(in.DateOfBirth, in.Now, current); reason != "" {
			return Result{Outcome: NotEligible, Reason: reason}
		}
		return e.evaluateDegree(in, req)
	}
	return e.evaluateBelt(in, current, req)
}

func (e *Evaluator) evaluateDegree(in Input, req belt.Requirements) Result {
	p := in.Practitioner
	months := timeutil.MonthsBetween(p.CycleStart(), in.Now)

	if req.DegreeByTime {
		res := Result{MonthsElapsed: months, MonthsRequired: req.MonthsPerDegree, ClassesAttended: in.ClassesInCycle}
		if months < req.MonthsPerDegree {
			res.Outcome, res.Reason = NotEligible, ReasonInsufficientTime
			return res
		}
		res.Outcome, res.NextDegree = EligibleForDegree, p.Degree+1
		return res
	}

	res := Result{
		ClassesAttended: in.ClassesInCycle,
		ClassesRequired: req.ClassesPerDegree,
		MonthsElapsed:   months,
		MonthsRequired:  req.MinMonthsPerDegree,
	}
	switch {
	case in.ClassesInCycle < req.ClassesPerDegree:
		res.Outcome, res.Reason = NotEligible, ReasonInsufficientClasses
	case months < req.MinMonthsPerDegree:
		res.Outcome, res.Reason = NotEligible, ReasonInsufficientTime
	default:
		res.Outcome, res.NextDegree = EligibleForDegree, p.Degree+1
	}
	return res
}

func (e *Evaluator) evaluateBelt(in Input, current belt.Definition, req belt.Requirements) Result {
	p := in.Practitioner
	months := timeutil.MonthsBetween(p.BeltSince, in.Now)
	res := Result{
		ClassesAttended: in.ClassesInCycle,
		ClassesRequired: req.ClassesForPromotion,
		MonthsElapsed:   months,
		MonthsRequired:  req.MinMonthsInBelt,
	}

	next, ok := in.Catalog.NextBelt(current.Code)
	if !ok {
		return Result{Outcome: NotEligible, Reason: ReasonTerminalRank}
	}

	if reason := e.ageBlock(in.DateOfBirth, in.Now, next); reason != "" {
		res.Outcome, res.Reason = NotEligible, reason
		return res
	}

	switch {
	case in.ClassesInCycle < req.ClassesForPromotion:
		res.Outcome, res.Reason = NotEligible, ReasonInsufficientClasses
	case months < req.MinMonthsInBelt:
		res.Outcome, res.Reason = NotEligible, ReasonInsufficientTime
	default:
		res.Outcome, res.NextBelt = EligibleForBelt, next
	}
	return res
}

// ageBlock returns the reason the age gate refuses next, or "".
func (e *Evaluator) ageBlock(dateOfBirth, now time.Time, next belt.Definition) string {
	band, _, ok := e.gate.BandAt(dateOfBirth, now)
	if !ok {
		return ReasonUnknownAge
	}
	if allowed, reason := band.Allows(next); !allowed {
		return reason
	}
	return ""
}

// categoryBlock refuses a current belt whose category the age band no longer
// allows. The rank cap is not checked here: a held belt keeps earning degrees.
func (e *Evaluator) categoryBlock(dateOfBirth, now time.Time, current belt.Definition) string {
	band, _, ok := e.gate.BandAt(dateOfBirth, now)
	if !ok {
		return ReasonUnknownAge
	}
	if allowed, reason := band.Allows(current); !allowed && reason == ReasonCategoryTransition {
		return reason
	}
	return ""
}

// AllowsBelt reports whether a practitioner born on dateOfBirth may hold def at now.
func (e *Evaluator) AllowsBelt(dateOfBirth, now time.Time, def belt.Definition) (bool, string) {
	if reason := e.ageBlock(dateOfBirth, now, def); reason != "" {
		return false, reason
	}
	return true, ""
}
