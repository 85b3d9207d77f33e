package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
)

// Assessment is an evaluation result with the snapshot it was computed from.
type Assessment struct {
	Result

	PractitionerID string
	AcademyID      string
	CurrentBelt    string
	CurrentDegree  int
	Version        int64

	Age          int
	Requirements belt.Requirements
	CycleStart   time.Time
	EvaluatedAt  time.Time
}

// Target is Result.Target for the assessed belt.
func (a Assessment) Target() string {
	return a.Result.Target(a.CurrentBelt)
}

// Assessor gathers the inputs of an evaluation from the ledger, the directory
// and the threshold source, and runs the evaluator on them.
type Assessor struct {
	policy     Policy
	evaluator  *Evaluator
	ledger     AttendanceLedger
	directory  Directory
	thresholds ThresholdSource

	timeBasedDegrees func(academyID string) bool
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

// WithThresholdSource enables per-academy overrides.
func WithThresholdSource(src ThresholdSource) AssessorOption {
	return func(a *Assessor) { a.thresholds = src }
}

// WithTimeBasedDegrees toggles time-based degrees per academy. When the toggle
// returns false, belts configured for time-based degrees fall back to classes.
func WithTimeBasedDegrees(enabled func(academyID string) bool) AssessorOption {
	return func(a *Assessor) { a.timeBasedDegrees = enabled }
}

// NewAssessor creates an assessor.
func NewAssessor(policy Policy, ledger AttendanceLedger, directory Directory, opts ...AssessorOption) *Assessor {
	a := &Assessor{
		policy:    policy,
		evaluator: NewEvaluator(policy.AgeGate),
		ledger:    ledger,
		directory: directory,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the policy the assessor resolves thresholds with.
func (a *Assessor) Policy() Policy { return a.policy }

// Evaluator returns the underlying evaluator.
func (a *Assessor) Evaluator() *Evaluator { return a.evaluator }

// Requirements resolves the thresholds of def for an academy.
func (a *Assessor) Requirements(ctx context.Context, def belt.Definition, academyID string) (belt.Requirements, error) {
	var override belt.Requirements
	if a.thresholds != nil && academyID != "" {
		overrides, err := a.thresholds.AcademyRequirements(ctx, academyID)
		if err != nil {
			return belt.Requirements{}, fmt.Errorf("academy thresholds: %w", err)
		}
		override = overrides[def.Code]
	}

	req := a.policy.Requirements(def, override)
	if req.DegreeByTime && a.timeBasedDegrees != nil && !a.timeBasedDegrees(academyID) {
		req.DegreeByTime = false
	}
	return req, nil
}

// Assess evaluates p against catalog at now. The profile and the class count
// are read fresh; p supplies only rank fields.
func (a *Assessor) Assess(ctx context.Context, catalog *belt.Catalog, p *Practitioner, now time.Time) (Assessment, error) {
	profile, err := a.directory.Profile(ctx, p.ID)
	if err != nil {
		return Assessment{}, err
	}
	academyID := profile.AcademyID
	if academyID == "" {
		academyID = p.AcademyID
	}

	out := Assessment{
		PractitionerID: p.ID,
		AcademyID:      academyID,
		CurrentBelt:    p.BeltCode,
		CurrentDegree:  p.Degree,
		Version:        p.Version,
		Age:            a.evaluator.gate.Age(profile.DateOfBirth, now),
		CycleStart:     p.CycleStart(),
		EvaluatedAt:    now,
	}

	current, ok := catalog.Get(p.BeltCode)
	if !ok {
		out.Result = Result{Outcome: NotEligible, Reason: ReasonUnknownBelt}
		return out, nil
	}

	req, err := a.Requirements(ctx, current, academyID)
	if err != nil {
		return Assessment{}, err
	}
	out.Requirements = req

	classes, err := a.ledger.ClassesSince(ctx, p.ID, out.CycleStart)
	if err != nil {
		return Assessment{}, fmt.Errorf("attendance ledger: %w", err)
	}

	out.Result = a.evaluator.Evaluate(Input{
		Catalog:        catalog,
		Practitioner:   p,
		DateOfBirth:    profile.DateOfBirth,
		Active:         profile.Active,
		Requirements:   req,
		ClassesInCycle: classes,
		Now:            now,
	})
	return out, nil
}
