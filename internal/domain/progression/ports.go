package progression

import (
	"context"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// AttendanceLedger is the read side of the attendance source.
type AttendanceLedger interface {
	// ClassesSince counts classes attended strictly after since.
	ClassesSince(ctx context.Context, practitionerID string, since time.Time) (int, error)

	// LastAttendance returns the most recent class, or the zero time.
	LastAttendance(ctx context.Context, practitionerID string) (time.Time, error)
}

// Authorizer decides whether an actor may grant or decide promotions.
type Authorizer interface {
	CanGrantPromotion(ctx context.Context, actorID, practitionerID string) (bool, error)
}

// Profile is the directory data the evaluator needs.
type Profile struct {
	DateOfBirth time.Time
	Active      bool
	AcademyID   string
}

// Directory looks up practitioner profiles.
// It returns ErrPractitionerNotFound for an unknown practitioner.
type Directory interface {
	Profile(ctx context.Context, practitionerID string) (Profile, error)
}

// ThresholdSource supplies per-academy requirement overrides keyed by belt code.
type ThresholdSource interface {
	AcademyRequirements(ctx context.Context, academyID string) (map[string]belt.Requirements, error)
}

// ThresholdWriter stores the per-academy override of one belt.
type ThresholdWriter interface {
	SetAcademyRequirements(ctx context.Context, academyID, beltCode string, req belt.Requirements) error
}

// Locker serializes work per key across processes.
type Locker interface {
	// Acquire blocks until the key is held, the timeout elapses (ErrBusy) or
	// ctx is done. The returned release must be called exactly once.
	Acquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error)
}

// LockKey is the lock key guarding one practitioner's promotions.
func LockKey(practitionerID string) string {
	return "progression:lock:" + practitionerID
}

// RepositoryDirectory serves profiles from the copy kept with the
// progression state. It is used when no external directory is configured.
type RepositoryDirectory struct {
	repo PractitionerRepository
}

// NewRepositoryDirectory creates a directory backed by repo.
func NewRepositoryDirectory(repo PractitionerRepository) *RepositoryDirectory {
	return &RepositoryDirectory{repo: repo}
}

// Profile implements Directory.
func (d *RepositoryDirectory) Profile(ctx context.Context, practitionerID string) (Profile, error) {
	p, err := d.repo.GetByID(ctx, practitionerID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{DateOfBirth: p.DateOfBirth, Active: p.Active, AcademyID: p.AcademyID}, nil
}
