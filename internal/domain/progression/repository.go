package progression

import (
	"context"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// PractitionerRepository stores progression state.
type PractitionerRepository interface {
	// Create returns ErrAlreadyEnrolled if the practitioner exists.
	Create(ctx context.Context, p *Practitioner) error

	// GetByID returns ErrPractitionerNotFound if the practitioner does not exist.
	GetByID(ctx context.Context, id string) (*Practitioner, error)

	// Update writes p if the stored version still equals expectedVersion,
	// otherwise it returns ErrConcurrentModification.
	Update(ctx context.Context, p *Practitioner, expectedVersion int64) error

	// List returns practitioners ordered by ID.
	List(ctx context.Context, opts ListOptions) ([]*Practitioner, error)
}

// HistoryRepository is the append-only promotion history.
type HistoryRepository interface {
	AppendDegreeGrant(ctx context.Context, rec DegreeGrantRecord) error
	AppendBeltPromotion(ctx context.Context, rec BeltPromotionRecord) error

	// ListByPractitioner returns the records of a practitioner in sequence order.
	ListByPractitioner(ctx context.Context, practitionerID string) ([]Record, error)
}

// RequestRepository stores promotion requests.
type RequestRepository interface {
	// Create returns ErrAlreadyPending if the practitioner has a PENDING request.
	Create(ctx context.Context, r *PromotionRequest) error

	// GetByID returns ErrRequestNotFound if the request does not exist.
	GetByID(ctx context.Context, id string) (*PromotionRequest, error)

	// FindPending returns the PENDING request of a practitioner, or nil.
	FindPending(ctx context.Context, practitionerID string) (*PromotionRequest, error)

	// Update persists a decision. It returns ErrRequestDecided if the stored
	// request is no longer PENDING.
	Update(ctx context.Context, r *PromotionRequest) error

	List(ctx context.Context, filter RequestFilter) ([]*PromotionRequest, error)
}

// ListOptions contains pagination and filtering for practitioner listings.
type ListOptions struct {
	AcademyID       string
	IncludeInactive bool
	// AfterID is a keyset cursor: only IDs greater than it are returned.
	AfterID string
	Limit   int
}

// DefaultListOptions returns the default listing options.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 100}
}

// WithAcademy restricts the listing to one academy.
func (o ListOptions) WithAcademy(academyID string) ListOptions {
	o.AcademyID = academyID
	return o
}

// WithLimit sets the page size.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}

// RequestFilter filters request listings.
type RequestFilter struct {
	PractitionerID string
	AcademyID      string
	Status         RequestStatus
	Limit          int
	Offset         int
}

// Repositories groups the repositories that share a transaction.
type Repositories interface {
	Practitioners() PractitionerRepository
	History() HistoryRepository
	Requests() RequestRepository
}

// UnitOfWork is a transaction spanning all repositories.
// Nothing is visible to other readers until Commit.
type UnitOfWork interface {
	Repositories
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store gives non-transactional access to the repositories and starts units of work.
type Store interface {
	Repositories
	Begin(ctx context.Context) (UnitOfWork, error)
}

// WithinUnitOfWork runs fn in a unit of work, committing when fn returns nil
// and rolling back otherwise, including on panic.
func WithinUnitOfWork(ctx context.Context, store Store, fn func(uow UnitOfWork) error) (err error) {
	uow, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = uow.Rollback(ctx)
		}
	}()

	if err = fn(uow); err != nil {
		return err
	}
	if err = uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// RankCount is the number of active practitioners holding one belt and degree.
type RankCount struct {
	BeltCode string
	Degree   int
	Count    int
}

// AcademyStats summarizes the ranks and request backlog of one academy.
type AcademyStats struct {
	AcademyID string
	Active    int
	Inactive  int
	Ranks     []RankCount
	Requests  map[RequestStatus]int
}

// StatsReader aggregates academy statistics from the progression state.
type StatsReader interface {
	AcademyStats(ctx context.Context, academyID string) (AcademyStats, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceEntry is one attended class.
type AttendanceEntry struct {
	ID             string
	PractitionerID string
	AttendedAt     time.Time
	ClassID        string
	RecordedBy     string
}

// AttendanceRecorder writes attendance. At most one entry per practitioner
// and calendar day is kept; duplicates report recorded == false.
type AttendanceRecorder interface {
	RecordAttendance(ctx context.Context, entry AttendanceEntry) (recorded bool, err error)
}
