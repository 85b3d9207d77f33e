// Package memory implements the progression store in process memory.
// It backs development setups without PostgreSQL and the application tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

type state struct {
	practitioners map[string]*progression.Practitioner
	history       map[string][]progression.Record
	requests      map[string]*progression.PromotionRequest
	attendance    map[string][]progression.AttendanceEntry
	thresholds    map[string]map[string]belt.Requirements
}

func newState() *state {
	return &state{
		practitioners: make(map[string]*progression.Practitioner),
		history:       make(map[string][]progression.Record),
		requests:      make(map[string]*progression.PromotionRequest),
		attendance:    make(map[string][]progression.AttendanceEntry),
		thresholds:    make(map[string]map[string]belt.Requirements),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for id, p := range s.practitioners {
		cp.practitioners[id] = p.Clone()
	}
	for id, recs := range s.history {
		cp.history[id] = append([]progression.Record(nil), recs...)
	}
	for id, r := range s.requests {
		cp.requests[id] = r.Clone()
	}
	for id, entries := range s.attendance {
		cp.attendance[id] = append([]progression.AttendanceEntry(nil), entries...)
	}
	for academy, reqs := range s.thresholds {
		m := make(map[string]belt.Requirements, len(reqs))
		for code, r := range reqs {
			m[code] = r
		}
		cp.thresholds[academy] = m
	}
	return cp
}

// view gives the repositories access to a state, either the committed one
// or the private copy of a unit of work.
type view interface {
	read(ctx context.Context, fn func(s *state) error) error
	write(ctx context.Context, fn func(s *state) error) error
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is an in-memory progression.Store.
//
// Units of work are serialized: Begin waits until the previous unit commits or
// rolls back, then works on a private copy that replaces the committed state on
// Commit. Direct writes through the store take the same turn.
type Store struct {
	mu        sync.RWMutex
	committed *state
	turn      chan struct{}

	repos repositories
}

var _ progression.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		committed: newState(),
		turn:      make(chan struct{}, 1),
	}
	s.repos = newRepositories(storeView{s})
	return s
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return shared.WrapError("memory", "Begin", shared.ErrTimeout, "waiting for unit of work", ctx.Err())
	}
}

func (s *Store) release() {
	<-s.turn
}

// Practitioners implements progression.Repositories.
func (s *Store) Practitioners() progression.PractitionerRepository { return s.repos.practitioners }

// History implements progression.Repositories.
func (s *Store) History() progression.HistoryRepository { return s.repos.history }

// Requests implements progression.Repositories.
func (s *Store) Requests() progression.RequestRepository { return s.repos.requests }

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (progression.UnitOfWork, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	u := &unitOfWork{store: s, work: work}
	u.repos = newRepositories(uowView{u})
	return u, nil
}

// SetAcademyRequirements stores a per-academy override for one belt.
func (s *Store) SetAcademyRequirements(ctx context.Context, academyID, beltCode string, req belt.Requirements) error {
	return storeView{s}.write(ctx, func(st *state) error {
		if st.thresholds[academyID] == nil {
			st.thresholds[academyID] = make(map[string]belt.Requirements)
		}
		st.thresholds[academyID][beltCode] = req
		return nil
	})
}

// AcademyRequirements implements progression.ThresholdSource.
func (s *Store) AcademyRequirements(ctx context.Context, academyID string) (map[string]belt.Requirements, error) {
	out := make(map[string]belt.Requirements)
	err := storeView{s}.read(ctx, func(st *state) error {
		for code, r := range st.thresholds[academyID] {
			out[code] = r
		}
		return nil
	})
	return out, err
}

type storeView struct{ s *Store }

func (v storeView) read(_ context.Context, fn func(*state) error) error {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return fn(v.s.committed)
}

func (v storeView) write(ctx context.Context, fn func(*state) error) error {
	if err := v.s.acquire(ctx); err != nil {
		return err
	}
	defer v.s.release()

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.committed)
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

type unitOfWork struct {
	store *Store
	work  *state
	repos repositories

	mu   sync.Mutex
	done bool
}

func (u *unitOfWork) Practitioners() progression.PractitionerRepository {
	return u.repos.practitioners
}
func (u *unitOfWork) History() progression.HistoryRepository { return u.repos.history }
func (u *unitOfWork) Requests() progression.RequestRepository {
	return u.repos.requests
}

func (u *unitOfWork) Commit(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return shared.WrapError("memory", "Commit", shared.ErrInvalidState, "unit of work already finished", nil)
	}
	u.done = true

	u.store.mu.Lock()
	u.store.committed = u.work
	u.store.mu.Unlock()
	u.store.release()
	return nil
}

func (u *unitOfWork) Rollback(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil
	}
	u.done = true
	u.store.release()
	return nil
}

type uowView struct{ u *unitOfWork }

func (v uowView) read(_ context.Context, fn func(*state) error) error {
	v.u.mu.Lock()
	defer v.u.mu.Unlock()
	if v.u.done {
		return shared.WrapError("memory", "read", shared.ErrInvalidState, "unit of work already finished", nil)
	}
	return fn(v.u.work)
}

func (v uowView) write(ctx context.Context, fn func(*state) error) error {
	return v.read(ctx, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

type repositories struct {
	practitioners *practitionerRepo
	history       *historyRepo
	requests      *requestRepo
}

func newRepositories(v view) repositories {
	return repositories{
		practitioners: &practitionerRepo{v: v},
		history:       &historyRepo{v: v},
		requests:      &requestRepo{v: v},
	}
}

type practitionerRepo struct{ v view }

func (r *practitionerRepo) Create(ctx context.Context, p *progression.Practitioner) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.practitioners[p.ID]; ok {
			return shared.ErrAlreadyEnrolled.WithMessage(fmt.Sprintf("practitioner %s already enrolled", p.ID))
		}
		s.practitioners[p.ID] = p.Clone()
		return nil
	})
}

func (r *practitionerRepo) GetByID(ctx context.Context, id string) (*progression.Practitioner, error) {
	var out *progression.Practitioner
	err := r.v.read(ctx, func(s *state) error {
		p, ok := s.practitioners[id]
		if !ok {
			return shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", id))
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *practitionerRepo) Update(ctx context.Context, p *progression.Practitioner, expectedVersion int64) error {
	return r.v.write(ctx, func(s *state) error {
		cur, ok := s.practitioners[p.ID]
		if !ok {
			return shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", p.ID))
		}
		if cur.Version != expectedVersion {
			return shared.WrapError("memory", "UpdatePractitioner", shared.ErrConcurrentModification,
				fmt.Sprintf("practitioner %s is at version %d, expected %d", p.ID, cur.Version, expectedVersion), nil)
		}
		s.practitioners[p.ID] = p.Clone()
		return nil
	})
}

func (r *practitionerRepo) List(ctx context.Context, opts progression.ListOptions) ([]*progression.Practitioner, error) {
	var out []*progression.Practitioner
	err := r.v.read(ctx, func(s *state) error {
		for _, p := range s.practitioners {
			if opts.AcademyID != "" && p.AcademyID != opts.AcademyID {
				continue
			}
			if !opts.IncludeInactive && !p.Active {
				continue
			}
			if opts.AfterID != "" && p.ID <= opts.AfterID {
				continue
			}
			out = append(out, p.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type historyRepo struct{ v view }

func (r *historyRepo) append(ctx context.Context, rec progression.Record) error {
	return r.v.write(ctx, func(s *state) error {
		for _, existing := range s.history[rec.Practitioner()] {
			if existing.Seq() == rec.Seq() {
				return shared.WrapError("memory", "AppendHistory", shared.ErrConcurrentModification,
					fmt.Sprintf("record %d already exists for %s", rec.Seq(), rec.Practitioner()), nil)
			}
		}
		s.history[rec.Practitioner()] = append(s.history[rec.Practitioner()], rec)
		return nil
	})
}

func (r *historyRepo) AppendDegreeGrant(ctx context.Context, rec progression.DegreeGrantRecord) error {
	return r.append(ctx, rec)
}

func (r *historyRepo) AppendBeltPromotion(ctx context.Context, rec progression.BeltPromotionRecord) error {
	return r.append(ctx, rec)
}

func (r *historyRepo) ListByPractitioner(ctx context.Context, practitionerID string) ([]progression.Record, error) {
	var out []progression.Record
	err := r.v.read(ctx, func(s *state) error {
		out = append(out, s.history[practitionerID]...)
		return nil
	})
	progression.SortRecords(out)
	return out, err
}

type requestRepo struct{ v view }

func (r *requestRepo) Create(ctx context.Context, req *progression.PromotionRequest) error {
	return r.v.write(ctx, func(s *state) error {
		if _, ok := s.requests[req.ID]; ok {
			return shared.WrapError("memory", "CreateRequest", shared.ErrAlreadyExists,
				fmt.Sprintf("request %s already exists", req.ID), nil)
		}
		if req.IsPending() {
			for _, other := range s.requests {
				if other.PractitionerID == req.PractitionerID && other.IsPending() {
					return shared.ErrAlreadyPending.WithMessage(
						fmt.Sprintf("request %s is already pending for %s", other.ID, req.PractitionerID))
				}
			}
		}
		s.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (*progression.PromotionRequest, error) {
	var out *progression.PromotionRequest
	err := r.v.read(ctx, func(s *state) error {
		req, ok := s.requests[id]
		if !ok {
			return shared.ErrRequestNotFound.WithMessage(fmt.Sprintf("request %s not found", id))
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *requestRepo) FindPending(ctx context.Context, practitionerID string) (*progression.PromotionRequest, error) {
	var out *progression.PromotionRequest
	err := r.v.read(ctx, func(s *state) error {
		for _, req := range s.requests {
			if req.PractitionerID == practitionerID && req.IsPending() {
				out = req.Clone()
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *requestRepo) Update(ctx context.Context, req *progression.PromotionRequest) error {
	return r.v.write(ctx, func(s *state) error {
		cur, ok := s.requests[req.ID]
		if !ok {
			return shared.ErrRequestNotFound.WithMessage(fmt.Sprintf("request %s not found", req.ID))
		}
		if !cur.IsPending() {
			return shared.ErrRequestDecided.WithMessage(fmt.Sprintf("request %s is already %s", req.ID, cur.Status))
		}
		s.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *requestRepo) List(ctx context.Context, filter progression.RequestFilter) ([]*progression.PromotionRequest, error) {
	var out []*progression.PromotionRequest
	err := r.v.read(ctx, func(s *state) error {
		for _, req := range s.requests {
			if filter.PractitionerID != "" && req.PractitionerID != filter.PractitionerID {
				continue
			}
			if filter.AcademyID != "" && req.AcademyID != filter.AcademyID {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
			out = append(out, req.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
