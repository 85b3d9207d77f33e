package command_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/dojo-hub/progression-engine/config"
	"github.com/dojo-hub/progression-engine/internal/application/command"
	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/progression/mocks"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/lock"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

var (
	now      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	enrolled = now.AddDate(-1, -2, 0)
	adultDOB = time.Date(1990, 1, 15, 0, 0, 0, 0, time.UTC)
)

type eventLog struct {
	mu     sync.Mutex
	events []shared.Event
}

func (l *eventLog) Publish(e shared.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []shared.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]shared.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventType())
	}
	return out
}

type flags map[string]bool

func (f flags) IsEnabled(name, _ string) bool { return f[name] }

type CommandSuite struct {
	suite.Suite

	ctx      context.Context
	ctrl     *gomock.Controller
	auth     *mocks.MockAuthorizer
	store    *memory.Store
	registry *belt.Registry
	events   *eventLog
	promoter *command.Promoter

	apply   *command.ApplyPromotionHandler
	request *command.RequestPromotionHandler
	decide  *command.DecideRequestHandler
	enroll  *command.EnrollPractitionerHandler
}

func TestCommandSuite(t *testing.T) {
	suite.Run(t, new(CommandSuite))
}

func (s *CommandSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.auth = mocks.NewMockAuthorizer(s.ctrl)
	s.store = memory.NewStore()
	s.registry = belt.NewRegistry(belt.DefaultCatalog())
	s.events = &eventLog{}

	s.promoter = s.newPromoter(lock.NewKeyed())
	s.apply = command.NewApplyPromotionHandler(s.promoter, s.auth)
	s.request = command.NewRequestPromotionHandler(s.promoter)
	s.decide = command.NewDecideRequestHandler(s.promoter, s.auth)
	s.enroll = command.NewEnrollPractitionerHandler(s.promoter)
}

func (s *CommandSuite) newPromoter(locker progression.Locker) *command.Promoter {
	return s.newPromoterOn(s.store, locker)
}

func (s *CommandSuite) newPromoterOn(store progression.Store, locker progression.Locker) *command.Promoter {
	assessor := progression.NewAssessor(progression.DefaultPolicy(), s.store,
		progression.NewRepositoryDirectory(s.store.Practitioners()),
		progression.WithThresholdSource(s.store))
	return command.NewPromoter(command.PromoterDeps{
		Store:       store,
		Catalog:     s.registry,
		Assessor:    assessor,
		Locker:      locker,
		Publisher:   s.events,
		Clock:       timeutil.FixedClock{T: now},
		LockTimeout: 2 * time.Second,
	})
}

func (s *CommandSuite) allow(actor string) {
	s.auth.EXPECT().CanGrantPromotion(gomock.Any(), actor, gomock.Any()).Return(true, nil).AnyTimes()
}

// seedWhite stores a WHITE belt practitioner holding degree degrees, the last
// one granted two months ago.
func (s *CommandSuite) seedWhite(id string, degree int) *progression.Practitioner {
	p := &progression.Practitioner{
		ID: id, AcademyID: "a-1", DateOfBirth: adultDOB, Active: true,
		BeltCode: "WHITE", Degree: degree, BeltSince: enrolled,
		LastDegreeAt: now.AddDate(0, -2, 0),
		EnrolledBelt: "WHITE", EnrolledAt: enrolled,
	}
	s.Require().NoError(s.store.Practitioners().Create(s.ctx, p))
	return p
}

// attend records n classes on consecutive days after from.
func (s *CommandSuite) attend(id string, n int, from time.Time) {
	for i := 1; i <= n; i++ {
		ok, err := s.store.RecordAttendance(s.ctx, progression.AttendanceEntry{
			ID:             fmt.Sprintf("%s-%d-%d", id, from.Unix(), i),
			PractitionerID: id,
			AttendedAt:     from.AddDate(0, 0, i),
		})
		s.Require().NoError(err)
		s.Require().True(ok)
	}
}

func (s *CommandSuite) history(id string) []progression.Record {
	recs, err := s.store.History().ListByPractitioner(s.ctx, id)
	s.Require().NoError(err)
	return recs
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY
// ══════════════════════════════════════════════════════════════════════════════

func (s *CommandSuite) TestApplyDegree_ThirdToFourth() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	out, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
		PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree,
	})
	s.Require().NoError(err)
	s.Equal(4, out.Practitioner.Degree)
	s.Equal(now, out.Practitioner.CycleStart())
	inCycle, err := s.store.ClassesSince(s.ctx, "p-1", out.Practitioner.CycleStart())
	s.Require().NoError(err)
	s.Zero(inCycle, "the grant restarts the class count")
	s.Require().NotNil(out.Degree)
	s.Equal(progression.OriginManual, out.Degree.Origin)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(4, stored.Degree)
	s.Equal(now, stored.LastDegreeAt)
	s.Len(s.history("p-1"), 1)
	s.Equal([]shared.EventType{shared.EventDegreeGranted}, s.events.types())
}

func (s *CommandSuite) TestApplyBelt() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 4)
	s.attend("p-1", 20, p.LastDegreeAt)

	_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
		PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindBelt, TargetBelt: "PURPLE",
	})
	s.ErrorIs(err, shared.ErrInvalidTarget)

	out, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
		PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindBelt, TargetBelt: "BLUE",
	})
	s.Require().NoError(err)
	s.Equal("BLUE", out.Practitioner.BeltCode)
	s.Zero(out.Practitioner.Degree)
	s.Equal(now, out.Practitioner.BeltSince)
	s.Equal("WHITE", out.Belt.FromBelt)
}

func (s *CommandSuite) TestApply_Refusals() {
	p := s.seedWhite("p-1", 1)
	s.attend("p-1", 5, p.LastDegreeAt)

	s.Run("unauthorized", func() {
		s.auth.EXPECT().CanGrantPromotion(gomock.Any(), "student-9", "p-1").Return(false, nil)
		_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
			PractitionerID: "p-1", ActorID: "student-9", Kind: progression.KindDegree,
		})
		s.ErrorIs(err, shared.ErrUnauthorizedActor)
		s.False(shared.IsRetryable(err))
	})

	s.Run("not eligible", func() {
		s.auth.EXPECT().CanGrantPromotion(gomock.Any(), "coach-1", "p-1").Return(true, nil)
		_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
			PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree,
		})
		s.ErrorIs(err, shared.ErrStaleIneligible)
		s.True(shared.IsRetryable(err))
	})

	s.Run("unknown practitioner", func() {
		s.auth.EXPECT().CanGrantPromotion(gomock.Any(), "coach-1", "ghost").Return(true, nil)
		_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
			PractitionerID: "ghost", ActorID: "coach-1", Kind: progression.KindDegree,
		})
		s.ErrorIs(err, shared.ErrPractitionerNotFound)
	})

	s.Run("invalid kind", func() {
		_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
			PractitionerID: "p-1", ActorID: "coach-1", Kind: "STRIPE",
		})
		s.True(shared.IsValidation(err))
	})

	s.Empty(s.history("p-1"))
}

func (s *CommandSuite) TestApply_BusyWhenLockUnavailable() {
	s.allow("coach-1")
	s.seedWhite("p-1", 3)

	locker := mocks.NewMockLocker(s.ctrl)
	locker.EXPECT().Acquire(gomock.Any(), progression.LockKey("p-1"), 2*time.Second).Return(nil, shared.ErrBusy)
	handler := command.NewApplyPromotionHandler(s.newPromoter(locker), s.auth)

	_, err := handler.Handle(s.ctx, command.ApplyPromotionCommand{
		PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree,
	})
	s.ErrorIs(err, shared.ErrBusy)
	s.True(shared.IsRetryable(err))
}

func (s *CommandSuite) TestApply_ConcurrentSingleSuccess() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	const callers = 2
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.apply.Handle(s.ctx, command.ApplyPromotionCommand{
				PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(errorsIsAny(err, shared.ErrStaleIneligible, shared.ErrBusy), "unexpected error %v", err)
	}
	s.Equal(1, succeeded)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(4, stored.Degree)
	s.Len(s.history("p-1"), 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// APPROVAL WORKFLOW
// ══════════════════════════════════════════════════════════════════════════════

func (s *CommandSuite) TestRequest_RejectThenRequestAgain() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	req, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.Require().NoError(err)
	s.Equal(progression.RequestPending, req.Status)
	s.Equal("DEGREE:WHITE:4", req.Target())

	_, err = s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.ErrorIs(err, shared.ErrAlreadyPending)

	_, err = s.apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.ErrorIs(err, shared.ErrAlreadyPending)

	res, err := s.decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionReject, Note: "next month"})
	s.Require().NoError(err)
	s.Equal(progression.RequestRejected, res.Request.Status)
	s.Nil(res.Promotion)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(3, stored.Degree)
	s.Zero(stored.Version)
	s.Empty(s.history("p-1"))

	_, err = s.decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.ErrorIs(err, shared.ErrRequestDecided)

	again, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.Require().NoError(err)
	s.NotEqual(req.ID, again.ID)
}

func (s *CommandSuite) TestRequest_ApproveAppliesPromotion() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	req, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.Require().NoError(err)

	res, err := s.decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.Require().NoError(err)
	s.Equal(progression.RequestApproved, res.Request.Status)
	s.Equal("coach-1", res.Request.DecidedBy)
	s.Require().NotNil(res.Promotion.Degree)
	s.Equal(req.ID, res.Promotion.Degree.RequestID)
	s.Equal(progression.OriginApproval, res.Promotion.Degree.Origin)

	pending, err := s.store.Requests().FindPending(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Nil(pending)
	s.Equal([]shared.EventType{
		shared.EventPromotionRequested,
		shared.EventDegreeGranted,
		shared.EventRequestDecided,
	}, s.events.types())
}

func (s *CommandSuite) TestRequest_StaleApprovalKeepsRequestPending() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	req, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.Require().NoError(err)

	defs := belt.DefaultDefinitions()
	for i := range defs {
		if defs[i].Code == "WHITE" {
			defs[i].Requirements.ClassesPerDegree = 40
		}
	}
	_, err = s.registry.Replace(defs)
	s.Require().NoError(err)

	_, err = s.decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.ErrorIs(err, shared.ErrStaleIneligible)

	stored, err := s.store.Requests().GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(progression.RequestPending, stored.Status)
	s.Empty(s.history("p-1"))
}

func (s *CommandSuite) TestRequest_NotEligible() {
	s.seedWhite("p-1", 0)

	_, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.ErrorIs(err, shared.ErrNotEligible)
}

func (s *CommandSuite) TestRequest_ConcurrentAtMostOnePending() {
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, shared.ErrAlreadyPending)
	}
	s.Equal(1, created)

	pending, err := s.store.Requests().List(s.ctx, progression.RequestFilter{PractitionerID: "p-1", Status: progression.RequestPending})
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *CommandSuite) TestBulkDecide_ApprovesEachAndReportsFailures() {
	s.allow("coach-1")
	var ids []string
	for _, id := range []string{"p-1", "p-2"} {
		p := s.seedWhite(id, 3)
		s.attend(id, 20, p.LastDegreeAt)
		req, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: id, ActorID: "coach-2"})
		s.Require().NoError(err)
		ids = append(ids, req.ID)
	}

	bulk := command.NewBulkDecideHandler(s.decide)
	res, err := bulk.Handle(s.ctx, command.BulkDecideCommand{
		RequestIDs: []string{ids[0], "missing", ids[1], ids[0]},
		ActorID:    "coach-1",
		Decision:   progression.DecisionApprove,
	})
	s.Require().NoError(err)
	s.Require().Len(res.Items, 3)
	s.Equal(2, res.Succeeded)
	s.Equal(1, res.Failed)

	s.Equal(ids[0], res.Items[0].RequestID)
	s.Require().NoError(res.Items[0].Err)
	s.Equal(progression.RequestApproved, res.Items[0].Result.Request.Status)
	s.ErrorIs(res.Items[1].Err, shared.ErrRequestNotFound)
	s.Require().NoError(res.Items[2].Err)

	for _, id := range []string{"p-1", "p-2"} {
		stored, err := s.store.Practitioners().GetByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(4, stored.Degree)
		s.Len(s.history(id), 1)
	}

	again, err := bulk.Handle(s.ctx, command.BulkDecideCommand{RequestIDs: ids[:1], ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.Require().NoError(err)
	s.ErrorIs(again.Items[0].Err, shared.ErrRequestDecided)
	s.Len(s.history("p-1"), 1)
}

func (s *CommandSuite) TestBulkDecide_Validation() {
	bulk := command.NewBulkDecideHandler(s.decide)

	_, err := bulk.Handle(s.ctx, command.BulkDecideCommand{ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.True(shared.IsValidation(err))

	tooMany := make([]string, command.MaxBulkDecisions+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("r-%d", i)
	}
	_, err = bulk.Handle(s.ctx, command.BulkDecideCommand{RequestIDs: tooMany, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.True(shared.IsValidation(err))

	_, err = bulk.Handle(s.ctx, command.BulkDecideCommand{RequestIDs: []string{"r-1", " "}, ActorID: "coach-1", Decision: progression.DecisionReject})
	s.True(shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLLBACK
// ══════════════════════════════════════════════════════════════════════════════

var errWriteFailed = errors.New("write failed")

// failingStore fails the named update inside every unit of work, after the
// history record has been appended.
type failingStore struct {
	*memory.Store
	practitionerUpdate bool
	requestUpdate      bool
}

func (f *failingStore) Begin(ctx context.Context) (progression.UnitOfWork, error) {
	uow, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingUnit{UnitOfWork: uow, store: f}, nil
}

type failingUnit struct {
	progression.UnitOfWork
	store *failingStore
}

func (u *failingUnit) Practitioners() progression.PractitionerRepository {
	return failingPractitioners{PractitionerRepository: u.UnitOfWork.Practitioners(), fail: u.store.practitionerUpdate}
}

func (u *failingUnit) Requests() progression.RequestRepository {
	return failingRequests{RequestRepository: u.UnitOfWork.Requests(), fail: u.store.requestUpdate}
}

type failingPractitioners struct {
	progression.PractitionerRepository
	fail bool
}

func (r failingPractitioners) Update(ctx context.Context, p *progression.Practitioner, expectedVersion int64) error {
	if r.fail {
		return errWriteFailed
	}
	return r.PractitionerRepository.Update(ctx, p, expectedVersion)
}

type failingRequests struct {
	progression.RequestRepository
	fail bool
}

func (r failingRequests) Update(ctx context.Context, req *progression.PromotionRequest) error {
	if r.fail {
		return errWriteFailed
	}
	return r.RequestRepository.Update(ctx, req)
}

func (s *CommandSuite) TestApply_PractitionerUpdateFailureRollsBack() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 2)
	s.attend("p-1", 20, p.LastDegreeAt)

	promoter := s.newPromoterOn(&failingStore{Store: s.store, practitionerUpdate: true}, lock.NewKeyed())
	apply := command.NewApplyPromotionHandler(promoter, s.auth)

	_, err := apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.ErrorIs(err, errWriteFailed)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(2, stored.Degree)
	s.Equal(p.Version, stored.Version)
	s.True(stored.LastDegreeAt.Equal(p.LastDegreeAt))
	s.Empty(s.history("p-1"))
	s.Empty(s.events.types())

	// The same promotion goes through once the store recovers.
	_, err = s.apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.Require().NoError(err)
	s.Len(s.history("p-1"), 1)
}

func (s *CommandSuite) TestApprove_RequestUpdateFailureRollsBack() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 20, p.LastDegreeAt)

	req, err := s.request.Handle(s.ctx, command.RequestPromotionCommand{PractitionerID: "p-1", ActorID: "coach-2"})
	s.Require().NoError(err)

	promoter := s.newPromoterOn(&failingStore{Store: s.store, requestUpdate: true}, lock.NewKeyed())
	decide := command.NewDecideRequestHandler(promoter, s.auth)

	_, err = decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.ErrorIs(err, errWriteFailed)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.Equal(3, stored.Degree)
	s.Equal(p.Version, stored.Version)
	s.Empty(s.history("p-1"))

	again, err := s.store.Requests().GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(progression.RequestPending, again.Status)
	s.Empty(again.DecidedBy)
	s.Equal([]shared.EventType{shared.EventPromotionRequested}, s.events.types())

	res, err := s.decide.Handle(s.ctx, command.DecideRequestCommand{RequestID: req.ID, ActorID: "coach-1", Decision: progression.DecisionApprove})
	s.Require().NoError(err)
	s.Equal(progression.RequestApproved, res.Request.Status)
	s.Equal(4, res.Promotion.Practitioner.Degree)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMY THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

type countingFlusher struct{ calls int }

func (f *countingFlusher) InvalidateAll(context.Context) error {
	f.calls++
	return nil
}

func (s *CommandSuite) TestSetThresholds_StoresOverrideAndFlushesCache() {
	writer := mocks.NewMockThresholdWriter(s.ctrl)
	flusher := &countingFlusher{}
	h := command.NewSetThresholdsHandler(s.registry, progression.DefaultPolicy(), writer, flusher, nil)

	override := belt.Requirements{ClassesPerDegree: 30}
	writer.EXPECT().SetAcademyRequirements(gomock.Any(), "a-1", "BLUE", override).Return(nil)

	res, err := h.Handle(s.ctx, command.SetThresholdsCommand{
		AcademyID: "a-1", BeltCode: "blue", ActorID: "coach-1", Requirements: override,
	})
	s.Require().NoError(err)
	s.Equal("BLUE", res.Belt)
	s.Equal(30, res.Effective.ClassesPerDegree)
	s.Equal(24, res.Effective.MinMonthsInBelt)
	s.Equal(1, flusher.calls)
}

func (s *CommandSuite) TestSetThresholds_Refusals() {
	writer := mocks.NewMockThresholdWriter(s.ctrl)
	h := command.NewSetThresholdsHandler(s.registry, progression.DefaultPolicy(), writer, nil, nil)

	_, err := h.Handle(s.ctx, command.SetThresholdsCommand{AcademyID: "a-1", BeltCode: "MAUVE"})
	s.ErrorIs(err, shared.ErrBeltNotFound)

	_, err = h.Handle(s.ctx, command.SetThresholdsCommand{
		AcademyID: "a-1", BeltCode: "WHITE", Requirements: belt.Requirements{ClassesPerDegree: -1},
	})
	s.True(shared.IsValidation(err))

	_, err = h.Handle(s.ctx, command.SetThresholdsCommand{BeltCode: "WHITE"})
	s.True(shared.IsValidation(err))
}

func (s *CommandSuite) TestSetThresholds_LowersDegreeThreshold() {
	s.allow("coach-1")
	p := s.seedWhite("p-1", 3)
	s.attend("p-1", 10, p.LastDegreeAt)

	_, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.ErrorIs(err, shared.ErrStaleIneligible)

	h := command.NewSetThresholdsHandler(s.registry, progression.DefaultPolicy(), s.store, nil, nil)
	_, err = h.Handle(s.ctx, command.SetThresholdsCommand{
		AcademyID: "a-1", BeltCode: "WHITE", ActorID: "coach-1",
		Requirements: belt.Requirements{ClassesPerDegree: 10},
	})
	s.Require().NoError(err)

	out, err := s.apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.Require().NoError(err)
	s.Equal(4, out.Practitioner.Degree)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT AND ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

func (s *CommandSuite) TestEnroll() {
	kid, err := s.enroll.Handle(s.ctx, command.EnrollPractitionerCommand{
		PractitionerID: "kid-1", AcademyID: "a-1", DateOfBirth: time.Date(2018, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	s.Equal("GREY", kid.BeltCode)
	s.Equal(now, kid.EnrolledAt)

	_, err = s.enroll.Handle(s.ctx, command.EnrollPractitionerCommand{PractitionerID: "kid-1", AcademyID: "a-1"})
	s.ErrorIs(err, shared.ErrAlreadyEnrolled)

	_, err = s.enroll.Handle(s.ctx, command.EnrollPractitionerCommand{
		PractitionerID: "teen-1", AcademyID: "a-1", DateOfBirth: time.Date(2009, 4, 1, 0, 0, 0, 0, time.UTC), BeltCode: "brown",
	})
	s.ErrorIs(err, shared.ErrInvalidTarget)

	adult, err := s.enroll.Handle(s.ctx, command.EnrollPractitionerCommand{
		PractitionerID: "adult-1", AcademyID: "a-1", DateOfBirth: adultDOB, BeltCode: "purple",
	})
	s.Require().NoError(err)
	s.Equal("PURPLE", adult.BeltCode)
}

func (s *CommandSuite) TestRecordAttendance_AutoDegree() {
	p := s.seedWhite("p-1", 1)
	s.attend("p-1", 19, p.LastDegreeAt)

	handler := command.NewRecordAttendanceHandler(s.promoter, s.store,
		flags{config.FeatureAutoDegree: true}, nil, command.RecordAttendanceConfig{SystemActor: "system"})

	res, err := handler.Handle(s.ctx, command.RecordAttendanceCommand{PractitionerID: "p-1", AttendedAt: now.Add(-time.Hour)})
	s.Require().NoError(err)
	s.True(res.Recorded)
	s.Require().NotNil(res.AutoGranted)
	s.Equal(progression.OriginAutomatic, res.AutoGranted.Degree.Origin)
	s.Equal("system", res.AutoGranted.Degree.GrantedBy)
	s.Equal(2, res.AutoGranted.Practitioner.Degree)

	res, err = handler.Handle(s.ctx, command.RecordAttendanceCommand{PractitionerID: "p-1", AttendedAt: now.Add(-30 * time.Minute)})
	s.Require().NoError(err)
	s.False(res.Recorded, "second class on the same day is not counted")
	s.Nil(res.AutoGranted)
}

func (s *CommandSuite) TestRecordAttendance_ApprovalRequiredOpensRequest() {
	p := s.seedWhite("p-1", 1)
	s.attend("p-1", 19, p.LastDegreeAt)

	handler := command.NewRecordAttendanceHandler(s.promoter, s.store,
		flags{config.FeatureAutoDegree: true, config.FeatureApprovalRequired: true}, nil, command.RecordAttendanceConfig{})

	res, err := handler.Handle(s.ctx, command.RecordAttendanceCommand{PractitionerID: "p-1", AttendedAt: now.Add(-time.Hour)})
	s.Require().NoError(err)
	s.Nil(res.AutoGranted)
	s.Require().NotNil(res.AutoRequested)
	s.Equal("system", res.AutoRequested.RequestedBy)
	s.Empty(s.history("p-1"))
}

func (s *CommandSuite) TestRecordAttendance_UnknownPractitioner() {
	handler := command.NewRecordAttendanceHandler(s.promoter, s.store, nil, nil, command.RecordAttendanceConfig{})
	_, err := handler.Handle(s.ctx, command.RecordAttendanceCommand{PractitionerID: "ghost"})
	s.ErrorIs(err, shared.ErrPractitionerNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

func (s *CommandSuite) TestHistoryReplaysToState() {
	s.allow("coach-1")
	p, err := s.enroll.Handle(s.ctx, command.EnrollPractitionerCommand{
		PractitionerID: "p-1", AcademyID: "a-1", DateOfBirth: adultDOB, EnrolledAt: enrolled,
	})
	s.Require().NoError(err)

	s.attend("p-1", 20, p.EnrolledAt)
	_, err = s.apply.Handle(s.ctx, command.ApplyPromotionCommand{PractitionerID: "p-1", ActorID: "coach-1", Kind: progression.KindDegree})
	s.Require().NoError(err)

	stored, err := s.store.Practitioners().GetByID(s.ctx, "p-1")
	s.Require().NoError(err)
	s.NoError(progression.VerifyProjection(s.registry.Current(), stored, s.history("p-1")))
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if shared.Code(err) == shared.Code(t) {
			return true
		}
	}
	return false
}
