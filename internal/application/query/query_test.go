package query_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dojo-hub/progression-engine/internal/application/query"
	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

var (
	now      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	enrolled = now.AddDate(-1, -2, 0)
	adultDOB = time.Date(1990, 1, 15, 0, 0, 0, 0, time.UTC)
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]progression.Assessment
	puts int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]progression.Assessment)}
}

func cacheKey(id string, version, catalogVersion int64) string {
	return id + "/" + strconv.FormatInt(version, 10) + "/" + strconv.FormatInt(catalogVersion, 10)
}

func (c *memoryCache) Get(_ context.Context, id string, version, catalogVersion int64) (progression.Assessment, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.data[cacheKey(id, version, catalogVersion)]
	return a, ok, nil
}

func (c *memoryCache) Put(_ context.Context, a progression.Assessment, catalogVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(a.PractitionerID, a.Version, catalogVersion)] = a
	c.puts++
	return nil
}

type QuerySuite struct {
	suite.Suite

	ctx      context.Context
	store    *memory.Store
	registry *belt.Registry
	cache    *memoryCache
	eval     *query.EvaluateEligibilityHandler
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

func (s *QuerySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.registry = belt.NewRegistry(belt.DefaultCatalog())
	s.cache = newMemoryCache()

	assessor := progression.NewAssessor(progression.DefaultPolicy(), s.store,
		progression.NewRepositoryDirectory(s.store.Practitioners()),
		progression.WithThresholdSource(s.store))
	s.eval = query.NewEvaluateEligibilityHandler(s.store.Practitioners(), s.registry, assessor,
		s.cache, nil, timeutil.FixedClock{T: now})
}

func (s *QuerySuite) seedWhite(id, academy string, degree, classes int) *progression.Practitioner {
	p := &progression.Practitioner{
		ID: id, AcademyID: academy, DateOfBirth: adultDOB, Active: true,
		BeltCode: "WHITE", Degree: degree, BeltSince: enrolled,
		LastDegreeAt: now.AddDate(0, -2, 0),
		EnrolledBelt: "WHITE", EnrolledAt: enrolled,
	}
	s.Require().NoError(s.store.Practitioners().Create(s.ctx, p))

	from := p.LastDegreeAt
	for i := 1; i <= classes; i++ {
		ok, err := s.store.RecordAttendance(s.ctx, progression.AttendanceEntry{
			ID:             fmt.Sprintf("%s-%d", id, i),
			PractitionerID: id,
			AttendedAt:     from.AddDate(0, 0, i),
		})
		s.Require().NoError(err)
		s.Require().True(ok)
	}
	return p
}

func (s *QuerySuite) TestEvaluateEligibility() {
	s.seedWhite("p-1", "a-1", 3, 20)

	dto, err := s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{PractitionerID: "p-1"})
	s.Require().NoError(err)
	s.Equal(progression.EligibleForDegree, dto.Outcome)
	s.Equal(4, dto.NextDegree)
	s.Equal("DEGREE:WHITE:4", dto.Target)
	s.Zero(dto.ClassesMissing)
	s.False(dto.Cached)

	again, err := s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{PractitionerID: "p-1"})
	s.Require().NoError(err)
	s.True(again.Cached)
	s.Equal(dto.Target, again.Target)
	s.Equal(1, s.cache.puts)
}

func (s *QuerySuite) TestEvaluateEligibility_CatalogChangeBypassesCache() {
	s.seedWhite("p-1", "a-1", 3, 20)

	_, err := s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{PractitionerID: "p-1"})
	s.Require().NoError(err)

	defs := belt.DefaultDefinitions()
	for i := range defs {
		if defs[i].Code == "WHITE" {
			defs[i].Requirements.ClassesPerDegree = 40
		}
	}
	_, err = s.registry.Replace(defs)
	s.Require().NoError(err)

	dto, err := s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{PractitionerID: "p-1"})
	s.Require().NoError(err)
	s.False(dto.Cached)
	s.Equal(progression.NotEligible, dto.Outcome)
	s.Equal(progression.ReasonInsufficientClasses, dto.Reason)
	s.Equal(20, dto.ClassesMissing)
}

func (s *QuerySuite) TestEvaluateEligibility_Errors() {
	_, err := s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{})
	s.True(shared.IsValidation(err))

	_, err = s.eval.Handle(s.ctx, query.EvaluateEligibilityQuery{PractitionerID: "ghost"})
	s.ErrorIs(err, shared.ErrPractitionerNotFound)
}

func (s *QuerySuite) TestEvaluateEligibility_ConcurrentReadersAgree() {
	s.seedWhite("p-1", "a-1", 2, 12)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.eval.Evaluate(s.ctx, "p-1")
			if err == nil {
				results[i] = string(a.Outcome) + a.Reason
			}
		}()
	}
	wg.Wait()

	for _, r := range results {
		s.Equal(results[0], r)
	}
	s.NotEmpty(results[0])
}

func (s *QuerySuite) TestListUpcoming() {
	s.seedWhite("p-half", "a-1", 1, 10)
	s.seedWhite("p-none", "a-1", 0, 0)
	s.seedWhite("p-ready", "a-1", 3, 20)
	s.seedWhite("p-elsewhere", "a-2", 3, 20)

	inactive := s.seedWhite("p-inactive", "a-1", 3, 20)
	inactive.Active = false
	s.Require().NoError(s.store.Practitioners().Update(s.ctx, inactive, inactive.Version))

	h := query.NewListUpcomingHandler(s.store.Practitioners(), s.eval, 2)

	rows, err := h.Handle(s.ctx, query.ListUpcomingQuery{AcademyID: "a-1"})
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Equal("p-ready", rows[0].PractitionerID)
	s.True(rows[0].ReadyForDegree)
	s.Equal("p-half", rows[1].PractitionerID)
	s.Equal(10, rows[1].ClassesMissing)
	s.InDelta(0.5, rows[1].Progress, 0.001)
	s.Equal("p-none", rows[2].PractitionerID)

	rows, err = h.Handle(s.ctx, query.ListUpcomingQuery{AcademyID: "a-1", EligibleOnly: true})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("p-ready", rows[0].PractitionerID)

	rows, err = h.Handle(s.ctx, query.ListUpcomingQuery{AcademyID: "a-1", Limit: 1})
	s.Require().NoError(err)
	s.Len(rows, 1)

	_, err = h.Handle(s.ctx, query.ListUpcomingQuery{})
	s.True(shared.IsValidation(err))
}

func (s *QuerySuite) TestGetHistory() {
	white, _ := s.registry.Current().Get("WHITE")
	p, err := progression.Enroll(progression.EnrollParams{
		ID: "p-1", AcademyID: "a-1", DateOfBirth: adultDOB, Active: true, Belt: white, At: enrolled,
	})
	s.Require().NoError(err)

	var records []progression.DegreeGrantRecord
	for i := 1; i <= 2; i++ {
		rec, err := p.ApplyDegree(white, progression.GrantParams{
			RecordID: fmt.Sprintf("r-%d", i), At: enrolled.AddDate(0, 2*i, 0),
			Actor: "coach-1", Origin: progression.OriginManual,
		})
		s.Require().NoError(err)
		records = append(records, rec)
	}
	s.Require().NoError(s.store.Practitioners().Create(s.ctx, p))
	for _, rec := range records {
		s.Require().NoError(s.store.History().AppendDegreeGrant(s.ctx, rec))
	}

	h := query.NewGetHistoryHandler(s.store, s.registry)
	dto, err := h.Handle(s.ctx, query.GetHistoryQuery{PractitionerID: "p-1", Verify: true})
	s.Require().NoError(err)
	s.Require().Len(dto.Entries, 2)
	s.Equal(int64(1), dto.Entries[0].Sequence)
	s.Equal(2, dto.Entries[1].Degree)
	s.Equal("coach-1", dto.Entries[1].Actor)
	s.Require().NotNil(dto.Consistent)
	s.True(*dto.Consistent)

	p.Degree = 3
	s.Require().NoError(s.store.Practitioners().Update(s.ctx, p, p.Version))
	dto, err = h.Handle(s.ctx, query.GetHistoryQuery{PractitionerID: "p-1", Verify: true})
	s.Require().NoError(err)
	s.False(*dto.Consistent)
	s.NotEmpty(dto.Mismatch)

	p.Degree = 7
	s.Require().NoError(s.store.Practitioners().Update(s.ctx, p, p.Version))
	dto, err = h.Handle(s.ctx, query.GetHistoryQuery{PractitionerID: "p-1", Verify: true})
	s.Require().NoError(err)
	s.False(*dto.Consistent)
	s.Contains(dto.Mismatch, "outside 0..4")

	dto, err = h.Handle(s.ctx, query.GetHistoryQuery{PractitionerID: "p-1"})
	s.Require().NoError(err)
	s.Nil(dto.Consistent)
}

func (s *QuerySuite) TestListRequests() {
	for i, id := range []string{"p-1", "p-2", "p-3"} {
		p := s.seedWhite(id, "a-1", 0, 0)
		r, err := progression.NewPromotionRequest(progression.NewRequestParams{
			ID: "r-" + id, Practitioner: p,
			Result:      progression.Result{Outcome: progression.EligibleForDegree, NextDegree: 1},
			RequestedBy: "coach-1", At: now.Add(time.Duration(i) * time.Minute),
		})
		s.Require().NoError(err)
		s.Require().NoError(s.store.Requests().Create(s.ctx, r))
	}

	r, err := s.store.Requests().GetByID(s.ctx, "r-p-2")
	s.Require().NoError(err)
	s.Require().NoError(r.Reject("coach-1", now.Add(time.Hour), "later"))
	s.Require().NoError(s.store.Requests().Update(s.ctx, r))

	h := query.NewListRequestsHandler(s.store.Requests())

	pending, err := h.Handle(s.ctx, query.ListRequestsQuery{Status: "pending"})
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal("r-p-1", pending[0].ID)
	s.Equal("DEGREE:WHITE:1", pending[0].Target)
	s.Nil(pending[0].DecidedAt)

	rejected, err := h.Handle(s.ctx, query.ListRequestsQuery{Status: "REJECTED"})
	s.Require().NoError(err)
	s.Require().Len(rejected, 1)
	s.Equal("later", rejected[0].DecisionNote)
	s.NotNil(rejected[0].DecidedAt)

	page, err := h.Handle(s.ctx, query.ListRequestsQuery{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("r-p-2", page[0].ID)

	_, err = h.Handle(s.ctx, query.ListRequestsQuery{Status: "lost"})
	s.True(shared.IsValidation(err))

	_, err = query.NewGetRequestHandler(s.store.Requests()).Handle(s.ctx, "missing")
	s.ErrorIs(err, shared.ErrRequestNotFound)
}

func (s *QuerySuite) TestListBelts() {
	h := query.NewListBeltsHandler(s.registry)

	all, err := h.Handle(s.ctx, query.ListBeltsQuery{})
	s.Require().NoError(err)
	s.Equal(int64(1), all.Version)
	s.Len(all.Belts, s.registry.Current().Len())

	kids, err := h.Handle(s.ctx, query.ListBeltsQuery{Category: "kids"})
	s.Require().NoError(err)
	s.Require().NotEmpty(kids.Belts)
	for _, b := range kids.Belts {
		s.Equal(belt.CategoryKids, b.Category)
	}
	s.Equal("GREY", kids.Belts[0].Code)

	_, err = h.Handle(s.ctx, query.ListBeltsQuery{Category: "toddlers"})
	s.True(shared.IsValidation(err))
}

func (s *QuerySuite) TestGetAcademyStats() {
	s.seedWhite("p-1", "a-1", 0, 0)
	s.seedWhite("p-2", "a-1", 2, 0)
	s.seedWhite("p-3", "a-1", 2, 0)
	s.seedWhite("p-other", "a-2", 1, 0)

	blue := &progression.Practitioner{
		ID: "p-4", AcademyID: "a-1", DateOfBirth: adultDOB, Active: true,
		BeltCode: "BLUE", Degree: 1, BeltSince: enrolled,
		EnrolledBelt: "WHITE", EnrolledAt: enrolled,
	}
	s.Require().NoError(s.store.Practitioners().Create(s.ctx, blue))
	gone := &progression.Practitioner{
		ID: "p-5", AcademyID: "a-1", Active: false,
		BeltCode: "WHITE", BeltSince: enrolled, EnrolledBelt: "WHITE", EnrolledAt: enrolled,
	}
	s.Require().NoError(s.store.Practitioners().Create(s.ctx, gone))

	for i, id := range []string{"p-1", "p-2"} {
		p, err := s.store.Practitioners().GetByID(s.ctx, id)
		s.Require().NoError(err)
		r, err := progression.NewPromotionRequest(progression.NewRequestParams{
			ID: "r-" + id, Practitioner: p,
			Result:      progression.Result{Outcome: progression.EligibleForDegree, NextDegree: p.Degree + 1},
			RequestedBy: "coach-1", At: now.Add(time.Duration(i) * time.Minute),
		})
		s.Require().NoError(err)
		s.Require().NoError(s.store.Requests().Create(s.ctx, r))
	}
	r, err := s.store.Requests().GetByID(s.ctx, "r-p-2")
	s.Require().NoError(err)
	s.Require().NoError(r.Approve("coach-1", now.Add(time.Hour), ""))
	s.Require().NoError(s.store.Requests().Update(s.ctx, r))

	h := query.NewGetAcademyStatsHandler(s.store, s.registry)
	dto, err := h.Handle(s.ctx, query.GetAcademyStatsQuery{AcademyID: "a-1"})
	s.Require().NoError(err)

	s.Equal(4, dto.Active)
	s.Equal(1, dto.Inactive)
	s.Equal(1, dto.Pending)
	s.Equal(1, dto.Approved)
	s.Zero(dto.Rejected)

	s.Require().Len(dto.Belts, 2)
	s.Equal("WHITE", dto.Belts[0].Belt)
	s.Equal(3, dto.Belts[0].Total)
	s.Equal([]query.DegreeCountDTO{{Degree: 0, Count: 1}, {Degree: 2, Count: 2}}, dto.Belts[0].Degrees)
	s.Equal("BLUE", dto.Belts[1].Belt)
	s.Equal("Blue", dto.Belts[1].Name)
	s.Equal([]query.DegreeCountDTO{{Degree: 1, Count: 1}}, dto.Belts[1].Degrees)

	empty, err := h.Handle(s.ctx, query.GetAcademyStatsQuery{AcademyID: "a-9"})
	s.Require().NoError(err)
	s.Zero(empty.Active)
	s.Empty(empty.Belts)

	_, err = h.Handle(s.ctx, query.GetAcademyStatsQuery{})
	s.True(shared.IsValidation(err))
}
