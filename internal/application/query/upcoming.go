package query

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST UPCOMING PROMOTIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultUpcomingLimit       = 50
	maxUpcomingLimit           = 500
	defaultUpcomingConcurrency = 8
	upcomingPageSize           = 200
)

// ListUpcomingQuery lists the active practitioners of an academy closest to
// their next promotion.
type ListUpcomingQuery struct {
	AcademyID string
	Limit     int

	// EligibleOnly drops practitioners who are not eligible yet.
	EligibleOnly bool
}

// Validate validates the query.
func (q ListUpcomingQuery) Validate() error {
	if strings.TrimSpace(q.AcademyID) == "" {
		return errors.New("academy_id is required")
	}
	if q.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

// UpcomingDTO is one row of the upcoming listing.
type UpcomingDTO struct {
	PractitionerID string              `json:"practitioner_id"`
	Belt           string              `json:"belt"`
	Degree         int                 `json:"degree"`
	Outcome        progression.Outcome `json:"outcome"`
	Reason         string              `json:"reason,omitempty"`
	Target         string              `json:"target,omitempty"`
	ClassesMissing int                 `json:"classes_missing"`
	MonthsMissing  int                 `json:"months_missing"`
	Progress       float64             `json:"progress"`
	ReadyForDegree bool                `json:"ready_for_degree"`
	ReadyForBelt   bool                `json:"ready_for_belt"`
}

// Evaluator returns the current assessment of a practitioner.
type Evaluator interface {
	Evaluate(ctx context.Context, practitionerID string) (progression.Assessment, error)
}

// ListUpcomingHandler handles the ListUpcomingQuery.
type ListUpcomingHandler struct {
	practitioners progression.PractitionerRepository
	evaluator     Evaluator
	concurrency   int
}

// NewListUpcomingHandler creates a new handler. concurrency bounds the
// number of evaluations in flight.
func NewListUpcomingHandler(practitioners progression.PractitionerRepository, evaluator Evaluator, concurrency int) *ListUpcomingHandler {
	if concurrency <= 0 {
		concurrency = defaultUpcomingConcurrency
	}
	return &ListUpcomingHandler{practitioners: practitioners, evaluator: evaluator, concurrency: concurrency}
}

// Handle returns eligible practitioners first, then the rest by progress.
func (h *ListUpcomingHandler) Handle(ctx context.Context, q ListUpcomingQuery) ([]UpcomingDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "ListUpcoming", shared.ErrValidation, err.Error(), nil)
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultUpcomingLimit
	}
	if limit > maxUpcomingLimit {
		limit = maxUpcomingLimit
	}

	var rows []UpcomingDTO
	opts := progression.DefaultListOptions().WithAcademy(q.AcademyID).WithLimit(upcomingPageSize)
	for {
		page, err := h.practitioners.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		evaluated, err := h.evaluatePage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, row := range evaluated {
			if row == nil || (q.EligibleOnly && !row.ReadyForDegree && !row.ReadyForBelt) {
				continue
			}
			rows = append(rows, *row)
		}

		if len(page) < opts.Limit {
			break
		}
		opts.AfterID = page[len(page)-1].ID
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ei := rows[i].ReadyForDegree || rows[i].ReadyForBelt
		ej := rows[j].ReadyForDegree || rows[j].ReadyForBelt
		if ei != ej {
			return ei
		}
		if rows[i].Progress != rows[j].Progress {
			return rows[i].Progress > rows[j].Progress
		}
		return rows[i].PractitionerID < rows[j].PractitionerID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (h *ListUpcomingHandler) evaluatePage(ctx context.Context, page []*progression.Practitioner) ([]*UpcomingDTO, error) {
	out := make([]*UpcomingDTO, len(page))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for i, p := range page {
		g.Go(func() error {
			a, err := h.evaluator.Evaluate(gctx, p.ID)
			if err != nil {
				// A practitioner removed from the directory is skipped.
				if shared.IsNotFound(err) {
					logger.FromContext(ctx).Warn("upcoming: practitioner skipped", logger.PractitionerID(p.ID), logger.Err(err))
					return nil
				}
				return err
			}
			row := toUpcoming(a)
			out[i] = &row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func toUpcoming(a progression.Assessment) UpcomingDTO {
	row := UpcomingDTO{
		PractitionerID: a.PractitionerID,
		Belt:           a.CurrentBelt,
		Degree:         a.CurrentDegree,
		Outcome:        a.Outcome,
		Reason:         a.Reason,
		Target:         a.Target(),
		ClassesMissing: max(a.ClassesRequired-a.ClassesAttended, 0),
		MonthsMissing:  max(a.MonthsRequired-a.MonthsElapsed, 0),
		Progress:       a.Progress(),
		ReadyForDegree: a.Outcome == progression.EligibleForDegree,
		ReadyForBelt:   a.Outcome == progression.EligibleForBelt,
	}
	return row
}
