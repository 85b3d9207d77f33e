package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION REQUEST REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const requestColumns = `
	id::text, practitioner_id, academy_id, kind, target_belt, target_degree, status,
	requested_by, note, created_at, decided_at, COALESCE(decided_by, ''), decision_note`

// RequestRepository implements progression.RequestRepository for PostgreSQL.
// The partial unique index uq_promotion_requests_pending enforces one PENDING
// request per practitioner.
type RequestRepository struct {
	q Querier
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(conn *Connection) *RequestRepository {
	return &RequestRepository{q: conn}
}

// Create inserts a request.
func (r *RequestRepository) Create(ctx context.Context, req *progression.PromotionRequest) error {
	query := `
		INSERT INTO promotion_requests (
			id, practitioner_id, academy_id, kind, target_belt, target_degree, status,
			requested_by, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		req.ID,
		req.PractitionerID,
		req.AcademyID,
		string(req.Kind),
		req.TargetBelt,
		req.TargetDegree,
		string(req.Status),
		req.RequestedBy,
		req.Note,
		req.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyPending.WithMessage(
				fmt.Sprintf("a request is already pending for %s", req.PractitionerID))
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", req.PractitionerID))
		}
		return fmt.Errorf("failed to create promotion request: %w", err)
	}

	return nil
}

// GetByID returns a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*progression.PromotionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM promotion_requests WHERE id::text = $1`

	req, err := scanRequest(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRequestNotFound.WithMessage(fmt.Sprintf("request %s not found", id))
		}
		return nil, fmt.Errorf("failed to get promotion request: %w", err)
	}
	return req, nil
}

// FindPending returns the PENDING request of a practitioner, or nil.
func (r *RequestRepository) FindPending(ctx context.Context, practitionerID string) (*progression.PromotionRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM promotion_requests
		WHERE practitioner_id = $1 AND status = 'PENDING'
	`

	req, err := scanRequest(r.q.QueryRow(ctx, query, practitionerID))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	return req, nil
}

// Update records a decision on a PENDING request.
func (r *RequestRepository) Update(ctx context.Context, req *progression.PromotionRequest) error {
	query := `
		UPDATE promotion_requests SET
			status = $1,
			decided_at = $2,
			decided_by = $3,
			decision_note = $4
		WHERE id::text = $5 AND status = 'PENDING'
	`

	result, err := r.q.Exec(ctx, query,
		string(req.Status),
		nullableTime(req.DecidedAt),
		nullableString(req.DecidedBy),
		req.DecisionNote,
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update promotion request: %w", err)
	}

	if result.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		return shared.ErrRequestDecided.WithMessage(fmt.Sprintf("request %s is already %s", req.ID, current.Status))
	}
	return nil
}

// List returns requests matching the filter, oldest first.
func (r *RequestRepository) List(ctx context.Context, filter progression.RequestFilter) ([]*progression.PromotionRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.PractitionerID != "" {
		add("practitioner_id = $%d", filter.PractitionerID)
	}
	if filter.AcademyID != "" {
		add("academy_id = $%d", filter.AcademyID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + requestColumns + ` FROM promotion_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotion requests: %w", err)
	}
	defer rows.Close()

	var out []*progression.PromotionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*progression.PromotionRequest, error) {
	var (
		req       progression.PromotionRequest
		kind      string
		status    string
		decidedAt *time.Time
	)

	err := row.Scan(
		&req.ID,
		&req.PractitionerID,
		&req.AcademyID,
		&kind,
		&req.TargetBelt,
		&req.TargetDegree,
		&status,
		&req.RequestedBy,
		&req.Note,
		&req.CreatedAt,
		&decidedAt,
		&req.DecidedBy,
		&req.DecisionNote,
	)
	if err != nil {
		return nil, err
	}

	req.Kind = progression.Kind(kind)
	req.Status = progression.RequestStatus(status)
	if decidedAt != nil {
		req.DecidedAt = *decidedAt
	}
	return &req, nil
}
