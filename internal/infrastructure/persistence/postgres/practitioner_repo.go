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
// PRACTITIONER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const practitionerColumns = `
	practitioner_id, academy_id, date_of_birth, active, belt_code, degree,
	belt_since, last_degree_at, enrolled_belt, enrolled_at, version, updated_at`

// PractitionerRepository implements progression.PractitionerRepository for PostgreSQL.
type PractitionerRepository struct {
	q Querier

	// Lock the row on read; set inside a unit of work.
	forUpdate bool
}

// NewPractitionerRepository creates a new PractitionerRepository.
func NewPractitionerRepository(conn *Connection) *PractitionerRepository {
	return &PractitionerRepository{q: conn}
}

// Create inserts progression state for a new practitioner.
func (r *PractitionerRepository) Create(ctx context.Context, p *progression.Practitioner) error {
	query := `
		INSERT INTO practitioner_progression (` + practitionerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.AcademyID,
		nullableDate(p.DateOfBirth),
		p.Active,
		p.BeltCode,
		p.Degree,
		p.BeltSince,
		nullableTime(p.LastDegreeAt),
		p.EnrolledBelt,
		p.EnrolledAt,
		p.Version,
		updatedAt(p.UpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyEnrolled.WithMessage(fmt.Sprintf("practitioner %s already enrolled", p.ID))
		}
		return fmt.Errorf("failed to create practitioner progression: %w", err)
	}

	return nil
}

// GetByID returns the progression state of a practitioner.
func (r *PractitionerRepository) GetByID(ctx context.Context, id string) (*progression.Practitioner, error) {
	query := `SELECT ` + practitionerColumns + ` FROM practitioner_progression WHERE practitioner_id = $1`
	if r.forUpdate {
		query += " FOR UPDATE"
	}

	p, err := scanPractitioner(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", id))
		}
		return nil, fmt.Errorf("failed to get practitioner progression: %w", err)
	}
	return p, nil
}

// Update writes p when the stored version equals expectedVersion.
func (r *PractitionerRepository) Update(ctx context.Context, p *progression.Practitioner, expectedVersion int64) error {
	query := `
		UPDATE practitioner_progression SET
			academy_id = $1,
			date_of_birth = $2,
			active = $3,
			belt_code = $4,
			degree = $5,
			belt_since = $6,
			last_degree_at = $7,
			version = $8,
			updated_at = $9
		WHERE practitioner_id = $10 AND version = $11
	`

	result, err := r.q.Exec(ctx, query,
		p.AcademyID,
		nullableDate(p.DateOfBirth),
		p.Active,
		p.BeltCode,
		p.Degree,
		p.BeltSince,
		nullableTime(p.LastDegreeAt),
		p.Version,
		updatedAt(p.UpdatedAt),
		p.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update practitioner progression: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM practitioner_progression WHERE practitioner_id = $1)", p.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check practitioner progression: %w", err)
		}
		if !exists {
			return shared.ErrPractitionerNotFound.WithMessage(fmt.Sprintf("practitioner %s not found", p.ID))
		}
		return shared.WrapError("postgres", "UpdatePractitioner", shared.ErrConcurrentModification,
			fmt.Sprintf("practitioner %s changed since version %d", p.ID, expectedVersion), nil)
	}

	return nil
}

// List returns practitioners ordered by ID using a keyset cursor.
func (r *PractitionerRepository) List(ctx context.Context, opts progression.ListOptions) ([]*progression.Practitioner, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if opts.AcademyID != "" {
		add("academy_id = $%d", opts.AcademyID)
	}
	if opts.AfterID != "" {
		add("practitioner_id > $%d", opts.AfterID)
	}
	if !opts.IncludeInactive {
		where = append(where, "active")
	}

	query := `SELECT ` + practitionerColumns + ` FROM practitioner_progression`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY practitioner_id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list practitioners: %w", err)
	}
	defer rows.Close()

	var out []*progression.Practitioner
	for rows.Next() {
		p, err := scanPractitioner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan practitioner: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanPractitioner(row pgx.Row) (*progression.Practitioner, error) {
	var (
		p            progression.Practitioner
		dob          *time.Time
		lastDegreeAt *time.Time
	)

	err := row.Scan(
		&p.ID,
		&p.AcademyID,
		&dob,
		&p.Active,
		&p.BeltCode,
		&p.Degree,
		&p.BeltSince,
		&lastDegreeAt,
		&p.EnrolledBelt,
		&p.EnrolledAt,
		&p.Version,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dob != nil {
		p.DateOfBirth = *dob
	}
	if lastDegreeAt != nil {
		p.LastDegreeAt = *lastDegreeAt
	}
	return &p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableDate(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
