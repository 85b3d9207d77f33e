package postgres

import (
	"context"
	"fmt"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// ThresholdRepository stores per-academy requirement overrides.
type ThresholdRepository struct {
	conn *Connection
}

var _ progression.ThresholdSource = (*ThresholdRepository)(nil)

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(conn *Connection) *ThresholdRepository {
	return &ThresholdRepository{conn: conn}
}

// AcademyRequirements returns the overrides of an academy keyed by belt code.
func (r *ThresholdRepository) AcademyRequirements(ctx context.Context, academyID string) (map[string]belt.Requirements, error) {
	query := `
		SELECT belt_code, classes_per_degree, classes_for_promotion, min_months_per_degree,
		       min_months_in_belt, degree_by_time, months_per_degree
		FROM academy_thresholds
		WHERE academy_id = $1
	`

	rows, err := r.conn.Query(ctx, query, academyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query academy thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[string]belt.Requirements)
	for rows.Next() {
		var (
			code string
			req  belt.Requirements
		)
		if err := rows.Scan(&code, &req.ClassesPerDegree, &req.ClassesForPromotion, &req.MinMonthsPerDegree,
			&req.MinMonthsInBelt, &req.DegreeByTime, &req.MonthsPerDegree); err != nil {
			return nil, fmt.Errorf("failed to scan academy threshold: %w", err)
		}
		out[code] = req
	}
	return out, rows.Err()
}

// SetAcademyRequirements upserts the override of one belt for an academy.
func (r *ThresholdRepository) SetAcademyRequirements(ctx context.Context, academyID, beltCode string, req belt.Requirements) error {
	query := `
		INSERT INTO academy_thresholds (
			academy_id, belt_code, classes_per_degree, classes_for_promotion,
			min_months_per_degree, min_months_in_belt, degree_by_time, months_per_degree, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (academy_id, belt_code) DO UPDATE SET
			classes_per_degree = EXCLUDED.classes_per_degree,
			classes_for_promotion = EXCLUDED.classes_for_promotion,
			min_months_per_degree = EXCLUDED.min_months_per_degree,
			min_months_in_belt = EXCLUDED.min_months_in_belt,
			degree_by_time = EXCLUDED.degree_by_time,
			months_per_degree = EXCLUDED.months_per_degree,
			updated_at = NOW()
	`

	_, err := r.conn.Exec(ctx, query,
		academyID, beltCode,
		req.ClassesPerDegree, req.ClassesForPromotion,
		req.MinMonthsPerDegree, req.MinMonthsInBelt,
		req.DegreeByTime, req.MonthsPerDegree,
	)
	if err != nil {
		return fmt.Errorf("failed to set academy threshold: %w", err)
	}
	return nil
}
