package postgres

import (
	"context"
	"fmt"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// StatsRepository aggregates academy statistics.
type StatsRepository struct {
	conn *Connection
}

var _ progression.StatsReader = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

// AcademyStats counts active practitioners per belt and degree, inactive
// practitioners, and promotion requests per status.
func (r *StatsRepository) AcademyStats(ctx context.Context, academyID string) (progression.AcademyStats, error) {
	out := progression.AcademyStats{
		AcademyID: academyID,
		Requests:  make(map[progression.RequestStatus]int),
	}

	rankQuery := `
		SELECT belt_code, degree, COUNT(*)
		FROM practitioner_progression
		WHERE academy_id = $1 AND active
		GROUP BY belt_code, degree
		ORDER BY belt_code, degree
	`
	rows, err := r.conn.Query(ctx, rankQuery, academyID)
	if err != nil {
		return out, fmt.Errorf("failed to query rank counts: %w", err)
	}
	for rows.Next() {
		var rc progression.RankCount
		if err := rows.Scan(&rc.BeltCode, &rc.Degree, &rc.Count); err != nil {
			rows.Close()
			return out, fmt.Errorf("failed to scan rank count: %w", err)
		}
		out.Active += rc.Count
		out.Ranks = append(out.Ranks, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to read rank counts: %w", err)
	}

	inactiveQuery := `SELECT COUNT(*) FROM practitioner_progression WHERE academy_id = $1 AND NOT active`
	if err := r.conn.QueryRow(ctx, inactiveQuery, academyID).Scan(&out.Inactive); err != nil {
		return out, fmt.Errorf("failed to count inactive practitioners: %w", err)
	}

	requestQuery := `
		SELECT status, COUNT(*)
		FROM promotion_requests
		WHERE academy_id = $1
		GROUP BY status
	`
	rows, err = r.conn.Query(ctx, requestQuery, academyID)
	if err != nil {
		return out, fmt.Errorf("failed to query request counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return out, fmt.Errorf("failed to scan request count: %w", err)
		}
		out.Requests[progression.RequestStatus(status)] = n
	}
	return out, rows.Err()
}
