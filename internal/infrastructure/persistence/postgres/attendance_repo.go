package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceRepository implements progression.AttendanceLedger and
// progression.AttendanceRecorder on the attendance_records table.
type AttendanceRepository struct {
	conn *Connection
}

var (
	_ progression.AttendanceLedger   = (*AttendanceRepository)(nil)
	_ progression.AttendanceRecorder = (*AttendanceRepository)(nil)
)

// NewAttendanceRepository creates a new AttendanceRepository.
func NewAttendanceRepository(conn *Connection) *AttendanceRepository {
	return &AttendanceRepository{conn: conn}
}

// RecordAttendance inserts a class. A second class on the same day is ignored.
func (r *AttendanceRepository) RecordAttendance(ctx context.Context, entry progression.AttendanceEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO attendance_records (id, practitioner_id, attended_at, attended_on, class_id, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (practitioner_id, attended_on) DO NOTHING
	`

	result, err := r.conn.Exec(ctx, query,
		entry.ID,
		entry.PractitionerID,
		entry.AttendedAt,
		entry.AttendedAt.Format("2006-01-02"),
		entry.ClassID,
		entry.RecordedBy,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record attendance: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ClassesSince counts classes attended strictly after since.
func (r *AttendanceRepository) ClassesSince(ctx context.Context, practitionerID string, since time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM attendance_records WHERE practitioner_id = $1 AND attended_at > $2",
		practitionerID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attendance: %w", err)
	}
	return n, nil
}

// LastAttendance returns the most recent class, or the zero time.
func (r *AttendanceRepository) LastAttendance(ctx context.Context, practitionerID string) (time.Time, error) {
	var last *time.Time
	err := r.conn.QueryRow(ctx,
		"SELECT MAX(attended_at) FROM attendance_records WHERE practitioner_id = $1",
		practitionerID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last attendance: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}
