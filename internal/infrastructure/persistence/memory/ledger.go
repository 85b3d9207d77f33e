package memory

import (
	"context"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

var (
	_ progression.AttendanceLedger   = (*Store)(nil)
	_ progression.AttendanceRecorder = (*Store)(nil)
	_ progression.ThresholdSource    = (*Store)(nil)
)

// RecordAttendance adds a class to the ledger, once per practitioner and day.
func (s *Store) RecordAttendance(ctx context.Context, entry progression.AttendanceEntry) (bool, error) {
	recorded := false
	err := storeView{s}.write(ctx, func(st *state) error {
		for _, e := range st.attendance[entry.PractitionerID] {
			if timeutil.IsSameDay(e.AttendedAt, entry.AttendedAt) {
				return nil
			}
		}
		st.attendance[entry.PractitionerID] = append(st.attendance[entry.PractitionerID], entry)
		recorded = true
		return nil
	})
	return recorded, err
}

// ClassesSince implements progression.AttendanceLedger.
func (s *Store) ClassesSince(ctx context.Context, practitionerID string, since time.Time) (int, error) {
	n := 0
	err := storeView{s}.read(ctx, func(st *state) error {
		for _, e := range st.attendance[practitionerID] {
			if e.AttendedAt.After(since) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// LastAttendance implements progression.AttendanceLedger.
func (s *Store) LastAttendance(ctx context.Context, practitionerID string) (time.Time, error) {
	var last time.Time
	err := storeView{s}.read(ctx, func(st *state) error {
		for _, e := range st.attendance[practitionerID] {
			if e.AttendedAt.After(last) {
				last = e.AttendedAt
			}
		}
		return nil
	})
	return last, err
}
