// Package timeutil provides calendar arithmetic used by progression rules:
// ages, whole months between dates and day boundaries in the academy timezone.
package timeutil

import (
	"time"
)

// Clock abstracts the current time so rules can be evaluated deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall-clock time in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// Now implements Clock.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns the same instant. Useful in tests.
type FixedClock struct {
	T time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time {
	return c.T
}

// Date creates a UTC midnight time with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the start of the day for the given time.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of the day for the given time.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}

// StartOfMonth returns the first day of the month for the given time.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// IsSameDay reports whether both times fall on the same calendar day in t1's location.
func IsSameDay(t1, t2 time.Time) bool {
	t2 = t2.In(t1.Location())
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// DaysBetween returns the number of whole calendar days between two dates.
func DaysBetween(from, to time.Time) int {
	if to.Before(from) {
		return -DaysBetween(to, from)
	}
	return int(StartOfDay(to.In(from.Location())).Sub(StartOfDay(from)).Hours() / 24)
}

// ══════════════════════════════════════════════════════════════════════════════
// MONTHS AND AGES
// ══════════════════════════════════════════════════════════════════════════════

// MonthsBetween returns the number of whole calendar months from `from` to `to`.
// The month difference is reduced by one when the day of month of `to` has not yet
// reached the day of month of `from`. Never negative.
func MonthsBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	to = to.In(from.Location())

	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()

	months := (ty-fy)*12 + int(tm-fm)
	if td < fd {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// AddMonths adds calendar months to t, clamping to the last day of the target month.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// AgeByCalendarYear returns the difference between the calendar years of birth and on,
// ignoring whether the birthday has already passed this year.
func AgeByCalendarYear(birth, on time.Time) int {
	if birth.IsZero() {
		return 0
	}
	age := on.Year() - birth.Year()
	if age < 0 {
		return 0
	}
	return age
}

// AgeByBirthday returns the exact age in full years on the given date.
func AgeByBirthday(birth, on time.Time) int {
	if birth.IsZero() {
		return 0
	}
	on = on.In(birth.Location())
	age := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
