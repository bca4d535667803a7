/*
Package cadence provides the time-anchored weekly cycle used by check-ins.

PURPOSE:
  Every staff member works through the same weekly rhythm: confidence
  check-in early in the week, performance check-out late in the week.
  The rhythm is defined in LOCAL time of the staff member's location,
  but all persisted and compared instants are absolute (UTC).

KEY CONCEPTS:
  - Monday anchor:  Monday 00:00:00 local of the week containing "now"
  - PolicyOffsets:  six named checkpoints relative to the Monday anchor
  - SubmissionPolicy: the checkpoints resolved to instants, plus gate
                    predicates evaluated against any "now"
  - WeekContext:    cycle/week numbering of a location's program

DST:
  Weeks are built from calendar days in the location's zone, never from
  fixed 24h/168h offsets. A week containing a DST transition is 167h or
  169h long in absolute terms, and each checkpoint still lands on its
  stated wall-clock time.

PURITY:
  Nothing in this package calls time.Now() or reads time.Local. Callers
  pass "now" explicitly (see clock.go for the injectable Clock).

SEE ALSO:
  - offsets.go: checkpoint table and validation
  - policy.go: SubmissionPolicy and gate predicates
  - week.go: location cycle/week context
*/
package cadence

import (
	"fmt"
	"time"
)

// DateLayout is the layout of local calendar dates (week_of, program start).
const DateLayout = "2006-01-02"

// =============================================================================
// MONDAY ANCHOR
// =============================================================================

// ResolveMonday returns Monday 00:00:00 local time, in loc, of the week
// containing now. The result is an absolute instant expressed in UTC.
func ResolveMonday(now time.Time, loc *time.Location) time.Time {
	loc = orUTC(loc)
	local := now.In(loc)
	back := isoWeekday(local.Weekday()) - 1
	return time.Date(local.Year(), local.Month(), local.Day()-back, 0, 0, 0, 0, loc).UTC()
}

// isoWeekday maps Go's Sunday-first weekday to ISO 1=Monday..7=Sunday.
func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

// AddWeeks returns local midnight of date plus n*7 local calendar days.
func AddWeeks(date time.Time, n int, loc *time.Location) time.Time {
	loc = orUTC(loc)
	local := date.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+7*n, 0, 0, 0, 0, loc)
}

// WeeksBetween returns the whole number of weeks from isoA to isoB, both
// local YYYY-MM-DD dates. Negative spans floor to zero.
func WeeksBetween(isoA, isoB string, loc *time.Location) (int, error) {
	a, err := ParseLocalDate(isoA, loc)
	if err != nil {
		return 0, err
	}
	b, err := ParseLocalDate(isoB, loc)
	if err != nil {
		return 0, err
	}
	return WeeksBetweenDates(a, b, loc), nil
}

// WeeksBetweenDates is WeeksBetween for already-parsed instants. Only the
// local calendar dates of a and b in loc matter.
func WeeksBetweenDates(a, b time.Time, loc *time.Location) int {
	days := calendarDays(a, b, loc)
	if days <= 0 {
		return 0
	}
	return days / 7
}

// calendarDays counts local calendar days from a to b. Both dates are
// re-anchored in UTC so DST hours cannot skew the division.
func calendarDays(a, b time.Time, loc *time.Location) int {
	loc = orUTC(loc)
	la, lb := a.In(loc), b.In(loc)
	da := time.Date(la.Year(), la.Month(), la.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(lb.Year(), lb.Month(), lb.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// =============================================================================
// LOCAL DATES AND ZONES
// =============================================================================

// ParseLocalDate parses a YYYY-MM-DD date as local midnight in loc.
func ParseLocalDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, orUTC(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// LocalDate formats the local calendar date of t in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(DateLayout)
}

// LoadLocation resolves an IANA zone name. The empty name is rejected:
// "Local" would make results depend on the host.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
