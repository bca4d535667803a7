package cadence

import "time"

// =============================================================================
// LOCATION SCHEDULE - Program cycles and weeks
// =============================================================================

// LocationSchedule is the part of a location's profile that numbers weeks.
// A program runs in cycles of CycleLengthWeeks weeks starting at the week
// containing ProgramStart.
type LocationSchedule struct {
	Location         *time.Location
	ProgramStart     time.Time
	CycleLengthWeeks int
}

// WeekContext identifies one week of a location's program. Cycle and Week
// are 1-based.
type WeekContext struct {
	Cycle  int
	Week   int
	WeekOf string // local Monday, YYYY-MM-DD
}

// WeekContextAt returns the cycle/week containing at. ok is false when at
// is before the program started or the cycle length is not configured.
func (s LocationSchedule) WeekContextAt(at time.Time) (WeekContext, bool) {
	if s.CycleLengthWeeks < 1 || s.ProgramStart.IsZero() {
		return WeekContext{}, false
	}
	loc := orUTC(s.Location)
	startMonday := ResolveMonday(s.ProgramStart, loc)
	monday := ResolveMonday(at, loc)
	if monday.Before(startMonday) {
		return WeekContext{}, false
	}

	weeks := WeeksBetweenDates(startMonday, monday, loc)
	return WeekContext{
		Cycle:  weeks/s.CycleLengthWeeks + 1,
		Week:   weeks%s.CycleLengthWeeks + 1,
		WeekOf: LocalDate(monday, loc),
	}, true
}

// MondayOf returns the local Monday anchor of a given cycle/week, the
// inverse of WeekContextAt.
func (s LocationSchedule) MondayOf(cycle, week int) (time.Time, bool) {
	if s.CycleLengthWeeks < 1 || s.ProgramStart.IsZero() || cycle < 1 || week < 1 || week > s.CycleLengthWeeks {
		return time.Time{}, false
	}
	loc := orUTC(s.Location)
	start := ResolveMonday(s.ProgramStart, loc)
	n := (cycle-1)*s.CycleLengthWeeks + (week - 1)
	return AddWeeks(start, n, loc).UTC(), true
}
