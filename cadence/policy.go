package cadence

import "time"

// =============================================================================
// SUBMISSION POLICY - One week's checkpoints as absolute instants
// =============================================================================

// SubmissionPolicy is the weekly cycle for one location and week, resolved
// to UTC instants. It is derived on every evaluation and never persisted.
//
// Due and late are the same instant: there is no grace period.
type SubmissionPolicy struct {
	Location *time.Location

	MondayZ        time.Time
	CheckinOpen    time.Time
	CheckinVisible time.Time
	ConfidenceDue  time.Time
	CheckoutOpen   time.Time
	PerformanceDue time.Time
	WeekEnd        time.Time
}

// Gate predicates. Every "can I submit now" / "is this late" decision goes
// through these rather than comparing instants ad hoc.

func (p SubmissionPolicy) IsConfidenceVisible(now time.Time) bool { return !now.Before(p.CheckinVisible) }
func (p SubmissionPolicy) IsConfidenceOpen(now time.Time) bool    { return !now.Before(p.CheckinOpen) }
func (p SubmissionPolicy) IsConfidenceLate(now time.Time) bool    { return !now.Before(p.ConfidenceDue) }
func (p SubmissionPolicy) IsPerformanceOpen(now time.Time) bool   { return !now.Before(p.CheckoutOpen) }
func (p SubmissionPolicy) IsPerformanceLate(now time.Time) bool   { return !now.Before(p.PerformanceDue) }
func (p SubmissionPolicy) IsWeekClosed(now time.Time) bool        { return !now.Before(p.WeekEnd) }

// WeekOf is the local Monday date of this policy's week.
func (p SubmissionPolicy) WeekOf() string {
	return LocalDate(p.MondayZ, p.Location)
}

// Instants returns the checkpoints in weekly order, keyed by name.
func (p SubmissionPolicy) Instants() []NamedInstant {
	return []NamedInstant{
		{CheckpointCheckinOpen, p.CheckinOpen},
		{CheckpointCheckinVisible, p.CheckinVisible},
		{CheckpointConfidenceDue, p.ConfidenceDue},
		{CheckpointCheckoutOpen, p.CheckoutOpen},
		{CheckpointPerformanceDue, p.PerformanceDue},
		{CheckpointWeekEnd, p.WeekEnd},
	}
}

// NamedInstant pairs a checkpoint name with its resolved instant.
type NamedInstant struct {
	Name string
	At   time.Time
}

// IsLateSubmission reports whether a submission made at submittedAt missed due.
func IsLateSubmission(submittedAt, due time.Time) bool {
	return submittedAt.After(due)
}

// IsMissingSubmission reports whether an obligation due at due has passed
// with nothing submitted. A late submission is never missing.
func IsMissingSubmission(now, due time.Time, submittedAt *time.Time) bool {
	return submittedAt == nil && now.After(due)
}

// =============================================================================
// POLICY ENGINE
// =============================================================================

// Engine resolves policies from a validated offset table.
type Engine struct {
	offsets PolicyOffsets
}

// NewEngine validates offsets once; PolicyFor can then never fail.
func NewEngine(offsets PolicyOffsets) (*Engine, error) {
	if err := offsets.Validate(); err != nil {
		return nil, err
	}
	return &Engine{offsets: offsets}, nil
}

// DefaultEngine uses DefaultOffsets.
func DefaultEngine() *Engine {
	return &Engine{offsets: DefaultOffsets()}
}

// Offsets returns the engine's offset table.
func (e *Engine) Offsets() PolicyOffsets { return e.offsets }

// PolicyFor resolves the week containing now in loc.
func (e *Engine) PolicyFor(now time.Time, loc *time.Location) SubmissionPolicy {
	return resolvePolicy(now, loc, e.offsets)
}

// GetSubmissionPolicy validates offsets and resolves the week containing now.
func GetSubmissionPolicy(now time.Time, loc *time.Location, offsets PolicyOffsets) (SubmissionPolicy, error) {
	if err := offsets.Validate(); err != nil {
		return SubmissionPolicy{}, err
	}
	return resolvePolicy(now, loc, offsets), nil
}

func resolvePolicy(now time.Time, loc *time.Location, o PolicyOffsets) SubmissionPolicy {
	loc = orUTC(loc)
	monday := ResolveMonday(now, loc)
	return SubmissionPolicy{
		Location:       loc,
		MondayZ:        monday,
		CheckinOpen:    ResolveOffset(monday, o.CheckinOpen, loc),
		CheckinVisible: ResolveOffset(monday, o.CheckinVisible, loc),
		ConfidenceDue:  ResolveOffset(monday, o.ConfidenceDue, loc),
		CheckoutOpen:   ResolveOffset(monday, o.CheckoutOpen, loc),
		PerformanceDue: ResolveOffset(monday, o.PerformanceDue, loc),
		WeekEnd:        ResolveOffset(monday, o.WeekEnd, loc),
	}
}

// ResolveOffset returns the instant DayOffset local days after mondayZ at
// the offset's local time of day, in UTC.
func ResolveOffset(mondayZ time.Time, offset PolicyOffset, loc *time.Location) time.Time {
	loc = orUTC(loc)
	m := mondayZ.In(loc)
	c := offset.Time
	return time.Date(m.Year(), m.Month(), m.Day()+offset.DayOffset, c.Hour, c.Minute, c.Second, 0, loc).UTC()
}
