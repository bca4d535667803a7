package cadence

import (
	"fmt"
	"strings"
)

// =============================================================================
// TIME OF DAY - Local wall-clock time
// =============================================================================

// TimeOfDay is a local wall-clock time of day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM:SS" (or "HH:MM").
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var c TimeOfDay
	s = strings.TrimSpace(s)
	var n int
	var err error
	switch strings.Count(s, ":") {
	case 2:
		n, err = fmt.Sscanf(s, "%d:%d:%d", &c.Hour, &c.Minute, &c.Second)
		if err == nil && n != 3 {
			err = fmt.Errorf("expected HH:MM:SS")
		}
	case 1:
		n, err = fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute)
		if err == nil && n != 2 {
			err = fmt.Errorf("expected HH:MM")
		}
	default:
		err = fmt.Errorf("expected HH:MM:SS")
	}
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if !c.valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q out of range", ErrInvalidClock, s)
	}
	return c, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals known to be valid.
func MustTimeOfDay(s string) TimeOfDay {
	c, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c TimeOfDay) valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 &&
		c.Minute >= 0 && c.Minute <= 59 &&
		c.Second >= 0 && c.Second <= 59
}

func (c TimeOfDay) seconds() int { return c.Hour*3600 + c.Minute*60 + c.Second }

func (c TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// =============================================================================
// POLICY OFFSETS - Named checkpoints relative to the Monday anchor
// =============================================================================

// PolicyOffset places a checkpoint DayOffset days after Monday (0=Monday,
// 6=Sunday) at local time Time.
type PolicyOffset struct {
	DayOffset int
	Time      TimeOfDay
}

// weekSeconds orders offsets within a week independent of any zone.
func (o PolicyOffset) weekSeconds() int { return o.DayOffset*86400 + o.Time.seconds() }

// Checkpoint names, in the order they must occur within a week.
const (
	CheckpointCheckinOpen    = "checkin_open"
	CheckpointCheckinVisible = "checkin_visible"
	CheckpointConfidenceDue  = "confidence_due"
	CheckpointCheckoutOpen   = "checkout_open"
	CheckpointPerformanceDue = "performance_due"
	CheckpointWeekEnd        = "week_end"
)

// PolicyOffsets is the full weekly checkpoint table. It is a plain value:
// pass it to the engine rather than reading a global so per-location tables
// need no API change.
type PolicyOffsets struct {
	CheckinOpen    PolicyOffset
	CheckinVisible PolicyOffset
	ConfidenceDue  PolicyOffset
	CheckoutOpen   PolicyOffset
	PerformanceDue PolicyOffset
	WeekEnd        PolicyOffset
}

// DefaultOffsets returns the standard weekly table.
//
//	checkin_open     Mon 00:00:00
//	checkin_visible  Mon 09:00:00
//	confidence_due   Tue 14:00:00
//	checkout_open    Thu 00:01:00
//	performance_due  Fri 17:00:00
//	week_end         Sun 23:59:59
func DefaultOffsets() PolicyOffsets {
	return PolicyOffsets{
		CheckinOpen:    PolicyOffset{DayOffset: 0, Time: TimeOfDay{0, 0, 0}},
		CheckinVisible: PolicyOffset{DayOffset: 0, Time: TimeOfDay{9, 0, 0}},
		ConfidenceDue:  PolicyOffset{DayOffset: 1, Time: TimeOfDay{14, 0, 0}},
		CheckoutOpen:   PolicyOffset{DayOffset: 3, Time: TimeOfDay{0, 1, 0}},
		PerformanceDue: PolicyOffset{DayOffset: 4, Time: TimeOfDay{17, 0, 0}},
		WeekEnd:        PolicyOffset{DayOffset: 6, Time: TimeOfDay{23, 59, 59}},
	}
}

// NamedOffset pairs a checkpoint name with its offset.
type NamedOffset struct {
	Name   string
	Offset PolicyOffset
}

// Checkpoints returns the six checkpoints in weekly order.
func (p PolicyOffsets) Checkpoints() []NamedOffset {
	return []NamedOffset{
		{CheckpointCheckinOpen, p.CheckinOpen},
		{CheckpointCheckinVisible, p.CheckinVisible},
		{CheckpointConfidenceDue, p.ConfidenceDue},
		{CheckpointCheckoutOpen, p.CheckoutOpen},
		{CheckpointPerformanceDue, p.PerformanceDue},
		{CheckpointWeekEnd, p.WeekEnd},
	}
}

// Validate checks ranges and that checkpoints never go backwards.
// Equal consecutive checkpoints are allowed.
func (p PolicyOffsets) Validate() error {
	cps := p.Checkpoints()
	for i, cp := range cps {
		if cp.Offset.DayOffset < 0 || cp.Offset.DayOffset > 6 {
			return &OffsetError{Checkpoint: cp.Name, Reason: fmt.Sprintf("day offset %d outside 0..6", cp.Offset.DayOffset)}
		}
		if !cp.Offset.Time.valid() {
			return &OffsetError{Checkpoint: cp.Name, Reason: fmt.Sprintf("time %s out of range", cp.Offset.Time)}
		}
		if i == 0 {
			continue
		}
		prev := cps[i-1]
		if cp.Offset.weekSeconds() < prev.Offset.weekSeconds() {
			return &OffsetError{
				Checkpoint: cp.Name,
				Reason:     fmt.Sprintf("occurs before %s", prev.Name),
			}
		}
	}
	return nil
}
