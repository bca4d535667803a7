package cadence

import "time"

// Clock provides the current time. Pure functions in this module take "now"
// as a parameter; only entry points (handlers, scheduler) read a Clock.
type Clock interface {
	Now() time.Time
}

// RealClock returns the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always returns T. Use in tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
