package cadence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidOffsets is returned when a PolicyOffsets set is out of range
	// or not monotonic. It is a configuration error: reject at load time.
	ErrInvalidOffsets = errors.New("invalid policy offsets")

	// ErrInvalidClock is returned when a local time-of-day cannot be parsed.
	ErrInvalidClock = errors.New("invalid time of day")

	// ErrInvalidDate is returned when a YYYY-MM-DD date cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrUnknownTimezone is returned for an empty or unknown IANA zone.
	ErrUnknownTimezone = errors.New("unknown timezone")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// OffsetError names the checkpoint that made an offset set invalid.
type OffsetError struct {
	Checkpoint string
	Reason     string
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("invalid policy offsets: %s: %s", e.Checkpoint, e.Reason)
}

func (e *OffsetError) Unwrap() error {
	return ErrInvalidOffsets
}

// IsConfigError returns true if err comes from bad offset or zone configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidOffsets) ||
		errors.Is(err, ErrInvalidClock) ||
		errors.Is(err, ErrUnknownTimezone)
}
