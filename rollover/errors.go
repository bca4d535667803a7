package rollover

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrStore marks a failed read or write against a collaborator store.
	// The whole rollover is safe to retry on the next trigger.
	ErrStore = errors.New("rollover store failure")

	// ErrStaffNotFound is returned by lookups that require the staff member
	// to exist. Run itself treats a missing staff member as a no-op.
	ErrStaffNotFound = errors.New("staff not found")

	// ErrLocationNotFound is the location counterpart of ErrStaffNotFound.
	ErrLocationNotFound = errors.New("location not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StoreError wraps a collaborator failure with the step that issued it.
type StoreError struct {
	Op      string
	StaffID string
	Err     error
}

func (e *StoreError) Error() string {
	if e.StaffID != "" {
		return fmt.Sprintf("rollover %s for staff %s: %v", e.Op, e.StaffID, e.Err)
	}
	return fmt.Sprintf("rollover %s: %v", e.Op, e.Err)
}

// Is lets errors.Is(err, ErrStore) match any StoreError.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the rollover might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsNotFound returns true if the error indicates a missing staff member or
// location.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStaffNotFound) || errors.Is(err, ErrLocationNotFound)
}
