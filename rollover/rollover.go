/*
Package rollover carries unfinished weekly work into a durable backlog when
a new week opens.

PURPOSE:
  At the start of each week the previous week's required items are checked.
  A week that was started but not finished has its site-assigned items
  pushed onto the staff member's backlog, and any half-finished score rows
  have their stale confidence cleared so the items come back cleanly.

STATE MACHINE (per staff, previous week):
  before threshold           -> no-op (now < checkin_open + 1 minute)
  no location/week context   -> no-op
  no required assignments    -> no-op (nothing configured)
  perf_count >= required     -> no-op (fully performed)
  conf_count == 0            -> no-op (zero engagement is forgiven)
  otherwise                  -> backlog + clear confidence

IDEMPOTENCE:
  There is no "already rolled over" flag. Re-invocation is safe because the
  time gate is pure and the backlog store deduplicates on (staff, action).
  Concurrent runs for the same staff converge on the same end state.

KEY CONCEPTS:
  - Engine:       stateless procedure over the collaborator interfaces
  - Result:       what one invocation decided and wrote
  - BacklogEntry: a carried-over item, at most one live entry per staff x action

SEE ALSO:
  - engine.go: Run
  - store/memory.go: in-memory collaborator implementation
  - store/sqlite (repo root): durable implementation
  - cadence/policy.go: the time gate
*/
package rollover

import (
	"context"
	"time"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Location is the part of a site profile the engine needs to number weeks.
type Location struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Timezone         string    `json:"timezone"`
	ProgramStartDate time.Time `json:"program_start_date"`
	CycleLengthWeeks int       `json:"cycle_length_weeks"`
}

// Staff is a staff member with their role and primary location.
type Staff struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RoleID     string `json:"role_id"`
	LocationID string `json:"location_id"`
}

// Assignment is one required item ("pro-move") for a role in a given
// cycle/week. SelfSelect items were picked by the staff member and are
// never carried over.
type Assignment struct {
	ID         string `json:"id"`
	ActionID   string `json:"action_id"`
	RoleID     string `json:"role_id"`
	Cycle      int    `json:"cycle"`
	Week       int    `json:"week"`
	SelfSelect bool   `json:"self_select"`
}

// Score is one staff member's ratings for one assignment. Nil fields mean
// not yet submitted.
type Score struct {
	StaffID          string     `json:"staff_id"`
	AssignmentID     string     `json:"assignment_id"`
	ConfidenceScore  *int       `json:"confidence_score"`
	ConfidenceDate   *time.Time `json:"confidence_date"`
	PerformanceScore *int       `json:"performance_score"`
	PerformanceDate  *time.Time `json:"performance_date"`
}

func (s Score) hasConfidence() bool  { return s.ConfidenceScore != nil }
func (s Score) hasPerformance() bool { return s.PerformanceScore != nil }

// ClearConfidence returns a copy with the confidence fields reset and the
// performance fields untouched.
func (s Score) ClearConfidence() Score {
	s.ConfidenceScore = nil
	s.ConfidenceDate = nil
	return s
}

// BacklogEntry is a required item carried over from an earlier week.
type BacklogEntry struct {
	ID          string     `json:"id"`
	StaffID     string     `json:"staff_id"`
	ActionID    string     `json:"action_id"`
	OriginCycle int        `json:"origin_cycle"`
	OriginWeek  int        `json:"origin_week"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Live reports whether the entry is still waiting to be worked.
func (b BacklogEntry) Live() bool { return b.ResolvedAt == nil }

// =============================================================================
// COLLABORATORS
// =============================================================================

// Directory resolves staff and locations. A nil result with a nil error
// means not found.
type Directory interface {
	GetStaff(ctx context.Context, id string) (*Staff, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
}

// AssignmentStore lists the required items of a role for one week.
type AssignmentStore interface {
	RequiredAssignments(ctx context.Context, roleID string, cycle, week int) ([]Assignment, error)
}

// ScoreStore reads and writes score rows.
type ScoreStore interface {
	ScoresFor(ctx context.Context, staffID string, assignmentIDs []string) ([]Score, error)
	UpsertScore(ctx context.Context, s Score) error
}

// BacklogStore adds entries with dedup-on-conflict: if a live entry for
// (staff, action) already exists, or the action was already carried from the
// same origin week (resolved or not), nothing is written and inserted is
// false.
type BacklogStore interface {
	AddBacklog(ctx context.Context, e BacklogEntry) (inserted bool, err error)
}

// RunRecorder persists an audit record of invocations that changed state or
// failed.
type RunRecorder interface {
	SaveRun(ctx context.Context, r Run) error
}

// Store is the full set of collaborators the engine reads and writes.
type Store interface {
	Directory
	AssignmentStore
	ScoreStore
	BacklogStore
}
