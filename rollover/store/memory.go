// Package store provides in-memory rollover collaborators.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/coaching-engine/rollover"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements rollover.Store and rollover.RunRecorder.
type Memory struct {
	mu          sync.RWMutex
	locations   map[string]rollover.Location
	staff       map[string]rollover.Staff
	assignments map[string]rollover.Assignment
	scores      map[scoreKey]rollover.Score
	backlog     []rollover.BacklogEntry
	live        map[backlogKey]int // index into backlog
	origins     map[originKey]struct{}
	runs        []rollover.Run
}

type scoreKey struct {
	StaffID      string
	AssignmentID string
}

type backlogKey struct {
	StaffID  string
	ActionID string
}

// originKey is never removed, so resolving an entry does not let the same
// origin week carry the action again.
type originKey struct {
	StaffID  string
	ActionID string
	Cycle    int
	Week     int
}

func NewMemory() *Memory {
	return &Memory{
		locations:   make(map[string]rollover.Location),
		staff:       make(map[string]rollover.Staff),
		assignments: make(map[string]rollover.Assignment),
		scores:      make(map[scoreKey]rollover.Score),
		live:        make(map[backlogKey]int),
		origins:     make(map[originKey]struct{}),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveLocation(_ context.Context, l rollover.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.ID] = l
	return nil
}

func (m *Memory) GetLocation(_ context.Context, id string) (*rollover.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *Memory) SaveStaff(_ context.Context, s rollover.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
	return nil
}

func (m *Memory) GetStaff(_ context.Context, id string) (*rollover.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// ListStaff returns all staff ordered by ID.
func (m *Memory) ListStaff(_ context.Context) ([]rollover.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]rollover.Staff, 0, len(m.staff))
	for _, s := range m.staff {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// ASSIGNMENTS & SCORES
// =============================================================================

func (m *Memory) SaveAssignment(_ context.Context, a rollover.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
	return nil
}

// RequiredAssignments returns the role's items for the week ordered by ID.
func (m *Memory) RequiredAssignments(_ context.Context, roleID string, cycle, week int) ([]rollover.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []rollover.Assignment
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.Cycle == cycle && a.Week == week {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) ScoresFor(_ context.Context, staffID string, assignmentIDs []string) ([]rollover.Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []rollover.Score
	for _, id := range assignmentIDs {
		if s, ok := m.scores[scoreKey{StaffID: staffID, AssignmentID: id}]; ok {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *Memory) UpsertScore(_ context.Context, s rollover.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[scoreKey{StaffID: s.StaffID, AssignmentID: s.AssignmentID}] = s
	return nil
}

// =============================================================================
// BACKLOG
// =============================================================================

// AddBacklog inserts e unless a live entry for (staff, action) exists or
// the action was already carried from e's origin week.
func (m *Memory) AddBacklog(_ context.Context, e rollover.BacklogEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := backlogKey{StaffID: e.StaffID, ActionID: e.ActionID}
	if _, ok := m.live[k]; ok {
		return false, nil
	}
	origin := originKey{StaffID: e.StaffID, ActionID: e.ActionID, Cycle: e.OriginCycle, Week: e.OriginWeek}
	if _, seen := m.origins[origin]; seen {
		return false, nil
	}
	m.backlog = append(m.backlog, e)
	m.live[k] = len(m.backlog) - 1
	m.origins[origin] = struct{}{}
	return true, nil
}

// ListBacklog returns the staff member's live entries, oldest first.
func (m *Memory) ListBacklog(_ context.Context, staffID string) ([]rollover.BacklogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []rollover.BacklogEntry
	for _, e := range m.backlog {
		if e.StaffID == staffID && e.Live() {
			result = append(result, e)
		}
	}
	return result, nil
}

// ResolveBacklog marks a live entry as worked. Resolving frees the
// (staff, action) slot for a carry-over from a later origin week.
func (m *Memory) ResolveBacklog(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.backlog {
		e := &m.backlog[i]
		if e.ID != id || !e.Live() {
			continue
		}
		resolved := at.UTC()
		e.ResolvedAt = &resolved
		delete(m.live, backlogKey{StaffID: e.StaffID, ActionID: e.ActionID})
		return true, nil
	}
	return false, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, r rollover.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

// ListRuns returns recorded runs, newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]rollover.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]rollover.Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}
