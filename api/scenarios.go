/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates locations, staff,
	assignments and score history that demonstrate one rollover outcome.

AVAILABLE SCENARIOS:

	complete-week:   Last week fully submitted, rollover has nothing to do
	partial-week:    One item left without performance, carried to backlog
	skipped-week:    Nothing submitted last week, forgiven
	late-submitter:  Everything submitted, all of it after the deadlines
	multi-timezone:  Two locations whose gates flip at different instants

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create location(s) whose program started three weeks before the
    current week, so "now" is week 4 of cycle 1
 3. Create staff and one cycle of assignments per role
 4. Add score history for weeks 1-3, last week per the scenario

	All dates are derived from the handler's clock, so a scenario loaded
	today and one loaded under a FixedClock behave the same way relative
	to "now".

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-week"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add a seed list to 'scenarioSeeds'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Score and rollover handlers exercised by the scenarios
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/rollover"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "complete-week",
		Name:        "Complete Week",
		Description: "Every item scored last week; rollover is a no-op",
	},
	{
		ID:          "partial-week",
		Name:        "Partial Week",
		Description: "Last week has one item without performance; it is carried to backlog",
	},
	{
		ID:          "skipped-week",
		Name:        "Skipped Week",
		Description: "No submissions last week; zero engagement is forgiven",
	},
	{
		ID:          "late-submitter",
		Name:        "Late Submitter",
		Description: "All submissions land after their deadlines",
	},
	{
		ID:          "multi-timezone",
		Name:        "Multi-Timezone",
		Description: "Los Angeles and New York locations with partial weeks",
	},
}

var errUnknownScenario = errors.New("unknown scenario")

const (
	scenarioCycleLength  = 6
	scenarioItemsPerWeek = 3
	scenarioWeeksElapsed = 3
)

// weekFill describes how one past week was submitted.
type weekFill int

const (
	fillComplete weekFill = iota
	fillPartial           // last item has confidence only
	fillSkipped
	fillLate
)

type staffSeed struct {
	id, name, role string
}

type siteSeed struct {
	id, name, timezone string
	staff              []staffSeed
	lastWeek           weekFill
	history            weekFill
}

var scenarioSeeds = map[string][]siteSeed{
	"complete-week": {{
		id: "loc-chicago", name: "Chicago Loop", timezone: "America/Chicago",
		staff:    []staffSeed{{"staff-alex", "Alex Rivera", "rda"}},
		lastWeek: fillComplete, history: fillComplete,
	}},
	"partial-week": {{
		id: "loc-chicago", name: "Chicago Loop", timezone: "America/Chicago",
		staff:    []staffSeed{{"staff-alex", "Alex Rivera", "rda"}},
		lastWeek: fillPartial, history: fillComplete,
	}},
	"skipped-week": {{
		id: "loc-chicago", name: "Chicago Loop", timezone: "America/Chicago",
		staff:    []staffSeed{{"staff-alex", "Alex Rivera", "rda"}},
		lastWeek: fillSkipped, history: fillComplete,
	}},
	"late-submitter": {{
		id: "loc-chicago", name: "Chicago Loop", timezone: "America/Chicago",
		staff:    []staffSeed{{"staff-sam", "Sam Okafor", "hygienist"}},
		lastWeek: fillLate, history: fillLate,
	}},
	"multi-timezone": {
		{
			id: "loc-la", name: "Los Angeles", timezone: "America/Los_Angeles",
			staff:    []staffSeed{{"staff-jo", "Jo Park", "rda"}},
			lastWeek: fillPartial, history: fillComplete,
		},
		{
			id: "loc-nyc", name: "New York", timezone: "America/New_York",
			staff:    []staffSeed{{"staff-lee", "Lee Chen", "rda"}, {"staff-max", "Max Weber", "front-desk"}},
			lastWeek: fillPartial, history: fillComplete,
		},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.fail(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	seeds, ok := scenarioSeeds[id]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownScenario, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""

	now := h.Clock.Now()
	seeded := make(map[string]bool)
	for _, s := range seeds {
		if err := h.seedSite(ctx, s, now, seeded); err != nil {
			return fmt.Errorf("seed %s: %w", s.id, err)
		}
	}

	h.currentScenario = id
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SEEDING
// =============================================================================

// seedSite writes one location, its staff, one cycle of assignments per
// role not seeded yet, and score history for the weeks before now.
func (h *Handler) seedSite(ctx context.Context, s siteSeed, now time.Time, seededRoles map[string]bool) error {
	loc, err := cadence.LoadLocation(s.timezone)
	if err != nil {
		return err
	}
	currentMonday := cadence.ResolveMonday(now, loc)
	start := cadence.AddWeeks(currentMonday, -scenarioWeeksElapsed, loc)

	site := rollover.Location{
		ID:               s.id,
		Name:             s.name,
		Timezone:         s.timezone,
		ProgramStartDate: start,
		CycleLengthWeeks: scenarioCycleLength,
	}
	if err := h.Store.SaveLocation(ctx, site); err != nil {
		return err
	}

	for _, st := range s.staff {
		if err := h.Store.SaveStaff(ctx, rollover.Staff{ID: st.id, Name: st.name, RoleID: st.role, LocationID: s.id}); err != nil {
			return err
		}
		if !seededRoles[st.role] {
			if err := h.seedAssignments(ctx, st.role); err != nil {
				return err
			}
			seededRoles[st.role] = true
		}

		for week := 1; week <= scenarioWeeksElapsed; week++ {
			fill := s.history
			if week == scenarioWeeksElapsed {
				fill = s.lastWeek
			}
			monday := cadence.AddWeeks(start, week-1, loc)
			if err := h.seedScores(ctx, st, week, h.Policy.PolicyFor(monday, loc), fill); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) seedAssignments(ctx context.Context, role string) error {
	for week := 1; week <= scenarioCycleLength; week++ {
		for i := 1; i <= scenarioItemsPerWeek; i++ {
			a := rollover.Assignment{
				ID:       assignmentID(role, week, i),
				ActionID: fmt.Sprintf("action-%d", (week-1)*scenarioItemsPerWeek+i),
				RoleID:   role,
				Cycle:    1,
				Week:     week,
			}
			if err := h.Store.SaveAssignment(ctx, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) seedScores(ctx context.Context, st staffSeed, week int, p cadence.SubmissionPolicy, fill weekFill) error {
	if fill == fillSkipped {
		return nil
	}

	confAt := p.CheckinOpen.Add(p.ConfidenceDue.Sub(p.CheckinOpen) / 2)
	perfAt := p.CheckoutOpen.Add(p.PerformanceDue.Sub(p.CheckoutOpen) / 2)
	if fill == fillLate {
		confAt = p.ConfidenceDue.Add(time.Hour)
		perfAt = p.PerformanceDue.Add(time.Minute)
	}
	confAt, perfAt = confAt.UTC(), perfAt.UTC()

	for i := 1; i <= scenarioItemsPerWeek; i++ {
		conf, perf := 3, 3
		sc := rollover.Score{
			StaffID:          st.id,
			AssignmentID:     assignmentID(st.role, week, i),
			ConfidenceScore:  &conf,
			ConfidenceDate:   &confAt,
			PerformanceScore: &perf,
			PerformanceDate:  &perfAt,
		}
		if fill == fillPartial && i == scenarioItemsPerWeek {
			sc.PerformanceScore, sc.PerformanceDate = nil, nil
		}
		if err := h.Store.UpsertScore(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

func assignmentID(role string, week, item int) string {
	return fmt.Sprintf("%s-c1w%d-%d", role, week, item)
}
