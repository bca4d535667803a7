package rollover_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/rollover"
	"github.com/warp/coaching-engine/rollover/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

// Chicago location, program starting Monday 2025-01-06, 6-week cycles.
// Running on Monday 2025-01-20 evaluates cycle 1 week 2 (2025-01-13).
type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Memory
	engine  *rollover.Engine
	chicago *time.Location
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chicago, err := cadence.LoadLocation("America/Chicago")
	require.NoError(t, err)

	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.SaveLocation(ctx, rollover.Location{
		ID:               "loc-1",
		Timezone:         "America/Chicago",
		ProgramStartDate: time.Date(2025, 1, 6, 0, 0, 0, 0, chicago),
		CycleLengthWeeks: 6,
	}))
	require.NoError(t, st.SaveStaff(ctx, rollover.Staff{ID: "staff-1", RoleID: "role-1", LocationID: "loc-1"}))
	for _, a := range []rollover.Assignment{
		{ID: "a-1", ActionID: "act-1", RoleID: "role-1", Cycle: 1, Week: 2},
		{ID: "a-2", ActionID: "act-2", RoleID: "role-1", Cycle: 1, Week: 2},
		{ID: "a-3", ActionID: "act-3", RoleID: "role-1", Cycle: 1, Week: 2},
	} {
		require.NoError(t, st.SaveAssignment(ctx, a))
	}

	return &fixture{
		t:       t,
		ctx:     ctx,
		store:   st,
		engine:  rollover.NewEngine(st, cadence.DefaultEngine(), nil),
		chicago: chicago,
		now:     time.Date(2025, 1, 20, 10, 0, 0, 0, chicago),
	}
}

func intPtr(i int) *int { return &i }

func (f *fixture) at(day, hour int) *time.Time {
	ts := time.Date(2025, 1, day, hour, 0, 0, 0, f.chicago).UTC()
	return &ts
}

// score stores a row for assignmentID. conf/perf of 0 leave the metric empty.
func (f *fixture) score(assignmentID string, conf, perf int) {
	f.t.Helper()
	s := rollover.Score{StaffID: "staff-1", AssignmentID: assignmentID}
	if conf > 0 {
		s.ConfidenceScore = intPtr(conf)
		s.ConfidenceDate = f.at(13, 10)
	}
	if perf > 0 {
		s.PerformanceScore = intPtr(perf)
		s.PerformanceDate = f.at(16, 15)
	}
	require.NoError(f.t, f.store.UpsertScore(f.ctx, s))
}

func (f *fixture) scores() map[string]rollover.Score {
	f.t.Helper()
	rows, err := f.store.ScoresFor(f.ctx, "staff-1", []string{"a-1", "a-2", "a-3"})
	require.NoError(f.t, err)
	result := make(map[string]rollover.Score, len(rows))
	for _, r := range rows {
		result[r.AssignmentID] = r
	}
	return result
}

func (f *fixture) backlog() []rollover.BacklogEntry {
	f.t.Helper()
	entries, err := f.store.ListBacklog(f.ctx, "staff-1")
	require.NoError(f.t, err)
	return entries
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestRun_FullCompletionIsNoOp(t *testing.T) {
	// GIVEN: 3 required items, all with performance
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 4)
	before := f.scores()

	// WHEN: Rolling over
	res, err := f.engine.Run(f.ctx, "staff-1", f.now)

	// THEN: Nothing is written
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeComplete, res.Outcome)
	assert.Equal(t, 3, res.Required)
	assert.Equal(t, 3, res.PerformanceCount)
	assert.Empty(t, f.backlog())
	assert.Equal(t, before, f.scores())
}

func TestRun_ZeroEngagementIsForgiven(t *testing.T) {
	// GIVEN: 3 required items, none ever touched
	f := newFixture(t)

	res, err := f.engine.Run(f.ctx, "staff-1", f.now)

	// THEN: No backlog for a fully skipped week
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNoEngagement, res.Outcome)
	assert.Equal(t, 0, res.ConfidenceCount)
	assert.Empty(t, f.backlog())
}

func TestRun_PartialCompletionCarriesOver(t *testing.T) {
	// GIVEN: 2 items fully done, 1 with confidence only
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)

	// WHEN: Rolling over
	res, err := f.engine.Run(f.ctx, "staff-1", f.now)

	// THEN: Exactly one backlog entry for the incomplete item
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeCarriedOver, res.Outcome)
	assert.Equal(t, 1, res.BacklogInserted)
	assert.Equal(t, 1, res.ConfidenceCleared)
	assert.Equal(t, 1, res.OriginCycle)
	assert.Equal(t, 2, res.OriginWeek)

	entries := f.backlog()
	require.Len(t, entries, 1)
	assert.Equal(t, "act-3", entries[0].ActionID)
	assert.Equal(t, 1, entries[0].OriginCycle)
	assert.Equal(t, 2, entries[0].OriginWeek)
	assert.NotEmpty(t, entries[0].ID)

	// AND: Its confidence is cleared, the completed rows are untouched
	rows := f.scores()
	assert.Nil(t, rows["a-3"].ConfidenceScore)
	assert.Nil(t, rows["a-3"].ConfidenceDate)
	assert.Nil(t, rows["a-3"].PerformanceScore)
	require.NotNil(t, rows["a-1"].ConfidenceScore)
	assert.Equal(t, 3, *rows["a-1"].ConfidenceScore)
	assert.Equal(t, 4, *rows["a-1"].PerformanceScore)
}

func TestRun_MissingRowIsBackloggedWithoutWrite(t *testing.T) {
	// GIVEN: One item has no score row at all
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 0)

	res, err := f.engine.Run(f.ctx, "staff-1", f.now)

	require.NoError(t, err)
	assert.Equal(t, 2, res.BacklogInserted, "a-2 and a-3 lack performance")
	assert.Equal(t, 1, res.ConfidenceCleared, "only a-2 has a row to clear")
}

func TestRun_RepeatedRunDeduplicates(t *testing.T) {
	// GIVEN: A partially completed week
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)

	// WHEN: Rolling over twice
	_, err := f.engine.Run(f.ctx, "staff-1", f.now)
	require.NoError(t, err)
	res, err := f.engine.Run(f.ctx, "staff-1", f.now.Add(15*time.Minute))

	// THEN: Still one entry; the second insert was absorbed by the store
	require.NoError(t, err)
	assert.Equal(t, 0, res.BacklogInserted)
	assert.Equal(t, 1, res.BacklogDeduplicated)
	assert.Len(t, f.backlog(), 1)
}

func TestRun_ConcurrentRunsConverge(t *testing.T) {
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Run(f.ctx, "staff-1", f.now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.backlog(), 1)
}

func TestRun_ResolvedEntryStaysResolvedForItsWeek(t *testing.T) {
	// GIVEN: act-3 carried from cycle 1 week 2, then resolved
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)
	_, err := f.engine.Run(f.ctx, "staff-1", f.now)
	require.NoError(t, err)

	entries := f.backlog()
	require.Len(t, entries, 1)
	ok, err := f.store.ResolveBacklog(f.ctx, entries[0].ID, f.now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, f.backlog())

	// WHEN: The scheduler reruns later in the same week
	res, err := f.engine.Run(f.ctx, "staff-1", f.now.Add(48*time.Hour))

	// THEN: The same origin week is absorbed and the backlog stays empty
	require.NoError(t, err)
	assert.Equal(t, 1, res.OriginCycle)
	assert.Equal(t, 2, res.OriginWeek)
	assert.Equal(t, 0, res.BacklogInserted)
	assert.Equal(t, 1, res.BacklogDeduplicated)
	assert.Empty(t, f.backlog())

	// WHEN: The same action is left unfinished in the following week
	require.NoError(t, f.store.SaveAssignment(f.ctx, rollover.Assignment{
		ID: "a-4", ActionID: "act-3", RoleID: "role-1", Cycle: 1, Week: 3,
	}))
	require.NoError(t, f.store.UpsertScore(f.ctx, rollover.Score{
		StaffID: "staff-1", AssignmentID: "a-4", ConfidenceScore: intPtr(3), ConfidenceDate: f.at(20, 11),
	}))
	res, err = f.engine.Run(f.ctx, "staff-1", time.Date(2025, 1, 27, 10, 0, 0, 0, f.chicago))

	// THEN: It is carried again from the new origin week
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeCarriedOver, res.Outcome)
	assert.Equal(t, 1, res.BacklogInserted)
	entries = f.backlog()
	require.Len(t, entries, 1)
	assert.Equal(t, "act-3", entries[0].ActionID)
	assert.Equal(t, 3, entries[0].OriginWeek)
}

func TestRun_SelfSelectNotBacklogged(t *testing.T) {
	// GIVEN: The incomplete item was self-selected
	f := newFixture(t)
	require.NoError(t, f.store.SaveAssignment(f.ctx, rollover.Assignment{
		ID: "a-3", ActionID: "act-3", RoleID: "role-1", Cycle: 1, Week: 2, SelfSelect: true,
	}))
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)

	res, err := f.engine.Run(f.ctx, "staff-1", f.now)

	// THEN: No backlog, but its stale confidence is still cleared
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeCarriedOver, res.Outcome)
	assert.Empty(t, f.backlog())
	assert.Equal(t, 1, res.ConfidenceCleared)
	assert.Nil(t, f.scores()["a-3"].ConfidenceScore)
}

// =============================================================================
// TIME GATE & MISSING CONTEXT
// =============================================================================

func TestRun_TimeGate(t *testing.T) {
	f := newFixture(t)
	f.score("a-1", 3, 0)

	monday := time.Date(2025, 1, 20, 0, 0, 0, 0, f.chicago)

	tests := []struct {
		name string
		now  time.Time
		want rollover.Outcome
	}{
		{"at checkin open", monday, rollover.OutcomeBeforeThreshold},
		{"59s after open", monday.Add(59 * time.Second), rollover.OutcomeBeforeThreshold},
		{"exactly one minute after open", monday.Add(time.Minute), rollover.OutcomeCarriedOver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.Run(f.ctx, "staff-1", tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestRun_MissingContextIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	res, err := f.engine.Run(ctx, "nobody", f.now)
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNoContext, res.Outcome, "unknown staff")

	require.NoError(t, f.store.SaveStaff(ctx, rollover.Staff{ID: "staff-2", RoleID: "role-1", LocationID: "loc-x"}))
	res, err = f.engine.Run(ctx, "staff-2", f.now)
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNoContext, res.Outcome, "unknown location")

	require.NoError(t, f.store.SaveLocation(ctx, rollover.Location{ID: "loc-x", Timezone: "Mars/Olympus", CycleLengthWeeks: 6}))
	res, err = f.engine.Run(ctx, "staff-2", f.now)
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNoContext, res.Outcome, "bad timezone")

	// Program started this week, so there is no previous week
	require.NoError(t, f.store.SaveLocation(ctx, rollover.Location{
		ID: "loc-x", Timezone: "UTC", ProgramStartDate: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), CycleLengthWeeks: 6,
	}))
	res, err = f.engine.Run(ctx, "staff-2", f.now)
	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNoContext, res.Outcome, "no previous week")
}

func TestRun_NothingConfigured(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveStaff(f.ctx, rollover.Staff{ID: "staff-3", RoleID: "role-empty", LocationID: "loc-1"}))

	res, err := f.engine.Run(f.ctx, "staff-3", f.now)

	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeNothingConfigured, res.Outcome)
	assert.Equal(t, 1, res.OriginCycle)
	assert.Equal(t, 2, res.OriginWeek)
}

func TestRun_CycleBoundary(t *testing.T) {
	// GIVEN: First Monday of cycle 2; previous week is cycle 1 week 6
	f := newFixture(t)
	require.NoError(t, f.store.SaveAssignment(f.ctx, rollover.Assignment{ID: "a-6", ActionID: "act-6", RoleID: "role-1", Cycle: 1, Week: 6}))
	require.NoError(t, f.store.UpsertScore(f.ctx, rollover.Score{StaffID: "staff-1", AssignmentID: "a-6", ConfidenceScore: intPtr(2)}))

	res, err := f.engine.Run(f.ctx, "staff-1", time.Date(2025, 2, 17, 8, 0, 0, 0, f.chicago))

	require.NoError(t, err)
	assert.Equal(t, rollover.OutcomeCarriedOver, res.Outcome)
	assert.Equal(t, 1, res.OriginCycle)
	assert.Equal(t, 6, res.OriginWeek)
}

// =============================================================================
// FAILURES & AUDIT
// =============================================================================

type failingScores struct {
	*store.Memory
	err error
}

func (f failingScores) UpsertScore(context.Context, rollover.Score) error { return f.err }

func TestRun_ClearFailureIsSurfaced(t *testing.T) {
	// GIVEN: A store whose score writes fail
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)
	boom := errors.New("connection reset")
	engine := rollover.NewEngine(failingScores{Memory: f.store, err: boom}, nil, nil)

	// WHEN: Rolling over
	res, err := engine.Run(f.ctx, "staff-1", f.now)

	// THEN: The error is returned, typed and retryable
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, rollover.ErrStore)
	assert.ErrorIs(t, err, boom)
	assert.True(t, rollover.IsRetryable(err))

	var se *rollover.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "clear confidence", se.Op)

	// AND: The backlog written before the failure stays for the retry to dedup
	assert.Len(t, f.backlog(), 1)
}

func TestRun_RecordsRuns(t *testing.T) {
	f := newFixture(t)
	f.score("a-1", 3, 0)

	_, err := f.engine.Run(f.ctx, "staff-1", time.Date(2025, 1, 20, 0, 0, 10, 0, f.chicago))
	require.NoError(t, err)
	_, err = f.engine.Run(f.ctx, "staff-1", f.now)
	require.NoError(t, err)

	runs, err := f.store.ListRuns(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1, "before-threshold runs are not recorded")
	assert.Equal(t, rollover.OutcomeCarriedOver, runs[0].Outcome)
	assert.Equal(t, 3, runs[0].BacklogInserted)
	assert.Empty(t, runs[0].Error)
}

func TestRun_WeekOfTicksRecordsOnlyChanges(t *testing.T) {
	tests := []struct {
		name   string
		scores func(f *fixture)
		runs   int
	}{
		{"complete week", func(f *fixture) {
			f.score("a-1", 3, 4)
			f.score("a-2", 2, 3)
			f.score("a-3", 4, 4)
		}, 0},
		{"skipped week", func(f *fixture) {}, 0},
		{"partial week", func(f *fixture) {
			f.score("a-1", 3, 4)
			f.score("a-2", 2, 3)
			f.score("a-3", 4, 0)
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: The previous week in the given state
			f := newFixture(t)
			tt.scores(f)

			// WHEN: Running every 15 minutes from Monday 00:00 through Sunday
			monday := time.Date(2025, 1, 20, 0, 0, 0, 0, f.chicago)
			ticks := 0
			for now := monday; now.Before(monday.AddDate(0, 0, 7)); now = now.Add(15 * time.Minute) {
				_, err := f.engine.Run(f.ctx, "staff-1", now)
				require.NoError(t, err)
				ticks++
			}
			require.Equal(t, 672, ticks)

			// THEN: Only the carry-over itself is recorded
			runs, err := f.store.ListRuns(f.ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, tt.runs)
			if tt.runs > 0 {
				assert.Equal(t, rollover.OutcomeCarriedOver, runs[0].Outcome)
				assert.Equal(t, 1, runs[0].BacklogInserted)
				assert.Equal(t, monday.Add(15*time.Minute).UTC(), runs[0].RunAt)
			}
		})
	}
}

func TestRun_FailedRunIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.score("a-1", 3, 4)
	f.score("a-2", 2, 3)
	f.score("a-3", 4, 0)
	engine := rollover.NewEngine(failingScores{Memory: f.store, err: errors.New("disk full")}, nil, nil)

	_, err := engine.Run(f.ctx, "staff-1", f.now)
	require.Error(t, err)

	runs, err := f.store.ListRuns(f.ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "disk full")
}

func TestStoreError(t *testing.T) {
	err := &rollover.StoreError{Op: "load scores", StaffID: "s1", Err: errors.New("timeout")}
	assert.Equal(t, "rollover load scores for staff s1: timeout", err.Error())
	assert.True(t, rollover.IsRetryable(err))
	assert.False(t, rollover.IsRetryable(errors.New("other")))
	assert.True(t, rollover.IsNotFound(rollover.ErrStaffNotFound))
}
