package submission_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/coaching-engine/cadence"
	"github.com/warp/coaching-engine/submission"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func boolPtr(b bool) *bool { return &b }

func window(weekOf string, metric submission.Metric, status submission.Status, onTime *bool, dueAt string) submission.SubmissionWindow {
	return submission.SubmissionWindow{WeekOf: weekOf, Metric: metric, Status: status, OnTime: onTime, DueAt: dueAt}
}

var statsNow = time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// AGGREGATION
// =============================================================================

func TestCalculateSubmissionStats_TwoWeeksOneMissing(t *testing.T) {
	// GIVEN: 2 weeks x 2 metrics, all past due, 3 submitted on time, 1 missing
	windows := []submission.SubmissionWindow{
		window("2025-01-13", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "2025-01-14T20:00:00Z"),
		window("2025-01-13", submission.MetricPerformance, submission.StatusSubmitted, boolPtr(true), "2025-01-17T23:00:00Z"),
		window("2025-01-20", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "2025-01-21T20:00:00Z"),
		window("2025-01-20", submission.MetricPerformance, submission.StatusMissing, nil, "2025-01-24T23:00:00Z"),
	}

	// WHEN: Aggregating
	stats := submission.CalculateSubmissionStats(windows, statsNow)

	// THEN: 4 expected, 3 completed on time, 1 missing, 75%
	assert.Equal(t, submission.SubmissionStats{
		TotalExpected:  4,
		Completed:      3,
		OnTime:         3,
		Late:           0,
		Missing:        1,
		CompletionRate: 75,
		OnTimeRate:     75,
		HasData:        true,
	}, stats)
}

func TestCalculateSubmissionStats_FutureWindowsExcluded(t *testing.T) {
	windows := []submission.SubmissionWindow{
		window("2025-01-27", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(false), "2025-01-28T20:00:00Z"),
		window("2025-01-27", submission.MetricPerformance, submission.StatusPending, nil, "2025-02-03T23:00:00Z"),
	}

	stats := submission.CalculateSubmissionStats(windows, statsNow)

	assert.Equal(t, 1, stats.TotalExpected, "future-due performance is not pending, it is not counted")
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Late)
	assert.Equal(t, 0, stats.Missing)
	assert.Equal(t, float64(100), stats.CompletionRate)
	assert.Equal(t, float64(0), stats.OnTimeRate)
}

func TestCalculateSubmissionStats_DueExactlyNowCounts(t *testing.T) {
	windows := []submission.SubmissionWindow{
		window("2025-01-27", submission.MetricConfidence, submission.StatusPending, nil, statsNow.Format(time.RFC3339)),
	}
	stats := submission.CalculateSubmissionStats(windows, statsNow)
	assert.Equal(t, 1, stats.TotalExpected)
	assert.Equal(t, 1, stats.Missing)
}

func TestCalculateSubmissionStats_DuplicateRowsCountOnce(t *testing.T) {
	// GIVEN: The store returned one row per assignment: three confidence rows for one week
	windows := []submission.SubmissionWindow{
		window("2025-01-13", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(false), "2025-01-14T20:00:00Z"),
		window("2025-01-13", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "2025-01-14T20:00:00Z"),
		window("2025-01-13", submission.MetricConfidence, submission.StatusMissing, nil, "2025-01-14T20:00:00Z"),
	}

	stats := submission.CalculateSubmissionStats(windows, statsNow)

	assert.Equal(t, 1, stats.TotalExpected)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.OnTime)
}

func TestCalculateSubmissionStats_MalformedDueAtSkipped(t *testing.T) {
	windows := []submission.SubmissionWindow{
		window("2025-01-13", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "not-a-date"),
		window("2025-01-13", submission.MetricPerformance, submission.StatusSubmitted, boolPtr(false), "2025-01-17 23:00:00+00"),
		window("2025-01-20", submission.MetricConfidence, submission.StatusMissing, nil, ""),
	}

	stats := submission.CalculateSubmissionStats(windows, statsNow)

	assert.Equal(t, 1, stats.TotalExpected)
	assert.Equal(t, 1, stats.Late)
	assert.True(t, stats.HasData)
}

func TestCalculateSubmissionStats_NoData(t *testing.T) {
	stats := submission.CalculateSubmissionStats(nil, statsNow)
	assert.Equal(t, submission.SubmissionStats{}, stats)
	assert.False(t, stats.HasData)
}

func TestCalculateSubmissionStats_RepeatingRate(t *testing.T) {
	windows := []submission.SubmissionWindow{
		window("2025-01-06", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "2025-01-07T20:00:00Z"),
		window("2025-01-06", submission.MetricPerformance, submission.StatusMissing, nil, "2025-01-10T23:00:00Z"),
		window("2025-01-13", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), "2025-01-14T20:00:00Z"),
	}
	stats := submission.CalculateSubmissionStats(windows, statsNow)
	assert.InDelta(t, 66.6667, stats.CompletionRate, 0.001)
	assert.InDelta(t, 66.6667, stats.OnTimeRate, 0.001)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify(t *testing.T) {
	due := "2025-01-14T20:00:00Z"
	before := time.Date(2025, 1, 14, 19, 0, 0, 0, time.UTC)
	after := time.Date(2025, 1, 14, 21, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		w    submission.SubmissionWindow
		now  time.Time
		want submission.Classification
	}{
		{"on time", window("w", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(true), due), after, submission.ClassOnTime},
		{"late", window("w", submission.MetricConfidence, submission.StatusSubmitted, boolPtr(false), due), after, submission.ClassLate},
		{"submitted with unknown timing is late", window("w", submission.MetricConfidence, submission.StatusSubmitted, nil, due), after, submission.ClassLate},
		{"missing after due", window("w", submission.MetricConfidence, submission.StatusPending, nil, due), after, submission.ClassMissing},
		{"pending before due", window("w", submission.MetricConfidence, submission.StatusPending, nil, due), before, submission.ClassPending},
		{"stored missing but not yet due", window("w", submission.MetricConfidence, submission.StatusMissing, nil, due), before, submission.ClassPending},
		{"bad due", window("w", submission.MetricConfidence, submission.StatusPending, nil, "x"), after, submission.ClassInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, submission.Classify(tt.w, tt.now))
		})
	}
}

func TestClassify_LateAndMissingDisjoint(t *testing.T) {
	due := time.Date(2025, 1, 14, 20, 0, 0, 0, time.UTC)
	statuses := []submission.Status{submission.StatusSubmitted, submission.StatusPending, submission.StatusMissing}
	onTimes := []*bool{nil, boolPtr(true), boolPtr(false)}

	for _, st := range statuses {
		for _, ot := range onTimes {
			for _, offset := range []time.Duration{-time.Hour, 0, time.Hour} {
				now := due.Add(offset)
				w := window("w", submission.MetricPerformance, st, ot, due.Format(time.RFC3339))
				c := submission.Classify(w, now)
				if c == submission.ClassLate {
					require.Equal(t, submission.StatusSubmitted, st)
				}
				if c == submission.ClassMissing {
					require.NotEqual(t, submission.StatusSubmitted, st)
					require.True(t, now.After(due))
				}
			}
		}
	}
}

// =============================================================================
// WINDOW BUILDING
// =============================================================================

func TestBuildWindows(t *testing.T) {
	p := cadence.DefaultEngine().PolicyFor(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), time.UTC)
	early := p.CheckinVisible.Add(time.Hour)
	lateConf := p.ConfidenceDue.Add(time.Minute)
	perf := p.CheckoutOpen.Add(time.Hour)

	t.Run("all confidence on time, performance incomplete and past due", func(t *testing.T) {
		marks := []submission.ScoreMarks{
			{ConfidenceAt: &early, PerformanceAt: &perf},
			{ConfidenceAt: &early, PerformanceAt: &perf},
			{ConfidenceAt: &early},
		}
		ws := submission.BuildWindows(p, 3, marks, p.WeekEnd)
		require.Len(t, ws, 2)

		assert.Equal(t, "2025-01-13", ws[0].WeekOf)
		assert.Equal(t, submission.MetricConfidence, ws[0].Metric)
		assert.Equal(t, submission.StatusSubmitted, ws[0].Status)
		require.NotNil(t, ws[0].OnTime)
		assert.True(t, *ws[0].OnTime)

		assert.Equal(t, submission.StatusMissing, ws[1].Status)
		assert.Nil(t, ws[1].OnTime)
		assert.Equal(t, p.PerformanceDue.Format(time.RFC3339), ws[1].DueAt)
	})

	t.Run("latest confidence after due is late", func(t *testing.T) {
		marks := []submission.ScoreMarks{{ConfidenceAt: &early}, {ConfidenceAt: &lateConf}}
		ws := submission.BuildWindows(p, 2, marks, p.CheckoutOpen)
		require.NotNil(t, ws[0].OnTime)
		assert.False(t, *ws[0].OnTime)
		assert.Equal(t, submission.ClassLate, submission.Classify(ws[0], p.CheckoutOpen))
		assert.Equal(t, submission.StatusPending, ws[1].Status, "performance not yet due")
	})

	t.Run("no required items", func(t *testing.T) {
		assert.Nil(t, submission.BuildWindows(p, 0, nil, p.WeekEnd))
	})
}
