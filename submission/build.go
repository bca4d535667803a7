package submission

import (
	"time"

	"github.com/warp/coaching-engine/cadence"
)

// ScoreMarks is the submission timestamps of one required item in one week.
// A nil timestamp means the metric was not submitted for that item.
type ScoreMarks struct {
	ConfidenceAt  *time.Time
	PerformanceAt *time.Time
}

// BuildWindows derives the confidence and performance windows of the
// policy's week. A metric is submitted once every required item carries a
// timestamp for it; the latest timestamp decides on-time.
//
// Weeks with no required items produce no windows.
func BuildWindows(policy cadence.SubmissionPolicy, required int, marks []ScoreMarks, now time.Time) []SubmissionWindow {
	if required <= 0 {
		return nil
	}
	weekOf := policy.WeekOf()

	conf := make([]*time.Time, 0, len(marks))
	perf := make([]*time.Time, 0, len(marks))
	for _, m := range marks {
		conf = append(conf, m.ConfidenceAt)
		perf = append(perf, m.PerformanceAt)
	}

	return []SubmissionWindow{
		buildWindow(weekOf, MetricConfidence, policy.ConfidenceDue, required, conf, now),
		buildWindow(weekOf, MetricPerformance, policy.PerformanceDue, required, perf, now),
	}
}

func buildWindow(weekOf string, metric Metric, due time.Time, required int, stamps []*time.Time, now time.Time) SubmissionWindow {
	w := SubmissionWindow{
		WeekOf: weekOf,
		Metric: metric,
		DueAt:  due.UTC().Format(time.RFC3339),
	}

	var latest *time.Time
	count := 0
	for _, ts := range stamps {
		if ts == nil {
			continue
		}
		count++
		if latest == nil || ts.After(*latest) {
			latest = ts
		}
	}

	if count >= required && latest != nil {
		onTime := !cadence.IsLateSubmission(*latest, due)
		w.Status = StatusSubmitted
		w.OnTime = &onTime
		return w
	}

	if cadence.IsMissingSubmission(now, due, nil) {
		w.Status = StatusMissing
	} else {
		w.Status = StatusPending
	}
	return w
}
