/*
Package submission classifies weekly check-in obligations and aggregates them
into completion and on-time rates.

PURPOSE:
  Each staff member owes two obligations per week: a confidence check-in
  and a performance check-out. A SubmissionWindow is one such obligation
  with its due instant and what happened to it. The classifier buckets
  windows into on-time / late / missing / pending and rolls them up into
  SubmissionStats for reporting.

KEY CONCEPTS:
  - SubmissionWindow: one (week, metric) obligation, read-only input
  - Classification:   per-window bucket, evaluated against "now"
  - SubmissionStats:  per-staff aggregate, computed on demand

COUNTING RULES:
  - Only past-due windows count. A window due in the future is left out
    of the denominator entirely rather than counted as pending.
  - Windows are grouped per week and metric, so duplicate rows for the
    same week never count twice.
  - A window whose due_at cannot be parsed is skipped, not fatal.

SEE ALSO:
  - stats.go: CalculateSubmissionStats
  - build.go: deriving windows from a policy and score rows
  - cadence/policy.go: the due instants and late semantics
*/
package submission

import (
	"time"

	"github.com/warp/coaching-engine/cadence"
)

// =============================================================================
// WINDOW
// =============================================================================

// Metric is the kind of weekly obligation.
type Metric string

const (
	MetricConfidence  Metric = "confidence"
	MetricPerformance Metric = "performance"
)

// Status is the stored state of a window.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusMissing   Status = "missing"
)

// SubmissionWindow is one (staff, week, metric) obligation as supplied by
// the data store. DueAt is kept as the raw RFC 3339 text the store returns.
type SubmissionWindow struct {
	WeekOf string `json:"week_of"`
	Metric Metric `json:"metric"`
	Status Status `json:"status"`
	OnTime *bool  `json:"on_time"`
	DueAt  string `json:"due_at"`
}

// Due parses DueAt.
func (w SubmissionWindow) Due() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, w.DueAt); err == nil {
		return t, nil
	}
	// Postgres text output, e.g. "2025-01-14 20:00:00+00".
	return time.Parse("2006-01-02 15:04:05-07", w.DueAt)
}

func (w SubmissionWindow) submitted() bool { return w.Status == StatusSubmitted }

func (w SubmissionWindow) onTime() bool { return w.OnTime != nil && *w.OnTime }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classification is the reporting bucket of a single window.
type Classification string

const (
	ClassOnTime  Classification = "on_time"
	ClassLate    Classification = "late"
	ClassMissing Classification = "missing"
	ClassPending Classification = "pending"
	ClassInvalid Classification = "invalid"
)

// Classify buckets one window at now. Late requires a submission; missing
// requires no submission and a passed due instant, so no window is both.
func Classify(w SubmissionWindow, now time.Time) Classification {
	due, err := w.Due()
	if err != nil {
		return ClassInvalid
	}
	if w.submitted() {
		if w.onTime() {
			return ClassOnTime
		}
		return ClassLate
	}
	if cadence.IsMissingSubmission(now, due, nil) {
		return ClassMissing
	}
	return ClassPending
}
