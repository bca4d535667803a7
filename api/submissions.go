package api

import (
	"context"
	"time"

	"github.com/warp/coaching-engine/rollover"
	"github.com/warp/coaching-engine/submission"
)

// submissionHistory builds windows for the last `weeks` program weeks up to
// and including the week containing now, oldest first, and aggregates them.
// Weeks before the program start or with nothing assigned are skipped.
func (h *Handler) submissionHistory(
	ctx context.Context,
	staff *rollover.Staff,
	site *rollover.Location,
	loc *time.Location,
	now time.Time,
	weeks int,
) (SubmissionsDTO, error) {
	schedule := scheduleFor(site, loc)
	local := now.In(loc)

	windows := []submission.SubmissionWindow{}
	for i := weeks - 1; i >= 0; i-- {
		anchor := local.AddDate(0, 0, -7*i)
		wc, ok := schedule.WeekContextAt(anchor)
		if !ok {
			continue
		}

		assignments, err := h.Store.RequiredAssignments(ctx, staff.RoleID, wc.Cycle, wc.Week)
		if err != nil {
			return SubmissionsDTO{}, err
		}
		if len(assignments) == 0 {
			continue
		}

		ids := make([]string, len(assignments))
		for j, a := range assignments {
			ids[j] = a.ID
		}
		scores, err := h.Store.ScoresFor(ctx, staff.ID, ids)
		if err != nil {
			return SubmissionsDTO{}, err
		}
		marks := make([]submission.ScoreMarks, 0, len(scores))
		for _, s := range scores {
			marks = append(marks, submission.ScoreMarks{
				ConfidenceAt:  s.ConfidenceDate,
				PerformanceAt: s.PerformanceDate,
			})
		}

		policy := h.Policy.PolicyFor(anchor, loc)
		windows = append(windows, submission.BuildWindows(policy, len(assignments), marks, now)...)
	}

	return SubmissionsDTO{
		StaffID: staff.ID,
		Windows: windows,
		Stats:   submission.CalculateSubmissionStats(windows, now),
	}, nil
}
