package submission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATS
// =============================================================================

// SubmissionStats aggregates past-due windows. Rates are percentages 0-100.
type SubmissionStats struct {
	TotalExpected  int     `json:"total_expected"`
	Completed      int     `json:"completed"`
	OnTime         int     `json:"on_time"`
	Late           int     `json:"late"`
	Missing        int     `json:"missing"`
	CompletionRate float64 `json:"completion_rate"`
	OnTimeRate     float64 `json:"on_time_rate"`
	HasData        bool    `json:"has_data"`
}

type metricState struct {
	exists    bool
	submitted bool
	onTime    bool
}

type weekState struct {
	confidence  metricState
	performance metricState
}

func (ws *weekState) metric(m Metric) *metricState {
	switch m {
	case MetricConfidence:
		return &ws.confidence
	case MetricPerformance:
		return &ws.performance
	default:
		return nil
	}
}

var hundred = decimal.NewFromInt(100)

// CalculateSubmissionStats aggregates windows due at or before now.
//
// One confidence and one performance expectation per week, however many
// rows the store returned for that week.
func CalculateSubmissionStats(windows []SubmissionWindow, now time.Time) SubmissionStats {
	weeks := make(map[string]*weekState)
	var order []string

	for _, w := range windows {
		due, err := w.Due()
		if err != nil || due.After(now) {
			continue
		}
		ws, ok := weeks[w.WeekOf]
		if !ok {
			ws = &weekState{}
			weeks[w.WeekOf] = ws
			order = append(order, w.WeekOf)
		}
		ms := ws.metric(w.Metric)
		if ms == nil {
			continue
		}
		ms.exists = true
		if w.submitted() {
			ms.submitted = true
			if w.onTime() {
				ms.onTime = true
			}
		}
	}

	var stats SubmissionStats
	for _, week := range order {
		ws := weeks[week]
		for _, ms := range []metricState{ws.confidence, ws.performance} {
			if !ms.exists {
				continue
			}
			stats.TotalExpected++
			if ms.submitted {
				stats.Completed++
				if ms.onTime {
					stats.OnTime++
				}
			}
		}
	}

	stats.Late = stats.Completed - stats.OnTime
	stats.Missing = stats.TotalExpected - stats.Completed
	stats.HasData = stats.TotalExpected > 0
	if stats.HasData {
		stats.CompletionRate = percent(stats.Completed, stats.TotalExpected)
		stats.OnTimeRate = percent(stats.OnTime, stats.TotalExpected)
	}
	return stats
}

func percent(part, whole int) float64 {
	f, _ := decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(whole))).
		Float64()
	return f
}
