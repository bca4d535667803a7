package cadence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/coaching-engine/cadence"
)

func chicagoSchedule(t *testing.T) cadence.LocationSchedule {
	chicago := mustLoad(t, "America/Chicago")
	start, err := cadence.ParseLocalDate("2025-01-08", chicago) // a Wednesday
	require.NoError(t, err)
	return cadence.LocationSchedule{Location: chicago, ProgramStart: start, CycleLengthWeeks: 6}
}

func TestWeekContextAt(t *testing.T) {
	s := chicagoSchedule(t)

	tests := []struct {
		name   string
		at     time.Time
		cycle  int
		week   int
		weekOf string
	}{
		{"program start week", utc("2025-01-10T15:00:00Z"), 1, 1, "2025-01-06"},
		{"monday before start date counts as week 1", utc("2025-01-06T06:00:00Z"), 1, 1, "2025-01-06"},
		{"second week", utc("2025-01-13T06:00:00Z"), 1, 2, "2025-01-13"},
		{"last week of cycle 1", utc("2025-02-16T12:00:00Z"), 1, 6, "2025-02-10"},
		{"first week of cycle 2", utc("2025-02-17T06:00:00Z"), 2, 1, "2025-02-17"},
		{"across spring forward", utc("2025-03-10T12:00:00Z"), 2, 4, "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc, ok := s.WeekContextAt(tt.at)
			require.True(t, ok)
			assert.Equal(t, tt.cycle, wc.Cycle)
			assert.Equal(t, tt.week, wc.Week)
			assert.Equal(t, tt.weekOf, wc.WeekOf)
		})
	}
}

func TestWeekContextAt_MissingContext(t *testing.T) {
	s := chicagoSchedule(t)

	_, ok := s.WeekContextAt(utc("2025-01-05T12:00:00Z"))
	assert.False(t, ok, "before program start")

	s.CycleLengthWeeks = 0
	_, ok = s.WeekContextAt(utc("2025-03-05T12:00:00Z"))
	assert.False(t, ok, "no cycle length")

	_, ok = cadence.LocationSchedule{CycleLengthWeeks: 6}.WeekContextAt(utc("2025-03-05T12:00:00Z"))
	assert.False(t, ok, "no program start")
}

func TestMondayOf_InvertsWeekContext(t *testing.T) {
	s := chicagoSchedule(t)

	monday, ok := s.MondayOf(2, 1)
	require.True(t, ok)
	assert.Equal(t, "2025-02-17 00:00:00", monday.In(s.Location).Format("2006-01-02 15:04:05"))

	wc, ok := s.WeekContextAt(monday)
	require.True(t, ok)
	assert.Equal(t, cadence.WeekContext{Cycle: 2, Week: 1, WeekOf: "2025-02-17"}, wc)

	_, ok = s.MondayOf(1, 7)
	assert.False(t, ok)
}
