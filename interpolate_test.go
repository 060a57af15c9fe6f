package gtfsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/model"
)

func TestParseArrival(t *testing.T) {
	for _, tc := range []struct {
		arrival string
		minutes int
		ok      bool
	}{
		{"08:00:00", 480, true},
		{"8:05:00", 485, true},
		{"00:00:59", 0, true},
		{"23:59:59", 1439, true},
		{"25:10:00", 1510, true},
		{" 12:30:15 ", 750, true},
		{"", 0, false},
		{"NULL", 0, false},
		{"garbage", 0, false},
		{"08:00", 0, false},
		{"08:60:00", 0, false},
		{"08:00:60", 0, false},
		{"08:5:00", 0, false},
		{"-1:00:00", 0, false},
		{"+1:00:00", 0, false},
		{"08:00:00:00", 0, false},
	} {
		minutes, ok := gtfsync.ParseArrival(tc.arrival)
		assert.Equal(t, tc.ok, ok, tc.arrival)
		assert.Equal(t, tc.minutes, minutes, tc.arrival)
	}
}

func TestFormatMinutesRoundTrip(t *testing.T) {
	assert.Equal(t, "00:00:00", gtfsync.FormatMinutes(0))
	assert.Equal(t, "08:05:00", gtfsync.FormatMinutes(485))
	assert.Equal(t, "25:10:00", gtfsync.FormatMinutes(1510))

	for m := 0; m < 48*60; m += 7 {
		parsed, ok := gtfsync.ParseArrival(gtfsync.FormatMinutes(m))
		assert.True(t, ok)
		assert.Equal(t, m, parsed)
	}
}

func visit(routeID, tripID string, seq uint32, arrival string) model.ScheduleRow {
	return model.ScheduleRow{
		StopTime: model.StopTime{
			StopID:       "s",
			TripID:       tripID,
			Arrival:      arrival,
			StopSequence: seq,
		},
		Trip: &model.Trip{ID: tripID, RouteID: routeID},
	}
}

func interpolatedTimes(rows []model.ScheduleRow) []string {
	times := make([]string, len(rows))
	for i, r := range rows {
		times[i] = r.InterpolatedTime
	}
	return times
}

func minutes(rows []model.ScheduleRow) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		if r.ArrivalMinutes != nil {
			out[i] = *r.ArrivalMinutes
		}
	}
	return out
}

func TestInterpolateLinearFill(t *testing.T) {
	rows := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, "01:40:00"),
		visit("R1", "T1", 2, ""),
		visit("R1", "T1", 3, "garbage"),
		visit("R1", "T1", 4, "02:10:00"),
	})

	assert.Equal(t, []any{100, 110, 120, 130}, minutes(rows))
	assert.Equal(t, []string{"01:40:00", "01:50:00", "02:00:00", "02:10:00"}, interpolatedTimes(rows))
}

func TestInterpolateLeavesOpenGaps(t *testing.T) {
	trailing := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, "01:40:00"),
		visit("R1", "T1", 2, ""),
		visit("R1", "T1", 3, ""),
	})
	assert.Equal(t, []any{100, nil, nil}, minutes(trailing))
	assert.Equal(t, []string{"01:40:00", "", ""}, interpolatedTimes(trailing))

	leading := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, ""),
		visit("R1", "T1", 2, "01:40:00"),
		visit("R1", "T1", 3, ""),
		visit("R1", "T1", 4, "02:00:00"),
	})
	assert.Equal(t, []any{nil, 100, 110, 120}, minutes(leading))

	none := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, ""),
		visit("R1", "T1", 2, ""),
	})
	assert.Equal(t, []any{nil, nil}, minutes(none))
}

func TestInterpolateOrdersByStopSequence(t *testing.T) {
	rows := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 3, ""),
		visit("R1", "T1", 4, "02:10:00"),
		visit("R1", "T1", 1, "01:40:00"),
		visit("R1", "T1", 2, ""),
	})

	// Output keeps the input order.
	assert.Equal(t, []any{120, 130, 100, 110}, minutes(rows))
	assert.Equal(t, uint32(3), rows[0].StopSequence)
}

func TestInterpolateGroupsAreIndependent(t *testing.T) {
	rows := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, "01:40:00"),
		visit("R2", "T1", 1, "05:00:00"),
		visit("R1", "T2", 1, "03:00:00"),
		visit("R1", "T1", 2, ""),
		visit("R2", "T1", 2, ""),
		visit("R1", "T2", 2, ""),
		visit("R1", "T1", 3, "02:00:00"),
		visit("R1", "T2", 3, "03:20:00"),
	})

	assert.Equal(t, []any{100, 300, 180, 110, nil, 190, 120, 200}, minutes(rows))
}

func TestInterpolateRoundsToMinute(t *testing.T) {
	rows := gtfsync.Interpolate([]model.ScheduleRow{
		visit("R1", "T1", 1, "01:40:00"),
		visit("R1", "T1", 2, ""),
		visit("R1", "T1", 3, "01:41:00"),
	})

	// 100.5 rounds away from zero
	assert.Equal(t, []any{100, 101, 101}, minutes(rows))
}

func TestInterpolateRowsWithoutTrip(t *testing.T) {
	orphan := func(seq uint32, arrival string) model.ScheduleRow {
		return model.ScheduleRow{StopTime: model.StopTime{TripID: "T9", Arrival: arrival, StopSequence: seq}}
	}

	rows := gtfsync.Interpolate([]model.ScheduleRow{
		orphan(1, "10:00:00"),
		orphan(2, ""),
		orphan(3, "10:10:00"),
	})
	assert.Equal(t, []any{600, 605, 610}, minutes(rows))
}

func TestInterpolateDoesNotModifyInput(t *testing.T) {
	stale := 5
	input := []model.ScheduleRow{
		visit("R1", "T1", 1, "01:40:00"),
		visit("R1", "T1", 2, ""),
		visit("R1", "T1", 3, "02:00:00"),
	}
	input[1].ArrivalMinutes = &stale
	input[1].InterpolatedTime = "stale"

	rows := gtfsync.Interpolate(input)
	assert.Equal(t, []any{100, 110, 120}, minutes(rows))

	assert.Nil(t, input[0].ArrivalMinutes)
	assert.Equal(t, 5, *input[1].ArrivalMinutes)
	assert.Equal(t, "stale", input[1].InterpolatedTime)
	assert.Equal(t, "", input[2].InterpolatedTime)
}
