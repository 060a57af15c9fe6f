package gtfsync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tidbyt.dev/gtfsync/model"
	"tidbyt.dev/gtfsync/table"
)

func TestOrderColumns(t *testing.T) {
	for _, tc := range []struct {
		table    string
		rows     []table.Row
		expected []string
	}{
		{
			table.Stops,
			nil,
			[]string{"stop_id", "stop_name", "stop_lat", "stop_lon"},
		},
		{
			table.Stops,
			[]table.Row{{"zone_id": "z", "stop_id": "1", "parent_station": nil}},
			[]string{"stop_id", "stop_name", "stop_lat", "stop_lon", "parent_station", "zone_id"},
		},
		{
			table.StopTimes,
			[]table.Row{{"index": int64(0), "pickup_type": int64(0)}},
			[]string{"stop_id", "trip_id", "arrival_time", "stop_sequence", "shape_dist_traveled", "index", "pickup_type"},
		},
		{
			table.CalendarAttributes,
			[]table.Row{{"service_description": "x"}, {"monday": "1"}},
			[]string{"service_id", "monday", "service_description"},
		},
	} {
		schema, _ := table.Lookup(tc.table)
		assert.Equal(t, tc.expected, orderColumns(schema, tc.rows))
	}
}

func TestFillGaps(t *testing.T) {
	m := func(v int) *int { return &v }
	rows := []model.ScheduleRow{
		{ArrivalMinutes: m(0)},
		{},
		{},
		{},
		{ArrivalMinutes: m(10)},
		{},
	}

	// Fill in reverse order of the slice
	fillGaps(rows, []int{5, 4, 3, 2, 1, 0})

	got := []any{}
	for _, r := range rows {
		if r.ArrivalMinutes == nil {
			got = append(got, nil)
		} else {
			got = append(got, *r.ArrivalMinutes)
		}
	}
	assert.Equal(t, []any{0, 3, 5, 8, 10, nil}, got)
}
