package gtfsync

import (
	"context"
	"fmt"

	"tidbyt.dev/gtfsync/model"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/table"
)

// Joins stop times with their stop, trip, route and calendar
// attributes. There is exactly one output row per stop time, in input
// order. Where a referenced record is missing, the corresponding
// pointer is left nil. Duplicate IDs on the right hand side resolve to
// their first occurrence.
func BuildSchedule(
	stops []model.Stop,
	stopTimes []model.StopTime,
	trips []model.Trip,
	routes []model.Route,
	calendar []model.CalendarAttributes,
) []model.ScheduleRow {

	stopByID := map[string]*model.Stop{}
	for i := range stops {
		s := stops[i]
		if _, found := stopByID[s.ID]; !found {
			stopByID[s.ID] = &s
		}
	}

	routeByID := map[string]*model.Route{}
	for i := range routes {
		r := routes[i]
		if _, found := routeByID[r.ID]; !found {
			routeByID[r.ID] = &r
		}
	}

	calendarByServiceID := map[string]*model.CalendarAttributes{}
	for i := range calendar {
		c := calendar[i]
		if _, found := calendarByServiceID[c.ServiceID]; !found {
			attrs := make(map[string]string, len(c.Attributes))
			for k, v := range c.Attributes {
				attrs[k] = v
			}
			c.Attributes = attrs
			calendarByServiceID[c.ServiceID] = &c
		}
	}

	// Trips with their route, one per trip ID.
	type tripRoute struct {
		trip  *model.Trip
		route *model.Route
	}
	routesByTrip := map[string]tripRoute{}
	for i := range trips {
		t := trips[i]
		if _, found := routesByTrip[t.ID]; found {
			continue
		}
		routesByTrip[t.ID] = tripRoute{
			trip:  &t,
			route: routeByID[t.RouteID],
		}
	}

	rows := make([]model.ScheduleRow, 0, len(stopTimes))
	for _, st := range stopTimes {
		row := model.ScheduleRow{
			StopTime: st,
			Stop:     stopByID[st.StopID],
		}

		if tr, found := routesByTrip[st.TripID]; found {
			row.Trip = tr.trip
			row.Route = tr.route
			row.Calendar = calendarByServiceID[tr.trip.ServiceID]
		}

		rows = append(rows, row)
	}

	return rows
}

// Loads the GTFS tables from storage and builds the interpolated
// schedule.
func (m *Manager) Schedule(ctx context.Context) ([]model.ScheduleRow, error) {
	tables, err := m.LoadTables(ctx)
	if err != nil {
		return nil, err
	}

	stops, err := parse.Stops(tables[table.Stops])
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}
	stopTimes, err := parse.StopTimes(tables[table.StopTimes])
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}
	trips, err := parse.Trips(tables[table.Trips])
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}
	routes, err := parse.Routes(tables[table.Routes])
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}
	calendar, err := parse.CalendarAttributes(tables[table.CalendarAttributes])
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}

	rows := Interpolate(BuildSchedule(stops, stopTimes, trips, routes, calendar))

	m.Logger.Info("built schedule", "rows", len(rows))

	return rows, nil
}

// Schedule rows partitioned by bus line, i.e. route long name.
type BusLines struct {
	names []string
	rows  map[string][]model.ScheduleRow
}

// Partitions rows by the long name of their route. Lines are ordered
// by first appearance, rows keep their relative order. Rows with no
// route belong to no line.
func ByBusLine(rows []model.ScheduleRow) *BusLines {
	b := &BusLines{
		names: []string{},
		rows:  map[string][]model.ScheduleRow{},
	}

	for _, r := range rows {
		if r.Route == nil {
			continue
		}
		name := r.Route.LongName
		if _, found := b.rows[name]; !found {
			b.names = append(b.names, name)
		}
		b.rows[name] = append(b.rows[name], r)
	}

	return b
}

// Distinct line names.
func (b *BusLines) Names() []string {
	return append([]string{}, b.names...)
}

// Rows of a line, nil for unknown lines.
func (b *BusLines) Rows(line string) []model.ScheduleRow {
	return b.rows[line]
}

// Distinct stops served by a line, in order of first appearance.
func (b *BusLines) Stops(line string) []model.Stop {
	return distinctStops(b.rows[line])
}

func distinctStops(rows []model.ScheduleRow) []model.Stop {
	seen := map[string]bool{}
	stops := []model.Stop{}
	for _, r := range rows {
		if r.Stop == nil || seen[r.Stop.ID] {
			continue
		}
		seen[r.Stop.ID] = true
		stops = append(stops, *r.Stop)
	}
	return stops
}
