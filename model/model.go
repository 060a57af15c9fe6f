package model

import (
	"time"
)

// Holds all external facing types.

type Stop struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

type StopTime struct {
	StopID            string
	TripID            string
	Arrival           string
	StopSequence      uint32
	ShapeDistTraveled float64
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID int8
	ShapeID     string
}

type Route struct {
	ID       string
	LongName string
	Color    string
}

// Service day metadata. Only service_id is fixed, everything else is
// kept as is.
type CalendarAttributes struct {
	ServiceID  string
	Attributes map[string]string
}

// A single stop visit, joined with its stop, trip, route and
// calendar. Pointers are nil where no matching record exists.
type ScheduleRow struct {
	StopTime

	Stop     *Stop
	Trip     *Trip
	Route    *Route
	Calendar *CalendarAttributes

	// Arrival in minutes after midnight of the service day. Nil
	// when unknown, including after interpolation.
	ArrivalMinutes *int

	// Arrival as "HH:MM:00", or "" when unknown.
	InterpolatedTime string
}

// Route ID of the row's trip, "" if the trip is unknown.
func (r *ScheduleRow) RouteID() string {
	if r.Trip == nil {
		return ""
	}
	return r.Trip.RouteID
}

// Long name of the row's route, "" if the route is unknown.
func (r *ScheduleRow) RouteLongName() string {
	if r.Route == nil {
		return ""
	}
	return r.Route.LongName
}

// An edit waiting to be propagated. Values are always full
// overwrites of a column, never deltas, so applying one twice is
// harmless.
type PendingUpdate struct {
	UpdateID string
	Table    string
	Column   string
	Value    string

	// Selects the rows to overwrite. When KeyColumn is empty,
	// every row of the table is overwritten.
	KeyColumn string
	KeyValue  string

	Timestamp time.Time
	Author    string
}

// Record of an applied PendingUpdate.
type UpdateLogEntry struct {
	UpdateID  string
	Timestamp time.Time
}
