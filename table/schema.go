package table

// Names of all tables held in the store.
const (
	Stops              = "stops"
	StopTimes          = "stop_times"
	Trips              = "trips"
	Routes             = "routes"
	CalendarAttributes = "calendar_attributes"
	Updates            = "updates"
	UpdateLog          = "update_log"
)

// Column holding the synthetic zero-based row index used as key for
// bulk replaces.
const IndexColumn = "index"

// The five GTFS tables, in the order they are synced.
var GTFSTables = []string{Stops, StopTimes, Trips, Routes, CalendarAttributes}

// Static description of a table.
type Schema struct {
	Name string

	// Primary key column.
	Key string

	// Columns an incoming table must have. These are also the
	// columns selected when loading the table. Empty for tables
	// with an open schema, in which case all columns are selected.
	Required []string

	// Declared types, used when nothing has been loaded from the
	// store yet.
	Types Types
}

var schemas = map[string]Schema{
	Stops: {
		Name:     Stops,
		Key:      "stop_id",
		Required: []string{"stop_id", "stop_name", "stop_lat", "stop_lon"},
		Types: Types{
			"stop_id":   String,
			"stop_name": String,
			"stop_lat":  Float,
			"stop_lon":  Float,
		},
	},
	StopTimes: {
		Name:     StopTimes,
		Key:      IndexColumn,
		Required: []string{"stop_id", "trip_id", "arrival_time", "stop_sequence", "shape_dist_traveled"},
		Types: Types{
			"stop_id":             String,
			"trip_id":             String,
			"arrival_time":        String,
			"stop_sequence":       Int,
			"shape_dist_traveled": Float,
			IndexColumn:           Int,
		},
	},
	Trips: {
		Name:     Trips,
		Key:      "trip_id",
		Required: []string{"route_id", "trip_id", "service_id", "trip_headsign", "direction_id", "shape_id"},
		Types: Types{
			"route_id":      String,
			"trip_id":       String,
			"service_id":    String,
			"trip_headsign": String,
			"direction_id":  Int,
			"shape_id":      String,
		},
	},
	Routes: {
		Name:     Routes,
		Key:      "route_id",
		Required: []string{"route_id", "route_long_name", "route_color"},
		Types: Types{
			"route_id":        String,
			"route_long_name": String,
			"route_color":     String,
		},
	},
	CalendarAttributes: {
		Name:  CalendarAttributes,
		Key:   "service_id",
		Types: Types{"service_id": String},
	},
	Updates: {
		Name: Updates,
		Key:  "update_id",
		Required: []string{
			"update_id",
			"table_name",
			"column_name",
			"new_value",
			"key_column",
			"key_value",
			"timestamp",
			"author",
		},
		Types: Types{
			"update_id":   String,
			"table_name":  String,
			"column_name": String,
			"new_value":   String,
			"key_column":  String,
			"key_value":   String,
			"timestamp":   String,
			"author":      String,
		},
	},
	UpdateLog: {
		Name:     UpdateLog,
		Key:      "update_id",
		Required: []string{"update_id", "timestamp"},
		Types: Types{
			"update_id": String,
			"timestamp": String,
		},
	},
}

// Looks up the schema of a table. The second return value is false
// for tables outside the fixed set.
func Lookup(name string) (Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}

// True for the five GTFS tables.
func IsGTFS(name string) bool {
	for _, t := range GTFSTables {
		if t == name {
			return true
		}
	}
	return false
}
