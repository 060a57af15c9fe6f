package parse

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfsync/model"
	"tidbyt.dev/gtfsync/table"
)

// Numeric columns are read as text and converted row by row. A cell
// that doesn't hold a number decodes as absent, i.e. zero, so that
// one bad cell doesn't cost the rest of the table.

type StopCSV struct {
	ID   string `csv:"stop_id"`
	Name string `csv:"stop_name"`
	Lat  string `csv:"stop_lat"`
	Lon  string `csv:"stop_lon"`
}

type StopTimeCSV struct {
	StopID            string `csv:"stop_id"`
	TripID            string `csv:"trip_id"`
	ArrivalTime       string `csv:"arrival_time"`
	StopSequence      string `csv:"stop_sequence"`
	ShapeDistTraveled string `csv:"shape_dist_traveled"`
}

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	DirectionID string `csv:"direction_id"`
	ShapeID     string `csv:"shape_id"`
}

type RouteCSV struct {
	ID       string `csv:"route_id"`
	LongName string `csv:"route_long_name"`
	Color    string `csv:"route_color"`
}

// Feeds a table to gocsv as if it was a CSV file: header first, then
// one record per row. Absent cells read as "", which gocsv decodes
// into zero values.
type tableReader struct {
	t    table.Table
	next int
}

func newTableReader(t table.Table) *tableReader {
	return &tableReader{t: t, next: -1}
}

func (r *tableReader) Read() ([]string, error) {
	if r.next == -1 {
		r.next = 0
		return append([]string{}, r.t.Columns...), nil
	}
	if r.next >= len(r.t.Rows) {
		return nil, io.EOF
	}

	row := r.t.Rows[r.next]
	r.next++

	record := make([]string, len(r.t.Columns))
	for i, c := range r.t.Columns {
		record[i] = table.Format(CleanValue(row[c]))
	}
	return record, nil
}

func (r *tableReader) ReadAll() ([][]string, error) {
	records := [][]string{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Whole numbers only, though "3.0" is accepted as 3.
func parseInt(s string, bits int) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, bits); err == nil {
		return i
	}
	f := parseFloat(s)
	if f != math.Trunc(f) {
		return 0
	}
	if i, err := strconv.ParseInt(strconv.FormatFloat(f, 'f', -1, 64), 10, bits); err == nil {
		return i
	}
	return 0
}

func parseUint(s string, bits int) uint64 {
	i := parseInt(s, 64)
	if i < 0 || (bits < 64 && i >= 1<<bits) {
		return 0
	}
	return uint64(i)
}

func Stops(t table.Table) ([]model.Stop, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.UnmarshalCSV(newTableReader(t), &stopCsv); err != nil {
		return nil, errors.Wrap(err, "decoding stops")
	}

	stops := make([]model.Stop, 0, len(stopCsv))
	for _, s := range stopCsv {
		stops = append(stops, model.Stop{
			ID:   s.ID,
			Name: s.Name,
			Lat:  parseFloat(s.Lat),
			Lon:  parseFloat(s.Lon),
		})
	}

	return stops, nil
}

func StopTimes(t table.Table) ([]model.StopTime, error) {
	stCsv := []*StopTimeCSV{}
	if err := gocsv.UnmarshalCSV(newTableReader(t), &stCsv); err != nil {
		return nil, errors.Wrap(err, "decoding stop_times")
	}

	stopTimes := make([]model.StopTime, 0, len(stCsv))
	for _, st := range stCsv {
		stopTimes = append(stopTimes, model.StopTime{
			StopID:            st.StopID,
			TripID:            st.TripID,
			Arrival:           st.ArrivalTime,
			StopSequence:      uint32(parseUint(st.StopSequence, 32)),
			ShapeDistTraveled: parseFloat(st.ShapeDistTraveled),
		})
	}

	return stopTimes, nil
}

func Trips(t table.Table) ([]model.Trip, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.UnmarshalCSV(newTableReader(t), &tripCsv); err != nil {
		return nil, errors.Wrap(err, "decoding trips")
	}

	trips := make([]model.Trip, 0, len(tripCsv))
	for _, tr := range tripCsv {
		trips = append(trips, model.Trip{
			ID:          tr.ID,
			RouteID:     tr.RouteID,
			ServiceID:   tr.ServiceID,
			Headsign:    tr.Headsign,
			DirectionID: int8(parseInt(tr.DirectionID, 8)),
			ShapeID:     tr.ShapeID,
		})
	}

	return trips, nil
}

func Routes(t table.Table) ([]model.Route, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.UnmarshalCSV(newTableReader(t), &routeCsv); err != nil {
		return nil, errors.Wrap(err, "decoding routes")
	}

	routes := make([]model.Route, 0, len(routeCsv))
	for _, r := range routeCsv {
		routes = append(routes, model.Route{
			ID:       r.ID,
			LongName: r.LongName,
			Color:    r.Color,
		})
	}

	return routes, nil
}

// Calendar attributes have an open schema, so these are decoded by
// hand: service_id plus every other column (but the synthetic index)
// as a string.
func CalendarAttributes(t table.Table) ([]model.CalendarAttributes, error) {
	if len(t.Rows) > 0 && !t.HasColumn("service_id") {
		return nil, errors.Errorf("decoding %s: missing service_id", t.Name)
	}

	cals := make([]model.CalendarAttributes, 0, len(t.Rows))
	for i, r := range t.Rows {
		serviceID := table.Format(CleanValue(r["service_id"]))
		if serviceID == "" {
			return nil, errors.Errorf("decoding %s: empty service_id (row %d)", t.Name, i+1)
		}

		attrs := map[string]string{}
		for _, c := range t.Columns {
			if c == "service_id" || c == table.IndexColumn {
				continue
			}
			if v := CleanValue(r[c]); v != nil {
				attrs[c] = table.Format(v)
			}
		}

		cals = append(cals, model.CalendarAttributes{
			ServiceID:  serviceID,
			Attributes: attrs,
		})
	}

	return cals, nil
}
