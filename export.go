package gtfsync

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/tidwall/geojson"
	"github.com/tidwall/geojson/geometry"
	"github.com/tidwall/sjson"

	"tidbyt.dev/gtfsync/model"
	"tidbyt.dev/gtfsync/table"
)

// File format of exported tables. Both are comma delimited; only the
// file extension differs.
type Format string

const (
	FormatCSV Format = "csv"
	FormatTXT Format = "txt"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatTXT:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv or txt)", s)
}

func (f Format) String() string {
	return string(f)
}

// Writes the GTFS tables as a zip archive, one "<table>.<format>" file
// per table. Tables missing from the map are written with just a
// header of their required columns.
func WriteArchive(w io.Writer, tables map[string]table.Table, format Format) error {
	if _, err := ParseFormat(string(format)); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, name := range table.GTFSTables {
		t, ok := tables[name]
		if !ok {
			schema, _ := table.Lookup(name)
			t = table.New(name, schema.Required, nil)
		}
		if len(t.Columns) == 0 {
			schema, _ := table.Lookup(name)
			t.Columns = schema.Required
		}

		f, err := zw.Create(name + "." + string(format))
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		if err := writeTable(f, t); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}

	return nil
}

func writeTable(w io.Writer, t table.Table) error {
	cw := gocsv.NewSafeCSVWriter(csv.NewWriter(w))

	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, r := range t.Rows {
		record := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			record[i] = table.Format(r[c])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Writes every stored GTFS table, with all its columns, to an
// archive.
func (m *Manager) Export(ctx context.Context, w io.Writer, format Format) error {
	tables := map[string]table.Table{}
	for _, name := range table.GTFSTables {
		schema, _ := table.Lookup(name)
		t, err := m.load(ctx, schema, true)
		if err != nil {
			return err
		}
		tables[name] = t
	}

	if err := WriteArchive(w, tables, format); err != nil {
		return fmt.Errorf("exporting: %w", err)
	}

	m.Logger.Info("exported tables", "format", format.String())

	return nil
}

// Renders the distinct stops of schedule rows as a GeoJSON
// FeatureCollection of points. Each feature carries the stop's id and
// name, and the resolved arrival times at the stop.
func StopsGeoJSON(rows []model.ScheduleRow) (string, error) {
	times := map[string][]string{}
	for _, r := range rows {
		if r.Stop == nil || r.InterpolatedTime == "" {
			continue
		}
		times[r.Stop.ID] = append(times[r.Stop.ID], r.InterpolatedTime)
	}

	fc := `{"type":"FeatureCollection","features":[]}`
	for _, s := range distinctStops(rows) {
		point := geojson.NewPoint(geometry.Point{X: s.Lon, Y: s.Lat})

		feature, err := sjson.SetRaw(`{"type":"Feature"}`, "geometry", point.JSON())
		if err != nil {
			return "", fmt.Errorf("stop %s: %w", s.ID, err)
		}
		feature, err = sjson.Set(feature, "properties.stop_id", s.ID)
		if err != nil {
			return "", fmt.Errorf("stop %s: %w", s.ID, err)
		}
		feature, err = sjson.Set(feature, "properties.stop_name", s.Name)
		if err != nil {
			return "", fmt.Errorf("stop %s: %w", s.ID, err)
		}
		arrivals := times[s.ID]
		if arrivals == nil {
			arrivals = []string{}
		}
		feature, err = sjson.Set(feature, "properties.interpolated_time", arrivals)
		if err != nil {
			return "", fmt.Errorf("stop %s: %w", s.ID, err)
		}

		fc, err = sjson.SetRaw(fc, "features.-1", feature)
		if err != nil {
			return "", fmt.Errorf("stop %s: %w", s.ID, err)
		}
	}

	if _, err := geojson.Parse(fc, geojson.DefaultParseOptions); err != nil {
		return "", fmt.Errorf("invalid feature collection: %w", err)
	}

	return fc, nil
}
