package parse

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"tidbyt.dev/gtfsync/table"
)

// Reads a comma separated file with a header row into a table. All
// cells are kept as strings, exactly as found. Null tokens are left
// for Sanitize to deal with.
func ReadTable(name string, data io.Reader) (table.Table, error) {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	reader := gocsv.LazyCSVReader(bom.NewReader(data))

	records, err := reader.ReadAll()
	if err != nil {
		return table.Table{}, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(records) == 0 {
		return table.Table{}, fmt.Errorf("reading %s: missing header", name)
	}

	columns := make([]string, len(records[0]))
	seen := map[string]bool{}
	for i, c := range records[0] {
		c = strings.TrimSpace(c)
		if c == "" {
			return table.Table{}, fmt.Errorf("reading %s: empty column name at position %d", name, i)
		}
		if seen[c] {
			return table.Table{}, fmt.Errorf("reading %s: repeated column '%s'", name, c)
		}
		seen[c] = true
		columns[i] = c
	}

	rows := make([]table.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		r := make(table.Row, len(columns))
		for i, c := range columns {
			r[c] = record[i]
		}
		rows = append(rows, r)
	}

	return table.New(name, columns, rows), nil
}

// Maps a file name like "stops.txt" or "dir/stops.csv" to its table
// name. The second return value is false for other extensions.
func TableName(filename string) (string, bool) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	if ext != ".txt" && ext != ".csv" {
		return "", false
	}
	name := base[:len(base)-len(ext)]
	if name == "" {
		return "", false
	}
	return name, true
}

// Lists the GTFS tables not present in tables.
func MissingTables(tables map[string]table.Table) []string {
	missing := []string{}
	for _, name := range table.GTFSTables {
		if _, found := tables[name]; !found {
			missing = append(missing, name)
		}
	}
	return missing
}
