package parse

import (
	"archive/zip"
	"bytes"
	"fmt"

	"tidbyt.dev/gtfsync/table"
)

// Reads the GTFS tables found in a zip archive. Files for tables
// outside the fixed set are ignored, as are directories. Tables may
// be missing; use MissingTables to check.
func ReadArchive(buf []byte) (map[string]table.Table, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	tables := map[string]table.Table{}
	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}

		name, ok := TableName(f.Name)
		if !ok || !table.IsGTFS(name) {
			continue
		}
		if _, found := tables[name]; found {
			return nil, fmt.Errorf("multiple files for %s", name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		t, err := ReadTable(name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		tables[name] = t
	}

	return tables, nil
}
