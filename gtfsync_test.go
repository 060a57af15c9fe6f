package gtfsync_test

// Helpers for tests in this package.
//
// Tests taking a storage run against every backend in
// testutil.Backends().

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
	"tidbyt.dev/gtfsync/testutil"
)

func forEachBackend(t *testing.T, test func(t *testing.T, s storage.Storage)) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			test(t, testutil.BuildStorage(t, backend))
		})
	}
}

func newManager(s storage.Storage) *gtfsync.Manager {
	m := gtfsync.NewManager(s)
	m.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return m
}

// Reads feed files the way an upload would.
func feedTables(t testing.TB, files map[string][]string) map[string]table.Table {
	tables, err := parse.ReadArchive(testutil.BuildZip(t, files))
	require.NoError(t, err)
	return tables
}
