package gtfsync_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
	"tidbyt.dev/gtfsync/testutil"
)

type MockGTFSServer struct {
	Feeds    map[string][]byte
	Requests []string
	Server   *httptest.Server
}

func (m *MockGTFSServer) handler(w http.ResponseWriter, r *http.Request) {
	m.Requests = append(m.Requests, r.URL.Path)
	if feed, found := m.Feeds[r.URL.Path]; found {
		w.Write(feed)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
}

func managerFixture() *MockGTFSServer {
	m := &MockGTFSServer{
		Feeds:    map[string][]byte{},
		Requests: []string{},
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))

	return m
}

func TestLoadTablesEmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage) {
		m := newManager(s)

		tables, err := m.LoadTables(context.Background())
		require.NoError(t, err)
		require.Equal(t, 5, len(tables))

		for _, name := range table.GTFSTables {
			assert.Equal(t, 0, tables[name].Len(), name)
			assert.Equal(t, name, tables[name].Name)
		}
		assert.Equal(t, stopColumns, tables[table.Stops].Columns)
		assert.Equal(t, []string{"service_id"}, tables[table.CalendarAttributes].Columns)

		// Declared types until something is stored
		assert.Equal(t, table.Float, m.Types(table.Stops)["stop_lat"])
		assert.Equal(t, table.Int, m.Types(table.StopTimes)["stop_sequence"])
	})
}

func TestLoadTables(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		m := newManager(s)

		_, err := m.Upload(ctx, feedTables(t, testutil.TwoLineFeed()))
		require.NoError(t, err)

		// A fresh manager learns types from the store
		fresh := newManager(s)
		tables, err := fresh.LoadTables(ctx, table.Stops, table.CalendarAttributes)
		require.NoError(t, err)
		require.Equal(t, 2, len(tables))

		stops := tables[table.Stops]
		assert.Equal(t, 4, stops.Len())
		assert.Equal(t, "Main St", stops.Rows[0]["stop_name"])
		assert.Equal(t, 45.0, stops.Rows[0]["stop_lat"])
		assert.Equal(t, table.Float, stops.Types["stop_lat"])
		assert.Equal(t, table.Float, fresh.Types(table.Stops)["stop_lat"])

		cal := tables[table.CalendarAttributes]
		assert.Equal(t, []string{"service_id", "service_description"}, cal.Columns)
		assert.Equal(t, "Weekends", cal.Rows[1]["service_description"])
		assert.Equal(t, table.String, fresh.Types(table.CalendarAttributes)["service_description"])

		_, err = fresh.LoadTables(ctx, "shapes")
		var unknown *gtfsync.UnknownTableError
		assert.True(t, errors.As(err, &unknown))
	})
}

func TestFetch(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()
	server.Feeds["/feed.zip"] = testutil.BuildZip(t, testutil.MainStreetFeed())
	server.Feeds["/partial.zip"] = testutil.BuildZip(t, map[string][]string{
		"stops.txt": {"stop_id,stop_name,stop_lat,stop_lon", "1,Main St,45.0,-111.0"},
	})
	server.Feeds["/garbage.zip"] = []byte("not a zip")

	m := newManager(storage.NewMemoryStorage())

	tables, err := m.Fetch(context.Background(), server.Server.URL+"/feed.zip", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, len(tables))
	assert.Equal(t, "Main St", tables[table.Stops].Rows[0]["stop_name"])

	tables, err = m.Fetch(context.Background(), server.Server.URL+"/partial.zip", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, len(tables))

	_, err = m.Fetch(context.Background(), server.Server.URL+"/garbage.zip", nil)
	assert.Error(t, err)

	_, err = m.Fetch(context.Background(), server.Server.URL+"/missing.zip", nil)
	assert.Error(t, err)

	// No caching by default
	_, err = m.Fetch(context.Background(), server.Server.URL+"/feed.zip", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/feed.zip",
		"/partial.zip",
		"/garbage.zip",
		"/missing.zip",
		"/feed.zip",
	}, server.Requests)
}

func TestFetchCached(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()
	server.Feeds["/feed.zip"] = testutil.BuildZip(t, testutil.MainStreetFeed())

	m := newManager(storage.NewMemoryStorage())
	m.SourceCacheTTL = time.Hour

	for i := 0; i < 3; i++ {
		_, err := m.Fetch(context.Background(), server.Server.URL+"/feed.zip", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/feed.zip"}, server.Requests)
}

func TestFetchAndUpload(t *testing.T) {
	server := managerFixture()
	defer server.Server.Close()
	server.Feeds["/feed.zip"] = testutil.BuildZip(t, testutil.TwoLineFeed())

	ctx := context.Background()
	m := newManager(storage.NewMemoryStorage())

	tables, err := m.Fetch(ctx, server.Server.URL+"/feed.zip", nil)
	require.NoError(t, err)
	_, err = m.Upload(ctx, tables)
	require.NoError(t, err)

	rows, err := m.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, len(rows))
}
