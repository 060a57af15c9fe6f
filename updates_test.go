package gtfsync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
	"tidbyt.dev/gtfsync/testutil"
)

func stopsByID(t *testing.T, s storage.Storage) map[string]table.Row {
	rows, err := s.Select(context.Background(), table.Stops, stopColumns)
	require.NoError(t, err)
	byID := map[string]table.Row{}
	for _, r := range rows {
		byID[r.String("stop_id")] = r
	}
	return byID
}

func TestRecordUpdateAndPropagate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage) {
		ctx := context.Background()
		m := newManager(s)

		_, err := m.Upload(ctx, feedTables(t, testutil.TwoLineFeed()))
		require.NoError(t, err)

		u1, err := m.RecordUpdate(ctx, gtfsync.Edit{
			Table:     table.Stops,
			Column:    "stop_name",
			Value:     "Main Street",
			KeyColumn: "stop_id",
			KeyValue:  "1",
			Author:    "alice",
		})
		require.NoError(t, err)
		id, err := uuid.Parse(u1.UpdateID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
		assert.Equal(t, "alice", u1.Author)
		assert.False(t, u1.Timestamp.IsZero())

		u2, err := m.RecordUpdate(ctx, gtfsync.Edit{
			Table:     table.Stops,
			Column:    "stop_lat",
			Value:     "46.5",
			KeyColumn: "stop_id",
			KeyValue:  "2",
			Author:    "bob",
		})
		require.NoError(t, err)

		// Applied immediately
		stops := stopsByID(t, s)
		assert.Equal(t, "Main Street", stops["1"]["stop_name"])
		assert.Equal(t, 45.0, stops["1"]["stop_lat"])
		assert.Equal(t, "College Ave", stops["2"]["stop_name"])
		assert.Equal(t, 46.5, stops["2"]["stop_lat"])

		pending, err := s.Select(ctx, table.Updates, []string{"update_id", "table_name", "column_name", "new_value", "author"})
		require.NoError(t, err)
		assert.Equal(t, []table.Row{
			{"update_id": u1.UpdateID, "table_name": "stops", "column_name": "stop_name", "new_value": "Main Street", "author": "alice"},
			{"update_id": u2.UpdateID, "table_name": "stops", "column_name": "stop_lat", "new_value": "46.5", "author": "bob"},
		}, pending)

		res, err := m.Propagate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Pending)
		assert.Equal(t, 2, res.Applied)
		assert.Equal(t, 2, res.RowsUpdated)

		pending, err = s.Select(ctx, table.Updates, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, len(pending))

		log, err := m.UpdateLog(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, len(log))
		assert.Equal(t, u1.UpdateID, log[0].UpdateID)
		assert.Equal(t, u2.UpdateID, log[1].UpdateID)

		// Re-application left values as they were
		assert.Equal(t, stops, stopsByID(t, s))

		// Log grows by exactly what was pending
		_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Routes, Column: "route_color", Value: "000000"})
		require.NoError(t, err)
		res, err = m.Propagate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Applied)
		log, err = m.UpdateLog(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, len(log))
	})
}

func TestRecordUpdateWholeColumn(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	m := newManager(s)

	_, err := m.Upload(ctx, feedTables(t, testutil.TwoLineFeed()))
	require.NoError(t, err)

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Routes, Column: "route_color", Value: "FFFFFF"})
	require.NoError(t, err)

	rows, err := s.Select(ctx, table.Routes, []string{"route_id", "route_color"})
	require.NoError(t, err)
	assert.Equal(t, []table.Row{
		{"route_id": "R1", "route_color": "FFFFFF"},
		{"route_id": "R2", "route_color": "FFFFFF"},
	}, rows)

	// Clearing a value
	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Routes, Column: "route_color", Value: "NULL", KeyColumn: "route_id", KeyValue: "R2"})
	require.NoError(t, err)
	rows, err = s.Select(ctx, table.Routes, []string{"route_id", "route_color"})
	require.NoError(t, err)
	assert.Nil(t, rows[1]["route_color"])
}

func TestRecordUpdateRejected(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	m := newManager(s)

	_, err := m.Upload(ctx, feedTables(t, testutil.MainStreetFeed()))
	require.NoError(t, err)

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: "shapes", Column: "shape_id", Value: "x"})
	var unknown *gtfsync.UnknownTableError
	assert.True(t, errors.As(err, &unknown))

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Updates, Column: "author", Value: "x"})
	assert.True(t, errors.As(err, &unknown))

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Stops, Value: "x"})
	assert.Error(t, err)

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Stops, Column: "stop_name", Value: "x", KeyColumn: "stop_id"})
	assert.Error(t, err)

	_, err = m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Stops, Column: "stop_lat", Value: "north"})
	var mismatch *parse.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "stop_lat", mismatch.Column)

	pending, err := s.Select(ctx, table.Updates, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, len(pending))

	assert.Equal(t, 45.0, stopsByID(t, s)["1"]["stop_lat"])
}

func TestPropagateStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	fs := &testutil.FailingStorage{Storage: storage.NewMemoryStorage()}
	m := newManager(fs)

	_, err := m.Upload(ctx, feedTables(t, testutil.TwoLineFeed()))
	require.NoError(t, err)

	u1, err := m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Stops, Column: "stop_name", Value: "A", KeyColumn: "stop_id", KeyValue: "1"})
	require.NoError(t, err)
	u2, err := m.RecordUpdate(ctx, gtfsync.Edit{Table: table.Stops, Column: "stop_name", Value: "B", KeyColumn: "stop_id", KeyValue: "2"})
	require.NoError(t, err)

	// Updates 1 and 2 were the immediate applies. Propagate's
	// first apply goes through, the second fails.
	fs.FailUpdateAt = 4

	res, err := m.Propagate(ctx)
	assert.True(t, errors.Is(err, testutil.ErrInjected))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Pending)
	assert.Equal(t, 1, res.Applied)

	log, err := m.UpdateLog(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(log))
	assert.Equal(t, u1.UpdateID, log[0].UpdateID)

	pending, err := fs.Select(ctx, table.Updates, []string{"update_id"})
	require.NoError(t, err)
	assert.Equal(t, []table.Row{{"update_id": u2.UpdateID}}, pending)

	// Next run picks up the rest
	res, err = m.Propagate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	log, err = m.UpdateLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, len(log))
}

func TestPropagateNothingPending(t *testing.T) {
	m := newManager(storage.NewMemoryStorage())

	res, err := m.Propagate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &gtfsync.PropagateResult{}, res)
}
