package parse

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsync/table"
)

func TestSanitizeNullTokens(t *testing.T) {
	raw := table.New("stops", []string{"stop_id", "stop_name", "stop_lat"}, []table.Row{
		{"stop_id": "1", "stop_name": "", "stop_lat": "NULL"},
		{"stop_id": "2", "stop_name": "null", "stop_lat": math.NaN()},
	})

	clean, err := Sanitize(raw, nil)
	require.NoError(t, err)

	assert.Equal(t, []table.Row{
		{"stop_id": "1", "stop_name": nil, "stop_lat": nil},
		{"stop_id": "2", "stop_name": "null", "stop_lat": nil},
	}, clean.Rows)

	// Input is left alone
	assert.Equal(t, "", raw.Rows[0]["stop_name"])
	assert.Equal(t, "NULL", raw.Rows[0]["stop_lat"])
}

func TestSanitizeCoercesRememberedTypes(t *testing.T) {
	raw := table.New("stop_times", []string{"trip_id", "stop_sequence", "shape_dist_traveled", "note"}, []table.Row{
		{"trip_id": "T1", "stop_sequence": "1", "shape_dist_traveled": "0.0", "note": "5"},
		{"trip_id": "T1", "stop_sequence": "2", "shape_dist_traveled": "", "note": "x"},
	})

	types := table.Types{
		"stop_sequence":       table.Int,
		"shape_dist_traveled": table.Float,
		"not_in_table":        table.Int,
	}

	clean, err := Sanitize(raw, types)
	require.NoError(t, err)

	assert.Equal(t, []table.Row{
		{"trip_id": "T1", "stop_sequence": int64(1), "shape_dist_traveled": 0.0, "note": "5"},
		{"trip_id": "T1", "stop_sequence": int64(2), "shape_dist_traveled": nil, "note": "x"},
	}, clean.Rows)
	assert.Equal(t, table.Types{"stop_sequence": table.Int, "shape_dist_traveled": table.Float}, clean.Types)
}

func TestSanitizeMismatchIsPerColumn(t *testing.T) {
	raw := table.New("stops", []string{"stop_id", "stop_lat", "stop_lon"}, []table.Row{
		{"stop_id": "1", "stop_lat": "north", "stop_lon": "-111.0"},
		{"stop_id": "2", "stop_lat": "south", "stop_lon": "NULL"},
		{"stop_id": "3", "stop_lat": "45.1", "stop_lon": "-111.2"},
	})

	clean, err := Sanitize(raw, table.Types{"stop_lat": table.Float, "stop_lon": table.Float})
	require.Error(t, err)

	var mismatches SchemaMismatchErrors
	require.True(t, errors.As(err, &mismatches))
	require.Equal(t, 1, len(mismatches))
	assert.Equal(t, "stop_lat", mismatches[0].Column)
	assert.Equal(t, 2, mismatches[0].Count)
	assert.Equal(t, "north", mismatches[0].Example)
	assert.Equal(t, table.Float, mismatches[0].Expected)

	var single *SchemaMismatchError
	assert.True(t, errors.As(err, &single))

	// Offending cells are dropped, the rest of their column is
	// still converted.
	assert.Nil(t, clean.Rows[0]["stop_lat"])
	assert.Nil(t, clean.Rows[1]["stop_lat"])
	assert.Equal(t, 45.1, clean.Rows[2]["stop_lat"])
	assert.Equal(t, -111.0, clean.Rows[0]["stop_lon"])
	assert.Nil(t, clean.Rows[1]["stop_lon"])
	assert.Equal(t, table.Types{"stop_lat": table.Float, "stop_lon": table.Float}, clean.Types)

	// Input untouched
	assert.Equal(t, "north", raw.Rows[0]["stop_lat"])
}

func TestCleanRecord(t *testing.T) {
	r := table.Row{"a": "", "b": "NULL", "c": "x", "d": int64(0), "e": nil}
	assert.Equal(t, table.Row{"a": nil, "b": nil, "c": "x", "d": int64(0), "e": nil}, CleanRecord(r))
	assert.Equal(t, "", r["a"])
}
