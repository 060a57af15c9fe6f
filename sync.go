package gtfsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
)

type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table '%s'", e.Table)
}

func (e *UnknownTableError) Unwrap() error {
	return storage.ErrUnknownTable
}

// An incoming table lacks required columns. Nothing was written.
type SchemaViolationError struct {
	Table    string
	Expected []string
	Actual   []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf(
		"%s: missing required columns [%s] (expected [%s], got [%s])",
		e.Table,
		strings.Join(e.Missing(), ", "),
		strings.Join(e.Expected, ", "),
		strings.Join(e.Actual, ", "),
	)
}

// Expected columns not found among the actual ones.
func (e *SchemaViolationError) Missing() []string {
	return table.New(e.Table, e.Actual, nil).Missing(e.Expected)
}

type SyncStage string

const (
	StageDelete SyncStage = "delete"
	StageInsert SyncStage = "insert"
)

// The store rejected a step of a table replace, or the replace was
// cancelled between two batches. The table is left partially
// replaced: old rows are gone and only the first Committed batches of
// new rows are present.
type SyncFailureError struct {
	Table string
	Stage SyncStage

	// Zero-based index of the batch that failed. -1 when the
	// delete failed.
	Batch int

	// Number of batches durably inserted.
	Committed int

	Err error
}

func (e *SyncFailureError) Error() string {
	if e.Stage == StageDelete {
		return fmt.Sprintf("%s: deleting existing rows: %v", e.Table, e.Err)
	}
	return fmt.Sprintf(
		"%s: inserting batch %d (%d committed): %v",
		e.Table, e.Batch, e.Committed, e.Err,
	)
}

func (e *SyncFailureError) Unwrap() error {
	return e.Err
}

// Index of the last batch known to be in the store, or -1 if there
// is none. A retry can resume from the batch after it.
func (e *SyncFailureError) LastCommittedBatch() int {
	return e.Committed - 1
}

type SyncResult struct {
	Table string

	// Key the rows were written under.
	Key string

	Rows    int
	Batches int

	// Rows removed before inserting.
	Deleted int

	// True if rows were given a synthetic index column.
	SyntheticKey bool
}

// Replaces the contents of a table in storage with t.
//
// The table must be one of the five GTFS tables, t must have all its
// required columns, and every cell must convert to the type the
// manager holds for its column (see Types). Cells are stored
// converted. When any of this fails, nothing is written. Run t through PrepareUpload to drop offending
// cells instead.
//
// All stored rows are deleted, then t's rows are inserted in batches
// of BatchSize. Tables with more than SyncThreshold rows (and
// stop_times, always) get a zero-based index column which is used as
// key in place of the declared one.
//
// A batch in flight always completes. Cancelling ctx stops the
// replace at the next batch boundary.
func (m *Manager) SyncTable(ctx context.Context, name string, t table.Table) (*SyncResult, error) {
	schema, ok := table.Lookup(name)
	if !ok || !table.IsGTFS(name) {
		return nil, &UnknownTableError{Table: name}
	}

	if missing := t.Missing(schema.Required); len(missing) > 0 {
		return nil, &SchemaViolationError{
			Table:    name,
			Expected: append([]string{}, schema.Required...),
			Actual:   append([]string{}, t.Columns...),
		}
	}

	// A cell the store can't hold in its column's type would fail
	// an insert after the old rows are gone.
	t, err := parse.Sanitize(t, m.Types(name))
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	columns := append([]string{}, t.Columns...)
	rows := make([]table.Row, len(t.Rows))
	key := schema.Key
	synthetic := key == table.IndexColumn || len(t.Rows) > m.SyncThreshold
	if synthetic {
		key = table.IndexColumn
		if !t.HasColumn(table.IndexColumn) {
			columns = append(columns, table.IndexColumn)
		}
	}
	for i, r := range t.Rows {
		rows[i] = parse.CleanRecord(r)
		if synthetic {
			rows[i][table.IndexColumn] = int64(i)
		}
	}

	// Store calls run to completion even if ctx is cancelled
	// while they're in flight.
	storeCtx := context.WithoutCancel(ctx)

	deleted, err := m.storage.Delete(storeCtx, name, storage.MatchAll(key))
	if err != nil {
		return nil, &SyncFailureError{
			Table: name,
			Stage: StageDelete,
			Batch: -1,
			Err:   err,
		}
	}

	batchSize := m.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batches := 0
	for start := 0; start < len(rows); start += batchSize {
		if batches > 0 {
			if err := ctx.Err(); err != nil {
				return nil, &SyncFailureError{
					Table:     name,
					Stage:     StageInsert,
					Batch:     batches,
					Committed: batches,
					Err:       err,
				}
			}
		}

		end := min(start+batchSize, len(rows))
		if err := m.storage.Insert(storeCtx, name, rows[start:end]); err != nil {
			return nil, &SyncFailureError{
				Table:     name,
				Stage:     StageInsert,
				Batch:     batches,
				Committed: batches,
				Err:       err,
			}
		}
		batches++

		m.Logger.Debug("inserted batch", "table", name, "batch", batches-1, "rows", end-start)
	}

	m.remember(name, m.Types(name).Merge(table.InferTypes(columns, rows)))

	m.Logger.Info(
		"synced table",
		"table", name,
		"key", key,
		"deleted", deleted,
		"rows", len(rows),
		"batches", batches,
	)

	return &SyncResult{
		Table:        name,
		Key:          key,
		Rows:         len(rows),
		Batches:      batches,
		Deleted:      deleted,
		SyntheticKey: synthetic,
	}, nil
}

// Syncs each of the given tables, in the fixed GTFS table order. A
// failure only affects its own table: the others are still synced,
// and all failures are returned together.
func (m *Manager) SyncFiles(ctx context.Context, tables map[string]table.Table) (map[string]*SyncResult, error) {
	results := map[string]*SyncResult{}
	errs := []error{}

	for name := range tables {
		if !table.IsGTFS(name) {
			errs = append(errs, &UnknownTableError{Table: name})
		}
	}

	for _, name := range table.GTFSTables {
		t, ok := tables[name]
		if !ok {
			continue
		}

		res, err := m.SyncTable(ctx, name, t)
		if err != nil {
			m.Logger.Error("sync failed", "table", name, "error", err)
			errs = append(errs, fmt.Errorf("syncing %s: %w", name, err))
			continue
		}
		results[name] = res
	}

	return results, errors.Join(errs...)
}
