package gtfsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tidbyt.dev/gtfsync/model"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
)

// A field level edit of a GTFS table.
type Edit struct {
	Table  string
	Column string

	// New value of the column, in string form. "" and "NULL"
	// clear it.
	Value string

	// Restricts the edit to rows where KeyColumn holds
	// KeyValue. With no KeyColumn, the column is overwritten in
	// every row.
	KeyColumn string
	KeyValue  string

	Author string
}

type PropagateResult struct {
	// Pending updates found in the log.
	Pending int

	// Updates applied and moved to the update log.
	Applied int

	// Rows changed by the applied updates.
	RowsUpdated int
}

// Records an edit in the pending update log and applies it to its
// table straight away.
//
// The edit stays in the log until Propagate runs, which applies it a
// second time. Edits always overwrite the full value of a column, so
// the second application is harmless.
func (m *Manager) RecordUpdate(ctx context.Context, e Edit) (*model.PendingUpdate, error) {
	if !table.IsGTFS(e.Table) {
		return nil, &UnknownTableError{Table: e.Table}
	}
	if e.Column == "" {
		return nil, fmt.Errorf("edit of %s names no column", e.Table)
	}
	if e.KeyColumn != "" && e.KeyValue == "" {
		return nil, fmt.Errorf("edit of %s.%s: key column %s has no value", e.Table, e.Column, e.KeyColumn)
	}

	id, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("generating update id: %w", err)
	}

	u := model.PendingUpdate{
		UpdateID:  id.String(),
		Table:     e.Table,
		Column:    e.Column,
		Value:     e.Value,
		KeyColumn: e.KeyColumn,
		KeyValue:  e.KeyValue,
		Timestamp: m.timeNow().UTC(),
		Author:    e.Author,
	}

	// Values that can't be stored are refused before anything is
	// logged.
	if _, _, err := m.updateValues(u); err != nil {
		return nil, err
	}

	err = m.storage.Insert(ctx, table.Updates, []table.Row{pendingRow(u)})
	if err != nil {
		return nil, fmt.Errorf("logging update: %w", err)
	}

	n, err := m.apply(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("applying update %s: %w", u.UpdateID, err)
	}

	m.Logger.Info(
		"recorded update",
		"update_id", u.UpdateID,
		"table", u.Table,
		"column", u.Column,
		"author", u.Author,
		"rows", n,
	)

	return &u, nil
}

// Applies all pending updates, moves them to the update log and
// empties the pending log.
//
// If an update fails to apply, the ones before it are still logged
// and removed from the pending log, and the rest are left pending.
func (m *Manager) Propagate(ctx context.Context) (*PropagateResult, error) {
	rows, err := m.storage.Select(ctx, table.Updates, nil)
	if err != nil {
		return nil, fmt.Errorf("reading pending updates: %w", err)
	}

	pending := make([]model.PendingUpdate, 0, len(rows))
	for _, r := range rows {
		u, err := pendingUpdate(r)
		if err != nil {
			return nil, err
		}
		pending = append(pending, u)
	}

	result := &PropagateResult{Pending: len(pending)}
	applied := []model.PendingUpdate{}
	var applyErr error
	for _, u := range pending {
		n, err := m.apply(ctx, u)
		if err != nil {
			applyErr = fmt.Errorf("applying update %s: %w", u.UpdateID, err)
			break
		}
		applied = append(applied, u)
		result.RowsUpdated += n
	}

	if len(applied) > 0 {
		now := m.timeNow().UTC()
		entries := make([]table.Row, len(applied))
		for i, u := range applied {
			entries[i] = logRow(model.UpdateLogEntry{UpdateID: u.UpdateID, Timestamp: now})
		}
		if err := m.storage.Insert(ctx, table.UpdateLog, entries); err != nil {
			return result, errors.Join(applyErr, fmt.Errorf("writing update log: %w", err))
		}
	}
	result.Applied = len(applied)

	if applyErr != nil {
		for _, u := range applied {
			_, err := m.storage.Delete(ctx, table.Updates, storage.Eq("update_id", u.UpdateID))
			if err != nil {
				return result, errors.Join(applyErr, fmt.Errorf("removing update %s: %w", u.UpdateID, err))
			}
		}
		return result, applyErr
	}

	if _, err := m.storage.Delete(ctx, table.Updates, storage.MatchAll("update_id")); err != nil {
		return result, fmt.Errorf("clearing pending updates: %w", err)
	}

	m.Logger.Info("propagated updates", "applied", result.Applied, "rows", result.RowsUpdated)

	return result, nil
}

// Overwrites the update's column in the rows it selects.
func (m *Manager) apply(ctx context.Context, u model.PendingUpdate) (int, error) {
	values, cond, err := m.updateValues(u)
	if err != nil {
		return 0, err
	}
	return m.storage.Update(ctx, u.Table, cond, values)
}

// The column value and row selector of an update, converted to the
// types remembered for its table.
func (m *Manager) updateValues(u model.PendingUpdate) (table.Row, storage.Condition, error) {
	if !table.IsGTFS(u.Table) {
		return nil, storage.Condition{}, &UnknownTableError{Table: u.Table}
	}

	types := m.Types(u.Table)
	value, err := typedValue(u.Table, u.Column, u.Value, types)
	if err != nil {
		return nil, storage.Condition{}, err
	}

	cond := storage.MatchAll(u.Column)
	if u.KeyColumn != "" {
		key, err := typedValue(u.Table, u.KeyColumn, u.KeyValue, types)
		if err != nil {
			return nil, storage.Condition{}, err
		}
		cond = storage.Eq(u.KeyColumn, key)
	}

	return table.Row{u.Column: value}, cond, nil
}

func typedValue(tableName, column, s string, types table.Types) (table.Value, error) {
	v := parse.CleanValue(s)
	typ, ok := types[column]
	if !ok {
		return v, nil
	}

	coerced, err := table.Coerce(v, typ)
	if err != nil {
		return nil, &parse.SchemaMismatchError{
			Table:    tableName,
			Column:   column,
			Expected: typ,
			Count:    1,
			Example:  s,
			Err:      err,
		}
	}
	return coerced, nil
}

func pendingRow(u model.PendingUpdate) table.Row {
	return table.Row{
		"update_id":   u.UpdateID,
		"table_name":  u.Table,
		"column_name": u.Column,
		"new_value":   u.Value,
		"key_column":  u.KeyColumn,
		"key_value":   u.KeyValue,
		"timestamp":   u.Timestamp.Format(time.RFC3339Nano),
		"author":      u.Author,
	}
}

func pendingUpdate(r table.Row) (model.PendingUpdate, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.String("timestamp"))
	if err != nil {
		return model.PendingUpdate{}, fmt.Errorf("update %s: parsing timestamp: %w", r.String("update_id"), err)
	}

	return model.PendingUpdate{
		UpdateID:  r.String("update_id"),
		Table:     r.String("table_name"),
		Column:    r.String("column_name"),
		Value:     r.String("new_value"),
		KeyColumn: r.String("key_column"),
		KeyValue:  r.String("key_value"),
		Timestamp: ts,
		Author:    r.String("author"),
	}, nil
}

func logRow(e model.UpdateLogEntry) table.Row {
	return table.Row{
		"update_id": e.UpdateID,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
}

// Reads the update log, oldest entry first.
func (m *Manager) UpdateLog(ctx context.Context) ([]model.UpdateLogEntry, error) {
	rows, err := m.storage.Select(ctx, table.UpdateLog, []string{"update_id", "timestamp"})
	if err != nil {
		return nil, fmt.Errorf("reading update log: %w", err)
	}

	entries := make([]model.UpdateLogEntry, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.String("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("update log entry %s: parsing timestamp: %w", r.String("update_id"), err)
		}
		entries = append(entries, model.UpdateLogEntry{
			UpdateID:  r.String("update_id"),
			Timestamp: ts,
		})
	}

	return entries, nil
}
