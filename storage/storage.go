package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tidbyt.dev/gtfsync/table"
)

var ErrUnknownTable = errors.New("unknown table")

// A keyed table store. Tables are addressed by name from the fixed
// set in the table package; any other name fails with
// ErrUnknownTable.
//
// Each call is atomic on its own, but nothing groups calls into a
// transaction. Callers replacing a table must live with the window
// between Delete and the final Insert.
type Storage interface {
	// Retrieves all rows of a table, restricted to the given
	// columns (nil for all columns). Columns the stored table
	// lacks are returned as nil. A table that was never written
	// is empty, not an error.
	Select(ctx context.Context, tableName string, columns []string) ([]table.Row, error)

	// Deletes all rows matching cond. Returns number of rows
	// deleted.
	Delete(ctx context.Context, tableName string, cond Condition) (int, error)

	// Appends rows to a table, creating the table and any missing
	// columns as needed. Either all rows are written or none.
	Insert(ctx context.Context, tableName string, rows []table.Row) error

	// Overwrites the given columns in all rows matching
	// cond. Returns number of rows updated.
	Update(ctx context.Context, tableName string, cond Condition, values table.Row) (int, error)

	Close() error
}

type Op int

const (
	// Matches rows where Column equals Value.
	OpEq Op = iota

	// Matches every row, whatever Column holds (including
	// nothing at all).
	OpAny
)

// Row selector for Delete and Update.
type Condition struct {
	Column string
	Op     Op
	Value  table.Value
}

// Condition that holds for every row, expressed over the domain of
// the given column.
func MatchAll(column string) Condition {
	return Condition{Column: column, Op: OpAny}
}

func Eq(column string, value table.Value) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

func (c Condition) Matches(r table.Row) bool {
	switch c.Op {
	case OpAny:
		return true
	case OpEq:
		v, ok := r[c.Column]
		if !ok || v == nil || c.Value == nil {
			return false
		}
		return table.Format(v) == table.Format(c.Value)
	}
	return false
}

func (c Condition) String() string {
	switch c.Op {
	case OpAny:
		return fmt.Sprintf("%s IS NULL OR %s IS NOT NULL", c.Column, c.Column)
	case OpEq:
		return fmt.Sprintf("%s = %q", c.Column, table.Format(c.Value))
	}
	return fmt.Sprintf("invalid condition on %s", c.Column)
}

func checkTable(name string) (table.Schema, error) {
	schema, ok := table.Lookup(name)
	if !ok {
		return table.Schema{}, fmt.Errorf("%w: '%s'", ErrUnknownTable, name)
	}
	return schema, nil
}

// Ordered set of columns appearing in rows.
func columnsOf(rows []table.Row) []string {
	seen := map[string]bool{}
	cols := []string{}
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Type to use when creating a column. Declared types win, then the
// first non-nil value, and otherwise String.
func columnType(schema table.Schema, column string, rows []table.Row) table.ColumnType {
	if typ, ok := schema.Types[column]; ok {
		return typ
	}
	for _, r := range rows {
		if typ, ok := table.TypeOf(table.Normalize(r[column])); ok {
			return typ
		}
	}
	return table.String
}
