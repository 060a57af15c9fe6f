package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tidbyt.dev/gtfsync/table"
)

// Bits that differ between the SQL backends. Tables are created on
// first insert and grow columns as rows bring new ones.
type sqlDialect struct {
	quote       func(string) string
	placeholder func(int) string
	typeName    func(table.ColumnType) string

	// Column names of a table, in declaration order. Empty if the
	// table doesn't exist.
	columns func(ctx context.Context, q sqlQueryer, name string) ([]string, error)

	addColumn string

	// Definition of a column added to every created table, on
	// top of the data columns.
	extraColumn string
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d sqlDialect) condition(cond Condition, argN int) (string, []any) {
	col := d.quote(cond.Column)
	switch cond.Op {
	case OpAny:
		return fmt.Sprintf("(%s IS NULL OR %s IS NOT NULL)", col, col), nil
	case OpEq:
		return fmt.Sprintf("%s = %s", col, d.placeholder(argN)), []any{cond.Value}
	}
	return "", nil
}

// Makes sure the table exists with (at least) the given columns.
func (d sqlDialect) ensureColumns(
	ctx context.Context,
	q sqlQueryer,
	schema table.Schema,
	columns []string,
	rows []table.Row,
) error {
	existing, err := d.columns(ctx, q, schema.Name)
	if err != nil {
		return fmt.Errorf("listing columns of %s: %w", schema.Name, err)
	}

	if len(existing) == 0 {
		defs := []string{}
		if d.extraColumn != "" {
			defs = append(defs, d.extraColumn)
		}
		for _, c := range columns {
			defs = append(defs, d.quote(c)+" "+d.typeName(columnType(schema, c, rows)))
		}
		_, err := q.ExecContext(ctx, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
			d.quote(schema.Name),
			strings.Join(defs, ",\n    "),
		))
		if err != nil {
			return fmt.Errorf("creating %s table: %w", schema.Name, err)
		}
		return nil
	}

	have := map[string]bool{}
	for _, c := range existing {
		have[c] = true
	}
	for _, c := range columns {
		if have[c] {
			continue
		}
		_, err := q.ExecContext(ctx, fmt.Sprintf(
			d.addColumn,
			d.quote(schema.Name),
			d.quote(c),
			d.typeName(columnType(schema, c, rows)),
		))
		if err != nil {
			return fmt.Errorf("adding column %s to %s: %w", c, schema.Name, err)
		}
	}

	return nil
}

func (d sqlDialect) selectRows(ctx context.Context, db *sql.DB, tableName string, columns []string, orderBy string) ([]table.Row, error) {
	schema, err := checkTable(tableName)
	if err != nil {
		return nil, err
	}

	existing, err := d.columns(ctx, db, schema.Name)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", schema.Name, err)
	}

	rows := []table.Row{}
	if len(existing) == 0 {
		return rows, nil
	}

	if columns == nil {
		columns = existing
	}

	have := map[string]bool{}
	for _, c := range existing {
		have[c] = true
	}
	present := []string{}
	quoted := []string{}
	for _, c := range columns {
		if have[c] {
			present = append(present, c)
			quoted = append(quoted, d.quote(c))
		}
	}

	if len(present) == 0 {
		// Only count the rows, all requested columns are
		// absent.
		var n int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+d.quote(schema.Name)).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", schema.Name, err)
		}
		for i := 0; i < n; i++ {
			rows = append(rows, emptyRow(columns))
		}
		return rows, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), d.quote(schema.Name))
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}

	res, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", schema.Name, err)
	}
	defer res.Close()

	for res.Next() {
		vals := make([]any, len(present))
		ptrs := make([]any, len(present))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := res.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", schema.Name, err)
		}

		r := emptyRow(columns)
		for i, c := range present {
			r[c] = table.Normalize(vals[i])
		}
		rows = append(rows, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", schema.Name, err)
	}

	return rows, nil
}

func (d sqlDialect) deleteRows(ctx context.Context, db *sql.DB, tableName string, cond Condition) (int, error) {
	schema, err := checkTable(tableName)
	if err != nil {
		return 0, err
	}

	existing, err := d.columns(ctx, db, schema.Name)
	if err != nil {
		return 0, fmt.Errorf("listing columns of %s: %w", schema.Name, err)
	}
	if len(existing) == 0 {
		return 0, nil
	}

	if cond.Op == OpAny {
		return d.dropTable(ctx, db, schema.Name)
	}

	// A missing column holds nothing, so equality matches no
	// rows.
	if !contains(existing, cond.Column) {
		return 0, nil
	}

	where, args := d.condition(cond, 1)
	res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", d.quote(schema.Name), where), args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", schema.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}

	return int(n), nil
}

// Empties a table by dropping it. The next insert creates it anew,
// with the columns and types of the rows it brings.
func (d sqlDialect) dropTable(ctx context.Context, db *sql.DB, name string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+d.quote(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+d.quote(name)); err != nil {
		return 0, fmt.Errorf("dropping %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}

	return n, nil
}

func (d sqlDialect) updateRows(ctx context.Context, db *sql.DB, tableName string, cond Condition, values table.Row) (int, error) {
	schema, err := checkTable(tableName)
	if err != nil {
		return 0, err
	}

	existing, err := d.columns(ctx, db, schema.Name)
	if err != nil {
		return 0, fmt.Errorf("listing columns of %s: %w", schema.Name, err)
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if cond.Op == OpEq && !contains(existing, cond.Column) {
		return 0, nil
	}

	cols := columnsOf([]table.Row{values})
	need := append([]string{}, cols...)
	if cond.Op == OpAny {
		need = append(need, cond.Column)
	}
	err = d.ensureColumns(ctx, db, schema, need, []table.Row{values})
	if err != nil {
		return 0, err
	}

	sets := []string{}
	args := []any{}
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", d.quote(c), d.placeholder(i+1)))
		args = append(args, sqlValue(values[c]))
	}
	where, condArgs := d.condition(cond, len(cols)+1)
	args = append(args, condArgs...)

	res, err := db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		d.quote(schema.Name),
		strings.Join(sets, ", "),
		where,
	), args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", schema.Name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting updated rows: %w", err)
	}

	return int(n), nil
}

func sqlValue(v table.Value) any {
	return table.Normalize(v)
}

func emptyRow(columns []string) table.Row {
	r := make(table.Row, len(columns))
	for _, c := range columns {
		r[c] = nil
	}
	return r
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
