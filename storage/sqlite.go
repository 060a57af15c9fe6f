package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/gtfsync/table"
)

type SQLiteConfig struct {
	OnDisk bool
	Path   string
}

type SQLiteStorage struct {
	SQLiteConfig

	db      *sql.DB
	dialect sqlDialect
}

var sqliteDialect = sqlDialect{
	quote: func(name string) string {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	},
	placeholder: func(int) string {
		return "?"
	},
	typeName: func(typ table.ColumnType) string {
		switch typ {
		case table.Int, table.Bool:
			return "INTEGER"
		case table.Float:
			return "REAL"
		}
		return "TEXT"
	},
	columns: func(ctx context.Context, q sqlQueryer, name string) ([]string, error) {
		rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", name)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		cols := []string{}
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				return nil, err
			}
			cols = append(cols, c)
		}
		return cols, rows.Err()
	},
	addColumn: "ALTER TABLE %s ADD COLUMN %s %s",
}

// Creates a SQLite backed Storage. Without config, the database is
// held in memory.
func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	c := SQLiteConfig{}
	if len(cfg) > 0 {
		c = cfg[0]
	}

	sourceName := ":memory:"
	if c.OnDisk {
		sourceName = c.Path
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: c,
		db:           db,
		dialect:      sqliteDialect,
	}, nil
}

func (s *SQLiteStorage) Select(ctx context.Context, tableName string, columns []string) ([]table.Row, error) {
	return s.dialect.selectRows(ctx, s.db, tableName, columns, "rowid")
}

func (s *SQLiteStorage) Delete(ctx context.Context, tableName string, cond Condition) (int, error) {
	return s.dialect.deleteRows(ctx, s.db, tableName, cond)
}

func (s *SQLiteStorage) Update(ctx context.Context, tableName string, cond Condition, values table.Row) (int, error) {
	return s.dialect.updateRows(ctx, s.db, tableName, cond, values)
}

func (s *SQLiteStorage) Insert(ctx context.Context, tableName string, rows []table.Row) error {
	schema, err := checkTable(tableName)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	columns := columnsOf(rows)
	err = s.dialect.ensureColumns(ctx, tx, schema, columns, rows)
	if err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.quote(c)
		marks[i] = "?"
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(schema.Name),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
	))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		args := make([]any, len(columns))
		for j, c := range columns {
			args[j] = sqlValue(r[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting row %d into %s: %w", i, schema.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
