package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"tidbyt.dev/gtfsync/table"
)

// Hidden column recording insertion order, so that selects return
// rows the way they were written.
const psqlSeqColumn = "gtfsync_seq"

type PSQLStorage struct {
	db      *sql.DB
	dialect sqlDialect
}

var psqlDialect = sqlDialect{
	quote: pq.QuoteIdentifier,
	placeholder: func(n int) string {
		return fmt.Sprintf("$%d", n)
	},
	typeName: func(typ table.ColumnType) string {
		switch typ {
		case table.Int:
			return "BIGINT"
		case table.Float:
			return "DOUBLE PRECISION"
		case table.Bool:
			return "BOOLEAN"
		}
		return "TEXT"
	},
	columns: func(ctx context.Context, q sqlQueryer, name string) ([]string, error) {
		rows, err := q.QueryContext(ctx, `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1 AND column_name <> $2
ORDER BY ordinal_position`, name, psqlSeqColumn)
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
	addColumn:   "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
	extraColumn: pq.QuoteIdentifier(psqlSeqColumn) + " BIGSERIAL",
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, all tables are dropped on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		for _, name := range append(append([]string{}, table.GTFSTables...), table.Updates, table.UpdateLog) {
			_, err = db.Exec("DROP TABLE IF EXISTS " + pq.QuoteIdentifier(name))
			if err != nil {
				return nil, fmt.Errorf("clearing db: %w", err)
			}
		}
	}

	return &PSQLStorage{
		db:      db,
		dialect: psqlDialect,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) Select(ctx context.Context, tableName string, columns []string) ([]table.Row, error) {
	return s.dialect.selectRows(ctx, s.db, tableName, columns, pq.QuoteIdentifier(psqlSeqColumn))
}

func (s *PSQLStorage) Delete(ctx context.Context, tableName string, cond Condition) (int, error) {
	return s.dialect.deleteRows(ctx, s.db, tableName, cond)
}

func (s *PSQLStorage) Update(ctx context.Context, tableName string, cond Condition, values table.Row) (int, error) {
	return s.dialect.updateRows(ctx, s.db, tableName, cond, values)
}

// Inserts rows with COPY, in a single transaction.
func (s *PSQLStorage) Insert(ctx context.Context, tableName string, rows []table.Row) error {
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

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(schema.Name, columns...))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		args := make([]any, len(columns))
		for j, c := range columns {
			args[j] = sqlValue(r[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("COPY row %d into %s: %w", i, schema.Name, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}
