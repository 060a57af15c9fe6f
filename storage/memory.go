package storage

import (
	"context"
	"sync"

	"tidbyt.dev/gtfsync/table"
)

// In memory implementation of Storage below

type memoryTable struct {
	columns []string
	rows    []table.Row
}

type MemoryStorage struct {
	mutex  sync.Mutex
	tables map[string]*memoryTable
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tables: map[string]*memoryTable{},
	}
}

func (s *MemoryStorage) Select(ctx context.Context, tableName string, columns []string) ([]table.Row, error) {
	if _, err := checkTable(tableName); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows := []table.Row{}
	t, found := s.tables[tableName]
	if !found {
		return rows, nil
	}

	if columns == nil {
		columns = t.columns
	}

	for _, r := range t.rows {
		out := make(table.Row, len(columns))
		for _, c := range columns {
			out[c] = r[c]
		}
		rows = append(rows, out)
	}

	return rows, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, tableName string, cond Condition) (int, error) {
	if _, err := checkTable(tableName); err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, found := s.tables[tableName]
	if !found {
		return 0, nil
	}

	// An emptied table forgets its columns.
	if cond.Op == OpAny {
		delete(s.tables, tableName)
		return len(t.rows), nil
	}

	kept := []table.Row{}
	for _, r := range t.rows {
		if !cond.Matches(r) {
			kept = append(kept, r)
		}
	}
	deleted := len(t.rows) - len(kept)
	t.rows = kept

	return deleted, nil
}

func (s *MemoryStorage) Insert(ctx context.Context, tableName string, rows []table.Row) error {
	if _, err := checkTable(tableName); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t := s.table(tableName)
	t.addColumns(columnsOf(rows))
	for _, r := range rows {
		stored := make(table.Row, len(r))
		for k, v := range r {
			stored[k] = table.Normalize(v)
		}
		t.rows = append(t.rows, stored)
	}

	return nil
}

func (s *MemoryStorage) Update(ctx context.Context, tableName string, cond Condition, values table.Row) (int, error) {
	if _, err := checkTable(tableName); err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, found := s.tables[tableName]
	if !found {
		return 0, nil
	}
	t.addColumns(columnsOf([]table.Row{values}))

	updated := 0
	for _, r := range t.rows {
		if !cond.Matches(r) {
			continue
		}
		for k, v := range values {
			r[k] = table.Normalize(v)
		}
		updated++
	}

	return updated, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) table(name string) *memoryTable {
	t, found := s.tables[name]
	if !found {
		t = &memoryTable{}
		s.tables[name] = t
	}
	return t
}

func (t *memoryTable) addColumns(columns []string) {
	have := map[string]bool{}
	for _, c := range t.columns {
		have[c] = true
	}
	for _, c := range columns {
		if !have[c] {
			t.columns = append(t.columns, c)
			have[c] = true
		}
	}
}
