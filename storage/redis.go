package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"tidbyt.dev/gtfsync/table"
)

// Storage on top of Redis. Each table is a list of JSON encoded rows
// plus a set of known column names. Cells are stored with their type
// so that values read back compare equal to what was written.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

type redisCell struct {
	Type  table.ColumnType `json:"t"`
	Value string           `json:"v"`
}

// Creates a Redis Storage from a redis:// URL. All keys are placed
// under prefix.
func NewRedisStorage(url string, prefix string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStorage{
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (s *RedisStorage) rowsKey(name string) string {
	return s.prefix + name + ":rows"
}

func (s *RedisStorage) columnsKey(name string) string {
	return s.prefix + name + ":columns"
}

func (s *RedisStorage) Select(ctx context.Context, tableName string, columns []string) ([]table.Row, error) {
	if _, err := checkTable(tableName); err != nil {
		return nil, err
	}

	if columns == nil {
		cols, err := s.rdb.SMembers(ctx, s.columnsKey(tableName)).Result()
		if err != nil {
			return nil, fmt.Errorf("listing columns of %s: %w", tableName, err)
		}
		sort.Strings(cols)
		columns = cols
	}

	all, err := s.load(ctx, tableName)
	if err != nil {
		return nil, err
	}

	rows := []table.Row{}
	for _, r := range all {
		out := make(table.Row, len(columns))
		for _, c := range columns {
			out[c] = r[c]
		}
		rows = append(rows, out)
	}

	return rows, nil
}

func (s *RedisStorage) Delete(ctx context.Context, tableName string, cond Condition) (int, error) {
	if _, err := checkTable(tableName); err != nil {
		return 0, err
	}

	// An emptied table forgets its columns.
	if cond.Op == OpAny {
		var n *redis.IntCmd
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			n = pipe.LLen(ctx, s.rowsKey(tableName))
			pipe.Del(ctx, s.rowsKey(tableName), s.columnsKey(tableName))
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("deleting from %s: %w", tableName, err)
		}
		return int(n.Val()), nil
	}

	all, err := s.load(ctx, tableName)
	if err != nil {
		return 0, err
	}

	kept := []table.Row{}
	for _, r := range all {
		if !cond.Matches(r) {
			kept = append(kept, r)
		}
	}

	if err := s.store(ctx, tableName, kept, nil); err != nil {
		return 0, err
	}

	return len(all) - len(kept), nil
}

func (s *RedisStorage) Insert(ctx context.Context, tableName string, rows []table.Row) error {
	if _, err := checkTable(tableName); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	encoded, err := encodeRedisRows(rows)
	if err != nil {
		return fmt.Errorf("encoding %s rows: %w", tableName, err)
	}

	columns := []any{}
	for _, c := range columnsOf(rows) {
		columns = append(columns, c)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.rowsKey(tableName), encoded...)
		pipe.SAdd(ctx, s.columnsKey(tableName), columns...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", tableName, err)
	}

	return nil
}

func (s *RedisStorage) Update(ctx context.Context, tableName string, cond Condition, values table.Row) (int, error) {
	if _, err := checkTable(tableName); err != nil {
		return 0, err
	}

	all, err := s.load(ctx, tableName)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	updated := 0
	for _, r := range all {
		if !cond.Matches(r) {
			continue
		}
		for k, v := range values {
			r[k] = table.Normalize(v)
		}
		updated++
	}

	if err := s.store(ctx, tableName, all, columnsOf([]table.Row{values})); err != nil {
		return 0, err
	}

	return updated, nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}

func (s *RedisStorage) load(ctx context.Context, tableName string) ([]table.Row, error) {
	raw, err := s.rdb.LRange(ctx, s.rowsKey(tableName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", tableName, err)
	}

	rows := make([]table.Row, 0, len(raw))
	for i, data := range raw {
		cells := map[string]*redisCell{}
		if err := json.Unmarshal([]byte(data), &cells); err != nil {
			return nil, fmt.Errorf("decoding %s row %d: %w", tableName, i, err)
		}

		r := make(table.Row, len(cells))
		for c, cell := range cells {
			if cell == nil {
				r[c] = nil
				continue
			}
			v, err := table.Coerce(cell.Value, cell.Type)
			if err != nil {
				return nil, fmt.Errorf("decoding %s row %d column %s: %w", tableName, i, c, err)
			}
			r[c] = v
		}
		rows = append(rows, r)
	}

	return rows, nil
}

// Replaces the full contents of a table in one MULTI/EXEC.
func (s *RedisStorage) store(ctx context.Context, tableName string, rows []table.Row, newColumns []string) error {
	encoded, err := encodeRedisRows(rows)
	if err != nil {
		return fmt.Errorf("encoding %s rows: %w", tableName, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.rowsKey(tableName))
		if len(encoded) > 0 {
			pipe.RPush(ctx, s.rowsKey(tableName), encoded...)
		}
		for _, c := range newColumns {
			pipe.SAdd(ctx, s.columnsKey(tableName), c)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", tableName, err)
	}

	return nil
}

func encodeRedisRows(rows []table.Row) ([]any, error) {
	encoded := make([]any, 0, len(rows))
	for _, r := range rows {
		cells := make(map[string]*redisCell, len(r))
		for c, v := range r {
			v = table.Normalize(v)
			typ, ok := table.TypeOf(v)
			if !ok {
				cells[c] = nil
				continue
			}
			cells[c] = &redisCell{Type: typ, Value: table.Format(v)}
		}
		data, err := json.Marshal(cells)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, string(data))
	}
	return encoded, nil
}
