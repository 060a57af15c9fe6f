package gtfsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tidbyt.dev/gtfsync/downloader"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/storage"
	"tidbyt.dev/gtfsync/table"
)

const (
	DefaultBatchSize     = 500
	DefaultSyncThreshold = 500
	DefaultSourceTimeout = 60 * time.Second
	DefaultSourceMaxSize = 800 << 20 // 800 MB
)

// Manager keeps a set of GTFS tables in a store in sync with uploaded
// or fetched feeds, records edits to them, and derives schedules from
// their contents.
//
// A Manager remembers the column types of every table it has loaded
// or synced. Those types drive the coercion of later uploads.
type Manager struct {
	// Rows per insert call when replacing a table.
	BatchSize int

	// Tables with more rows than this are keyed by a synthetic
	// row index.
	SyncThreshold int

	SourceTimeout  time.Duration
	SourceMaxSize  int
	SourceCacheTTL time.Duration
	Downloader     downloader.Downloader

	Logger *slog.Logger

	storage storage.Storage

	mutex sync.Mutex
	types map[string]table.Types

	timeNow func() time.Time
	newID   func() (uuid.UUID, error)
}

// Creates a new Manager on top of the given storage.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		BatchSize:     DefaultBatchSize,
		SyncThreshold: DefaultSyncThreshold,
		SourceTimeout: DefaultSourceTimeout,
		SourceMaxSize: DefaultSourceMaxSize,
		Downloader:    downloader.NewMemoryDownloader(),
		Logger:        slog.Default(),

		storage: s,
		types:   map[string]table.Types{},
		timeNow: time.Now,
		newID:   uuid.NewV7,
	}
}

// Column types the manager holds for a table: the ones last seen in
// the store, or the declared ones if the table hasn't been loaded
// or synced yet.
func (m *Manager) Types(name string) table.Types {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if types, ok := m.types[name]; ok {
		return types.Clone()
	}

	schema, ok := table.Lookup(name)
	if !ok {
		return table.Types{}
	}
	return schema.Types.Clone()
}

func (m *Manager) remember(name string, types table.Types) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.types[name] = types.Clone()
}

// Closes the underlying storage.
func (m *Manager) Close() error {
	return m.storage.Close()
}

// Loads tables from storage. With no names given, all five GTFS
// tables are loaded.
//
// Tables with a fixed schema are loaded with their required columns
// only, others with every column. The column types found are
// remembered, and used by PrepareUpload. A table that has never been
// written is returned empty.
func (m *Manager) LoadTables(ctx context.Context, names ...string) (map[string]table.Table, error) {
	if len(names) == 0 {
		names = table.GTFSTables
	}

	tables := map[string]table.Table{}
	for _, name := range names {
		schema, ok := table.Lookup(name)
		if !ok {
			return nil, &UnknownTableError{Table: name}
		}

		t, err := m.load(ctx, schema, len(schema.Required) == 0)
		if err != nil {
			return nil, err
		}

		m.remember(name, t.Types)
		tables[name] = t
	}

	return tables, nil
}

// Reads a table from storage. With all set, every stored column is
// read, otherwise just the required ones.
func (m *Manager) load(ctx context.Context, schema table.Schema, all bool) (table.Table, error) {
	var columns []string
	if !all {
		columns = schema.Required
	}

	rows, err := m.storage.Select(ctx, schema.Name, columns)
	if err != nil {
		return table.Table{}, fmt.Errorf("loading %s: %w", schema.Name, err)
	}

	if all {
		columns = orderColumns(schema, rows)
	}

	t := table.New(schema.Name, columns, rows)
	t.Types = schema.Types.Merge(table.InferTypes(columns, rows))

	return t, nil
}

// Column order for tables read in full: required columns first,
// then the key, then everything else alphabetically.
func orderColumns(schema table.Schema, rows []table.Row) []string {
	seen := map[string]bool{}
	columns := []string{}
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}

	for _, c := range schema.Required {
		add(c)
	}
	if schema.Key != table.IndexColumn {
		add(schema.Key)
	}

	rest := []string{}
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				rest = append(rest, c)
			}
		}
	}
	sort.Strings(rest)

	return append(columns, rest...)
}

// Sanitizes a raw table against the types remembered for it.
//
// Cells holding values that can't be coerced are dropped, and their
// columns reported in the returned parse.SchemaMismatchErrors. The
// table is usable regardless.
func (m *Manager) PrepareUpload(name string, raw table.Table) (table.Table, error) {
	if _, ok := table.Lookup(name); !ok || !table.IsGTFS(name) {
		return table.Table{}, &UnknownTableError{Table: name}
	}

	raw.Name = name
	clean, err := parse.Sanitize(raw, m.Types(name))
	if err != nil {
		var mismatches parse.SchemaMismatchErrors
		if errors.As(err, &mismatches) {
			for _, e := range mismatches {
				m.Logger.Warn(
					"dropped unconvertible cells",
					"table", e.Table,
					"column", e.Column,
					"expected", e.Expected.String(),
					"count", e.Count,
					"example", e.Example,
				)
			}
		}
		return clean, err
	}

	return clean, nil
}

// Loads the remembered types of the supplied tables, sanitizes them
// and replaces their contents in storage.
//
// Sanitizer mismatches are logged and do not stop the upload. Every
// table is attempted; failures are returned together.
func (m *Manager) Upload(ctx context.Context, raw map[string]table.Table) (map[string]*SyncResult, error) {
	clean := map[string]table.Table{}
	for name, t := range raw {
		if !table.IsGTFS(name) {
			// Left for SyncFiles to report.
			clean[name] = t
			continue
		}

		if _, err := m.LoadTables(ctx, name); err != nil {
			return nil, err
		}

		c, err := m.PrepareUpload(name, t)
		var mismatches parse.SchemaMismatchErrors
		if err != nil && !errors.As(err, &mismatches) {
			return nil, err
		}
		clean[name] = c
	}

	return m.SyncFiles(ctx, clean)
}

// Downloads a zipped feed and reads the GTFS tables in it. Nothing is
// written to storage.
func (m *Manager) Fetch(ctx context.Context, url string, headers map[string]string) (map[string]table.Table, error) {
	data, err := m.Downloader.Get(ctx, url, headers, downloader.GetOptions{
		Cache:    m.SourceCacheTTL > 0,
		CacheTTL: m.SourceCacheTTL,
		Timeout:  m.SourceTimeout,
		MaxSize:  m.SourceMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}

	tables, err := parse.ReadArchive(data)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	if missing := parse.MissingTables(tables); len(missing) > 0 {
		m.Logger.Warn("feed is incomplete", "url", url, "missing", missing)
	}

	return tables, nil
}
