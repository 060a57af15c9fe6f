package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/downloader"
	"tidbyt.dev/gtfsync/storage"
)

// Database file used when no backend is configured.
const DefaultSQLitePath = "gtfsync.db"

type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite postgres redis"`

	// File path for sqlite, connection string for postgres, URL for
	// redis. A sqlite backend without a path is held in memory.
	DSN string `yaml:"dsn" validate:"required_if=Backend postgres,required_if=Backend redis"`

	// Key prefix, redis only.
	Prefix string `yaml:"prefix"`

	// Drop all tables on connect, postgres only.
	Clear bool `yaml:"clear"`
}

type SyncConfig struct {
	BatchSize int `yaml:"batch_size" validate:"gte=0"`
	Threshold int `yaml:"threshold" validate:"gte=0"`
}

type ExportConfig struct {
	Format string `yaml:"format" validate:"omitempty,oneof=csv txt CSV TXT"`
}

type SourceConfig struct {
	URL        string            `yaml:"url" validate:"omitempty,url"`
	Headers    map[string]string `yaml:"headers"`
	TimeoutMS  int               `yaml:"timeout_ms" validate:"gte=0"`
	MaxSize    int               `yaml:"max_size" validate:"gte=0"`
	CacheTTLMS int               `yaml:"cache_ttl_ms" validate:"gte=0"`

	// When set, downloads are cached in this file across runs.
	CachePath string `yaml:"cache_path"`
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Export  ExportConfig  `yaml:"export"`
	Source  SourceConfig  `yaml:"source"`
}

// Configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Reads and validates a YAML config file. Unset fields take their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
		if c.Storage.DSN == "" {
			c.Storage.DSN = DefaultSQLitePath
		}
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = gtfsync.DefaultBatchSize
	}
	if c.Sync.Threshold == 0 {
		c.Sync.Threshold = gtfsync.DefaultSyncThreshold
	}
	if c.Export.Format == "" {
		c.Export.Format = string(gtfsync.FormatCSV)
	}
	if c.Source.TimeoutMS == 0 {
		c.Source.TimeoutMS = int(gtfsync.DefaultSourceTimeout / time.Millisecond)
	}
	if c.Source.MaxSize == 0 {
		c.Source.MaxSize = gtfsync.DefaultSourceMaxSize
	}
}

// Opens the configured backend.
func (c *Config) OpenStorage() (storage.Storage, error) {
	switch c.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		if c.Storage.DSN == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Path: c.Storage.DSN})
	case "postgres":
		return storage.NewPSQLStorage(c.Storage.DSN, c.Storage.Clear)
	case "redis":
		return storage.NewRedisStorage(c.Storage.DSN, c.Storage.Prefix)
	}
	return nil, fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
}

// Opens the configured backend and returns a Manager over it.
func (c *Config) NewManager() (*gtfsync.Manager, error) {
	s, err := c.OpenStorage()
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", c.Storage.Backend, err)
	}

	m := gtfsync.NewManager(s)
	m.BatchSize = c.Sync.BatchSize
	m.SyncThreshold = c.Sync.Threshold
	m.SourceTimeout = time.Duration(c.Source.TimeoutMS) * time.Millisecond
	m.SourceMaxSize = c.Source.MaxSize
	m.SourceCacheTTL = time.Duration(c.Source.CacheTTLMS) * time.Millisecond

	if c.Source.CachePath != "" {
		fs, err := downloader.NewFilesystem(c.Source.CachePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening feed cache: %w", err)
		}
		m.Downloader = fs
	}

	return m, nil
}

// Parsed export format.
func (c *Config) ExportFormat() (gtfsync.Format, error) {
	return gtfsync.ParseFormat(c.Export.Format)
}
