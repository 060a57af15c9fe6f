package downloader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Downloader keeping its cache in a JSON file, so that separate
// command line runs share downloads.
type Filesystem struct {
	Path    string
	Logger  *slog.Logger
	TimeNow func() time.Time

	mutex   sync.Mutex
	records map[string]fsRecord
}

type fsRecord struct {
	URL         string    `json:"url"`
	Body        string    `json:"body"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Opens the cache file at path. A missing file is an empty cache.
func NewFilesystem(path string) (*Filesystem, error) {
	buf, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading feed cache: %w", err)
	}

	records := map[string]fsRecord{}
	if len(buf) > 0 {
		if err := json.Unmarshal(buf, &records); err != nil {
			return nil, fmt.Errorf("parsing feed cache %s: %w", path, err)
		}
	}

	return &Filesystem{
		Path:    path,
		Logger:  slog.Default(),
		TimeNow: time.Now,
		records: records,
	}, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := cacheKey(url, headers)

	if options.Cache {
		body, ok, err := f.lookup(key, options.CacheTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return body, nil
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		if err := f.store(key, url, body); err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (f *Filesystem) lookup(key string, ttl time.Duration) ([]byte, bool, error) {
	record, found := f.records[key]
	if !found {
		return nil, false, nil
	}

	if !record.RetrievedAt.Add(ttl).After(f.TimeNow()) {
		f.Logger.Debug("feed cache expired", "url", record.URL, "retrieved_at", record.RetrievedAt)
		return nil, false, nil
	}

	body, err := base64.StdEncoding.DecodeString(record.Body)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cached %s: %w", record.URL, err)
	}

	f.Logger.Debug("feed cache hit", "url", record.URL, "retrieved_at", record.RetrievedAt)
	return body, true, nil
}

// Adds a record and rewrites the cache file. The file is replaced by
// rename, so a crash leaves either the old or the new cache.
func (f *Filesystem) store(key, url string, body []byte) error {
	f.records[key] = fsRecord{
		URL:         url,
		Body:        base64.StdEncoding.EncodeToString(body),
		RetrievedAt: f.TimeNow().UTC(),
	}

	buf, err := json.Marshal(f.records)
	if err != nil {
		return fmt.Errorf("encoding feed cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("writing feed cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("writing feed cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing feed cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("writing feed cache: %w", err)
	}

	return nil
}
