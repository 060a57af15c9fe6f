package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/parse"
	"tidbyt.dev/gtfsync/table"
)

var syncCmd = &cobra.Command{
	Use:   "sync <file>...",
	Short: "Replaces stored tables with the contents of CSV files or a GTFS zip",
	Args:  cobra.MinimumNArgs(1),
	RunE:  syncFiles,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Downloads the configured GTFS feed and syncs it",
	Args:  cobra.NoArgs,
	RunE:  fetch,
}

var headers []string

func init() {
	fetchCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "HTTP header on form <key>:<value>")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(fetchCmd)
}

func readFiles(paths []string) (map[string]table.Table, error) {
	tables := map[string]table.Table{}
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".zip") {
			buf, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			archive, err := parse.ReadArchive(buf)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			for name, t := range archive {
				tables[name] = t
			}
			continue
		}

		name, ok := parse.TableName(p)
		if !ok {
			return nil, fmt.Errorf("%s: not a .csv, .txt or .zip file", p)
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		t, err := parse.ReadTable(name, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

func printResults(results map[string]*gtfsync.SyncResult) {
	for _, name := range table.GTFSTables {
		r, ok := results[name]
		if !ok {
			continue
		}
		fmt.Printf("%s: %d rows in %d batches (key %s)\n", r.Table, r.Rows, r.Batches, r.Key)
	}
}

func syncFiles(cmd *cobra.Command, args []string) error {
	tables, err := readFiles(args)
	if err != nil {
		return err
	}

	m, _, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	results, err := m.Upload(cmd.Context(), tables)
	printResults(results)
	return err
}

func fetch(cmd *cobra.Command, args []string) error {
	m, cfg, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	if cfg.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}

	h := map[string]string{}
	for k, v := range cfg.Source.Headers {
		h[k] = v
	}
	extra, err := parseHeaders(headers)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	for k, v := range extra {
		h[k] = v
	}

	ctx := cmd.Context()
	tables, err := m.Fetch(ctx, cfg.Source.URL, h)
	if err != nil {
		return err
	}

	results, err := m.Upload(ctx, tables)
	printResults(results)
	return err
}
