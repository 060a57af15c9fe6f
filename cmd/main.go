package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/config"
)

var rootCmd = &cobra.Command{
	Use:          "gtfsync",
	Short:        "GTFS table sync tool",
	Long:         "Syncs GTFS tables into a store, edits them and derives bus schedules",
	SilenceUsage: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// Manager over the configured store. The returned func closes the
// store.
func loadManager() (*gtfsync.Manager, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.Storage.Backend == "memory" || (cfg.Storage.Backend == "sqlite" && cfg.Storage.DSN == "") {
		slog.Warn("using in-memory storage, nothing is kept after exit", "backend", cfg.Storage.Backend)
	}

	m, err := cfg.NewManager()
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := m.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}

	return m, cfg, closeFn, nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}
