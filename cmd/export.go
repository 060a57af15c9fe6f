package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tidbyt.dev/gtfsync"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.zip>",
	Short: "Writes the stored GTFS tables to a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE:  export,
}

// Export format flag. Empty until set, in which case the configured
// format applies.
type formatFlag struct {
	format gtfsync.Format
}

var _ pflag.Value = (*formatFlag)(nil)

func (f *formatFlag) String() string {
	return f.format.String()
}

func (f *formatFlag) Set(s string) error {
	format, err := gtfsync.ParseFormat(s)
	if err != nil {
		return err
	}
	f.format = format
	return nil
}

func (f *formatFlag) Type() string {
	return "format"
}

var exportFormat formatFlag

func init() {
	exportCmd.Flags().VarP(&exportFormat, "format", "f", "File format inside the archive (csv or txt)")
	rootCmd.AddCommand(exportCmd)
}

func export(cmd *cobra.Command, args []string) error {
	m, cfg, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	format := exportFormat.format
	if format == "" {
		format, err = cfg.ExportFormat()
		if err != nil {
			return err
		}
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}

	err = m.Export(cmd.Context(), f, format)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("exporting to %s: %w", args[0], err)
	}

	return nil
}
