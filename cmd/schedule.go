package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsync"
	"tidbyt.dev/gtfsync/model"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Prints the interpolated schedule, optionally for a single bus line",
	Args:  cobra.NoArgs,
	RunE:  schedule,
}

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Lists bus lines and the number of stops they serve",
	Args:  cobra.NoArgs,
	RunE:  lines,
}

var geojsonCmd = &cobra.Command{
	Use:   "geojson",
	Short: "Prints the stops of a bus line as GeoJSON",
	Args:  cobra.NoArgs,
	RunE:  stopsGeoJSON,
}

var line string

func init() {
	scheduleCmd.Flags().StringVarP(&line, "line", "l", "", "Restrict to a bus line (route long name)")
	geojsonCmd.Flags().StringVarP(&line, "line", "l", "", "Bus line (route long name)")
	geojsonCmd.MarkFlagRequired("line")

	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(geojsonCmd)
}

func loadSchedule(cmd *cobra.Command) ([]model.ScheduleRow, error) {
	m, _, closeFn, err := loadManager()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return m.Schedule(cmd.Context())
}

func lineRows(rows []model.ScheduleRow) ([]model.ScheduleRow, error) {
	if line == "" {
		return rows, nil
	}
	selected := gtfsync.ByBusLine(rows).Rows(line)
	if selected == nil {
		return nil, fmt.Errorf("no bus line named '%s'", line)
	}
	return selected, nil
}

func schedule(cmd *cobra.Command, args []string) error {
	rows, err := loadSchedule(cmd)
	if err != nil {
		return err
	}

	rows, err = lineRows(rows)
	if err != nil {
		return err
	}

	for _, r := range rows {
		stopName := ""
		if r.Stop != nil {
			stopName = r.Stop.Name
		}
		arrival := r.InterpolatedTime
		if arrival == "" {
			arrival = "--:--:--"
		}
		fmt.Printf("%s %s %3d %s %s\n", r.RouteLongName(), r.TripID, r.StopSequence, arrival, stopName)
	}

	return nil
}

func lines(cmd *cobra.Command, args []string) error {
	rows, err := loadSchedule(cmd)
	if err != nil {
		return err
	}

	b := gtfsync.ByBusLine(rows)
	for _, name := range b.Names() {
		fmt.Printf("%s (%d stops)\n", name, len(b.Stops(name)))
	}

	return nil
}

func stopsGeoJSON(cmd *cobra.Command, args []string) error {
	rows, err := loadSchedule(cmd)
	if err != nil {
		return err
	}

	rows, err = lineRows(rows)
	if err != nil {
		return err
	}

	fc, err := gtfsync.StopsGeoJSON(rows)
	if err != nil {
		return err
	}

	fmt.Println(fc)
	return nil
}
