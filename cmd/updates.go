package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsync"
)

var updateCmd = &cobra.Command{
	Use:   "update <table> <column> <value>",
	Short: "Overwrites a column and records the edit for propagation",
	Args:  cobra.ExactArgs(3),
	RunE:  update,
}

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "Applies pending edits and moves them to the update log",
	Args:  cobra.NoArgs,
	RunE:  propagate,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Lists propagated edits",
	Args:  cobra.NoArgs,
	RunE:  updateLog,
}

var (
	author string
	key    string
)

func init() {
	updateCmd.Flags().StringVarP(&author, "author", "a", "", "Author of the edit")
	updateCmd.Flags().StringVarP(&key, "key", "k", "", "Only overwrite rows matching <column>=<value>")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(propagateCmd)
	rootCmd.AddCommand(logCmd)
}

func update(cmd *cobra.Command, args []string) error {
	edit := gtfsync.Edit{
		Table:  args[0],
		Column: args[1],
		Value:  args[2],
		Author: author,
	}

	if key != "" {
		parts := strings.SplitN(key, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return fmt.Errorf("'%s' is not on form <column>=<value>", key)
		}
		edit.KeyColumn = parts[0]
		edit.KeyValue = parts[1]
	}

	m, _, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	u, err := m.RecordUpdate(cmd.Context(), edit)
	if err != nil {
		return err
	}

	fmt.Println(u.UpdateID)
	return nil
}

func propagate(cmd *cobra.Command, args []string) error {
	m, _, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := m.Propagate(cmd.Context())
	if result != nil {
		fmt.Printf("applied %d of %d pending updates (%d rows)\n", result.Applied, result.Pending, result.RowsUpdated)
	}
	return err
}

func updateLog(cmd *cobra.Command, args []string) error {
	m, _, closeFn, err := loadManager()
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := m.UpdateLog(cmd.Context())
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("%s %s\n", e.Timestamp.Format(time.RFC3339), e.UpdateID)
	}

	return nil
}
