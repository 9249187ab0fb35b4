package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent capture operations",
	Long: `List recent capture operations recorded in the history database, newest
first. Requires history_db_path (HISTORY_DB_PATH) to be configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if a.hist == nil {
			return errors.New("capture history is disabled; set HISTORY_DB_PATH to enable it")
		}

		records, err := a.hist.Recent(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No captures recorded")
			return nil
		}

		for _, rec := range records {
			status := "failed"
			if rec.Success {
				status = "ok"
				if rec.Cached {
					status = "cached"
				}
			}
			fmt.Printf("%s  [%-6s]  %s", rec.Timestamp.Format(time.RFC3339), status, rec.URL)
			if rec.OutputPath != "" {
				fmt.Printf("  -> %s", rec.OutputPath)
			}
			if rec.Error != "" {
				fmt.Printf("  (%s)", rec.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum number of records to list")
}
